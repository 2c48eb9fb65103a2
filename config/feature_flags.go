package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages toggles for optional orchestrator behaviour.
// Flags can be rolled out to a percentage of sessions; a session always lands
// in the same bucket.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Per-session overrides (for testing/debugging)
	sessionOverrides map[string]map[string]bool // sessionID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100), bucketed by session ID hash.
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	SessionID string
	StudentID string
}

// Predefined feature flag names.
const (
	// Version-checked durable writes instead of last-write-wins.
	FeatureVersionedWrites = "orchestrator.versioned_writes"

	// Mirror TeachingState into durable storage on every turn.
	FeatureDurableTeachingMirror = "orchestrator.durable_teaching_mirror"

	// Fetch reference resources when a concept starts.
	FeatureResourceFetch = "teaching.resource_fetch"

	// Forward domain events to the external event sink.
	FeatureEventPublish = "events.publish"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the registry with defaults only.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		sessionOverrides: make(map[string]map[string]bool),
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureVersionedWrites] = &Feature{
		Name:           FeatureVersionedWrites,
		Description:    "Reject durable writes whose version is stale",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureDurableTeachingMirror] = &Feature{
		Name:           FeatureDurableTeachingMirror,
		Description:    "Persist teaching state to durable storage",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureResourceFetch] = &Feature{
		Name:           FeatureResourceFetch,
		Description:    "Fetch reference resources for each concept",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureEventPublish] = &Feature{
		Name:           FeatureEventPublish,
		Description:    "Publish orchestration events to the event sink",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_ORCHESTRATOR_VERSIONED_WRITES=true
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "teaching.resource_fetch" -> "FEATURE_TEACHING_RESOURCE_FETCH"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil context evaluates the global switch only.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.SessionID != "" {
		if overrides, ok := ff.sessionOverrides[ctx.SessionID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.SessionID != "" {
		return inRollout(ctx.SessionID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// inRollout maps session+feature to a stable 0-99 bucket.
func inRollout(sessionID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(sessionID))
	return int(h.Sum32()%100) < percent
}

// SetSessionOverride forces a feature on or off for one session.
func (ff *FeatureFlags) SetSessionOverride(sessionID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.sessionOverrides[sessionID]; !ok {
		ff.sessionOverrides[sessionID] = make(map[string]bool)
	}
	ff.sessionOverrides[sessionID][featureName] = enabled
}

// ClearSessionOverrides removes all overrides for a session.
func (ff *FeatureFlags) ClearSessionOverrides(sessionID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.sessionOverrides, sessionID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// Names returns the registered flag names, sorted.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	names := make([]string, 0, len(ff.features))
	for n := range ff.features {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
