package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed profile.yaml
var defaultProfile []byte

const (
	profileEnvPrefix  = "TUTOR_"
	maxProfileFileLen = 1024 * 1024 // 1MB
)

// Profile holds the tunables of the tutoring cycle.
type Profile struct {
	Classifier  ClassifierProfile  `koanf:"classifier"`
	Progression ProgressionProfile `koanf:"progression"`
	Assessment  AssessmentProfile  `koanf:"assessment"`
	Session     SessionProfile     `koanf:"session"`
	Resources   ResourcesProfile   `koanf:"resources"`
}

// ClassifierProfile holds the keyword lists of the understanding classifier.
type ClassifierProfile struct {
	Understood []string `koanf:"understood"`
	Confused   []string `koanf:"confused"`
}

// ProgressionProfile controls concept advancement.
type ProgressionProfile struct {
	PassScore int `koanf:"pass_score"`
}

// AssessmentProfile controls quiz generation requests.
type AssessmentProfile struct {
	QuestionCount int `koanf:"question_count"`
}

// SessionProfile holds defaults for new sessions.
type SessionProfile struct {
	DefaultTotalConcepts int    `koanf:"default_total_concepts"`
	DefaultGradeLevel    string `koanf:"default_grade_level"`
}

// ResourcesProfile controls reference material lookups.
type ResourcesProfile struct {
	Limit int `koanf:"limit"`
}

// LoadProfile builds the tutoring profile.
//
// Precedence (highest to lowest):
//  1. TUTOR_<SECTION>_<FIELD> environment variables
//     (TUTOR_PROGRESSION_PASS_SCORE -> progression.pass_score)
//  2. YAML file at path, when path is non-empty
//  3. Embedded defaults
//
// List values in env vars are comma separated.
func LoadProfile(path string) (*Profile, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultProfile), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default profile: %w", err)
	}

	if path != "" {
		content, err := readProfileFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(profileEnvPrefix, ".", profileEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load profile env: %w", err)
	}

	var p Profile
	if err := k.Unmarshal("", &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile validation: %w", err)
	}
	return &p, nil
}

// profileEnvKey maps TUTOR_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore after the prefix separates section and field.
func profileEnvKey(key, value string) (string, interface{}) {
	lower := strings.ToLower(strings.TrimPrefix(key, profileEnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower, value
	}
	name := parts[0] + "." + parts[1]

	if strings.Contains(value, ",") {
		items := strings.Split(value, ",")
		out := make([]string, 0, len(items))
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				out = append(out, it)
			}
		}
		return name, out
	}
	return name, value
}

func readProfileFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat profile %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("profile %s is a directory", path)
	}
	if info.Size() > maxProfileFileLen {
		return nil, fmt.Errorf("profile %s exceeds %d bytes", path, maxProfileFileLen)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	return content, nil
}

// Validate checks the profile ranges.
func (p *Profile) Validate() error {
	var errs []string

	if p.Progression.PassScore < 0 || p.Progression.PassScore > 100 {
		errs = append(errs, "progression.pass_score must be 0-100")
	}
	if p.Assessment.QuestionCount <= 0 {
		errs = append(errs, "assessment.question_count must be positive")
	}
	if p.Session.DefaultTotalConcepts <= 0 {
		errs = append(errs, "session.default_total_concepts must be positive")
	}
	if p.Resources.Limit < 0 {
		errs = append(errs, "resources.limit must not be negative")
	}
	if len(p.Classifier.Understood) == 0 || len(p.Classifier.Confused) == 0 {
		errs = append(errs, "classifier phrase lists must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("profile errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
