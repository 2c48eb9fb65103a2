package command

import (
	"context"
	"strings"
	"time"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/external/collaborator"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEACHING TURN COMMAND
// Прогоняет одно сообщение студента через под-автомат фаз текущего концепта:
// классификация понимания → смена фазы → прогресс → ресурсы → сохранение.
// ══════════════════════════════════════════════════════════════════════════════

// TeachingTurnCommand contains one student message.
type TeachingTurnCommand struct {
	SessionID string
	StudentID string
	Message   string
	RequestID string
}

// Validate checks the command.
func (c *TeachingTurnCommand) Validate() error {
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.StudentID = strings.TrimSpace(c.StudentID)
	if c.SessionID == "" {
		return shared.ErrMissingSessionID
	}
	if c.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	if strings.TrimSpace(c.Message) == "" {
		return shared.ErrEmptyMessage
	}
	return nil
}

// TeachingTurnResult is the teaching state after the turn.
type TeachingTurnResult struct {
	Teaching      *session.TeachingState
	Understanding session.UnderstandingLevel
	PhaseChanged  bool
	PreviousPhase session.Phase
}

// ResourceFinder looks up reference material for a concept.
type ResourceFinder interface {
	FindResources(ctx context.Context, req collaborator.ResourcesRequest) ([]session.Resource, error)
}

// TeachingStorage bundles the hot and durable copies of teaching state.
type TeachingStorage struct {
	Cache   session.TeachingStore
	Durable session.TeachingRepository
	TTL     time.Duration
}

// TeachingTurnHandler handles TeachingTurnCommand.
type TeachingTurnHandler struct {
	sessions   *sessionLoader
	teaching   TeachingStorage
	classifier session.UnderstandingClassifier
	resources  ResourceFinder
	events     eventEmitter
	flags      *config.FeatureFlags
	clock      timeutil.Clock
	logger     *logger.Logger
	config     TeachingTurnConfig
}

// TeachingTurnConfig contains configuration for TeachingTurnHandler.
type TeachingTurnConfig struct {
	// ResourceLimit caps resources fetched per concept.
	ResourceLimit int
}

// DefaultTeachingTurnConfig returns default configuration.
func DefaultTeachingTurnConfig() TeachingTurnConfig {
	return TeachingTurnConfig{ResourceLimit: 3}
}

// TeachingTurnDeps contains the collaborators of TeachingTurnHandler.
type TeachingTurnDeps struct {
	Sessions   SessionStorage
	Teaching   TeachingStorage
	Classifier session.UnderstandingClassifier
	Resources  ResourceFinder
	Publisher  shared.EventPublisher
	Flags      *config.FeatureFlags
	Clock      timeutil.Clock
	Logger     *logger.Logger
}

// NewTeachingTurnHandler creates a new handler.
func NewTeachingTurnHandler(deps TeachingTurnDeps, config TeachingTurnConfig) *TeachingTurnHandler {
	if deps.Classifier == nil {
		deps.Classifier = session.DefaultKeywordClassifier()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Teaching.TTL <= 0 {
		deps.Teaching.TTL = session.StateTTL
	}
	if config.ResourceLimit <= 0 {
		config.ResourceLimit = DefaultTeachingTurnConfig().ResourceLimit
	}
	log := deps.Logger.With(logger.Component("teaching"))

	return &TeachingTurnHandler{
		sessions:   newSessionLoader(deps.Sessions, deps.Clock, log),
		teaching:   deps.Teaching,
		classifier: deps.Classifier,
		resources:  deps.Resources,
		events:     eventEmitter{publisher: deps.Publisher, logger: log},
		flags:      deps.Flags,
		clock:      deps.Clock,
		logger:     log,
		config:     config,
	}
}

// Handle runs one teaching turn.
func (h *TeachingTurnHandler) Handle(ctx context.Context, cmd TeachingTurnCommand) (*TeachingTurnResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	state, err := h.sessions.find(ctx, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if state.StudentID != cmd.StudentID {
		return nil, shared.ErrStudentMismatch
	}

	concept := state.CurrentConcept
	if concept == "" {
		concept = state.Topic
	}
	now := h.clock.Now()
	log := h.logger.With(logger.SessionID(cmd.SessionID), logger.Concept(concept))

	ts := h.loadTeaching(ctx, cmd.SessionID, state.Topic, concept, state.ConceptCycle, now)
	if ts.StartConcept(state.Topic, concept, state.ConceptCycle, now) {
		log.Debug("starting concept", logger.Int("cycle", state.ConceptCycle))
	}

	level := h.classifier.ClassifyUnderstanding(cmd.Message)
	outcome := ts.ApplyTurn(level, now)

	if ts.NeedsResources() && h.resources != nil && featureOn(h.flags, config.FeatureResourceFetch, cmd.SessionID) {
		h.fetchResources(ctx, ts, log)
	}

	h.saveTeaching(ctx, ts, log)

	if outcome.Changed {
		log.Info("teaching phase changed",
			logger.String("from", string(outcome.From)),
			logger.Phase(string(outcome.To)),
			logger.Int("progress", outcome.Progress),
		)
		h.events.emit(cmd.SessionID, correlate(shared.NewTeachingPhaseChangedEvent(
			cmd.SessionID, concept, string(outcome.From), string(outcome.To), outcome.Progress), cmd.RequestID))
	}

	return &TeachingTurnResult{
		Teaching:      ts,
		Understanding: level,
		PhaseChanged:  outcome.Changed,
		PreviousPhase: outcome.From,
	}, nil
}

// loadTeaching reads the cached copy, then the durable mirror, then starts fresh.
func (h *TeachingTurnHandler) loadTeaching(ctx context.Context, sessionID, topic, concept string, cycle int, now time.Time) *session.TeachingState {
	ts, err := h.teaching.Cache.Get(ctx, sessionID)
	if err == nil {
		return ts
	}
	if !shared.IsNotFound(err) {
		h.logger.Warn("failed to read cached teaching state", logger.SessionID(sessionID), logger.Err(err))
	}

	if h.teaching.Durable != nil {
		ts, err = h.teaching.Durable.LoadTeaching(ctx, sessionID)
		if err == nil {
			return ts
		}
		if !shared.IsNotFound(err) {
			h.logger.Warn("failed to load durable teaching state", logger.SessionID(sessionID), logger.Err(err))
		}
	}

	ts = session.NewTeachingState(sessionID, topic, concept, now)
	ts.Cycle = cycle
	return ts
}

func (h *TeachingTurnHandler) fetchResources(ctx context.Context, ts *session.TeachingState, log *logger.Logger) {
	found, err := h.resources.FindResources(ctx, collaborator.ResourcesRequest{
		SessionID: ts.SessionID,
		Topic:     ts.CurrentTopic,
		Concept:   ts.CurrentConcept,
		Limit:     h.config.ResourceLimit,
	})
	if err != nil {
		// Resources are optional; the next turn tries again.
		log.Warn("failed to fetch resources", logger.Err(err))
		return
	}
	ts.Resources = found
}

func (h *TeachingTurnHandler) saveTeaching(ctx context.Context, ts *session.TeachingState, log *logger.Logger) {
	if err := h.teaching.Cache.Put(ctx, ts.SessionID, ts, h.teaching.TTL); err != nil {
		log.Error("failed to cache teaching state", logger.Err(err))
	}
	if h.teaching.Durable == nil || !featureOn(h.flags, config.FeatureDurableTeachingMirror, ts.SessionID) {
		return
	}
	if err := h.teaching.Durable.SaveTeaching(ctx, ts); err != nil {
		log.Error("failed to save durable teaching state", logger.Err(err))
	}
}
