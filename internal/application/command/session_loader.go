package command

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOADING AND PERSISTENCE
// Общая логика команд: кэш → долговременное хранилище → значения по умолчанию,
// и запись в обе копии после изменения.
// ══════════════════════════════════════════════════════════════════════════════

// SessionDefaults are used when a session has no prior record anywhere.
type SessionDefaults struct {
	TotalConcepts int
	GradeLevel    string
}

// SessionStorage bundles the hot and durable copies of session state.
type SessionStorage struct {
	Cache    session.StateStore
	Durable  session.Repository
	TTL      time.Duration
	Defaults SessionDefaults
}

type sessionLoader struct {
	SessionStorage
	clock  timeutil.Clock
	logger *logger.Logger
}

func newSessionLoader(storage SessionStorage, clock timeutil.Clock, log *logger.Logger) *sessionLoader {
	if storage.TTL <= 0 {
		storage.TTL = session.StateTTL
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &sessionLoader{SessionStorage: storage, clock: clock, logger: log}
}

// find returns the cached copy or, failing that, the durable one.
// Malformed and unreadable cache entries count as misses.
func (l *sessionLoader) find(ctx context.Context, sessionID string) (*session.SessionState, error) {
	state, err := l.Cache.Get(ctx, sessionID)
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, shared.ErrStateMalformed):
		l.logger.Warn("discarding malformed cached state", logger.SessionID(sessionID), logger.Err(err))
	case !shared.IsNotFound(err):
		l.logger.Warn("failed to read cached state", logger.SessionID(sessionID), logger.Err(err))
	}

	state, err = l.Durable.Load(ctx, sessionID)
	switch {
	case err == nil:
		return state, nil
	case shared.IsNotFound(err):
		return nil, shared.ErrSessionNotFound
	default:
		l.logger.Warn("failed to load durable state", logger.SessionID(sessionID), logger.Err(err))
		return nil, shared.ErrSessionNotFound
	}
}

// load is find that falls back to a fresh initializing session.
func (l *sessionLoader) load(ctx context.Context, sessionID, studentID string) (*session.SessionState, error) {
	state, err := l.find(ctx, sessionID)
	if err == nil {
		return state, nil
	}

	l.logger.Debug("bootstrapping session from defaults", logger.SessionID(sessionID))
	return session.NewSessionState(session.NewSessionParams{
		SessionID:     sessionID,
		StudentID:     studentID,
		GradeLevel:    l.Defaults.GradeLevel,
		TotalConcepts: l.Defaults.TotalConcepts,
		Now:           l.clock.Now(),
	})
}

// persist bumps the version and writes durable storage, then the cache.
// Only a lost versioned write is returned; other failures are logged.
func (l *sessionLoader) persist(ctx context.Context, state *session.SessionState, versioned bool) error {
	state.Version++

	var err error
	if versioned {
		err = l.Durable.SaveVersioned(ctx, state)
	} else {
		err = l.Durable.Save(ctx, state)
	}
	if err != nil {
		if shared.IsConflict(err) {
			state.Version--
			return err
		}
		l.logger.Error("failed to save durable state", logger.SessionID(state.SessionID), logger.Err(err))
	}

	if err := l.Cache.Put(ctx, state.SessionID, state, l.TTL); err != nil {
		l.logger.Error("failed to cache state", logger.SessionID(state.SessionID), logger.Err(err))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// eventEmitter publishes domain events. Publishing never fails a command.
type eventEmitter struct {
	publisher shared.EventPublisher
	logger    *logger.Logger
}

func (e eventEmitter) emit(sessionID string, events ...shared.Event) {
	if e.publisher == nil {
		return
	}
	for _, event := range events {
		if err := e.publisher.Publish(event); err != nil {
			e.logger.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.SessionID(sessionID),
				logger.Err(err),
			)
		}
	}
}

// featureOn falls back to the registered defaults when flags is nil.
func featureOn(flags *config.FeatureFlags, name, sessionID string) bool {
	if flags == nil {
		flags = defaultFlags
	}
	return flags.IsEnabled(name, &config.FeatureContext{SessionID: sessionID})
}

var defaultFlags = config.NewFeatureFlags()
