package command

import (
	"context"
	"strings"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET SESSION COMMAND
// Явный внешний сброс сессии, упавшей после трёх ошибок.
// ══════════════════════════════════════════════════════════════════════════════

// ResetSessionCommand identifies the session to reset.
type ResetSessionCommand struct {
	SessionID string
	StudentID string
	RequestID string
}

// Validate checks the command.
func (c *ResetSessionCommand) Validate() error {
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.StudentID = strings.TrimSpace(c.StudentID)
	if c.SessionID == "" {
		return shared.ErrMissingSessionID
	}
	if c.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	return nil
}

// ResetSessionHandler handles ResetSessionCommand.
type ResetSessionHandler struct {
	loader *sessionLoader
	events eventEmitter
	clock  timeutil.Clock
	logger *logger.Logger
}

// NewResetSessionHandler creates a new handler.
func NewResetSessionHandler(storage SessionStorage, publisher shared.EventPublisher, clock timeutil.Clock, log *logger.Logger) *ResetSessionHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("reset"))
	return &ResetSessionHandler{
		loader: newSessionLoader(storage, clock, log),
		events: eventEmitter{publisher: publisher, logger: log},
		clock:  clock,
		logger: log,
	}
}

// Handle resets the session and returns its new state.
func (h *ResetSessionHandler) Handle(ctx context.Context, cmd ResetSessionCommand) (*session.SessionState, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	state, err := h.loader.find(ctx, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if state.StudentID != cmd.StudentID {
		return nil, shared.ErrStudentMismatch
	}

	now := h.clock.Now()
	from := state.Reset("session reset")
	state.Touch(now)

	// Reset is an operator action: it always wins over concurrent writers.
	if err := h.loader.persist(ctx, state, false); err != nil {
		return nil, err
	}
	if err := h.loader.Durable.MarkActive(ctx, state.SessionID, now); err != nil && !shared.IsNotFound(err) {
		h.logger.Error("failed to mark session active", logger.SessionID(state.SessionID), logger.Err(err))
	}

	h.logger.Info("session reset",
		logger.SessionID(state.SessionID),
		logger.String("from", from.String()),
	)

	events := []shared.Event{correlate(shared.NewSessionResetEvent(state.SessionID, state.StudentID), cmd.RequestID)}
	if from != state.CurrentState {
		events = append(events, correlate(shared.NewSessionStateChangedEvent(
			state.SessionID, state.StudentID, from.String(), state.CurrentState.String()), cmd.RequestID))
	}
	h.events.emit(state.SessionID, events...)

	return state, nil
}
