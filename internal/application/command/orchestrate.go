// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATE COMMAND
// Один цикл оркестрации: загрузить состояние, применить advance/retry,
// выполнить действие состояния, обновить учёт ошибок и сохранить.
// ══════════════════════════════════════════════════════════════════════════════

// Action is the optional instruction of an orchestration request.
type Action string

const (
	// ActionNone re-runs the current state.
	ActionNone Action = ""

	// ActionAdvance applies the transition function first.
	ActionAdvance Action = "advance"

	// ActionRetry clears the error counter first.
	ActionRetry Action = "retry"
)

// SignalContext carries the client's signals for the transition function.
// Nil fields were not sent.
type SignalContext struct {
	ConceptProgress     *int  `json:"conceptProgress,omitempty"`
	AssessmentScore     *int  `json:"assessmentScore,omitempty"`
	FeedbackReady       *bool `json:"feedbackReady,omitempty"`
	AllConceptsComplete *bool `json:"allConceptsComplete,omitempty"`
}

// OrchestrateCommand contains one orchestration request.
type OrchestrateCommand struct {
	SessionID string
	StudentID string
	Action    Action
	Context   SignalContext

	// RequestID is copied to emitted events as correlation id.
	RequestID string
}

// Validate normalizes the ids and checks the action.
func (c *OrchestrateCommand) Validate() error {
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.StudentID = strings.TrimSpace(c.StudentID)
	if c.SessionID == "" {
		return shared.ErrMissingSessionID
	}
	if c.StudentID == "" {
		return shared.ErrMissingStudentID
	}
	switch c.Action {
	case ActionNone, ActionAdvance, ActionRetry:
		return nil
	default:
		return fmt.Errorf("%w: %q", shared.ErrUnknownAction, c.Action)
	}
}

// OrchestrateResult is the outcome of one cycle.
type OrchestrateResult struct {
	Success bool
	State   *session.SessionState
	Result  any
	Error   string
}

// OrchestrationObserver records cycle metrics.
type OrchestrationObserver interface {
	ObserveOrchestration(action string, success bool, d time.Duration)
}

// Executor runs the action of the current state.
type Executor interface {
	Execute(ctx context.Context, state *session.SessionState) ActionResult
}

// OrchestrateHandler handles OrchestrateCommand.
type OrchestrateHandler struct {
	loader   *sessionLoader
	executor Executor
	events   eventEmitter
	flags    *config.FeatureFlags
	observer OrchestrationObserver
	clock    timeutil.Clock
	logger   *logger.Logger
}

// OrchestrateDeps contains the collaborators of OrchestrateHandler.
type OrchestrateDeps struct {
	Storage   SessionStorage
	Executor  Executor
	Publisher shared.EventPublisher
	Flags     *config.FeatureFlags
	Observer  OrchestrationObserver
	Clock     timeutil.Clock
	Logger    *logger.Logger
}

// NewOrchestrateHandler creates a new handler.
func NewOrchestrateHandler(deps OrchestrateDeps) *OrchestrateHandler {
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	log := deps.Logger.With(logger.Component("orchestrator"))

	return &OrchestrateHandler{
		loader:   newSessionLoader(deps.Storage, deps.Clock, log),
		executor: deps.Executor,
		events:   eventEmitter{publisher: deps.Publisher, logger: log},
		flags:    deps.Flags,
		observer: deps.Observer,
		clock:    deps.Clock,
		logger:   log,
	}
}

// Handle runs one orchestration cycle. Only validation errors are returned
// as errors; everything else is reported in the result.
func (h *OrchestrateHandler) Handle(ctx context.Context, cmd OrchestrateCommand) (*OrchestrateResult, error) {
	start := time.Now()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	result, err := h.run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if h.observer != nil {
		h.observer.ObserveOrchestration(string(cmd.Action), result.Success, time.Since(start))
	}
	return result, nil
}

func (h *OrchestrateHandler) run(ctx context.Context, cmd OrchestrateCommand) (*OrchestrateResult, error) {
	log := h.logger.With(
		logger.SessionID(cmd.SessionID),
		logger.StudentID(cmd.StudentID),
		logger.Action(string(cmd.Action)),
	)

	// Step 1: Load or bootstrap
	state, err := h.loader.load(ctx, cmd.SessionID, cmd.StudentID)
	if err != nil {
		return nil, err
	}
	if state.StudentID != cmd.StudentID {
		return nil, shared.ErrStudentMismatch
	}

	// Step 2: A failed session only accepts retry
	if state.IsFailed() && cmd.Action != ActionRetry {
		log.Info("rejecting request for failed session", logger.Int("error_count", state.ErrorCount))
		return &OrchestrateResult{
			Success: false,
			State:   state,
			Error:   shared.ErrSessionFailed.Message,
		}, nil
	}

	// Step 3: Apply the action
	var (
		events     []shared.Event
		transition bool
	)
	switch cmd.Action {
	case ActionAdvance:
		from, to := state.Advance(h.transitionContext(state, cmd.Context))
		if from != to {
			transition = true
			events = append(events, correlate(shared.NewSessionStateChangedEvent(
				state.SessionID, state.StudentID, from.String(), to.String()), cmd.RequestID))
		}
		log.Debug("advanced", logger.String("from", from.String()), logger.String("to", to.String()))
	case ActionRetry:
		state.ResetErrors()
	}

	// Step 4: Execute
	executed := state.CurrentState
	action := h.executor.Execute(ctx, state)

	// Step 5: Error bookkeeping
	if action.Success {
		state.RecordSuccess(action.Note)
		// Re-running session_complete is idempotent and emits nothing.
		if executed == session.StateSessionComplete && transition {
			events = append(events, correlate(shared.NewSessionCompletedEvent(
				state.SessionID, state.StudentID, len(state.ConceptsCompleted), state.TotalConcepts), cmd.RequestID))
		}
	} else {
		escalated := state.RecordFailure(action.Error)
		events = append(events, correlate(shared.NewSessionActionFailedEvent(
			state.SessionID, state.StudentID, executed.String(), action.Error, state.ErrorCount), cmd.RequestID))
		if executed != session.StateError {
			events = append(events, correlate(shared.NewSessionStateChangedEvent(
				state.SessionID, state.StudentID, executed.String(), session.StateError.String()), cmd.RequestID))
		}
		log.Warn("action failed",
			logger.State(executed.String()),
			logger.Int("error_count", state.ErrorCount),
			logger.String("reason", action.Error),
		)

		if escalated {
			if err := h.loader.Durable.MarkFailed(ctx, state.SessionID, h.clock.Now()); err != nil && !shared.IsNotFound(err) {
				log.Error("failed to mark session failed", logger.Err(err))
			}
			events = append(events, correlate(shared.NewSessionEscalatedEvent(
				state.SessionID, state.StudentID, state.ErrorCount), cmd.RequestID))
			log.Warn("session escalated", logger.Int("error_count", state.ErrorCount))
		}
	}

	// Step 6: Persist
	state.Touch(h.clock.Now())
	versioned := featureOn(h.flags, config.FeatureVersionedWrites, state.SessionID)
	if err := h.loader.persist(ctx, state, versioned); err != nil {
		log.Warn("lost versioned write", logger.Err(err))
		return &OrchestrateResult{
			Success: false,
			State:   state,
			Error:   shared.ErrStaleSessionState.Message,
		}, nil
	}

	h.events.emit(state.SessionID, events...)

	return &OrchestrateResult{
		Success: action.Success,
		State:   state,
		Result:  action.Result,
		Error:   action.Error,
	}, nil
}

// transitionContext fills signals the client left out from the session.
func (h *OrchestrateHandler) transitionContext(state *session.SessionState, sig SignalContext) session.TransitionContext {
	tc := session.TransitionContext{
		AssessmentScore: sig.AssessmentScore,
		FeedbackReady:   sig.FeedbackReady,
	}
	if sig.ConceptProgress != nil {
		tc.ConceptProgress = shared.ClampProgress(*sig.ConceptProgress)
	}
	if sig.AllConceptsComplete != nil {
		tc.AllConceptsComplete = *sig.AllConceptsComplete
	} else {
		tc.AllConceptsComplete = state.AllConceptsComplete()
	}
	return tc
}

// correlate stamps the request id on events that carry a BaseEvent.
func correlate(event shared.Event, requestID string) shared.Event {
	if requestID == "" {
		return event
	}
	switch e := event.(type) {
	case shared.SessionStateChangedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(requestID)
		return e
	case shared.SessionActionFailedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(requestID)
		return e
	case shared.SessionEscalatedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(requestID)
		return e
	case shared.SessionCompletedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(requestID)
		return e
	case shared.SessionResetEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(requestID)
		return e
	case shared.TeachingPhaseChangedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(requestID)
		return e
	case shared.FeedbackRecordedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(requestID)
		return e
	}
	return event
}
