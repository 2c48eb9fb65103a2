package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/external/collaborator"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTION EXECUTOR
// Выполняет единственный побочный эффект текущего состояния сессии.
// Ошибки коллабораторов не поднимаются наверх: они превращаются в
// ActionResult{Success: false}, а учёт ошибок ведёт оркестратор.
// ══════════════════════════════════════════════════════════════════════════════

// Collaborators is the part of the collaborator client used by the executor.
type Collaborators interface {
	GenerateCurriculum(ctx context.Context, req collaborator.CurriculumRequest) (json.RawMessage, error)
	GenerateQuiz(ctx context.Context, req collaborator.QuizRequest) (json.RawMessage, error)
	AnalyzeFeedback(ctx context.Context, req collaborator.FeedbackRequest) (json.RawMessage, error)
}

// ActionResult is the outcome of one executed state action.
type ActionResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`

	// Note becomes the session's lastAction on success.
	Note string `json:"-"`
}

func failed(format string, args ...any) ActionResult {
	return ActionResult{Error: fmt.Sprintf(format, args...)}
}

// PhaseReady is the result of the teaching states, which call nobody.
type PhaseReady struct {
	Phase  string `json:"phase"`
	Status string `json:"status"`
}

// ProgressionDecision is the result of progression_check.
type ProgressionDecision = session.ProgressionOutcome

// Decision values of ProgressionDecision.
const (
	DecisionAdvance = session.DecisionAdvance
	DecisionReview  = session.DecisionReview
)

// CompletionResult is the result of session_complete.
type CompletionResult struct {
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completedAt"`
}

// ActionExecutor runs state actions.
type ActionExecutor struct {
	collaborators Collaborators
	feedback      session.FeedbackRepository
	sessions      session.Repository
	selector      session.ConceptSelector
	clock         timeutil.Clock
	logger        *logger.Logger
	config        ExecutorConfig
}

// ExecutorConfig contains configuration for ActionExecutor.
type ExecutorConfig struct {
	// QuestionCount is sent with every quiz request.
	QuestionCount int
}

// DefaultExecutorConfig returns default configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{QuestionCount: 5}
}

// NewActionExecutor creates a new executor.
func NewActionExecutor(
	collaborators Collaborators,
	feedback session.FeedbackRepository,
	sessions session.Repository,
	selector session.ConceptSelector,
	clock timeutil.Clock,
	log *logger.Logger,
	config ExecutorConfig,
) *ActionExecutor {
	if selector == nil {
		selector = session.NewThresholdSelector(session.DefaultPassScore)
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if config.QuestionCount <= 0 {
		config.QuestionCount = DefaultExecutorConfig().QuestionCount
	}
	return &ActionExecutor{
		collaborators: collaborators,
		feedback:      feedback,
		sessions:      sessions,
		selector:      selector,
		clock:         clock,
		logger:        log.With(logger.Component("executor")),
		config:        config,
	}
}

// Execute performs the action of state.CurrentState. Curriculum generation
// and progression check update the concept fields of state in place.
func (e *ActionExecutor) Execute(ctx context.Context, state *session.SessionState) ActionResult {
	switch state.CurrentState {
	case session.StateCurriculumGeneration:
		return e.generateCurriculum(ctx, state)
	case session.StateTeachingExplain, session.StateTeachingExample, session.StateTeachingPractice:
		phase, _ := state.CurrentState.TeachingPhase()
		return ActionResult{
			Success: true,
			Result:  PhaseReady{Phase: string(phase), Status: "ready"},
			Note:    fmt.Sprintf("%s phase ready", phase),
		}
	case session.StateAssessment:
		return e.generateQuiz(ctx, state)
	case session.StateFeedbackAnalysis:
		return e.analyzeFeedback(ctx, state)
	case session.StateProgressionCheck:
		return e.checkProgression(ctx, state)
	case session.StateSessionComplete:
		return e.completeSession(ctx, state)
	default:
		// initializing and error have no action of their own.
		return failed("Unknown state: %s", state.CurrentState)
	}
}

func (e *ActionExecutor) generateCurriculum(ctx context.Context, state *session.SessionState) ActionResult {
	payload, err := e.collaborators.GenerateCurriculum(ctx, collaborator.CurriculumRequest{
		StudentID:  state.StudentID,
		SessionID:  state.SessionID,
		Topic:      state.Topic,
		GradeLevel: state.GradeLevel,
	})
	if err != nil {
		return e.collaboratorFailure("curriculum generation", state, err)
	}

	state.SetCurriculum(collaborator.ConceptsFromCurriculum(payload))
	return ActionResult{
		Success: true,
		Result:  payload,
		Note:    fmt.Sprintf("curriculum generated with %d concepts", state.TotalConcepts),
	}
}

func (e *ActionExecutor) generateQuiz(ctx context.Context, state *session.SessionState) ActionResult {
	concepts := []string{}
	if state.CurrentConcept != "" {
		concepts = append(concepts, state.CurrentConcept)
	}
	payload, err := e.collaborators.GenerateQuiz(ctx, collaborator.QuizRequest{
		StudentID:     state.StudentID,
		SessionID:     state.SessionID,
		Topic:         state.Topic,
		Concepts:      concepts,
		QuestionCount: e.config.QuestionCount,
	})
	if err != nil {
		return e.collaboratorFailure("quiz generation", state, err)
	}
	return ActionResult{Success: true, Result: payload, Note: "assessment generated"}
}

func (e *ActionExecutor) analyzeFeedback(ctx context.Context, state *session.SessionState) ActionResult {
	payload, err := e.collaborators.AnalyzeFeedback(ctx, collaborator.FeedbackRequest{
		StudentID: state.StudentID,
		SessionID: state.SessionID,
		Topic:     state.Topic,
	})
	if err != nil {
		return e.collaboratorFailure("feedback analysis", state, err)
	}
	return ActionResult{Success: true, Result: payload, Note: "feedback analyzed"}
}

func (e *ActionExecutor) checkProgression(ctx context.Context, state *session.SessionState) ActionResult {
	// Polling the state reports the decision already taken.
	if state.Progression != nil {
		out := *state.Progression
		return ActionResult{
			Success: true,
			Result:  out,
			Note:    fmt.Sprintf("progression check: %s", out.Decision),
		}
	}

	var (
		score int
		ready bool
	)
	fb, err := e.feedback.Latest(ctx, state.SessionID, state.StudentID)
	switch {
	case err == nil && fb.Covers(state.CurrentConcept):
		score, ready = fb.Score, fb.ProgressionReady
	case err == nil:
		// The latest analysis is about another concept.
		e.logger.Debug("ignoring feedback for another concept",
			logger.SessionID(state.SessionID),
			logger.Concept(state.CurrentConcept),
			logger.String("feedback_concept", fb.Concept),
		)
	case shared.IsNotFound(err):
		// No analysis recorded yet: the concept is reviewed again.
	default:
		e.logger.Error("failed to load feedback",
			logger.SessionID(state.SessionID),
			logger.Err(err),
		)
		return failed("progression check failed: %v", err)
	}

	if len(state.Curriculum) == 0 {
		state.SetCurriculum(nil)
	}

	decision := e.selector.SelectNextConcept(score, state.ConceptsCompleted, state.Curriculum)
	out, _ := state.ApplyProgression(decision, score, ready)

	return ActionResult{
		Success: true,
		Result:  out,
		Note:    fmt.Sprintf("progression check: %s", out.Decision),
	}
}

func (e *ActionExecutor) completeSession(ctx context.Context, state *session.SessionState) ActionResult {
	now := e.clock.Now()
	if err := e.sessions.MarkCompleted(ctx, state.SessionID, now); err != nil && !shared.IsNotFound(err) {
		e.logger.Error("failed to mark session completed",
			logger.SessionID(state.SessionID),
			logger.Err(err),
		)
		return failed("failed to complete session: %v", err)
	}
	return ActionResult{
		Success: true,
		Result:  CompletionResult{Status: string(session.StatusCompleted), CompletedAt: now},
		Note:    "session completed",
	}
}

func (e *ActionExecutor) collaboratorFailure(what string, state *session.SessionState, err error) ActionResult {
	e.logger.Warn("collaborator call failed",
		logger.SessionID(state.SessionID),
		logger.State(state.CurrentState.String()),
		logger.Err(err),
	)
	return failed("%s failed: %v", what, err)
}
