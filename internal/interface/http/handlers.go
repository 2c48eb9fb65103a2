package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/tutor-orchestrator/internal/application/command"
	"github.com/alem-hub/tutor-orchestrator/internal/application/query"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/interface/http/handlers"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type orchestrateRequest struct {
	SessionID string                `json:"sessionId"`
	StudentID string                `json:"studentId"`
	Action    string                `json:"action,omitempty"`
	Context   command.SignalContext `json:"context"`
}

// StateEnvelope is the session summary returned by orchestration calls.
type StateEnvelope struct {
	Current    session.State    `json:"current"`
	NextAction string           `json:"nextAction,omitempty"`
	Progress   session.Progress `json:"progress"`
	LastAction string           `json:"lastAction"`
	ErrorCount int              `json:"errorCount"`
}

// OrchestrateResponse is the body of POST /orchestrate and /orchestrate/reset.
type OrchestrateResponse struct {
	Success bool           `json:"success"`
	State   *StateEnvelope `json:"state,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SessionStateResponse is the body of GET /orchestrate and POST /sessions.
type SessionStateResponse struct {
	Success bool                   `json:"success"`
	State   *query.SessionStateDTO `json:"state"`
}

type teachingTurnRequest struct {
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`
	Message   string `json:"message"`
}

// TeachingResponse is the body of the teaching endpoints.
type TeachingResponse struct {
	Success       bool                    `json:"success"`
	Teaching      *query.TeachingStateDTO `json:"teaching"`
	PhaseChanged  bool                    `json:"phaseChanged,omitempty"`
	PreviousPhase session.Phase           `json:"previousPhase,omitempty"`
}

type resetRequest struct {
	SessionID string `json:"sessionId"`
	StudentID string `json:"studentId"`
}

type createSessionRequest struct {
	SessionID     string `json:"sessionId"`
	StudentID     string `json:"studentId"`
	Topic         string `json:"topic"`
	GradeLevel    string `json:"gradeLevel"`
	TotalConcepts int    `json:"totalConcepts"`
}

type feedbackRequest struct {
	SessionID        string `json:"sessionId"`
	StudentID        string `json:"studentId"`
	Concept          string `json:"concept"`
	Score            int    `json:"score"`
	ProgressionReady *bool  `json:"progressionReady"`
	Summary          string `json:"summary"`
}

// FeedbackResponse is the body of POST /feedback.
type FeedbackResponse struct {
	Success  bool                    `json:"success"`
	Feedback *session.FeedbackRecord `json:"feedback"`
}

func envelope(state *session.SessionState) *StateEnvelope {
	if state == nil {
		return nil
	}
	return &StateEnvelope{
		Current:    state.CurrentState,
		NextAction: state.NextAction,
		Progress:   state.Progress(),
		LastAction: state.LastAction,
		ErrorCount: state.ErrorCount,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every check. Degraded optional checks keep 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		handlers.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, status)
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		handlers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": s.Uptime().Round(time.Second).String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ORCHESTRATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleOrchestrate handles POST /orchestrate. Anything past validation is
// answered with 200 and the envelope, including action failures.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req orchestrateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.Orchestrate.Handle(r.Context(), command.OrchestrateCommand{
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		Action:    command.Action(req.Action),
		Context:   req.Context,
		RequestID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, OrchestrateResponse{
		Success: res.Success,
		State:   envelope(res.State),
		Result:  res.Result,
		Error:   res.Error,
	})
}

// handleGetSessionState handles GET /orchestrate?sessionId=...
func (s *Server) handleGetSessionState(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetSessionState.Handle(r.Context(), query.GetSessionStateQuery{
		SessionID: r.URL.Query().Get("sessionId"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, SessionStateResponse{Success: true, State: dto})
}

// handleTeachingTurn handles POST /orchestrate/teaching.
func (s *Server) handleTeachingTurn(w http.ResponseWriter, r *http.Request) {
	var req teachingTurnRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.TeachingTurn.Handle(r.Context(), command.TeachingTurnCommand{
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		Message:   req.Message,
		RequestID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := TeachingResponse{
		Success:      true,
		Teaching:     query.ToTeachingStateDTO(res.Teaching, res.Understanding),
		PhaseChanged: res.PhaseChanged,
	}
	if res.PhaseChanged {
		resp.PreviousPhase = res.PreviousPhase
	}
	handlers.WriteJSON(w, http.StatusOK, resp)
}

// handleGetTeachingState handles GET /orchestrate/teaching?sessionId=...
func (s *Server) handleGetTeachingState(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetTeachingState.Handle(r.Context(), query.GetTeachingStateQuery{
		SessionID: r.URL.Query().Get("sessionId"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, TeachingResponse{Success: true, Teaching: dto})
}

// handleResetSession handles POST /orchestrate/reset.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	state, err := s.deps.ResetSession.Handle(r.Context(), command.ResetSessionCommand{
		SessionID: req.SessionID,
		StudentID: req.StudentID,
		RequestID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, OrchestrateResponse{Success: true, State: envelope(state)})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION & FEEDBACK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateSession handles POST /sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	state, err := s.deps.CreateSession.Handle(r.Context(), command.CreateSessionCommand{
		SessionID:     req.SessionID,
		StudentID:     req.StudentID,
		Topic:         req.Topic,
		GradeLevel:    req.GradeLevel,
		TotalConcepts: req.TotalConcepts,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, SessionStateResponse{Success: true, State: query.ToSessionStateDTO(state)})
}

// handleRecordFeedback handles POST /feedback.
func (s *Server) handleRecordFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.deps.RecordFeedback.Handle(r.Context(), command.RecordFeedbackCommand{
		SessionID:        req.SessionID,
		StudentID:        req.StudentID,
		Concept:          req.Concept,
		Score:            req.Score,
		ProgressionReady: req.ProgressionReady,
		Summary:          req.Summary,
		RequestID:        middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, FeedbackResponse{Success: true, Feedback: rec})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody writes 400 (or 413) and returns false when the body is not a
// JSON object.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handlers.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		handlers.WriteError(w, http.StatusBadRequest, "request body must be a JSON object")
		return false
	}
	return true
}

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest
	case shared.IsNotFound(err):
		return http.StatusNotFound
	case shared.IsAlreadyExists(err), shared.IsConflict(err):
		return http.StatusConflict
	case shared.IsExternalService(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
		handlers.WriteError(w, status, "internal server error")
		return
	}

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	handlers.WriteError(w, status, message)
}
