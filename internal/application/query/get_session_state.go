// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"strings"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SESSION STATE QUERY
// Возвращает текущее состояние сессии без выполнения действий и без записи.
// ══════════════════════════════════════════════════════════════════════════════

// GetSessionStateQuery identifies the session.
type GetSessionStateQuery struct {
	SessionID string
}

// Validate checks the query.
func (q *GetSessionStateQuery) Validate() error {
	q.SessionID = strings.TrimSpace(q.SessionID)
	if q.SessionID == "" {
		return shared.ErrMissingSessionID
	}
	return nil
}

// ConceptProgressDTO summarizes concept coverage.
type ConceptProgressDTO struct {
	Current   string   `json:"current"`
	Completed []string `json:"completed"`
	Total     int      `json:"total"`
}

// SessionStateDTO is the read model of a session.
type SessionStateDTO struct {
	SessionID       string             `json:"sessionId"`
	StudentID       string             `json:"studentId"`
	Topic           string             `json:"topic"`
	Current         session.State      `json:"current"`
	ConceptProgress ConceptProgressDTO `json:"conceptProgress"`
	Progress        session.Progress   `json:"progress"`
	LastAction      string             `json:"lastAction"`
	LastUpdated     string             `json:"lastUpdated"`
	ErrorCount      int                `json:"errorCount"`
	NextAction      string             `json:"nextAction,omitempty"`
	Status          session.Status     `json:"status"`
}

// GetSessionStateHandler handles GetSessionStateQuery.
type GetSessionStateHandler struct {
	cache   session.StateStore
	durable session.Repository
	logger  *logger.Logger
}

// NewGetSessionStateHandler creates a new handler.
func NewGetSessionStateHandler(cache session.StateStore, durable session.Repository, log *logger.Logger) *GetSessionStateHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetSessionStateHandler{
		cache:   cache,
		durable: durable,
		logger:  log.With(logger.Component("session-query")),
	}
}

// Handle returns the session or shared.ErrSessionNotFound.
func (h *GetSessionStateHandler) Handle(ctx context.Context, q GetSessionStateQuery) (*SessionStateDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	state, err := h.cache.Get(ctx, q.SessionID)
	if err != nil {
		if !shared.IsNotFound(err) && !errors.Is(err, shared.ErrStateMalformed) {
			h.logger.Warn("failed to read cached state", logger.SessionID(q.SessionID), logger.Err(err))
		}
		state, err = h.durable.Load(ctx, q.SessionID)
		if err != nil {
			if !shared.IsNotFound(err) {
				h.logger.Warn("failed to load durable state", logger.SessionID(q.SessionID), logger.Err(err))
			}
			return nil, shared.ErrSessionNotFound
		}
	}

	return ToSessionStateDTO(state), nil
}

// ToSessionStateDTO builds the read model.
func ToSessionStateDTO(state *session.SessionState) *SessionStateDTO {
	completed := state.ConceptsCompleted
	if completed == nil {
		completed = []string{}
	}
	return &SessionStateDTO{
		SessionID: state.SessionID,
		StudentID: state.StudentID,
		Topic:     state.Topic,
		Current:   state.CurrentState,
		ConceptProgress: ConceptProgressDTO{
			Current:   state.CurrentConcept,
			Completed: completed,
			Total:     state.TotalConcepts,
		},
		Progress:    state.Progress(),
		LastAction:  state.LastAction,
		LastUpdated: timeutil.FormatISO(state.LastUpdated),
		ErrorCount:  state.ErrorCount,
		NextAction:  state.NextAction,
		Status:      state.Status(),
	}
}
