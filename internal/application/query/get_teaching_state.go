package query

import (
	"context"
	"strings"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

// GetTeachingStateQuery identifies the session whose teaching state is read.
type GetTeachingStateQuery struct {
	SessionID string
}

// TeachingStateDTO is the read model of the phase sub-machine.
type TeachingStateDTO struct {
	Topic           string             `json:"topic"`
	Concept         string             `json:"concept"`
	Phase           session.Phase      `json:"phase"`
	ConceptProgress int                `json:"conceptProgress"`
	CompletedPhases []session.Phase    `json:"completedPhases"`
	Resources       []session.Resource `json:"resources"`
	Understanding   string             `json:"understanding,omitempty"`
}

// GetTeachingStateHandler handles GetTeachingStateQuery.
type GetTeachingStateHandler struct {
	cache   session.TeachingStore
	durable session.TeachingRepository
	logger  *logger.Logger
}

// NewGetTeachingStateHandler creates a new handler. durable may be nil.
func NewGetTeachingStateHandler(cache session.TeachingStore, durable session.TeachingRepository, log *logger.Logger) *GetTeachingStateHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetTeachingStateHandler{cache: cache, durable: durable, logger: log}
}

// Handle returns the teaching state or shared.ErrTeachingStateNotFound.
func (h *GetTeachingStateHandler) Handle(ctx context.Context, q GetTeachingStateQuery) (*TeachingStateDTO, error) {
	q.SessionID = strings.TrimSpace(q.SessionID)
	if q.SessionID == "" {
		return nil, shared.ErrMissingSessionID
	}

	ts, err := h.cache.Get(ctx, q.SessionID)
	if err == nil {
		return ToTeachingStateDTO(ts, ""), nil
	}
	if h.durable == nil {
		return nil, shared.ErrTeachingStateNotFound
	}

	ts, err = h.durable.LoadTeaching(ctx, q.SessionID)
	if err != nil {
		if !shared.IsNotFound(err) {
			h.logger.Warn("failed to load durable teaching state", logger.SessionID(q.SessionID), logger.Err(err))
		}
		return nil, shared.ErrTeachingStateNotFound
	}
	return ToTeachingStateDTO(ts, ""), nil
}

// ToTeachingStateDTO builds the read model.
func ToTeachingStateDTO(ts *session.TeachingState, understanding session.UnderstandingLevel) *TeachingStateDTO {
	phases := ts.CompletedPhases
	if phases == nil {
		phases = []session.Phase{}
	}
	resources := ts.Resources
	if resources == nil {
		resources = []session.Resource{}
	}
	return &TeachingStateDTO{
		Topic:           ts.CurrentTopic,
		Concept:         ts.CurrentConcept,
		Phase:           ts.Phase,
		ConceptProgress: ts.ConceptProgress,
		CompletedPhases: phases,
		Resources:       resources,
		Understanding:   string(understanding),
	}
}
