package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

// Record is the durable row as the SQL stores keep it.
type Record struct {
	State       *session.SessionState
	Status      session.Status
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Repository implements session.Repository, session.TeachingRepository and
// session.FeedbackRepository.
type Repository struct {
	mu       sync.RWMutex
	sessions map[string]*Record
	teaching map[string]*session.TeachingState
	feedback []*session.FeedbackRecord
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		sessions: make(map[string]*Record),
		teaching: make(map[string]*session.TeachingState),
	}
}

func (r *Repository) Create(_ context.Context, state *session.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[state.SessionID]; ok {
		return shared.ErrSessionExists
	}
	r.sessions[state.SessionID] = &Record{
		State:     state.Clone(),
		Status:    state.Status(),
		UpdatedAt: state.LastUpdated,
	}
	return nil
}

func (r *Repository) Load(_ context.Context, sessionID string) (*session.SessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return rec.State.Clone(), nil
}

func (r *Repository) Save(_ context.Context, state *session.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsert(state)
	return nil
}

func (r *Repository) SaveVersioned(_ context.Context, state *session.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A missing row is inserted as is, like the SQL upsert.
	if rec, ok := r.sessions[state.SessionID]; ok && rec.State.Version != state.Version-1 {
		return shared.ErrStaleSessionState
	}
	r.upsert(state)
	return nil
}

// upsert must be called with mu held. completed_at survives ordinary saves.
func (r *Repository) upsert(state *session.SessionState) {
	rec, ok := r.sessions[state.SessionID]
	if !ok {
		rec = &Record{}
		r.sessions[state.SessionID] = rec
	}
	rec.State = state.Clone()
	rec.Status = state.Status()
	rec.UpdatedAt = state.LastUpdated
}

func (r *Repository) MarkFailed(_ context.Context, sessionID string, at time.Time) error {
	return r.mark(sessionID, func(rec *Record) {
		rec.Status = session.StatusError
		rec.UpdatedAt = at
	})
}

func (r *Repository) MarkCompleted(_ context.Context, sessionID string, at time.Time) error {
	return r.mark(sessionID, func(rec *Record) {
		rec.Status = session.StatusCompleted
		rec.State.CurrentState = session.StateSessionComplete
		if rec.CompletedAt == nil {
			t := at
			rec.CompletedAt = &t
		}
		rec.UpdatedAt = at
	})
}

func (r *Repository) MarkActive(_ context.Context, sessionID string, at time.Time) error {
	return r.mark(sessionID, func(rec *Record) {
		rec.Status = session.StatusActive
		rec.UpdatedAt = at
	})
}

func (r *Repository) mark(sessionID string, fn func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return shared.ErrSessionNotFound
	}
	fn(rec)
	return nil
}

// Row returns a copy of the durable row, for assertions.
func (r *Repository) Row(sessionID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.State = rec.State.Clone()
	return out, true
}

// ══════════════════════════════════════════════════════════════════════════════
// TEACHING
// ══════════════════════════════════════════════════════════════════════════════

func (r *Repository) LoadTeaching(_ context.Context, sessionID string) (*session.TeachingState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ts, ok := r.teaching[sessionID]
	if !ok {
		return nil, shared.ErrTeachingStateNotFound
	}
	return cloneTeaching(ts), nil
}

func (r *Repository) SaveTeaching(_ context.Context, state *session.TeachingState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teaching[state.SessionID] = cloneTeaching(state)
	return nil
}

func cloneTeaching(t *session.TeachingState) *session.TeachingState {
	c := *t
	c.CompletedPhases = append([]session.Phase(nil), t.CompletedPhases...)
	c.Resources = append([]session.Resource(nil), t.Resources...)
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// FEEDBACK
// ══════════════════════════════════════════════════════════════════════════════

func (r *Repository) Record(_ context.Context, rec *session.FeedbackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *rec
	if c.ID == "" {
		c.ID = uuid.NewString()
		rec.ID = c.ID
	}
	r.feedback = append(r.feedback, &c)
	return nil
}

func (r *Repository) Latest(_ context.Context, sessionID, studentID string) (*session.FeedbackRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*session.FeedbackRecord
	for _, rec := range r.feedback {
		if rec.SessionID == sessionID && rec.StudentID == studentID {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, shared.ErrFeedbackNotFound
	}
	// Stable: equal timestamps keep insertion order, so the last wins.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	c := *matches[len(matches)-1]
	return &c, nil
}
