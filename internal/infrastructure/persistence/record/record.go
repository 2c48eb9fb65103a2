// Package record converts domain state to and from the flat row shape shared
// by the SQL stores. List fields travel as JSON documents.
package record

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

// SessionRow mirrors the tutoring_sessions table.
type SessionRow struct {
	SessionID         string
	StudentID         string
	Topic             string
	GradeLevel        string
	CurrentState      string
	Status            string
	CurrentConcept    string
	ConceptsCompleted []byte
	Curriculum        []byte
	TotalConcepts     int
	ErrorCount        int
	LastAction        string
	NextAction        string
	Version           int64
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	ConceptCycle      int
	// Progression is nil outside progression_check.
	Progression []byte
}

// FromSession flattens a session state.
func FromSession(s *session.SessionState) (SessionRow, error) {
	completed, err := json.Marshal(nonNil(s.ConceptsCompleted))
	if err != nil {
		return SessionRow{}, fmt.Errorf("failed to marshal concepts_completed: %w", err)
	}
	curriculum, err := json.Marshal(nonNil(s.Curriculum))
	if err != nil {
		return SessionRow{}, fmt.Errorf("failed to marshal curriculum: %w", err)
	}
	var progression []byte
	if s.Progression != nil {
		if progression, err = json.Marshal(s.Progression); err != nil {
			return SessionRow{}, fmt.Errorf("failed to marshal progression: %w", err)
		}
	}

	return SessionRow{
		SessionID:         s.SessionID,
		StudentID:         s.StudentID,
		Topic:             s.Topic,
		GradeLevel:        s.GradeLevel,
		CurrentState:      s.CurrentState.DurableName(),
		Status:            string(s.Status()),
		CurrentConcept:    s.CurrentConcept,
		ConceptsCompleted: completed,
		Curriculum:        curriculum,
		TotalConcepts:     s.TotalConcepts,
		ErrorCount:        s.ErrorCount,
		LastAction:        s.LastAction,
		NextAction:        s.NextAction,
		Version:           s.Version,
		UpdatedAt:         s.LastUpdated.UTC(),
		ConceptCycle:      s.ConceptCycle,
		Progression:       progression,
	}, nil
}

// ToSession rebuilds the session state. Unknown states and broken JSON are
// reported as ErrStateMalformed.
func (r SessionRow) ToSession() (*session.SessionState, error) {
	st, err := session.StateFromDurable(r.CurrentState)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
	}

	s := &session.SessionState{
		SessionID:      r.SessionID,
		StudentID:      r.StudentID,
		Topic:          r.Topic,
		GradeLevel:     r.GradeLevel,
		CurrentState:   st,
		CurrentConcept: r.CurrentConcept,
		TotalConcepts:  r.TotalConcepts,
		ErrorCount:     r.ErrorCount,
		LastAction:     r.LastAction,
		NextAction:     r.NextAction,
		Version:        r.Version,
		LastUpdated:    r.UpdatedAt.UTC(),
		ConceptCycle:   r.ConceptCycle,
	}
	if len(r.Progression) > 0 {
		s.Progression = &session.ProgressionOutcome{}
		if err := json.Unmarshal(r.Progression, s.Progression); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
		}
	}
	if err := decodeList(r.ConceptsCompleted, &s.ConceptsCompleted); err != nil {
		return nil, err
	}
	if err := decodeList(r.Curriculum, &s.Curriculum); err != nil {
		return nil, err
	}
	if s.ConceptsCompleted == nil {
		s.ConceptsCompleted = []string{}
	}
	return s, nil
}

// TeachingRow mirrors the teaching_states table.
type TeachingRow struct {
	SessionID       string
	CurrentTopic    string
	CurrentConcept  string
	Phase           string
	CompletedPhases []byte
	ConceptProgress int
	Resources       []byte
	UpdatedAt       time.Time
	Cycle           int
}

// FromTeaching flattens a teaching state.
func FromTeaching(t *session.TeachingState) (TeachingRow, error) {
	phases := t.CompletedPhases
	if phases == nil {
		phases = []session.Phase{}
	}
	resources := t.Resources
	if resources == nil {
		resources = []session.Resource{}
	}

	ph, err := json.Marshal(phases)
	if err != nil {
		return TeachingRow{}, fmt.Errorf("failed to marshal completed_phases: %w", err)
	}
	res, err := json.Marshal(resources)
	if err != nil {
		return TeachingRow{}, fmt.Errorf("failed to marshal resources: %w", err)
	}

	return TeachingRow{
		SessionID:       t.SessionID,
		CurrentTopic:    t.CurrentTopic,
		CurrentConcept:  t.CurrentConcept,
		Phase:           string(t.Phase),
		CompletedPhases: ph,
		ConceptProgress: t.ConceptProgress,
		Resources:       res,
		UpdatedAt:       t.LastUpdated.UTC(),
		Cycle:           t.Cycle,
	}, nil
}

// ToTeaching rebuilds the teaching state.
func (r TeachingRow) ToTeaching() (*session.TeachingState, error) {
	phase := session.Phase(r.Phase)
	if !phase.IsValid() {
		return nil, fmt.Errorf("%w: phase %q", shared.ErrStateMalformed, r.Phase)
	}

	t := &session.TeachingState{
		SessionID:       r.SessionID,
		CurrentTopic:    r.CurrentTopic,
		CurrentConcept:  r.CurrentConcept,
		Phase:           phase,
		ConceptProgress: r.ConceptProgress,
		LastUpdated:     r.UpdatedAt.UTC(),
		Cycle:           r.Cycle,
	}
	if err := decodeList(r.CompletedPhases, &t.CompletedPhases); err != nil {
		return nil, err
	}
	if err := decodeList(r.Resources, &t.Resources); err != nil {
		return nil, err
	}
	if t.CompletedPhases == nil {
		t.CompletedPhases = []session.Phase{}
	}
	if t.Resources == nil {
		t.Resources = []session.Resource{}
	}
	return t, nil
}

func decodeList(raw []byte, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrStateMalformed, err)
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
