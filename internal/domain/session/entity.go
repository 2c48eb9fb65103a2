package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

const (
	// ErrorThreshold is the number of consecutive failed actions after which
	// a session is durably marked as errored.
	ErrorThreshold = 3

	// DefaultTotalConcepts is used when neither the durable record nor the
	// curriculum says how many concepts a topic has.
	DefaultTotalConcepts = 5

	// StateTTL is the expiry of the hot cached copy.
	StateTTL = 24 * time.Hour
)

// Status is the coarse lifecycle flag stored next to current_state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// SessionState is the orchestration record of one tutoring session.
// It is owned by the orchestrator and changes only through the
// transition/execution cycle.
type SessionState struct {
	SessionID         string    `json:"sessionId"`
	StudentID         string    `json:"studentId"`
	Topic             string    `json:"topic"`
	GradeLevel        string    `json:"gradeLevel,omitempty"`
	CurrentState      State     `json:"currentState"`
	CurrentConcept    string    `json:"currentConcept"`
	ConceptsCompleted []string  `json:"conceptsCompleted"`
	Curriculum        []string  `json:"curriculum,omitempty"`
	TotalConcepts     int       `json:"totalConcepts"`
	LastAction        string    `json:"lastAction"`
	LastUpdated       time.Time `json:"lastUpdated"`
	ErrorCount        int       `json:"errorCount"`
	NextAction        string    `json:"nextAction,omitempty"`
	Version           int64     `json:"version"`

	// ConceptCycle counts applied progression decisions. A teaching state
	// from an earlier cycle is restarted even when the concept is the same.
	ConceptCycle int                 `json:"conceptCycle"`
	Progression  *ProgressionOutcome `json:"progression,omitempty"`
}

// NewSessionParams contains parameters for creating a session.
type NewSessionParams struct {
	SessionID     string
	StudentID     string
	Topic         string
	GradeLevel    string
	TotalConcepts int
	Now           time.Time
}

// NewSessionState builds a fresh session in the initializing state.
func NewSessionState(p NewSessionParams) (*SessionState, error) {
	sid, err := shared.NewSessionID(p.SessionID)
	if err != nil {
		return nil, err
	}
	stid, err := shared.NewStudentID(p.StudentID)
	if err != nil {
		return nil, err
	}

	total := p.TotalConcepts
	if total <= 0 {
		total = DefaultTotalConcepts
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return &SessionState{
		SessionID:         sid.String(),
		StudentID:         stid.String(),
		Topic:             strings.TrimSpace(p.Topic),
		GradeLevel:        p.GradeLevel,
		CurrentState:      StateInitializing,
		ConceptsCompleted: []string{},
		TotalConcepts:     total,
		LastAction:        "session initialized",
		LastUpdated:       now,
		NextAction:        NextActionHint(StateInitializing, 0),
	}, nil
}

// Validate checks the structural invariants of a decoded record.
// A record failing Validate is treated as malformed.
func (s *SessionState) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return shared.ErrMissingSessionID
	}
	if strings.TrimSpace(s.StudentID) == "" {
		return shared.ErrMissingStudentID
	}
	if !s.CurrentState.IsValid() {
		return fmt.Errorf("%w: state %q", shared.ErrStateMalformed, s.CurrentState)
	}
	if s.ErrorCount < 0 || s.TotalConcepts < 0 {
		return fmt.Errorf("%w: negative counters", shared.ErrStateMalformed)
	}
	return nil
}

// Clone returns a deep copy.
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.ConceptsCompleted = append([]string(nil), s.ConceptsCompleted...)
	c.Curriculum = append([]string(nil), s.Curriculum...)
	if s.Progression != nil {
		p := *s.Progression
		c.Progression = &p
	}
	return &c
}

// Advance applies the transition function and returns the old and new state.
// Leaving a state forgets the progression decision taken in it.
func (s *SessionState) Advance(ctx TransitionContext) (from, to State) {
	from = s.CurrentState
	s.CurrentState = Transition(from, ctx)
	if s.CurrentState != from {
		s.Progression = nil
	}
	return from, s.CurrentState
}

// ResetErrors clears the failure counter without touching the state.
func (s *SessionState) ResetErrors() {
	s.ErrorCount = 0
}

// RecordFailure moves the session to error and bumps the counter.
// It reports whether the failure threshold has been reached.
func (s *SessionState) RecordFailure(reason string) (escalated bool) {
	s.CurrentState = StateError
	s.ErrorCount++
	s.LastAction = reason
	s.NextAction = NextActionHint(s.CurrentState, s.ErrorCount)
	return s.ErrorCount >= ErrorThreshold
}

// RecordSuccess clears the failure counter after a successful action.
func (s *SessionState) RecordSuccess(note string) {
	s.ErrorCount = 0
	s.LastAction = note
	s.NextAction = NextActionHint(s.CurrentState, 0)
}

// Reset is the explicit external reset of a failed session: the counter is
// cleared and teaching restarts at the current concept. It returns the
// state the session was in.
func (s *SessionState) Reset(note string) (from State) {
	from = s.CurrentState
	s.ErrorCount = 0
	s.Progression = nil
	if s.CurrentState != StateSessionComplete {
		s.CurrentState = StateTeachingExplain
	}
	s.LastAction = note
	s.NextAction = NextActionHint(s.CurrentState, 0)
	return from
}

// IsFailed reports whether the session sits at or above the failure threshold.
func (s *SessionState) IsFailed() bool {
	return s.ErrorCount >= ErrorThreshold
}

// Touch sets LastUpdated, never moving it backwards.
func (s *SessionState) Touch(now time.Time) {
	if now.After(s.LastUpdated) {
		s.LastUpdated = now
	}
}

// Status derives the durable lifecycle flag.
func (s *SessionState) Status() Status {
	switch {
	case s.IsFailed():
		return StatusError
	case s.CurrentState == StateSessionComplete:
		return StatusCompleted
	default:
		return StatusActive
	}
}

// Progress is the completion summary reported to clients.
type Progress struct {
	ConceptsCompleted int `json:"conceptsCompleted"`
	TotalConcepts     int `json:"totalConcepts"`
	Percentage        int `json:"percentage"`
}

// Progress computes conceptsCompleted / totalConcepts.
func (s *SessionState) Progress() Progress {
	done := len(s.ConceptsCompleted)
	return Progress{
		ConceptsCompleted: done,
		TotalConcepts:     s.TotalConcepts,
		Percentage:        shared.Percentage(done, s.TotalConcepts),
	}
}

// AllConceptsComplete reports whether every concept has been completed.
func (s *SessionState) AllConceptsComplete() bool {
	return s.TotalConcepts > 0 && len(s.ConceptsCompleted) >= s.TotalConcepts
}

// HasCompleted reports whether concept is already in ConceptsCompleted.
func (s *SessionState) HasCompleted(concept string) bool {
	for _, c := range s.ConceptsCompleted {
		if c == concept {
			return true
		}
	}
	return false
}

// CompleteConcept appends concept to the completed list once.
func (s *SessionState) CompleteConcept(concept string) {
	if concept == "" || s.HasCompleted(concept) {
		return
	}
	s.ConceptsCompleted = append(s.ConceptsCompleted, concept)
}

// SetCurriculum installs the concept list produced by curriculum generation.
// An empty list falls back to numbered parts of the topic.
func (s *SessionState) SetCurriculum(concepts []string) {
	cleaned := make([]string, 0, len(concepts))
	seen := make(map[string]struct{}, len(concepts))
	for _, c := range concepts {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		cleaned = append(cleaned, c)
	}

	if len(cleaned) == 0 {
		total := s.TotalConcepts
		if total <= 0 {
			total = DefaultTotalConcepts
		}
		topic := s.Topic
		if topic == "" {
			topic = "concept"
		}
		for i := 1; i <= total; i++ {
			cleaned = append(cleaned, fmt.Sprintf("%s #%d", topic, i))
		}
	}

	s.Curriculum = cleaned
	s.TotalConcepts = len(cleaned)
	if s.CurrentConcept == "" || s.HasCompleted(s.CurrentConcept) {
		for _, c := range cleaned {
			if !s.HasCompleted(c) {
				s.CurrentConcept = c
				break
			}
		}
	}
}

// NextActionHint suggests the call a client should make next.
func NextActionHint(state State, errorCount int) string {
	if errorCount >= ErrorThreshold {
		return "retry"
	}
	switch state {
	case StateInitializing, StateCurriculumGeneration, StateAssessment,
		StateFeedbackAnalysis, StateProgressionCheck, StateError:
		return "advance"
	case StateTeachingExplain, StateTeachingExample, StateTeachingPractice:
		return "teach"
	case StateSessionComplete:
		return ""
	default:
		return "retry"
	}
}
