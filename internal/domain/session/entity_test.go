package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

func newTestSession(t *testing.T) *SessionState {
	t.Helper()
	s, err := NewSessionState(NewSessionParams{
		SessionID: "sess-1",
		StudentID: "stu-1",
		Topic:     "fractions",
		Now:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return s
}

func TestNewSessionState_Defaults(t *testing.T) {
	s := newTestSession(t)

	assert.Equal(t, StateInitializing, s.CurrentState)
	assert.Equal(t, DefaultTotalConcepts, s.TotalConcepts)
	assert.Equal(t, 0, s.ErrorCount)
	assert.Equal(t, "advance", s.NextAction)
	assert.NoError(t, s.Validate())
}

func TestNewSessionState_RequiresIDs(t *testing.T) {
	_, err := NewSessionState(NewSessionParams{StudentID: "x"})
	assert.ErrorIs(t, err, shared.ErrMissingSessionID)
	assert.True(t, shared.IsValidation(err))

	_, err = NewSessionState(NewSessionParams{SessionID: "x", StudentID: "  "})
	assert.ErrorIs(t, err, shared.ErrMissingStudentID)
}

func TestRecordFailure_EscalatesAtThreshold(t *testing.T) {
	s := newTestSession(t)

	assert.False(t, s.RecordFailure("boom"))
	assert.False(t, s.RecordFailure("boom"))
	assert.True(t, s.RecordFailure("boom"))

	assert.Equal(t, StateError, s.CurrentState)
	assert.Equal(t, 3, s.ErrorCount)
	assert.True(t, s.IsFailed())
	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, "retry", s.NextAction)

	s.RecordSuccess("ok")
	assert.Equal(t, 0, s.ErrorCount)
	assert.Equal(t, StatusActive, s.Status())
}

func TestTouch_IsMonotonic(t *testing.T) {
	s := newTestSession(t)
	start := s.LastUpdated

	s.Touch(start.Add(-time.Hour))
	assert.Equal(t, start, s.LastUpdated)

	s.Touch(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), s.LastUpdated)
}

func TestProgress_Percentage(t *testing.T) {
	s := newTestSession(t)
	s.TotalConcepts = 3
	s.CompleteConcept("a")
	s.CompleteConcept("a")
	s.CompleteConcept("")

	p := s.Progress()
	assert.Equal(t, 1, p.ConceptsCompleted)
	assert.Equal(t, 3, p.TotalConcepts)
	assert.Equal(t, 33, p.Percentage)
	assert.False(t, s.AllConceptsComplete())

	s.CompleteConcept("b")
	s.CompleteConcept("c")
	assert.Equal(t, 100, s.Progress().Percentage)
	assert.True(t, s.AllConceptsComplete())
}

func TestSetCurriculum(t *testing.T) {
	s := newTestSession(t)
	s.SetCurriculum([]string{" halves ", "quarters", "halves", ""})

	assert.Equal(t, []string{"halves", "quarters"}, s.Curriculum)
	assert.Equal(t, 2, s.TotalConcepts)
	assert.Equal(t, "halves", s.CurrentConcept)
}

func TestSetCurriculum_FallsBackToNumberedParts(t *testing.T) {
	s := newTestSession(t)
	s.TotalConcepts = 2
	s.SetCurriculum(nil)

	assert.Equal(t, []string{"fractions #1", "fractions #2"}, s.Curriculum)
	assert.Equal(t, "fractions #1", s.CurrentConcept)
}

func TestClone_IsDeep(t *testing.T) {
	s := newTestSession(t)
	s.SetCurriculum([]string{"a", "b"})
	c := s.Clone()
	c.CompleteConcept("a")
	c.Curriculum[0] = "z"

	assert.Empty(t, s.ConceptsCompleted)
	assert.Equal(t, "a", s.Curriculum[0])
}

func TestValidate_Malformed(t *testing.T) {
	s := newTestSession(t)
	s.CurrentState = "half-baked"
	assert.ErrorIs(t, s.Validate(), shared.ErrStateMalformed)
}

func TestReset_ClearsFailure(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < ErrorThreshold; i++ {
		s.RecordFailure("quiz down")
	}
	require.True(t, s.IsFailed())

	from := s.Reset("session reset")

	assert.Equal(t, StateError, from)
	assert.Equal(t, StateTeachingExplain, s.CurrentState)
	assert.Equal(t, 0, s.ErrorCount)
	assert.Equal(t, StatusActive, s.Status())
	assert.Equal(t, "teach", s.NextAction)
}

func TestReset_KeepsCompletedSession(t *testing.T) {
	s := newTestSession(t)
	s.CurrentState = StateSessionComplete

	s.Reset("session reset")

	assert.Equal(t, StateSessionComplete, s.CurrentState)
}
