package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

func TestSessionRow_RoundTripsCompletedState(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	s := &session.SessionState{
		SessionID:         "s1",
		StudentID:         "st1",
		Topic:             "fractions",
		CurrentState:      session.StateSessionComplete,
		CurrentConcept:    "thirds",
		ConceptsCompleted: []string{"halves", "thirds"},
		Curriculum:        []string{"halves", "thirds"},
		TotalConcepts:     2,
		LastAction:        "session completed",
		LastUpdated:       now,
		Version:           9,
		ConceptCycle:      2,
	}

	row, err := FromSession(s)
	require.NoError(t, err)
	assert.Nil(t, row.Progression)
	assert.Equal(t, "completed", row.CurrentState)
	assert.Equal(t, "completed", row.Status)
	assert.JSONEq(t, `["halves","thirds"]`, string(row.ConceptsCompleted))

	back, err := row.ToSession()
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestSessionRow_KeepsAppliedProgression(t *testing.T) {
	s := &session.SessionState{
		SessionID:         "s1",
		StudentID:         "st1",
		CurrentState:      session.StateProgressionCheck,
		CurrentConcept:    "halves",
		ConceptsCompleted: []string{},
		Curriculum:        []string{"halves", "thirds"},
		TotalConcepts:     2,
	}
	s.ApplyProgression(session.ConceptDecision{Concept: "halves"}, 40, false)

	row, err := FromSession(s)
	require.NoError(t, err)
	assert.Equal(t, 1, row.ConceptCycle)
	assert.JSONEq(t, `{"progressionReady":false,"nextConcept":"halves","decision":"review","allConceptsComplete":false,"score":40}`, string(row.Progression))

	back, err := row.ToSession()
	require.NoError(t, err)
	require.NotNil(t, back.Progression)
	assert.Equal(t, *s.Progression, *back.Progression)
	assert.Equal(t, 1, back.ConceptCycle)

	row.Progression = []byte("{")
	_, err = row.ToSession()
	assert.ErrorIs(t, err, shared.ErrStateMalformed)
}

func TestSessionRow_EmptyListsAndErrors(t *testing.T) {
	s, err := session.NewSessionState(session.NewSessionParams{SessionID: "s1", StudentID: "st1"})
	require.NoError(t, err)
	s.ErrorCount = 3
	s.CurrentState = session.StateError

	row, err := FromSession(s)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(row.Curriculum))
	assert.Equal(t, "error", row.Status)
	assert.Equal(t, "error", row.CurrentState)

	row.ConceptsCompleted = nil
	back, err := row.ToSession()
	require.NoError(t, err)
	assert.Equal(t, []string{}, back.ConceptsCompleted)

	row.CurrentState = "warp"
	_, err = row.ToSession()
	assert.ErrorIs(t, err, shared.ErrStateMalformed)

	row.CurrentState = "error"
	row.Curriculum = []byte("{")
	_, err = row.ToSession()
	assert.ErrorIs(t, err, shared.ErrStateMalformed)
}

func TestTeachingRow_RoundTrip(t *testing.T) {
	ts := session.NewTeachingState("s1", "fractions", "halves", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	ts.Cycle = 3
	ts.ApplyTurn(session.UnderstandingHigh, ts.LastUpdated.Add(time.Minute))
	ts.Resources = []session.Resource{{Title: "Intro", URL: "https://example.org/halves", Type: "article"}}

	row, err := FromTeaching(ts)
	require.NoError(t, err)
	assert.Equal(t, "practice", row.Phase)
	assert.Equal(t, 3, row.Cycle)

	back, err := row.ToTeaching()
	require.NoError(t, err)
	assert.Equal(t, ts, back)

	row.Phase = "nap"
	_, err = row.ToTeaching()
	assert.ErrorIs(t, err, shared.ErrStateMalformed)
}
