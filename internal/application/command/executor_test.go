package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/external/collaborator"
)

func executorState(t *testing.T, state session.State) *session.SessionState {
	t.Helper()
	st, err := session.NewSessionState(session.NewSessionParams{
		SessionID: "sess-1", StudentID: "stu-1", Topic: "fractions", Now: testNow,
	})
	require.NoError(t, err)
	st.CurrentState = state
	return st
}

func TestExecute_TeachingStatesCallNobody(t *testing.T) {
	f := newFixture(t)

	for _, st := range []session.State{session.StateTeachingExplain, session.StateTeachingExample, session.StateTeachingPractice} {
		res := f.executor.Execute(context.Background(), executorState(t, st))
		assert.True(t, res.Success, st)
		phase, _ := st.TeachingPhase()
		assert.Equal(t, PhaseReady{Phase: string(phase), Status: "ready"}, res.Result)
	}
	assert.Zero(t, f.collab.count(collaborator.EndpointCurriculum)+f.collab.count(collaborator.EndpointQuiz))
}

func TestExecute_UnknownStates(t *testing.T) {
	f := newFixture(t)

	for _, st := range []session.State{session.StateInitializing, session.StateError, "warp"} {
		res := f.executor.Execute(context.Background(), executorState(t, st))
		assert.False(t, res.Success)
		assert.Equal(t, "Unknown state: "+string(st), res.Error)
	}
}

func TestExecute_AssessmentSendsCurrentConcept(t *testing.T) {
	f := newFixture(t)
	st := executorState(t, session.StateAssessment)
	st.CurrentConcept = "halves"

	res := f.executor.Execute(context.Background(), st)

	require.True(t, res.Success)
	assert.Equal(t, []string{"halves"}, f.collab.lastQuiz.Concepts)
	assert.Equal(t, 5, f.collab.lastQuiz.QuestionCount)
	assert.Equal(t, "fractions", f.collab.lastQuiz.Topic)
}

func TestExecute_CollaboratorFailure(t *testing.T) {
	f := newFixture(t)
	f.collab.fail(collaborator.EndpointFeedback, errCollaboratorDown)

	res := f.executor.Execute(context.Background(), executorState(t, session.StateFeedbackAnalysis))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "feedback analysis failed")
	assert.Contains(t, res.Error, "503")
	assert.Nil(t, res.Result)
}

func TestExecute_CurriculumWithoutConceptsFallsBack(t *testing.T) {
	f := newFixture(t)
	f.collab.curriculum = []byte(`{"title":"Fractions"}`)
	st := executorState(t, session.StateCurriculumGeneration)
	st.TotalConcepts = 3

	res := f.executor.Execute(context.Background(), st)

	require.True(t, res.Success)
	assert.Equal(t, []string{"fractions #1", "fractions #2", "fractions #3"}, st.Curriculum)
	assert.Equal(t, "fractions #1", st.CurrentConcept)
}

func TestExecute_ProgressionWithoutFeedbackReviews(t *testing.T) {
	f := newFixture(t)
	st := executorState(t, session.StateProgressionCheck)
	st.TotalConcepts = 2

	res := f.executor.Execute(context.Background(), st)

	require.True(t, res.Success)
	decision := res.Result.(ProgressionDecision)
	assert.Equal(t, DecisionReview, decision.Decision)
	assert.False(t, decision.ProgressionReady)
	assert.Equal(t, "fractions #1", decision.NextConcept)
	assert.Len(t, st.Curriculum, 2)
}

func TestExecute_ProgressionCompletesLastConcept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := executorState(t, session.StateProgressionCheck)
	st.SetCurriculum([]string{"halves"})
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Score: 70, CreatedAt: testNow,
	}))

	res := f.executor.Execute(ctx, st)

	decision := res.Result.(ProgressionDecision)
	assert.Equal(t, DecisionAdvance, decision.Decision)
	assert.True(t, decision.AllConceptsComplete)
	assert.Empty(t, decision.NextConcept)
	assert.True(t, st.AllConceptsComplete())
}

func TestExecute_ProgressionRerunReportsStoredDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := executorState(t, session.StateProgressionCheck)
	st.SetCurriculum([]string{"halves", "quarters", "thirds"})
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Concept: "halves", Score: 90, CreatedAt: testNow,
	}))

	first := f.executor.Execute(ctx, st)
	require.True(t, first.Success)

	// A newer analysis does not change a decision already taken.
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Concept: "quarters", Score: 95, CreatedAt: testNow.Add(time.Minute),
	}))
	second := f.executor.Execute(ctx, st)

	require.True(t, second.Success)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, []string{"halves"}, st.ConceptsCompleted)
	assert.Equal(t, "quarters", st.CurrentConcept)
	assert.Equal(t, 1, st.ConceptCycle)
}

func TestExecute_ProgressionIgnoresFeedbackForAnotherConcept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := executorState(t, session.StateProgressionCheck)
	st.SetCurriculum([]string{"halves", "quarters"})
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Concept: "quarters", Score: 90, CreatedAt: testNow,
	}))

	res := f.executor.Execute(ctx, st)

	require.True(t, res.Success)
	decision := res.Result.(ProgressionDecision)
	assert.Equal(t, DecisionReview, decision.Decision)
	assert.Equal(t, "halves", st.CurrentConcept)
	assert.Empty(t, st.ConceptsCompleted)
}

func TestExecute_SessionCompleteWithoutDurableRow(t *testing.T) {
	f := newFixture(t)

	res := f.executor.Execute(context.Background(), executorState(t, session.StateSessionComplete))

	require.True(t, res.Success)
	assert.Equal(t, CompletionResult{Status: "completed", CompletedAt: testNow}, res.Result)
}
