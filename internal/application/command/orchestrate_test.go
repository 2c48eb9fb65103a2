package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/external/collaborator"
)

func TestOrchestrate_Validation(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()

	_, err := h.Handle(ctx, OrchestrateCommand{StudentID: "stu-1"})
	assert.ErrorIs(t, err, shared.ErrMissingSessionID)

	_, err = h.Handle(ctx, OrchestrateCommand{SessionID: "  ", StudentID: "stu-1"})
	assert.ErrorIs(t, err, shared.ErrMissingSessionID)

	_, err = h.Handle(ctx, OrchestrateCommand{SessionID: "sess-1"})
	assert.ErrorIs(t, err, shared.ErrMissingStudentID)

	_, err = h.Handle(ctx, OrchestrateCommand{SessionID: "sess-1", StudentID: "stu-1", Action: "jump"})
	assert.ErrorIs(t, err, shared.ErrUnknownAction)
	assert.True(t, shared.IsValidation(err))

	_, err = f.cache.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound, "validation failures must not write state")
	assert.Empty(t, f.observer.seen)
}

func TestOrchestrate_FirstAdvanceGeneratesCurriculum(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()

	created, err := session.NewSessionState(session.NewSessionParams{
		SessionID: "sess-1", StudentID: "stu-1", Topic: "fractions", GradeLevel: "4", Now: testNow,
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(ctx, created))

	res, err := h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, session.StateCurriculumGeneration, res.State.CurrentState)
	assert.JSONEq(t, `{"concepts":["halves","quarters"]}`, string(res.Result.(json.RawMessage)))
	assert.Equal(t, []string{"halves", "quarters"}, res.State.Curriculum)
	assert.Equal(t, 2, res.State.TotalConcepts)
	assert.Equal(t, "halves", res.State.CurrentConcept)
	assert.Equal(t, 0, res.State.ErrorCount)

	assert.Equal(t, "fractions", f.collab.lastCurriculum.Topic)
	assert.Equal(t, "4", f.collab.lastCurriculum.GradeLevel)

	assert.Equal(t, []shared.EventType{shared.EventSessionStateChanged}, f.events.types())
	assert.Equal(t, []observation{{"advance", true}}, f.observer.seen)

	cached := f.cached(t)
	assert.Equal(t, session.StateCurriculumGeneration, cached.CurrentState)
	row, ok := f.repo.Row("sess-1")
	require.True(t, ok)
	assert.Equal(t, session.StateCurriculumGeneration, row.State.CurrentState)
	assert.Equal(t, session.StatusActive, row.Status)
}

func TestOrchestrate_NewSessionWithoutActionFails(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)

	res, err := h.Handle(context.Background(), cmdFor(ActionNone))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "Unknown state: initializing", res.Error)
	assert.Equal(t, session.StateError, res.State.CurrentState)
	assert.Equal(t, 1, res.State.ErrorCount)
	assert.Equal(t, 4, res.State.TotalConcepts, "defaults apply to unknown sessions")
}

func TestOrchestrate_AdvanceReadsConceptProgress(t *testing.T) {
	tests := []struct {
		name     string
		from     session.State
		progress int
		want     session.State
		changed  bool
	}{
		{"explain moves on at 40", session.StateTeachingExplain, 40, session.StateTeachingExample, true},
		{"practice stays below 100", session.StateTeachingPractice, 80, session.StateTeachingPractice, false},
		{"practice moves on at 100", session.StateTeachingPractice, 100, session.StateAssessment, true},
		{"progress is clamped", session.StateTeachingExample, 250, session.StateTeachingPractice, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, func(s *session.SessionState) {
				s.CurrentState = tt.from
				s.SetCurriculum([]string{"halves"})
			})

			cmd := cmdFor(ActionAdvance)
			cmd.Context.ConceptProgress = intPtr(tt.progress)
			res, err := f.orchestrator(nil).Handle(context.Background(), cmd)
			require.NoError(t, err)

			assert.True(t, res.Success)
			assert.Equal(t, tt.want, res.State.CurrentState)
			if tt.changed {
				assert.Contains(t, f.events.types(), shared.EventSessionStateChanged)
			} else {
				assert.Empty(t, f.events.types())
			}
		})
	}
}

func TestOrchestrate_CompletesSessionIdempotently(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateProgressionCheck
		s.SetCurriculum([]string{"halves"})
	})

	cmd := cmdFor(ActionAdvance)
	cmd.Context.AllConceptsComplete = boolPtr(true)
	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, session.StateSessionComplete, res.State.CurrentState)
	assert.Equal(t, "", res.State.NextAction)
	assert.Equal(t, []shared.EventType{shared.EventSessionStateChanged, shared.EventSessionCompleted}, f.events.types())

	row, _ := f.repo.Row("sess-1")
	assert.Equal(t, session.StatusCompleted, row.Status)
	require.NotNil(t, row.CompletedAt)
	firstCompletedAt := *row.CompletedAt
	assert.Equal(t, "completed", row.State.CurrentState.DurableName())

	f.events.reset()
	f.clock.Advance(time.Hour)

	for _, action := range []Action{ActionNone, ActionAdvance} {
		res, err = h.Handle(ctx, cmdFor(action))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, session.StateSessionComplete, res.State.CurrentState)
	}

	row, _ = f.repo.Row("sess-1")
	assert.Equal(t, firstCompletedAt, *row.CompletedAt)
	assert.Empty(t, f.events.types())
}

func TestOrchestrate_DerivesAllConceptsComplete(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateProgressionCheck
		s.SetCurriculum([]string{"halves", "quarters"})
		s.CompleteConcept("halves")
		s.CompleteConcept("quarters")
	})

	res, err := f.orchestrator(nil).Handle(context.Background(), cmdFor(ActionAdvance))
	require.NoError(t, err)
	assert.Equal(t, session.StateSessionComplete, res.State.CurrentState)
}

func TestOrchestrate_EscalatesAfterThreeFailures(t *testing.T) {
	f := newFixture(t)
	exec := &stubExecutor{result: ActionResult{Error: "quiz generation failed"}}
	h := f.orchestrator(exec)
	ctx := context.Background()
	f.seed(t, nil)

	for i := 1; i <= session.ErrorThreshold; i++ {
		res, err := h.Handle(ctx, cmdFor(ActionAdvance))
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, i, res.State.ErrorCount)
		assert.Equal(t, session.StateError, res.State.CurrentState)
	}

	row, ok := f.repo.Row("sess-1")
	require.True(t, ok)
	assert.Equal(t, session.StatusError, row.Status)
	assert.Equal(t, "error", row.State.CurrentState.DurableName())
	assert.Equal(t, 3, row.State.ErrorCount)

	escalations := 0
	for _, typ := range f.events.types() {
		if typ == shared.EventSessionEscalated {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations)

	// A failed session does not advance.
	res, err := h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, shared.ErrSessionFailed.Message, res.Error)
	assert.Equal(t, "retry", res.State.NextAction)
	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, 3, f.cached(t).ErrorCount)
}

func TestOrchestrate_RetryRecoversFailedSession(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()
	f.collab.fail(collaborator.EndpointQuiz, errCollaboratorDown)
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateAssessment
		s.SetCurriculum([]string{"halves"})
	})

	for i := 0; i < session.ErrorThreshold; i++ {
		_, err := h.Handle(ctx, cmdFor(ActionNone))
		require.NoError(t, err)
	}
	require.True(t, f.cached(t).IsFailed())
	assert.Equal(t, 1, f.collab.count(collaborator.EndpointQuiz), "later runs execute the error state")

	// retry clears the counter, but error has no action of its own.
	res, err := h.Handle(ctx, cmdFor(ActionRetry))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown state: error", res.Error)
	assert.Equal(t, 1, res.State.ErrorCount)

	res, err = h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, session.StateTeachingExplain, res.State.CurrentState)
	assert.Equal(t, 0, res.State.ErrorCount)

	row, _ := f.repo.Row("sess-1")
	assert.Equal(t, session.StatusActive, row.Status)
}

func TestOrchestrate_SuccessResetsErrorCount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateTeachingExample
		s.ErrorCount = 2
	})

	res, err := f.orchestrator(nil).Handle(context.Background(), cmdFor(ActionNone))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 0, res.State.ErrorCount)
	assert.Equal(t, PhaseReady{Phase: "example", Status: "ready"}, res.Result)
	assert.Equal(t, "example phase ready", res.State.LastAction)
}

func TestOrchestrate_MalformedCacheFallsBackToDurable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(s *session.SessionState) { s.CurrentState = session.StateTeachingExample })
	f.cache.PutRaw("sess-1", []byte(`{"sessionId":`), time.Hour)

	res, err := f.orchestrator(nil).Handle(context.Background(), cmdFor(ActionNone))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, session.StateTeachingExample, res.State.CurrentState)
	assert.Equal(t, session.StateTeachingExample, f.cached(t).CurrentState)
}

func TestOrchestrate_LastUpdatedNeverMovesBack(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateTeachingExplain
		s.LastUpdated = testNow.Add(time.Hour)
	})

	res, err := f.orchestrator(nil).Handle(context.Background(), cmdFor(ActionNone))
	require.NoError(t, err)
	assert.Equal(t, seeded.LastUpdated, res.State.LastUpdated)

	f.clock.Set(testNow.Add(2 * time.Hour))
	res, err = f.orchestrator(nil).Handle(context.Background(), cmdFor(ActionNone))
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(2*time.Hour), res.State.LastUpdated)
}

func TestOrchestrate_StudentMismatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	_, err := f.orchestrator(nil).Handle(context.Background(), OrchestrateCommand{SessionID: "sess-1", StudentID: "intruder"})
	assert.ErrorIs(t, err, shared.ErrStudentMismatch)
	assert.True(t, shared.IsValidation(err))
}

func TestOrchestrate_ProgressionCheckAdvancesConcept(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateFeedbackAnalysis
		s.SetCurriculum([]string{"halves", "quarters"})
	})
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Score: 85, ProgressionReady: true, CreatedAt: testNow,
	}))

	res, err := h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, session.StateProgressionCheck, res.State.CurrentState)
	assert.Equal(t, ProgressionDecision{
		ProgressionReady: true,
		NextConcept:      "quarters",
		Decision:         DecisionAdvance,
		Score:            85,
	}, res.Result)
	assert.Equal(t, []string{"halves"}, res.State.ConceptsCompleted)
	assert.Equal(t, "quarters", res.State.CurrentConcept)
	assert.Equal(t, session.Progress{ConceptsCompleted: 1, TotalConcepts: 2, Percentage: 50}, res.State.Progress())

	res, err = h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	assert.Equal(t, session.StateTeachingExplain, res.State.CurrentState)
}

func TestOrchestrate_ProgressionCheckReviewsLowScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateFeedbackAnalysis
		s.SetCurriculum([]string{"halves", "quarters"})
	})
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Score: 40, CreatedAt: testNow,
	}))

	res, err := f.orchestrator(nil).Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)

	decision := res.Result.(ProgressionDecision)
	assert.Equal(t, DecisionReview, decision.Decision)
	assert.Equal(t, "halves", decision.NextConcept)
	assert.Empty(t, res.State.ConceptsCompleted)
}

func TestOrchestrate_PollingProgressionCheckKeepsDecision(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateFeedbackAnalysis
		s.SetCurriculum([]string{"halves", "quarters"})
	})
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Concept: "halves", Score: 85, ProgressionReady: true, CreatedAt: testNow,
	}))

	res, err := h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	require.True(t, res.Success)
	first := res.Result

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		res, err = h.Handle(ctx, cmdFor(ActionNone))
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, first, res.Result)
		assert.Equal(t, session.StateProgressionCheck, res.State.CurrentState)
	}

	cached := f.cached(t)
	assert.Equal(t, []string{"halves"}, cached.ConceptsCompleted)
	assert.Equal(t, "quarters", cached.CurrentConcept)
	assert.Equal(t, 1, cached.ConceptCycle)
	assert.False(t, cached.AllConceptsComplete())

	row, _ := f.repo.Row("sess-1")
	assert.Equal(t, []string{"halves"}, row.State.ConceptsCompleted)

	res, err = h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	assert.Equal(t, session.StateTeachingExplain, res.State.CurrentState)
	assert.Nil(t, res.State.Progression)
}

func TestOrchestrate_PollingAssessmentRegeneratesQuizOnly(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateAssessment
		s.SetCurriculum([]string{"halves", "quarters"})
	})

	for i := 1; i <= 3; i++ {
		res, err := h.Handle(ctx, cmdFor(ActionNone))
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, i, f.collab.count(collaborator.EndpointQuiz))
		assert.JSONEq(t, string(f.collab.quiz), string(res.Result.(json.RawMessage)))
	}

	assert.Equal(t, []string{"halves"}, f.collab.lastQuiz.Concepts)
	cached := f.cached(t)
	assert.Equal(t, session.StateAssessment, cached.CurrentState)
	assert.Equal(t, "halves", cached.CurrentConcept)
	assert.Empty(t, cached.ConceptsCompleted)
	assert.Zero(t, cached.ConceptCycle)
	assert.Equal(t, "assessment generated", cached.LastAction)
	assert.Empty(t, f.events.types(), "re-running a state emits nothing")
}

func TestOrchestrate_ReviewReteachesConceptFromExplain(t *testing.T) {
	f := newFixture(t)
	h := f.orchestrator(nil)
	ctx := context.Background()
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateFeedbackAnalysis
		s.SetCurriculum([]string{"halves", "quarters"})
	})

	taught := session.NewTeachingState("sess-1", "fractions", "halves", testNow)
	taught.Phase = session.PhaseAssess
	taught.ConceptProgress = 75
	taught.CompletedPhases = []session.Phase{session.PhaseExplain, session.PhaseExample, session.PhasePractice}
	taught.Resources = f.collab.resources
	require.NoError(t, f.teaching.Put(ctx, "sess-1", taught, session.StateTTL))
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Concept: "halves", Score: 40, CreatedAt: testNow,
	}))

	res, err := h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	require.Equal(t, DecisionReview, res.Result.(ProgressionDecision).Decision)

	res, err = h.Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)
	require.Equal(t, session.StateTeachingExplain, res.State.CurrentState)
	assert.Equal(t, "halves", res.State.CurrentConcept)

	turnRes, err := f.teachingHandler().Handle(ctx, turn("hmm"))
	require.NoError(t, err)
	assert.Equal(t, "halves", turnRes.Teaching.CurrentConcept)
	assert.Equal(t, session.PhaseExplain, turnRes.PreviousPhase)
	assert.Equal(t, session.PhaseExample, turnRes.Teaching.Phase)
	assert.Equal(t, 25, turnRes.Teaching.ConceptProgress)
	assert.Equal(t, 1, turnRes.Teaching.Cycle)

	// The next turn continues the new cycle.
	turnRes, err = f.teachingHandler().Handle(ctx, turn("hmm"))
	require.NoError(t, err)
	assert.Equal(t, session.PhaseExample, turnRes.Teaching.Phase)
	assert.Equal(t, 25, turnRes.Teaching.ConceptProgress)
}

func TestOrchestrate_FeedbackForAnotherConceptReviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateFeedbackAnalysis
		s.SetCurriculum([]string{"halves", "quarters"})
	})
	require.NoError(t, f.repo.Record(ctx, &session.FeedbackRecord{
		SessionID: "sess-1", StudentID: "stu-1", Concept: "quarters", Score: 95, ProgressionReady: true, CreatedAt: testNow,
	}))

	res, err := f.orchestrator(nil).Handle(ctx, cmdFor(ActionAdvance))
	require.NoError(t, err)

	decision := res.Result.(ProgressionDecision)
	assert.Equal(t, DecisionReview, decision.Decision)
	assert.Equal(t, "halves", decision.NextConcept)
	assert.Zero(t, decision.Score)
	assert.False(t, decision.ProgressionReady)
	assert.Empty(t, res.State.ConceptsCompleted)
}

func TestOrchestrate_FailedSessionRejectsWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seeded := f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateError
		s.ErrorCount = session.ErrorThreshold
	})
	f.clock.Advance(time.Hour)

	for _, action := range []Action{ActionNone, ActionAdvance} {
		res, err := f.orchestrator(nil).Handle(ctx, cmdFor(action))
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, shared.ErrSessionFailed.Message, res.Error)
	}

	cached := f.cached(t)
	assert.Equal(t, seeded.LastUpdated, cached.LastUpdated)
	assert.Equal(t, seeded.Version, cached.Version)
	assert.Empty(t, f.events.types())
}

func TestOrchestrate_VersionedWriteConflict(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.flags.EnableFeature(config.FeatureVersionedWrites))
	ctx := context.Background()

	f.seed(t, func(s *session.SessionState) {
		s.CurrentState = session.StateTeachingExplain
		s.Version = 1
	})
	// Another request already moved the durable copy on.
	newer := f.cached(t)
	newer.Version = 5
	require.NoError(t, f.repo.Save(ctx, newer))

	res, err := f.orchestrator(nil).Handle(ctx, cmdFor(ActionNone))
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, shared.ErrStaleSessionState.Message, res.Error)
	assert.Equal(t, 0, res.State.ErrorCount)
	assert.EqualValues(t, 1, f.cached(t).Version, "cache keeps the previous write")
}

func TestOrchestrate_VersionedWriteSucceeds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.flags.EnableFeature(config.FeatureVersionedWrites))
	f.seed(t, func(s *session.SessionState) { s.CurrentState = session.StateTeachingExplain })

	res, err := f.orchestrator(nil).Handle(context.Background(), cmdFor(ActionNone))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.EqualValues(t, 1, res.State.Version)
	row, _ := f.repo.Row("sess-1")
	assert.EqualValues(t, 1, row.State.Version)
}

func TestOrchestrate_EventsCarryRequestID(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	cmd := cmdFor(ActionAdvance)
	cmd.RequestID = "req-42"
	_, err := f.orchestrator(nil).Handle(context.Background(), cmd)
	require.NoError(t, err)

	require.NotEmpty(t, f.events.events)
	changed, ok := f.events.events[0].(shared.SessionStateChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "req-42", changed.CorrelationID)
}
