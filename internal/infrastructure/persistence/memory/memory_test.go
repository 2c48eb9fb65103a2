package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
)

func newState(t *testing.T) *session.SessionState {
	t.Helper()
	st, err := session.NewSessionState(session.NewSessionParams{
		SessionID: "s1",
		StudentID: "st1",
		Topic:     "fractions",
		Now:       time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return st
}

func TestStateStore_GetPutAndExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStateStore(func() time.Time { return now })
	ctx := context.Background()

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	st := newState(t)
	require.NoError(t, store.Put(ctx, "s1", st, time.Hour))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateInitializing, got.CurrentState)

	got.ErrorCount = 2
	again, _ := store.Get(ctx, "s1")
	assert.Zero(t, again.ErrorCount, "store must not alias returned values")

	now = now.Add(time.Hour)
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)
}

func TestStateStore_Malformed(t *testing.T) {
	store := NewStateStore(nil)
	ctx := context.Background()

	store.PutRaw("bad-json", []byte("{not json"), 0)
	_, err := store.Get(ctx, "bad-json")
	assert.ErrorIs(t, err, shared.ErrStateMalformed)

	store.PutRaw("bad-state", []byte(`{"sessionId":"s","studentId":"x","currentState":"flying"}`), 0)
	_, err = store.Get(ctx, "bad-state")
	assert.ErrorIs(t, err, shared.ErrStateMalformed)
}

func TestTeachingStore(t *testing.T) {
	store := NewTeachingStore(nil)
	ctx := context.Background()

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, shared.ErrTeachingStateNotFound)

	ts := session.NewTeachingState("s1", "fractions", "halves", time.Now())
	require.NoError(t, store.Put(ctx, "s1", ts, time.Hour))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseExplain, got.Phase)
	assert.Equal(t, "halves", got.CurrentConcept)
}

func TestRepository_CreateLoadSave(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	st := newState(t)

	_, err := repo.Load(ctx, "s1")
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	require.NoError(t, repo.Create(ctx, st))
	assert.ErrorIs(t, repo.Create(ctx, st), shared.ErrSessionExists)

	st.CurrentState = session.StateCurriculumGeneration
	require.NoError(t, repo.Save(ctx, st))

	got, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StateCurriculumGeneration, got.CurrentState)

	row, ok := repo.Row("s1")
	require.True(t, ok)
	assert.Equal(t, session.StatusActive, row.Status)
}

func TestRepository_SaveVersioned(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	st := newState(t)

	st.Version = 1
	require.NoError(t, repo.SaveVersioned(ctx, st))

	st.Version = 2
	require.NoError(t, repo.SaveVersioned(ctx, st))

	stale := st.Clone()
	stale.Version = 2
	assert.ErrorIs(t, repo.SaveVersioned(ctx, stale), shared.ErrStaleSessionState)

	fresh := newState(t)
	fresh.SessionID = "other"
	fresh.Version = 5
	assert.NoError(t, repo.SaveVersioned(ctx, fresh))
}

func TestRepository_Marks(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", at), shared.ErrSessionNotFound)

	require.NoError(t, repo.Create(ctx, newState(t)))
	require.NoError(t, repo.MarkFailed(ctx, "s1", at))
	row, _ := repo.Row("s1")
	assert.Equal(t, session.StatusError, row.Status)

	require.NoError(t, repo.MarkActive(ctx, "s1", at))
	row, _ = repo.Row("s1")
	assert.Equal(t, session.StatusActive, row.Status)

	require.NoError(t, repo.MarkCompleted(ctx, "s1", at))
	require.NoError(t, repo.MarkCompleted(ctx, "s1", at.Add(time.Hour)))
	row, _ = repo.Row("s1")
	assert.Equal(t, session.StatusCompleted, row.Status)
	assert.Equal(t, session.StateSessionComplete, row.State.CurrentState)
	require.NotNil(t, row.CompletedAt)
	assert.Equal(t, at, *row.CompletedAt)

	st, _ := repo.Load(ctx, "s1")
	require.NoError(t, repo.Save(ctx, st))
	row, _ = repo.Row("s1")
	assert.NotNil(t, row.CompletedAt, "ordinary saves keep completed_at")
}

func TestRepository_Teaching(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	_, err := repo.LoadTeaching(ctx, "s1")
	assert.ErrorIs(t, err, shared.ErrTeachingStateNotFound)

	ts := session.NewTeachingState("s1", "fractions", "halves", time.Now())
	ts.Resources = append(ts.Resources, session.Resource{Title: "Intro", URL: "https://x", Type: "video"})
	require.NoError(t, repo.SaveTeaching(ctx, ts))

	ts.Resources[0].Title = "changed"
	got, err := repo.LoadTeaching(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Resources[0].Title)
}

func TestRepository_Feedback(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.Latest(ctx, "s1", "st1")
	assert.ErrorIs(t, err, shared.ErrFeedbackNotFound)

	first := &session.FeedbackRecord{SessionID: "s1", StudentID: "st1", Score: 40, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, repo.Record(ctx, first))
	assert.NotEmpty(t, first.ID)

	require.NoError(t, repo.Record(ctx, &session.FeedbackRecord{SessionID: "s1", StudentID: "st1", Score: 90, ProgressionReady: true, CreatedAt: base}))
	require.NoError(t, repo.Record(ctx, &session.FeedbackRecord{SessionID: "s1", StudentID: "other", Score: 10, CreatedAt: base.Add(time.Hour)}))

	latest, err := repo.Latest(ctx, "s1", "st1")
	require.NoError(t, err)
	assert.Equal(t, 40, latest.Score)
}
