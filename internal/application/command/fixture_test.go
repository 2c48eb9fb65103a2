package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/tutor-orchestrator/config"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/session"
	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/external/collaborator"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/tutor-orchestrator/pkg/timeutil"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeCollaborators returns canned payloads and records requests.
type fakeCollaborators struct {
	mu sync.Mutex

	curriculum json.RawMessage
	quiz       json.RawMessage
	feedback   json.RawMessage
	resources  []session.Resource
	errs       map[string]error

	calls          map[string]int
	lastCurriculum collaborator.CurriculumRequest
	lastQuiz       collaborator.QuizRequest
	lastResources  collaborator.ResourcesRequest
}

func newFakeCollaborators() *fakeCollaborators {
	return &fakeCollaborators{
		curriculum: json.RawMessage(`{"concepts":["halves","quarters"]}`),
		quiz:       json.RawMessage(`{"questions":[{"q":"1/2 + 1/2?"}]}`),
		feedback:   json.RawMessage(`{"summary":"solid"}`),
		resources:  []session.Resource{{Title: "Fractions intro", URL: "https://example.org/f", Type: "video"}},
		errs:       map[string]error{},
		calls:      map[string]int{},
	}
}

func (f *fakeCollaborators) fail(endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[endpoint] = err
}

func (f *fakeCollaborators) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeCollaborators) record(endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[endpoint]++
	return f.errs[endpoint]
}

func (f *fakeCollaborators) GenerateCurriculum(_ context.Context, req collaborator.CurriculumRequest) (json.RawMessage, error) {
	if err := f.record(collaborator.EndpointCurriculum); err != nil {
		return nil, err
	}
	f.lastCurriculum = req
	return f.curriculum, nil
}

func (f *fakeCollaborators) GenerateQuiz(_ context.Context, req collaborator.QuizRequest) (json.RawMessage, error) {
	if err := f.record(collaborator.EndpointQuiz); err != nil {
		return nil, err
	}
	f.lastQuiz = req
	return f.quiz, nil
}

func (f *fakeCollaborators) AnalyzeFeedback(_ context.Context, _ collaborator.FeedbackRequest) (json.RawMessage, error) {
	if err := f.record(collaborator.EndpointFeedback); err != nil {
		return nil, err
	}
	return f.feedback, nil
}

func (f *fakeCollaborators) FindResources(_ context.Context, req collaborator.ResourcesRequest) ([]session.Resource, error) {
	if err := f.record(collaborator.EndpointResources); err != nil {
		return nil, err
	}
	f.lastResources = req
	return append([]session.Resource(nil), f.resources...), nil
}

var errCollaboratorDown = errors.New("collaborator returned 503")

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

// stubExecutor returns a fixed result.
type stubExecutor struct {
	result ActionResult
	calls  int
}

func (s *stubExecutor) Execute(context.Context, *session.SessionState) ActionResult {
	s.calls++
	return s.result
}

type observation struct {
	action  string
	success bool
}

type fakeObserver struct {
	seen []observation
}

func (o *fakeObserver) ObserveOrchestration(action string, success bool, _ time.Duration) {
	o.seen = append(o.seen, observation{action, success})
}

type fixture struct {
	clock    *timeutil.FixedClock
	cache    *memory.StateStore
	teaching *memory.TeachingStore
	repo     *memory.Repository
	collab   *fakeCollaborators
	events   *recordingPublisher
	flags    *config.FeatureFlags
	observer *fakeObserver
	executor *ActionExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := timeutil.NewFixedClock(testNow)
	f := &fixture{
		clock:    clock,
		cache:    memory.NewStateStore(clock.Now),
		teaching: memory.NewTeachingStore(clock.Now),
		repo:     memory.NewRepository(),
		collab:   newFakeCollaborators(),
		events:   &recordingPublisher{},
		flags:    config.NewFeatureFlags(),
		observer: &fakeObserver{},
	}
	f.executor = NewActionExecutor(f.collab, f.repo, f.repo, session.NewThresholdSelector(70), clock, nil, DefaultExecutorConfig())
	return f
}

func (f *fixture) storage() SessionStorage {
	return SessionStorage{
		Cache:    f.cache,
		Durable:  f.repo,
		TTL:      session.StateTTL,
		Defaults: SessionDefaults{TotalConcepts: 4, GradeLevel: "5"},
	}
}

func (f *fixture) orchestrator(exec Executor) *OrchestrateHandler {
	if exec == nil {
		exec = f.executor
	}
	return NewOrchestrateHandler(OrchestrateDeps{
		Storage:   f.storage(),
		Executor:  exec,
		Publisher: f.events,
		Flags:     f.flags,
		Observer:  f.observer,
		Clock:     f.clock,
	})
}

// seed stores a session in both the cache and durable storage.
func (f *fixture) seed(t *testing.T, mutate func(*session.SessionState)) *session.SessionState {
	t.Helper()
	st, err := session.NewSessionState(session.NewSessionParams{
		SessionID: "sess-1",
		StudentID: "stu-1",
		Topic:     "fractions",
		Now:       testNow.Add(-time.Minute),
	})
	require.NoError(t, err)
	if mutate != nil {
		mutate(st)
	}
	ctx := context.Background()
	require.NoError(t, f.repo.Save(ctx, st))
	require.NoError(t, f.cache.Put(ctx, st.SessionID, st, session.StateTTL))
	return st
}

func (f *fixture) cached(t *testing.T) *session.SessionState {
	t.Helper()
	st, err := f.cache.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	return st
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func cmdFor(action Action) OrchestrateCommand {
	return OrchestrateCommand{SessionID: "sess-1", StudentID: "stu-1", Action: action}
}
