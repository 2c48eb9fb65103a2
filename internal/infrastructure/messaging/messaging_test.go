package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

func TestInMemoryEventBus_DeliversInOrder(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	var got []string

	require.NoError(t, bus.Subscribe(shared.EventSessionCompleted, func(shared.Event) error {
		got = append(got, "typed")
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got = append(got, "all:"+string(e.EventType()))
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSessionCompletedEvent("s1", "stu", 3, 3)))
	require.NoError(t, bus.Publish(shared.NewSessionResetEvent("s1", "stu")))

	assert.Equal(t, []string{"typed", "all:session.completed", "all:session.reset"}, got)
	stats := bus.Stats()
	assert.EqualValues(t, 1, stats.Published[shared.EventSessionCompleted])
	assert.EqualValues(t, 1, stats.Published[shared.EventSessionReset])
}

func TestInMemoryEventBus_HandlerFailureIsIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	log := logger.NewFromCore(core)
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		Logger:      log,
		Middlewares: []Middleware{RecoveryMiddleware(log)},
	})

	reached := false
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("kaboom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { reached = true; return nil }))

	assert.NoError(t, bus.Publish(shared.NewSessionEscalatedEvent("s1", "stu", 3)))
	assert.True(t, reached)
	assert.EqualValues(t, 2, bus.Stats().HandlerFailures)
	assert.NotEmpty(t, logs.FilterMessage("handler panic recovered").All())
	assert.Len(t, logs.FilterMessage("handler error").All(), 2)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewSessionResetEvent("s", "u")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Subscribe(shared.EventSessionReset, nil))
}

func TestAuditHandler_LogsPayload(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	require.NoError(t, bus.SubscribeAll(AuditHandler(logger.NewFromCore(core))))

	require.NoError(t, bus.Publish(shared.NewTeachingPhaseChangedEvent("s1", "halves", "explain", "example", 25)))

	entries := logs.FilterMessage("domain event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "teaching.phase_changed", fields["event_type"])
	assert.Equal(t, "s1", fields["aggregate_id"])
	assert.Equal(t, "audit", fields["component"])
}

func TestNewEnvelope(t *testing.T) {
	event := shared.NewSessionStateChangedEvent("s1", "stu", "assessment", "feedback_analysis")
	event.BaseEvent = event.BaseEvent.WithCorrelationID("req-9")

	env, err := NewEnvelope(event)
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, shared.EventSessionStateChanged, env.Type)
	assert.Equal(t, "s1", env.AggregateID)
	assert.Equal(t, "req-9", env.CorrelationID)
	assert.Equal(t, 1, env.Version)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "feedback_analysis", payload["to"])
}

type sentMessage struct {
	subject string
	data    []byte
}

type fakeRedis struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{channel, message.([]byte)})
	return nil
}

func (f *fakeRedis) Ping(context.Context) error { return f.err }

func TestForwarder_RedisSink(t *testing.T) {
	redis := &fakeRedis{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	fwd := NewForwarder(ForwarderConfig{
		Sink:    NewRedisSink(redis),
		Subject: func(t shared.EventType) string { return "tutor:" + string(t) },
	})
	require.NoError(t, fwd.Attach(bus))

	require.NoError(t, bus.Publish(shared.NewSessionCompletedEvent("s1", "stu", 2, 2)))

	require.Len(t, redis.sent, 1)
	assert.Equal(t, "tutor:session.completed", redis.sent[0].subject)

	var env shared.EventEnvelope
	require.NoError(t, json.Unmarshal(redis.sent[0].data, &env))
	assert.Equal(t, "s1", env.AggregateID)
	assert.NoError(t, NewRedisSink(redis).Ping(context.Background()))
}

func TestForwarder_SinkFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	redis := &fakeRedis{err: errors.New("connection refused")}
	fwd := NewForwarder(ForwarderConfig{Sink: NewRedisSink(redis), Logger: logger.NewFromCore(core)})

	assert.NoError(t, fwd.Handle(shared.NewSessionResetEvent("s1", "stu")))
	assert.Len(t, logs.FilterMessage("failed to forward event").All(), 1)
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestForwarder_NATSSink(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("tutor.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	sink, err := ConnectNATS(server.ClientURL(), "orchestrator-test", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Ping(context.Background()))

	fwd := NewForwarder(ForwarderConfig{Sink: sink, Subject: NATSSubject("tutor")})
	require.NoError(t, fwd.Handle(shared.NewSessionActionFailedEvent("s1", "stu", "assessment", "quiz down", 1)))

	select {
	case msg := <-msgs:
		assert.Equal(t, "tutor.session.action_failed", msg.Subject)
		var env shared.EventEnvelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		assert.Equal(t, shared.EventSessionActionFailed, env.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not forwarded")
	}

	require.NoError(t, sink.Close())
	assert.NoError(t, sink.Close())
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "orchestrator-test", logger.Nop())
	assert.Error(t, err)
}

func TestForwarder_EnabledFilter(t *testing.T) {
	redis := &fakeRedis{}
	fwd := NewForwarder(ForwarderConfig{
		Sink:    NewRedisSink(redis),
		Enabled: func(id string) bool { return id != "quiet" },
	})

	require.NoError(t, fwd.Handle(shared.NewSessionResetEvent("quiet", "stu")))
	require.NoError(t, fwd.Handle(shared.NewSessionResetEvent("loud", "stu")))

	require.Len(t, redis.sent, 1)
	assert.Equal(t, "session.reset", redis.sent[0].subject)
}
