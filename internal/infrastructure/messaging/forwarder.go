package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/alem-hub/tutor-orchestrator/internal/domain/shared"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// NewEnvelope wraps event for transport.
func NewEnvelope(event shared.Event) (shared.EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return shared.EventEnvelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	env := shared.EventEnvelope{
		ID:          uuid.NewString(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if base, ok := baseOf(event); ok {
		env.Version = base.Version
		env.CorrelationID = base.CorrelationID
	}
	return env, nil
}

func baseOf(event shared.Event) (shared.BaseEvent, bool) {
	switch e := event.(type) {
	case shared.SessionStateChangedEvent:
		return e.BaseEvent, true
	case shared.SessionActionFailedEvent:
		return e.BaseEvent, true
	case shared.SessionEscalatedEvent:
		return e.BaseEvent, true
	case shared.SessionCompletedEvent:
		return e.BaseEvent, true
	case shared.SessionResetEvent:
		return e.BaseEvent, true
	case shared.TeachingPhaseChangedEvent:
		return e.BaseEvent, true
	case shared.FeedbackRecordedEvent:
		return e.BaseEvent, true
	}
	return shared.BaseEvent{}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// SINKS
// ══════════════════════════════════════════════════════════════════════════════

// Sink is an external transport for event envelopes.
type Sink interface {
	Name() string
	Send(ctx context.Context, subject string, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrSinkDisconnected is returned by Ping when the transport is down.
var ErrSinkDisconnected = errors.New("event sink is disconnected")

// NATSSink publishes envelopes on NATS subjects.
type NATSSink struct {
	conn *nats.Conn
}

// ConnectNATS dials url. The connection keeps reconnecting in the background
// once established.
func ConnectNATS(url, clientName string, log *logger.Logger) (*NATSSink, error) {
	if log == nil {
		log = logger.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logger.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewNATSSink(nc), nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

func (s *NATSSink) Name() string { return "nats" }

// Send publishes data on subject.
func (s *NATSSink) Send(_ context.Context, subject string, data []byte) error {
	return s.conn.Publish(subject, data)
}

// Ping round-trips to the server.
func (s *NATSSink) Ping(ctx context.Context) error {
	if !s.conn.IsConnected() {
		return ErrSinkDisconnected
	}
	// FlushWithContext refuses contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	return s.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Drain()
}

// RedisPublisher is the part of the Redis cache used for pub/sub.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Ping(ctx context.Context) error
}

// RedisSink publishes envelopes on Redis channels.
type RedisSink struct {
	client RedisPublisher
}

// NewRedisSink wraps a Redis publisher. The cache owns the connection, so
// Close is a no-op.
func NewRedisSink(client RedisPublisher) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, channel string, data []byte) error {
	return s.client.Publish(ctx, channel, data)
}

func (s *RedisSink) Ping(ctx context.Context) error { return s.client.Ping(ctx) }

func (s *RedisSink) Close() error { return nil }

// ══════════════════════════════════════════════════════════════════════════════
// FORWARDER
// ══════════════════════════════════════════════════════════════════════════════

// Forwarder copies every bus event to a Sink. Transport failures are logged
// and swallowed; orchestration never depends on delivery.
type Forwarder struct {
	sink    Sink
	subject func(shared.EventType) string
	enabled func(aggregateID string) bool
	timeout time.Duration
	logger  *logger.Logger
}

// ForwarderConfig contains configuration for Forwarder.
type ForwarderConfig struct {
	Sink Sink

	// Subject maps an event type to a subject or channel
	Subject func(shared.EventType) string

	// Enabled filters events by aggregate id. Nil forwards everything.
	Enabled func(aggregateID string) bool

	// Timeout bounds a single send
	Timeout time.Duration

	Logger *logger.Logger
}

// NATSSubject builds "<prefix>.<event type>".
func NATSSubject(prefix string) func(shared.EventType) string {
	return func(t shared.EventType) string {
		if prefix == "" {
			return string(t)
		}
		return prefix + "." + string(t)
	}
}

// NewForwarder creates a forwarder.
func NewForwarder(config ForwarderConfig) *Forwarder {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Subject == nil {
		config.Subject = NATSSubject("")
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Enabled == nil {
		config.Enabled = func(string) bool { return true }
	}
	return &Forwarder{
		sink:    config.Sink,
		subject: config.Subject,
		enabled: config.Enabled,
		timeout: config.Timeout,
		logger:  config.Logger.With(logger.Component("event-forwarder"), logger.String("sink", config.Sink.Name())),
	}
}

// Attach subscribes the forwarder to every event on bus.
func (f *Forwarder) Attach(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(f.Handle)
}

// Handle forwards one event.
func (f *Forwarder) Handle(event shared.Event) error {
	if !f.enabled(event.AggregateID()) {
		return nil
	}
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	subject := f.subject(event.EventType())
	if err := f.sink.Send(ctx, subject, data); err != nil {
		f.logger.Warn("failed to forward event",
			logger.String("subject", subject),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Err(err),
		)
	}
	return nil
}
