// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event marks a significant step in a tutoring session.
const (
	// Session events
	EventSessionStateChanged EventType = "session.state_changed"
	EventSessionActionFailed EventType = "session.action_failed"
	EventSessionEscalated    EventType = "session.escalated"
	EventSessionCompleted    EventType = "session.completed"
	EventSessionReset        EventType = "session.reset"

	// Teaching events
	EventTeachingPhaseChanged EventType = "teaching.phase_changed"

	// Feedback events
	EventFeedbackRecorded EventType = "feedback.recorded"
)

// AllEventTypes returns every event type the orchestrator emits.
func AllEventTypes() []EventType {
	return []EventType{
		EventSessionStateChanged,
		EventSessionActionFailed,
		EventSessionEscalated,
		EventSessionCompleted,
		EventSessionReset,
		EventTeachingPhaseChanged,
		EventFeedbackRecorded,
	}
}

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStateChangedEvent is emitted when the orchestrator moves a session
// to a different top-level state.
type SessionStateChangedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Payload implements Event interface.
func (e SessionStateChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"from":       e.From,
		"to":         e.To,
	}
}

// NewSessionStateChangedEvent creates a new SessionStateChangedEvent.
func NewSessionStateChangedEvent(sessionID, studentID, from, to string) SessionStateChangedEvent {
	return SessionStateChangedEvent{
		BaseEvent: NewBaseEvent(EventSessionStateChanged, sessionID),
		StudentID: studentID,
		From:      from,
		To:        to,
	}
}

// SessionActionFailedEvent is emitted when the action for a state fails.
type SessionActionFailedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	State      string `json:"state"`
	Reason     string `json:"reason"`
	ErrorCount int    `json:"error_count"`
}

// Payload implements Event interface.
func (e SessionActionFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"state":       e.State,
		"reason":      e.Reason,
		"error_count": e.ErrorCount,
	}
}

// NewSessionActionFailedEvent creates a new SessionActionFailedEvent.
func NewSessionActionFailedEvent(sessionID, studentID, state, reason string, errorCount int) SessionActionFailedEvent {
	return SessionActionFailedEvent{
		BaseEvent:  NewBaseEvent(EventSessionActionFailed, sessionID),
		StudentID:  studentID,
		State:      state,
		Reason:     reason,
		ErrorCount: errorCount,
	}
}

// SessionEscalatedEvent is emitted when a session crosses the failure threshold
// and is durably marked as errored.
type SessionEscalatedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	ErrorCount int    `json:"error_count"`
}

// Payload implements Event interface.
func (e SessionEscalatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"error_count": e.ErrorCount,
	}
}

// NewSessionEscalatedEvent creates a new SessionEscalatedEvent.
func NewSessionEscalatedEvent(sessionID, studentID string, errorCount int) SessionEscalatedEvent {
	return SessionEscalatedEvent{
		BaseEvent:  NewBaseEvent(EventSessionEscalated, sessionID),
		StudentID:  studentID,
		ErrorCount: errorCount,
	}
}

// SessionCompletedEvent is emitted when a session reaches session_complete.
type SessionCompletedEvent struct {
	BaseEvent
	StudentID         string `json:"student_id"`
	ConceptsCompleted int    `json:"concepts_completed"`
	TotalConcepts     int    `json:"total_concepts"`
}

// Payload implements Event interface.
func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":         e.StudentID,
		"concepts_completed": e.ConceptsCompleted,
		"total_concepts":     e.TotalConcepts,
	}
}

// NewSessionCompletedEvent creates a new SessionCompletedEvent.
func NewSessionCompletedEvent(sessionID, studentID string, completed, total int) SessionCompletedEvent {
	return SessionCompletedEvent{
		BaseEvent:         NewBaseEvent(EventSessionCompleted, sessionID),
		StudentID:         studentID,
		ConceptsCompleted: completed,
		TotalConcepts:     total,
	}
}

// SessionResetEvent is emitted when an operator clears a failed session.
type SessionResetEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
}

// Payload implements Event interface.
func (e SessionResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
	}
}

// NewSessionResetEvent creates a new SessionResetEvent.
func NewSessionResetEvent(sessionID, studentID string) SessionResetEvent {
	return SessionResetEvent{
		BaseEvent: NewBaseEvent(EventSessionReset, sessionID),
		StudentID: studentID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Teaching Events
// ═══════════════════════════════════════════════════════════════════════════

// TeachingPhaseChangedEvent is emitted when the phase sub-machine moves.
type TeachingPhaseChangedEvent struct {
	BaseEvent
	Concept         string `json:"concept"`
	From            string `json:"from"`
	To              string `json:"to"`
	ConceptProgress int    `json:"concept_progress"`
}

// Payload implements Event interface.
func (e TeachingPhaseChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"concept":          e.Concept,
		"from":             e.From,
		"to":               e.To,
		"concept_progress": e.ConceptProgress,
	}
}

// NewTeachingPhaseChangedEvent creates a new TeachingPhaseChangedEvent.
func NewTeachingPhaseChangedEvent(sessionID, concept, from, to string, progress int) TeachingPhaseChangedEvent {
	return TeachingPhaseChangedEvent{
		BaseEvent:       NewBaseEvent(EventTeachingPhaseChanged, sessionID),
		Concept:         concept,
		From:            from,
		To:              to,
		ConceptProgress: progress,
	}
}

// FeedbackRecordedEvent is emitted when a feedback record is stored.
type FeedbackRecordedEvent struct {
	BaseEvent
	StudentID        string `json:"student_id"`
	Score            int    `json:"score"`
	ProgressionReady bool   `json:"progression_ready"`
}

// Payload implements Event interface.
func (e FeedbackRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":        e.StudentID,
		"score":             e.Score,
		"progression_ready": e.ProgressionReady,
	}
}

// NewFeedbackRecordedEvent creates a new FeedbackRecordedEvent.
func NewFeedbackRecordedEvent(sessionID, studentID string, score int, ready bool) FeedbackRecordedEvent {
	return FeedbackRecordedEvent{
		BaseEvent:        NewBaseEvent(EventFeedbackRecorded, sessionID),
		StudentID:        studentID,
		Score:            score,
		ProgressionReady: ready,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
