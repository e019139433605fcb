// Package event provides the run event bus for stategraph.
//
// Every graph run can publish lifecycle events (run started, node completed,
// run interrupted, run resumed, run finished) to a Bus. Consumers subscribe
// for fan-out delivery: the HTTP layer bridges subscriptions to SSE streams,
// and operational tooling can watch runs without touching the executor.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the core interface for all events in the system.
// Events are immutable once created - any modification creates a new event.
type Event interface {
	// Identity
	ID() string     // Unique event identifier
	Type() string   // Event type (e.g., "run.started", "node.completed")
	Source() string // Event source (e.g., "executor", "serve")

	// Correlation for distributed tracing
	CorrelationID() string // Groups related events, typically the run ID
	CausationID() string   // ID of event that directly caused this one

	// Metadata
	Timestamp() time.Time // When the event occurred

	// Payload
	Data() any         // Strongly-typed payload
	DataBytes() []byte // Serialized payload for transport
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// BaseEvent provides a generic event implementation.
// T is the payload type for type-safe access.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`

	// Cached serialization (computed lazily)
	cachedBytes []byte
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string {
	return e.Meta.EventID
}

// Type returns the event type.
func (e *BaseEvent[T]) Type() string {
	return e.Meta.EventType
}

// Source returns the event source.
func (e *BaseEvent[T]) Source() string {
	return e.Meta.EventSource
}

// CorrelationID returns the correlation ID for distributed tracing.
func (e *BaseEvent[T]) CorrelationID() string {
	return e.Meta.CorrelationID
}

// CausationID returns the ID of the event that caused this one.
func (e *BaseEvent[T]) CausationID() string {
	return e.Meta.CausationID
}

// Timestamp returns when the event occurred.
func (e *BaseEvent[T]) Timestamp() time.Time {
	return e.Meta.Timestamp
}

// Data returns the event payload.
func (e *BaseEvent[T]) Data() any {
	return e.Payload
}

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T {
	return e.Payload
}

// DataBytes returns the serialized payload.
// The result is cached for efficiency.
func (e *BaseEvent[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		// Best effort - errors are ignored for interface compliance
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// MarshalJSON implements json.Marshaler.
func (e *BaseEvent[T]) MarshalJSON() ([]byte, error) {
	type alias BaseEvent[T]
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *BaseEvent[T]) UnmarshalJSON(data []byte) error {
	type alias BaseEvent[T]
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}
	e.cachedBytes = nil // Clear cache on unmarshal
	return nil
}

// EventOption configures event creation.
type EventOption func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	causationID   string
	timestamp     time.Time
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func WithCorrelationID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) EventOption {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates a new event with the given type, source, and payload.
func New[T any](
	eventType string,
	source string,
	payload T,
	opts ...EventOption,
) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, use event ID as the root
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &BaseEvent[T]{
		Meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   source,
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			Timestamp:     cfg.timestamp,
		},
		Payload: payload,
	}
}

// NewFromParent creates a new event caused by a parent event.
// It automatically inherits the correlation ID and sets causation ID.
func NewFromParent[T any](
	parent Event,
	eventType string,
	source string,
	payload T,
	opts ...EventOption,
) *BaseEvent[T] {
	// Prepend parent correlation options (can be overridden by opts)
	parentOpts := []EventOption{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}
	allOpts := append(parentOpts, opts...)

	return New(eventType, source, payload, allOpts...)
}

// NewAny creates a new event with an untyped (any) payload.
func NewAny(
	eventType string,
	source string,
	payload any,
	opts ...EventOption,
) *BaseEvent[any] {
	return New(eventType, source, payload, opts...)
}

// Handler processes events and optionally returns derived events.
type Handler interface {
	// Handle processes an event and returns any derived events.
	// Returning multiple events enables fan-out patterns.
	Handle(ctx context.Context, evt Event) ([]Event, error)

	// Handles returns the event types this handler processes.
	// An empty slice means the handler accepts all event types.
	Handles() []string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) ([]Event, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) ([]Event, error) {
	return f(ctx, evt)
}

// Handles returns nil (accepts all event types).
func (f HandlerFunc) Handles() []string {
	return nil
}
