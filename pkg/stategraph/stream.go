package stategraph

import (
	"errors"
	"time"
)

// StreamMode selects which event families a Stream emits.
// Combine modes with WithStreamModes(StreamValues, StreamDebug).
type StreamMode string

const (
	// StreamValues emits the full state after every node execution.
	StreamValues StreamMode = "values"

	// StreamUpdates emits per-node state updates with node attribution.
	StreamUpdates StreamMode = "updates"

	// StreamDebug emits fine-grained execution traces: node start and end,
	// routing decisions, and checkpoint saves.
	StreamDebug StreamMode = "debug"

	// StreamCustom emits values nodes write via ctx.Writer().
	StreamCustom StreamMode = "custom"
)

// EventType identifies the kind of a stream event.
type EventType string

const (
	// EventValues carries the full state after a node executed.
	EventValues EventType = "values"

	// EventUpdate carries a single node's resulting state.
	EventUpdate EventType = "update"

	// EventDebug carries execution trace details.
	EventDebug EventType = "debug"

	// EventCustom carries a value a node wrote via ctx.Writer().
	EventCustom EventType = "custom"

	// EventInterrupt signals the run paused awaiting input.
	// Always emitted on pause regardless of configured modes, and always
	// the final event before the stream closes.
	EventInterrupt EventType = "interrupt"
)

// DebugPhase identifies which execution phase a debug event describes.
type DebugPhase string

const (
	DebugNodeStart  DebugPhase = "node_start"
	DebugNodeEnd    DebugPhase = "node_end"
	DebugRoute      DebugPhase = "route"
	DebugCheckpoint DebugPhase = "checkpoint"
)

// DebugInfo is the payload of debug events.
type DebugInfo struct {
	Phase      DebugPhase `json:"phase"`
	NodeID     string     `json:"node_id,omitempty"`
	Next       string     `json:"next,omitempty"`
	DurationMs float64    `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Event is a single entry in a run's event stream.
type Event[S any] struct {
	// Type identifies the event kind.
	Type EventType `json:"type"`

	// RunID is the run that produced the event.
	RunID string `json:"run_id"`

	// NodeID attributes the event to a node, where applicable.
	NodeID string `json:"node_id,omitempty"`

	// Step is the execution step counter, starting at 1 for the entry node.
	Step int `json:"step"`

	// State carries the graph state for values and update events.
	State S `json:"state,omitempty"`

	// Value carries the payload for custom and interrupt events.
	Value any `json:"value,omitempty"`

	// Debug carries trace details for debug events.
	Debug *DebugInfo `json:"debug,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Writer lets nodes push custom values into the run's event stream.
// Obtain it via ctx.Writer(). Writes outside a streaming run, or when
// StreamCustom is not enabled, are discarded.
type Writer struct {
	emit func(v any)
}

// noopWriter discards all writes. Returned by ctx.Writer() when the run
// is not streaming.
var noopWriter = &Writer{}

// Write pushes a value into the event stream as an EventCustom event.
func (w *Writer) Write(v any) {
	if w.emit != nil {
		w.emit(v)
	}
}

// Stream is a handle on a streaming run. Consume events from Events()
// until the channel closes, then call Wait() for the final state.
type Stream[S any] struct {
	events chan Event[S]
	done   chan struct{}
	result S
	err    error
}

// Events returns the event channel. It closes when the run finishes,
// fails, or pauses on an interrupt.
func (s *Stream[S]) Events() <-chan Event[S] {
	return s.events
}

// Wait blocks until the run finishes and returns the final state and
// error. The error carries *InterruptError when the run paused.
func (s *Stream[S]) Wait() (S, error) {
	<-s.done
	return s.result, s.err
}

// Interrupt blocks until the run finishes and reports whether it paused,
// returning the interrupt details if so.
func (s *Stream[S]) Interrupt() (*InterruptError, bool) {
	<-s.done
	var ie *InterruptError
	if errors.As(s.err, &ie) {
		return ie, true
	}
	return nil, false
}

// emitter produces stream events for a single run.
// A nil emitter disables streaming; all methods are nil-safe.
type emitter[S any] struct {
	runID string
	modes map[StreamMode]bool
	ch    chan Event[S]
	done  <-chan struct{}
	step  int
}

func newEmitter[S any](runID string, modes map[StreamMode]bool, buffer int, done <-chan struct{}) *emitter[S] {
	if len(modes) == 0 {
		modes = map[StreamMode]bool{StreamValues: true}
	}
	return &emitter[S]{
		runID: runID,
		modes: modes,
		ch:    make(chan Event[S], buffer),
		done:  done,
	}
}

func (e *emitter[S]) enabled(mode StreamMode) bool {
	return e != nil && e.modes[mode]
}

// send delivers an event to the consumer. When the run context is
// cancelled, events are dropped instead of blocking so the run loop can
// observe the cancellation even if the consumer stopped draining.
func (e *emitter[S]) send(ev Event[S]) {
	ev.RunID = e.runID
	ev.Step = e.step
	ev.Timestamp = time.Now()
	select {
	case e.ch <- ev:
	case <-e.done:
	}
}

// values emits the full state after a node executed.
func (e *emitter[S]) values(nodeID string, state S) {
	if !e.enabled(StreamValues) {
		return
	}
	e.send(Event[S]{Type: EventValues, NodeID: nodeID, State: state})
}

// update emits a node-attributed state update.
func (e *emitter[S]) update(nodeID string, state S) {
	if !e.enabled(StreamUpdates) {
		return
	}
	e.send(Event[S]{Type: EventUpdate, NodeID: nodeID, State: state})
}

// debug emits an execution trace event.
func (e *emitter[S]) debug(info DebugInfo) {
	if !e.enabled(StreamDebug) {
		return
	}
	e.send(Event[S]{Type: EventDebug, NodeID: info.NodeID, Debug: &info})
}

// custom emits a node-written value.
func (e *emitter[S]) custom(nodeID string, v any) {
	if !e.enabled(StreamCustom) {
		return
	}
	e.send(Event[S]{Type: EventCustom, NodeID: nodeID, Value: v})
}

// interrupted emits the terminal interrupt event.
// Emitted regardless of configured modes.
func (e *emitter[S]) interrupted(ie *InterruptError) {
	if e == nil {
		return
	}
	e.send(Event[S]{Type: EventInterrupt, NodeID: ie.NodeID, Value: ie.Value})
}

// writer returns a Writer bound to this emitter for the given node.
func (e *emitter[S]) writer(nodeID string) *Writer {
	if !e.enabled(StreamCustom) {
		return noopWriter
	}
	return &Writer{emit: func(v any) {
		e.custom(nodeID, v)
	}}
}

// Stream executes the graph like Run but returns immediately with a
// Stream handle. Events are delivered on Stream.Events() according to the
// modes selected via WithStreamModes (default StreamValues); the channel
// closes when the run completes, fails, or pauses on an interrupt.
//
// Example:
//
//	stream, err := compiled.Stream(ctx, initial,
//	    stategraph.WithStreamModes(stategraph.StreamValues, stategraph.StreamDebug))
//	if err != nil {
//	    return err
//	}
//	for ev := range stream.Events() {
//	    fmt.Printf("[%s] %s\n", ev.Type, ev.NodeID)
//	}
//	final, err := stream.Wait()
func (cg *CompiledGraph[S]) Stream(ctx Context, state S, opts ...RunOption) (*Stream[S], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.runID == "" {
		return nil, ErrRunIDRequired
	}

	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}

	em := newEmitter[S](runID, cfg.streamModes, cfg.streamBuffer, ctx.Done())
	s := &Stream[S]{
		events: em.ch,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		result, err := cg.runWithEmitter(ctx, state, &cfg, em)
		var ie *InterruptError
		if errors.As(err, &ie) {
			em.interrupted(ie)
		}
		s.result = result
		s.err = err
		close(em.ch)
	}()

	return s, nil
}
