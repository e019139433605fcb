package stategraph

import (
	"encoding/json"
	"fmt"
)

// InterruptKind distinguishes how a pause was triggered.
type InterruptKind string

const (
	// InterruptDynamic is a pause raised by a node calling Interrupt.
	InterruptDynamic InterruptKind = "dynamic"
	// InterruptBefore is a pause configured via WithInterruptBefore.
	InterruptBefore InterruptKind = "before"
	// InterruptAfter is a pause configured via WithInterruptAfter.
	InterruptAfter InterruptKind = "after"
)

// InterruptError signals that a run paused awaiting external input.
// It is returned by Run, Stream.Wait, and Resume when execution pauses.
//
// Detect it with errors.Is(err, ErrInterrupted) or retrieve the payload
// with errors.As:
//
//	var intErr *stategraph.InterruptError
//	if errors.As(err, &intErr) {
//	    fmt.Println("awaiting input:", intErr.Value)
//	}
type InterruptError struct {
	// NodeID is the node that raised or triggered the pause.
	NodeID string

	// Kind reports whether the pause was dynamic or statically configured.
	Kind InterruptKind

	// Value is the payload the node surfaced to the caller.
	// Nil for static interrupts.
	Value any

	// Index is the zero-based interrupt call position within the node,
	// used to match resume values when a node pauses more than once.
	Index int
}

// Error implements the error interface.
func (e *InterruptError) Error() string {
	switch e.Kind {
	case InterruptBefore:
		return fmt.Sprintf("interrupted before node %s", e.NodeID)
	case InterruptAfter:
		return fmt.Sprintf("interrupted after node %s", e.NodeID)
	default:
		return fmt.Sprintf("interrupted at node %s awaiting input", e.NodeID)
	}
}

// Unwrap returns ErrInterrupted for errors.Is support.
func (e *InterruptError) Unwrap() error {
	return ErrInterrupted
}

// Command carries instructions for resuming a paused run.
// Pass it via WithCommand when calling Resume or ResumeStream.
type Command struct {
	// Resume is the value handed back to the Interrupt call that paused
	// the run. It is serialized to JSON, so it must round-trip through
	// encoding/json into the type parameter the node requested.
	Resume any

	// Goto overrides routing after the resumed node completes.
	// Empty means normal routing applies.
	Goto string
}

// hasResume reports whether the command carries a resume value.
func (c *Command) hasResume() bool {
	return c != nil && c.Resume != nil
}

// Interrupt pauses the run at this call site until a resume value is
// provided via Resume with a Command.
//
// On first execution it returns the zero value of T and an *InterruptError
// carrying the payload. The node MUST return that error unchanged; wrapping
// with fmt.Errorf("%w", err) is acceptable, but swallowing it (returning
// nil) aborts the run with ErrInterruptSwallowed. On re-execution after
// resume, Interrupt returns the resume value and a nil error, and the node
// continues from the top as if the pause never happened. All code before
// the Interrupt call runs again, so side effects before a pause point
// should be idempotent.
//
// Example:
//
//	func approve(ctx stategraph.Context, s Order) (Order, error) {
//	    ok, err := stategraph.Interrupt[bool](ctx, map[string]any{
//	        "question": "approve order?",
//	        "total":    s.Total,
//	    })
//	    if err != nil {
//	        return s, err
//	    }
//	    s.Approved = ok
//	    return s, nil
//	}
func Interrupt[T any](ctx Context, payload any) (T, error) {
	var zero T

	ec, ok := ctx.(*executionContext)
	if ok && ec.interrupts != nil {
		idx := ec.interrupts.calls
		ec.interrupts.calls++

		if raw, found := ec.interrupts.resumeValue(idx); found {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return zero, fmt.Errorf("%w: resume value: %v", ErrDeserializeState, err)
			}
			return v, nil
		}

		ec.interrupts.raised = true
		return zero, &InterruptError{
			NodeID: ec.nodeID,
			Kind:   InterruptDynamic,
			Value:  payload,
			Index:  idx,
		}
	}

	// No interrupt tracking on this context (e.g. hand-built test
	// contexts): surface the pause anyway, but it cannot be resumed.
	return zero, &InterruptError{
		NodeID: ctx.NodeID(),
		Kind:   InterruptDynamic,
		Value:  payload,
	}
}

// interruptTracker tracks Interrupt calls within a single node execution.
type interruptTracker struct {
	// resumed holds serialized resume values indexed by call order.
	resumed []json.RawMessage

	// calls counts Interrupt invocations during the current execution.
	calls int

	// raised is set when an Interrupt call did not find a resume value.
	raised bool
}

// resumeValue returns the stored resume value for the given call index.
func (t *interruptTracker) resumeValue(idx int) (json.RawMessage, bool) {
	if idx < len(t.resumed) {
		return t.resumed[idx], true
	}
	return nil, false
}

// reset prepares the tracker for a fresh node execution.
func (t *interruptTracker) reset() {
	t.calls = 0
	t.raised = false
}
