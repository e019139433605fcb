package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 2

// Interrupt kinds, recorded when a run pauses for external input.
const (
	// KindDynamic marks a pause raised from inside a node.
	KindDynamic = "dynamic"
	// KindBefore marks a pause configured before a node executes.
	KindBefore = "before"
	// KindAfter marks a pause configured after a node executes.
	KindAfter = "after"
)

// PendingInterrupt records why a run paused and what is needed to resume it.
type PendingInterrupt struct {
	// NodeID is the node that raised or triggered the pause.
	NodeID string `json:"node_id"`

	// Kind is one of KindDynamic, KindBefore, KindAfter.
	Kind string `json:"kind"`

	// Value is the serialized payload the node surfaced to the caller
	// (a question, a proposed action, etc). Only set for dynamic pauses.
	Value json.RawMessage `json:"value,omitempty"`

	// Index is the zero-based position of the interrupt call within the
	// node's execution, used to match resume values when a node pauses
	// more than once.
	Index int `json:"index"`

	// Resumed holds the serialized resume values already supplied for
	// the paused node, in call order.
	Resumed []json.RawMessage `json:"resumed,omitempty"`
}

// Checkpoint is the persisted snapshot of execution state.
// It contains all information needed to resume execution.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// Execution state
	State    json.RawMessage `json:"state"`
	NextNode string          `json:"next_node"`

	// Execution context
	Attempt    int    `json:"attempt"`
	PrevNodeID string `json:"prev_node_id,omitempty"`

	// Interrupt is set when the run paused awaiting external input.
	Interrupt *PendingInterrupt `json:"interrupt,omitempty"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// New creates a new checkpoint with the given parameters.
// State must already be JSON-serialized.
func New(runID, nodeID string, sequence int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		RunID:     runID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
		Attempt:   1,
	}
}

// WithAttempt sets the attempt number for retry tracking.
func (c *Checkpoint) WithAttempt(attempt int) *Checkpoint {
	c.Attempt = attempt
	return c
}

// WithPrevNode sets the previous node ID for debugging.
func (c *Checkpoint) WithPrevNode(prevNodeID string) *Checkpoint {
	c.PrevNodeID = prevNodeID
	return c
}

// WithInterrupt marks the checkpoint as a paused run awaiting input.
func (c *Checkpoint) WithInterrupt(p *PendingInterrupt) *Checkpoint {
	c.Interrupt = p
	return c
}
