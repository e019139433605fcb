package stategraph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
)

// StateSnapshot is a point-in-time view of a run's state, reconstructed
// from a checkpoint. Use GetState for the current position and
// GetStateHistory for the run's trajectory.
type StateSnapshot[S any] struct {
	// RunID identifies the run.
	RunID string

	// NodeID is the node the checkpoint was taken at.
	NodeID string

	// Next is the node that will execute when the run continues.
	// END when the run finished at this snapshot.
	Next string

	// State is the deserialized graph state.
	State S

	// Sequence orders snapshots within a run.
	Sequence int

	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time

	// Attempt is the retry attempt recorded at checkpoint time.
	Attempt int

	// Interrupt is set when the run was paused at this snapshot.
	Interrupt *InterruptError
}

// Pending reports whether the run was awaiting external input at this
// snapshot.
func (s *StateSnapshot[S]) Pending() bool {
	return s.Interrupt != nil
}

// GetState returns the current state of a run from its latest checkpoint.
// The snapshot reports where the run is, what executes next, and whether
// it is paused awaiting input.
//
// Example:
//
//	snap, err := compiled.GetState(store, "run-123")
//	if err != nil {
//	    return err
//	}
//	if snap.Pending() {
//	    fmt.Println("paused at", snap.Interrupt.NodeID, "awaiting:", snap.Interrupt.Value)
//	}
func (cg *CompiledGraph[S]) GetState(store checkpoint.Store, runID string) (*StateSnapshot[S], error) {
	cp, err := latestCheckpoint(store, runID)
	if err != nil {
		return nil, err
	}
	return snapshotFromCheckpoint[S](cp)
}

// GetStateHistory returns snapshots for a run ordered by sequence,
// oldest first. Because the store keeps one checkpoint per (run, node),
// a node visited multiple times appears once, at its latest visit.
func (cg *CompiledGraph[S]) GetStateHistory(store checkpoint.Store, runID string) ([]*StateSnapshot[S], error) {
	infos, err := store.List(runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
	}

	history := make([]*StateSnapshot[S], 0, len(infos))
	for _, info := range infos {
		data, err := store.Load(runID, info.NodeID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint at %s: %w", info.NodeID, err)
		}
		cp, err := parseCheckpoint(data)
		if err != nil {
			return nil, err
		}
		snap, err := snapshotFromCheckpoint[S](cp)
		if err != nil {
			return nil, err
		}
		history = append(history, snap)
	}

	return history, nil
}

// snapshotFromCheckpoint converts a checkpoint into a typed snapshot.
func snapshotFromCheckpoint[S any](cp *checkpoint.Checkpoint) (*StateSnapshot[S], error) {
	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	snap := &StateSnapshot[S]{
		RunID:     cp.RunID,
		NodeID:    cp.NodeID,
		Next:      cp.NextNode,
		State:     state,
		Sequence:  cp.Sequence,
		CreatedAt: cp.Timestamp,
		Attempt:   cp.Attempt,
	}

	if cp.Interrupt != nil {
		var value any
		if len(cp.Interrupt.Value) > 0 {
			if err := json.Unmarshal(cp.Interrupt.Value, &value); err != nil {
				return nil, fmt.Errorf("%w: interrupt value: %v", ErrDeserializeState, err)
			}
		}
		snap.Interrupt = &InterruptError{
			NodeID: cp.Interrupt.NodeID,
			Kind:   InterruptKind(cp.Interrupt.Kind),
			Value:  value,
			Index:  cp.Interrupt.Index,
		}
	}

	return snap, nil
}
