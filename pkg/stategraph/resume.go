package stategraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
	"github.com/stategraph/stategraph/pkg/stategraph/event"
	"github.com/stategraph/stategraph/pkg/stategraph/observability"
)

// resumeConfig holds configuration for resuming a run.
type resumeConfig struct {
	stateOverride func(any) any
	validateState func(any) error
	replayNode    bool
	command       *Command
	runOpts       []RunOption
}

// ResumeOption configures resume behavior.
type ResumeOption func(*resumeConfig)

// WithCommand supplies the resume value and optional routing override for
// an interrupted run. Required when the run paused on a dynamic interrupt.
//
// Example:
//
//	result, err := compiled.Resume(ctx, store, "run-123",
//	    stategraph.WithCommand(stategraph.Command{Resume: true}))
func WithCommand(cmd Command) ResumeOption {
	return func(c *resumeConfig) {
		c.command = &cmd
	}
}

// WithStateOverride modifies the checkpointed state before resuming.
// The function receives the deserialized state and returns the modified
// state; a return of a different type is ignored.
func WithStateOverride(fn func(any) any) ResumeOption {
	return func(c *resumeConfig) {
		c.stateOverride = fn
	}
}

// WithStateValidation validates the checkpointed state before resuming.
// A validation error aborts the resume.
func WithStateValidation(fn func(any) error) ResumeOption {
	return func(c *resumeConfig) {
		c.validateState = fn
	}
}

// WithReplayNode re-executes the checkpointed node instead of continuing
// from its successor. Only applies to crash-style resumes; interrupted
// runs determine their start node from the recorded pause.
func WithReplayNode() ResumeOption {
	return func(c *resumeConfig) {
		c.replayNode = true
	}
}

// WithRunOptions applies run options (retry, streaming modes, interrupt
// points, observability) to the resumed portion of the run.
func WithRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.runOpts = append(c.runOpts, opts...)
	}
}

// Resume continues execution from the last checkpoint for a run.
//
// For a run that crashed mid-execution, Resume loads the latest checkpoint
// and continues from the next node. For a run that paused on an interrupt,
// Resume re-executes the paused node (dynamic pauses require a Command
// carrying a resume value) or continues past the pause point (static
// pauses).
//
// Example:
//
//	// Previous run paused inside the approve node
//	result, err := compiled.Resume(ctx, store, "run-123",
//	    stategraph.WithCommand(stategraph.Command{Resume: "approved"}))
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, runID string, opts ...ResumeOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	rcfg := resumeConfig{}
	for _, opt := range opts {
		opt(&rcfg)
	}

	cp, err := latestCheckpoint(store, runID)
	if err != nil {
		return zero, err
	}

	state, err := decodeCheckpointState[S](cp, &rcfg)
	if err != nil {
		return state, err
	}

	cfg, err := cg.buildResumeConfig(cp, &rcfg, store, runID)
	if err != nil {
		return zero, err
	}

	observability.LogRunResumed(cfg.logger, runID, cfg.startNode)
	cg.publishEvent(ctx, &cfg, event.TypeRunResumed, event.RunResumed{
		RunID:  runID,
		NodeID: cfg.startNode,
	})

	return cg.runWithEmitter(ctx, state, &cfg, nil)
}

// ResumeStream is Resume with streaming output. Events are delivered the
// same way as Stream; the channel closes when the resumed run completes,
// fails, or pauses again.
func (cg *CompiledGraph[S]) ResumeStream(ctx Context, store checkpoint.Store, runID string, opts ...ResumeOption) (*Stream[S], error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	rcfg := resumeConfig{}
	for _, opt := range opts {
		opt(&rcfg)
	}

	cp, err := latestCheckpoint(store, runID)
	if err != nil {
		return nil, err
	}

	state, err := decodeCheckpointState[S](cp, &rcfg)
	if err != nil {
		return nil, err
	}

	cfg, err := cg.buildResumeConfig(cp, &rcfg, store, runID)
	if err != nil {
		return nil, err
	}

	observability.LogRunResumed(cfg.logger, runID, cfg.startNode)
	cg.publishEvent(ctx, &cfg, event.TypeRunResumed, event.RunResumed{
		RunID:  runID,
		NodeID: cfg.startNode,
	})

	em := newEmitter[S](runID, cfg.streamModes, cfg.streamBuffer, ctx.Done())
	s := &Stream[S]{
		events: em.ch,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		result, runErr := cg.runWithEmitter(ctx, state, &cfg, em)
		var intErr *InterruptError
		if errors.As(runErr, &intErr) {
			em.interrupted(intErr)
		}
		s.result = result
		s.err = runErr
		close(em.ch)
	}()

	return s, nil
}

// ResumeFrom continues execution from a specific checkpoint.
// Unlike Resume, this loads the checkpoint at a specific node rather than
// the latest.
//
// Example:
//
//	// Retry from a specific node
//	result, err := compiled.ResumeFrom(ctx, store, "run-123", "process-node")
func (cg *CompiledGraph[S]) ResumeFrom(ctx Context, store checkpoint.Store, runID, nodeID string, opts ...ResumeOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}

	rcfg := resumeConfig{}
	for _, opt := range opts {
		opt(&rcfg)
	}

	data, err := store.Load(runID, nodeID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: %s at node %s", ErrNoCheckpoints, runID, nodeID)
		}
		return zero, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := parseCheckpoint(data)
	if err != nil {
		return zero, err
	}

	state, err := decodeCheckpointState[S](cp, &rcfg)
	if err != nil {
		return state, err
	}

	cfg, err := cg.buildResumeConfig(cp, &rcfg, store, runID)
	if err != nil {
		return zero, err
	}
	if cfg.startNode != END && !cg.HasNode(cfg.startNode) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, cfg.startNode)
	}

	observability.LogRunResumed(cfg.logger, runID, cfg.startNode)
	cg.publishEvent(ctx, &cfg, event.TypeRunResumed, event.RunResumed{
		RunID:  runID,
		NodeID: cfg.startNode,
	})

	return cg.runWithEmitter(ctx, state, &cfg, nil)
}

// latestCheckpoint loads and parses the most recent checkpoint for a run.
func latestCheckpoint(store checkpoint.Store, runID string) (*checkpoint.Checkpoint, error) {
	infos, err := store.List(runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
	}

	// Load the latest checkpoint (last in sequence)
	latest := infos[len(infos)-1]
	data, err := store.Load(runID, latest.NodeID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	return parseCheckpoint(data)
}

// parseCheckpoint unmarshals a checkpoint and verifies its version.
func parseCheckpoint(data []byte) (*checkpoint.Checkpoint, error) {
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cp.Version != checkpoint.Version {
		return nil, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	return cp, nil
}

// decodeCheckpointState deserializes the checkpointed state and applies
// the configured override and validation.
func decodeCheckpointState[S any](cp *checkpoint.Checkpoint, rcfg *resumeConfig) (S, error) {
	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		var zero S
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if rcfg.stateOverride != nil {
		modified := rcfg.stateOverride(state)
		if typed, ok := modified.(S); ok {
			state = typed
		}
	}

	if rcfg.validateState != nil {
		if err := rcfg.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	return state, nil
}

// buildResumeConfig derives the run configuration for a resumed run.
// Interrupted runs determine the start node from the recorded pause;
// crash resumes continue from the checkpointed successor.
func (cg *CompiledGraph[S]) buildResumeConfig(cp *checkpoint.Checkpoint, rcfg *resumeConfig, store checkpoint.Store, runID string) (runConfig, error) {
	cfg := defaultRunConfig()
	for _, opt := range rcfg.runOpts {
		opt(&cfg)
	}
	cfg.checkpointStore = store
	cfg.runID = runID
	cfg.sequence = cp.Sequence

	if cp.Interrupt == nil {
		cfg.startNode = cp.NextNode
		if rcfg.replayNode {
			// Re-execute the checkpointed node
			cfg.startNode = cp.NodeID
		}
		return cfg, nil
	}

	switch cp.Interrupt.Kind {
	case checkpoint.KindDynamic:
		if !rcfg.command.hasResume() {
			return cfg, ErrResumeValueRequired
		}
		raw, err := json.Marshal(rcfg.command.Resume)
		if err != nil {
			return cfg, fmt.Errorf("%w: resume value: %v", ErrSerializeState, err)
		}
		cfg.resumed = append(append([]json.RawMessage{}, cp.Interrupt.Resumed...), raw)
		cfg.resumeNode = cp.Interrupt.NodeID
		cfg.startNode = cp.Interrupt.NodeID
		cfg.gotoOverride = rcfg.command.Goto

	case checkpoint.KindBefore:
		cfg.startNode = cp.NextNode
		cfg.skipBeforeNode = cp.NextNode
		if rcfg.command != nil && rcfg.command.Goto != "" {
			cfg.startNode = rcfg.command.Goto
			cfg.skipBeforeNode = ""
		}

	case checkpoint.KindAfter:
		cfg.startNode = cp.NextNode
		if rcfg.command != nil && rcfg.command.Goto != "" {
			cfg.startNode = rcfg.command.Goto
		}

	default:
		return cfg, fmt.Errorf("unknown interrupt kind in checkpoint: %q", cp.Interrupt.Kind)
	}

	if cfg.startNode != END && !cg.HasNode(cfg.startNode) {
		return cfg, fmt.Errorf("%w: %s", ErrInvalidResumeNode, cfg.startNode)
	}

	return cfg, nil
}
