package stategraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
	sgerrors "github.com/stategraph/stategraph/pkg/stategraph/errors"
	"github.com/stategraph/stategraph/pkg/stategraph/event"
	"github.com/stategraph/stategraph/pkg/stategraph/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure (useful for debugging).
// When the run pauses on an interrupt, the error carries *InterruptError
// and the returned state is the state at the pause point; continue with
// Resume.
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation and static interrupt points
//  3. Execute the current node (with retry if configured)
//  4. Determine the next node (via simple or conditional edge)
//  5. Repeat until END is reached, the run pauses, or an error occurs
//
// Example:
//
//	ctx := stategraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, initialState)
//	if errors.Is(err, stategraph.ErrInterrupted) {
//	    // run paused; resume later with compiled.Resume
//	}
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	// Validate checkpointing configuration
	if cfg.checkpointStore != nil && cfg.runID == "" {
		return state, ErrRunIDRequired
	}

	return cg.runWithEmitter(ctx, state, &cfg, nil)
}

// runWithEmitter executes the graph with run-level observability and
// lifecycle event publication. A nil emitter disables streaming.
func (cg *CompiledGraph[S]) runWithEmitter(ctx Context, state S, cfg *runConfig, em *emitter[S]) (result S, runErr error) {
	// Get run ID for observability (from config or context)
	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}

	startNode := cfg.startNode
	if startNode == "" {
		startNode = cg.entryPoint
	}

	startTime := time.Now()

	observability.LogRunStart(cfg.logger, runID)
	cg.publishEvent(ctx, cfg, event.TypeRunStarted, event.RunStarted{
		RunID: runID,
		Entry: startNode,
	})

	// Start run span if tracing enabled
	var execCtx context.Context = ctx
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ctx, "stategraph", runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runLoop(execCtx, ctx, state, startNode, cfg, em)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())

	var intErr *InterruptError
	switch {
	case errors.As(runErr, &intErr):
		// A pause is not a terminal outcome; the run metric is recorded
		// when the resumed run finishes.
		cfg.metrics.RecordInterrupt(ctx, intErr.NodeID, string(intErr.Kind))
		observability.LogRunInterrupted(cfg.logger, runID, intErr.NodeID, string(intErr.Kind))
		cg.publishEvent(ctx, cfg, event.TypeRunInterrupted, event.RunInterrupted{
			RunID:  runID,
			NodeID: intErr.NodeID,
			Kind:   string(intErr.Kind),
		})

	case runErr != nil:
		cfg.metrics.RecordGraphRun(ctx, false, duration)
		lastNode := lastNodeFromError(runErr)
		observability.LogRunError(cfg.logger, runID, runErr, durationMs, lastNode)
		cg.publishEvent(ctx, cfg, event.TypeRunFailed, event.RunFailed{
			RunID:    runID,
			LastNode: lastNode,
			Error:    runErr.Error(),
		})

		// Undo recorded side effects in reverse order
		if cfg.compensation != nil && cfg.compensation.Len() > 0 {
			if undoErr := cfg.compensation.Unwind(ctx, cfg.logger); undoErr != nil {
				runErr = errors.Join(runErr, undoErr)
			}
		}

	default:
		cfg.metrics.RecordGraphRun(ctx, true, duration)
		observability.LogRunComplete(cfg.logger, runID, durationMs, nodeCount)
		cg.publishEvent(ctx, cfg, event.TypeRunCompleted, event.RunCompleted{
			RunID:      runID,
			DurationMs: durationMs,
			Steps:      nodeCount,
		})
	}

	return result, runErr
}

// lastNodeFromError extracts the failing node ID from known error types.
func lastNodeFromError(err error) string {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.NodeID
	}
	var maxErr *MaxIterationsError
	if errors.As(err, &maxErr) {
		return maxErr.LastNodeID
	}
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return cancelErr.NodeID
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return panicErr.NodeID
	}
	return ""
}

// runFrom executes the graph starting from a specific node.
// Used by state inspection and tests - no run-level observability.
func (cg *CompiledGraph[S]) runFrom(ctx Context, state S, startNode string, cfg *runConfig) (S, error) {
	result, _, err := cg.runLoop(ctx, ctx, state, startNode, cfg, nil)
	return result, err
}

// runLoop is the core execution loop.
// tracingCtx carries span context; sgCtx is the stategraph Context.
// Returns the final state, node count, and any error.
func (cg *CompiledGraph[S]) runLoop(tracingCtx context.Context, sgCtx Context, state S, startNode string, cfg *runConfig, em *emitter[S]) (S, int, error) {
	current := startNode
	iterations := 0
	prevNode := ""
	nodeCount := 0
	tracker := &interruptTracker{}

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		// Check for cancellation before executing node
		select {
		case <-sgCtx.Done():
			return state, nodeCount, &CancellationError{
				NodeID:       current,
				State:        state,
				Cause:        sgCtx.Err(),
				WasExecuting: false,
			}
		default:
		}

		// Static pause before the node runs. The skip marker suppresses
		// the pause exactly once when resuming a before-interrupt.
		if cfg.interruptBefore[current] && current != cfg.skipBeforeNode {
			intErr := &InterruptError{NodeID: current, Kind: InterruptBefore}
			if err := cg.savePause(sgCtx, cfg, prevNode, state, current, intErr, nil, em); err != nil {
				return state, nodeCount, err
			}
			return state, nodeCount, intErr
		}
		if current == cfg.skipBeforeNode {
			cfg.skipBeforeNode = ""
		}

		if em != nil {
			em.step++
		}

		observability.LogNodeStart(cfg.logger, current)
		em.debug(DebugInfo{Phase: DebugNodeStart, NodeID: current})
		cg.publishEvent(sgCtx, cfg, event.TypeNodeStarted, event.NodeStarted{
			RunID:   sgCtx.RunID(),
			NodeID:  current,
			Attempt: 1,
		})

		// Start node span if tracing enabled
		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		// Resume values apply only to the node that paused
		tracker.reset()
		if current == cfg.resumeNode {
			tracker.resumed = cfg.resumed
		} else {
			tracker.resumed = nil
		}

		nodeStart := time.Now()
		entryState := state

		var nodeErr error
		state, nodeErr = cg.executeNodeWithRetry(sgCtx, current, state, cfg, tracker, em)

		// Resume values are consumed by the first execution
		if current == cfg.resumeNode {
			cfg.resumeNode = ""
			cfg.resumed = nil
		}

		nodeDuration := time.Since(nodeStart)
		nodeDurationMs := float64(nodeDuration.Milliseconds())

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			// A dynamic pause raised inside the node. Persist it against
			// the state the node entered with; resume re-executes the node.
			var intErr *InterruptError
			if errors.As(nodeErr, &intErr) && intErr.Kind == InterruptDynamic {
				if err := cg.savePause(sgCtx, cfg, prevNode, entryState, current, intErr, tracker.resumed, em); err != nil {
					return entryState, nodeCount, err
				}
				return entryState, nodeCount, intErr
			}

			// Failures that need a human become pauses, not terminal errors
			if sgerrors.NeedsHuman(nodeErr) {
				hi := humanInterrupt(current, nodeErr)
				if err := cg.savePause(sgCtx, cfg, prevNode, entryState, current, hi, tracker.resumed, em); err != nil {
					return entryState, nodeCount, err
				}
				return entryState, nodeCount, hi
			}

			observability.LogNodeError(cfg.logger, current, nodeErr)
			em.debug(DebugInfo{Phase: DebugNodeEnd, NodeID: current, DurationMs: nodeDurationMs, Error: nodeErr.Error()})
			cg.publishEvent(sgCtx, cfg, event.TypeNodeFailed, event.NodeFailed{
				RunID:  sgCtx.RunID(),
				NodeID: current,
				Error:  nodeErr.Error(),
			})
			return state, nodeCount, nodeErr
		}

		observability.LogNodeComplete(cfg.logger, current, nodeDurationMs)
		em.debug(DebugInfo{Phase: DebugNodeEnd, NodeID: current, DurationMs: nodeDurationMs})
		em.update(current, state)
		em.values(current, state)
		nodeCount++

		// Determine next node: fork nodes run their branches to the join
		// point, everything else routes normally.
		var next string
		if fork := cg.GetForkNode(current); fork != nil {
			var fjErr error
			state, next, fjErr = cg.executeForkJoin(tracingCtx, sgCtx, fork, state, cfg)
			if fjErr != nil {
				return state, nodeCount, fjErr
			}
		} else {
			var routeErr error
			next, routeErr = cg.nextNode(sgCtx, state, current)
			if routeErr != nil {
				return state, nodeCount, routeErr
			}
		}

		// A resume Command can redirect routing exactly once
		if cfg.gotoOverride != "" {
			next = cfg.gotoOverride
			cfg.gotoOverride = ""
			if next != END && !cg.HasNode(next) {
				return state, nodeCount, fmt.Errorf("%w: %s", ErrInvalidResumeNode, next)
			}
		}

		em.debug(DebugInfo{Phase: DebugRoute, NodeID: current, Next: next})
		cg.publishEvent(sgCtx, cfg, event.TypeNodeCompleted, event.NodeCompleted{
			RunID:      sgCtx.RunID(),
			NodeID:     current,
			Next:       next,
			DurationMs: nodeDurationMs,
		})

		// Static pause after the node runs
		if cfg.interruptAfter[current] {
			intErr := &InterruptError{NodeID: current, Kind: InterruptAfter}
			if err := cg.savePause(sgCtx, cfg, prevNode, state, next, intErr, nil, em); err != nil {
				return state, nodeCount, err
			}
			return state, nodeCount, intErr
		}

		// Checkpoint after successful node execution
		if cfg.checkpointStore != nil {
			if err := cg.saveCheckpoint(sgCtx, cfg, current, prevNode, state, next, nil, em); err != nil {
				return state, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return state, nodeCount, nil
}

// executeNodeWithRetry executes a node, retrying per the configured policy.
// Interrupt errors are never retried regardless of policy.
func (cg *CompiledGraph[S]) executeNodeWithRetry(sgCtx Context, nodeID string, state S, cfg *runConfig, tracker *interruptTracker, em *emitter[S]) (S, error) {
	if cfg.retry == nil {
		return cg.executeNode(sgCtx, nodeID, state, 1, cfg, tracker, em)
	}

	rc := *cfg.retry
	base := rc.RetryableFunc
	if base == nil {
		base = sgerrors.IsRetryable
	}
	rc.RetryableFunc = func(err error) bool {
		if errors.Is(err, ErrInterrupted) || errors.Is(err, ErrInterruptSwallowed) {
			return false
		}
		return base(err)
	}

	attempt := 0
	res := sgerrors.WithRetryContext(sgCtx, rc, func(_ context.Context) (S, error) {
		attempt++
		tracker.reset()
		return cg.executeNode(sgCtx, nodeID, state, attempt, cfg, tracker, em)
	})

	if res.Err != nil {
		// Surface pauses unwrapped so the loop can persist them
		var intErr *InterruptError
		if errors.As(res.Err, &intErr) {
			return state, intErr
		}
		return state, res.Err
	}
	return res.Value, nil
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S, attempt int, cfg *runConfig, tracker *interruptTracker, em *emitter[S]) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		// This shouldn't happen if compilation was successful
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	// Create node-specific context with enriched logger and run services
	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.forNode(nodeID, attempt, em.writer(nodeID), cfg.compensation, tracker)
	}

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		// Pauses pass through unwrapped; entry state is preserved
		var intErr *InterruptError
		if errors.As(err, &intErr) {
			return state, intErr
		}
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	// A node that raised a pause must propagate it
	if tracker != nil && tracker.raised {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    ErrInterruptSwallowed,
		}
	}

	return result, nil
}

// humanInterrupt converts a human-required failure into a pause.
func humanInterrupt(nodeID string, err error) *InterruptError {
	payload := map[string]any{"error": err.Error()}

	var hiErr *sgerrors.HumanInterventionError
	if errors.As(err, &hiErr) {
		payload["question"] = hiErr.Question
		if len(hiErr.Options) > 0 {
			payload["options"] = hiErr.Options
		}
	}

	return &InterruptError{
		NodeID: nodeID,
		Kind:   InterruptDynamic,
		Value:  payload,
	}
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	// Check for conditional edge first
	if router, exists := cg.getRouter(current); exists {
		// Create node-specific context for the router
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)

		// Validate router result
		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}

		return next, nil
	}

	// Use simple edges
	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// No outgoing edges - this shouldn't happen if compilation was successful
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}

	// For simple edges, take the first one; fork nodes with multiple
	// edges are handled by the fork/join path before routing.
	return edges[0], nil
}

// savePause persists an interrupt checkpoint and records the pause.
// nextNode is the node to execute on resume: the paused node itself for
// dynamic and before pauses, the routed successor for after pauses.
func (cg *CompiledGraph[S]) savePause(ctx Context, cfg *runConfig, prevNodeID string, state S, nextNode string, intErr *InterruptError, resumed []json.RawMessage, em *emitter[S]) error {
	if cfg.checkpointStore == nil {
		return nil
	}

	var value json.RawMessage
	if intErr.Value != nil {
		data, err := json.Marshal(intErr.Value)
		if err != nil {
			return &CheckpointError{
				NodeID: intErr.NodeID,
				Op:     "serialize interrupt",
				Err:    err,
			}
		}
		value = data
	}

	pending := &checkpoint.PendingInterrupt{
		NodeID:  intErr.NodeID,
		Kind:    string(intErr.Kind),
		Value:   value,
		Index:   intErr.Index,
		Resumed: resumed,
	}

	return cg.saveCheckpoint(ctx, cfg, intErr.NodeID, prevNodeID, state, nextNode, pending, em)
}

// saveCheckpoint persists the current state after node execution.
// A non-nil pending marks the checkpoint as a paused run.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx Context, cfg *runConfig, nodeID, prevNodeID string, state S, nextNode string, pending *checkpoint.PendingInterrupt, em *emitter[S]) error {
	// Serialize state
	stateBytes, err := json.Marshal(state)
	if err != nil {
		if cfg.checkpointFailureFatal || pending != nil {
			return &CheckpointError{
				NodeID: nodeID,
				Op:     "serialize",
				Err:    err,
			}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, "serialize", err)
		return nil
	}

	// Create checkpoint
	cfg.sequence++
	cp := checkpoint.New(cfg.runID, nodeID, cfg.sequence, stateBytes, nextNode).
		WithPrevNode(prevNodeID)

	if ec, ok := ctx.(*executionContext); ok {
		cp = cp.WithAttempt(ec.attempt)
	}
	if pending != nil {
		cp = cp.WithInterrupt(pending)
	}

	data, err := cp.Marshal()
	if err != nil {
		if cfg.checkpointFailureFatal || pending != nil {
			return &CheckpointError{
				NodeID: nodeID,
				Op:     "marshal",
				Err:    err,
			}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, "marshal", err)
		return nil
	}

	// Save to store. A pause that cannot be persisted cannot be resumed,
	// so interrupt checkpoint failures are always fatal.
	if err := cfg.checkpointStore.Save(cfg.runID, nodeID, data); err != nil {
		if cfg.checkpointFailureFatal || pending != nil {
			return &CheckpointError{
				NodeID: nodeID,
				Op:     "save",
				Err:    err,
			}
		}
		observability.LogCheckpointError(cfg.logger, nodeID, "save", err)
		return nil
	}

	// Log and record successful checkpoint
	sizeBytes := len(data)
	observability.LogCheckpoint(cfg.logger, nodeID, sizeBytes)
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(sizeBytes))
	em.debug(DebugInfo{Phase: DebugCheckpoint, NodeID: nodeID})

	return nil
}

// publishEvent publishes a run lifecycle event to the configured bus.
// Publish failures are logged, never fatal.
func (cg *CompiledGraph[S]) publishEvent(ctx Context, cfg *runConfig, eventType string, payload any) {
	if cfg.bus == nil {
		return
	}

	runID := cfg.runID
	if runID == "" {
		runID = ctx.RunID()
	}

	evt := event.NewAny(eventType, event.SourceExecutor, payload,
		event.WithCorrelationID(runID))
	if err := cfg.bus.Publish(ctx, evt); err != nil && cfg.logger != nil {
		cfg.logger.Warn("event publish failed",
			"event_type", eventType,
			"run_id", runID,
			"error", err)
	}
}
