package stategraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// executeForkJoin handles parallel execution of a fork node.
// It clones state for each branch, executes branches through an errgroup,
// waits for completion, and merges the results.
//
// Returns the merged state and the join node to continue from.
func (cg *CompiledGraph[S]) executeForkJoin(
	tracingCtx context.Context,
	sgCtx Context,
	forkNode *ForkNode,
	state S,
	cfg *runConfig,
) (mergedState S, joinNode string, err error) {
	startTime := time.Now()
	hook := cg.getBranchHook()
	fjConfig := cg.getForkJoinConfig()

	// Derive a cancellable context for the branches. The errgroup context
	// below propagates fail-fast cancellation; the timeout bounds the
	// whole fork/join.
	var branchCtx context.Context = sgCtx
	if fjConfig.MergeTimeout > 0 {
		var cancel context.CancelFunc
		branchCtx, cancel = context.WithTimeout(sgCtx, fjConfig.MergeTimeout)
		defer cancel()
	}

	// Clone state for each branch
	branchStates := make(map[string]S, len(forkNode.Branches))
	for _, branchID := range forkNode.Branches {
		cloned, cloneErr := cloneState(state, branchID)
		if cloneErr != nil {
			return state, "", fmt.Errorf("fork node %s: clone state for branch %s: %w",
				forkNode.NodeID, branchID, cloneErr)
		}

		if hook != nil {
			var hookErr error
			cloned, hookErr = hook.OnFork(sgCtx, branchID, cloned)
			if hookErr != nil {
				return state, "", fmt.Errorf("fork node %s: OnFork hook for branch %s: %w",
					forkNode.NodeID, branchID, hookErr)
			}
		}

		branchStates[branchID] = cloned
	}

	g, gctx := errgroup.WithContext(branchCtx)
	if fjConfig.MaxConcurrency > 0 {
		g.SetLimit(fjConfig.MaxConcurrency)
	}

	var mu sync.Mutex
	results := make(map[string]BranchResult[S], len(forkNode.Branches))

	for _, branchID := range forkNode.Branches {
		g.Go(func() error {
			res := cg.executeBranch(gctx, sgCtx, branchID, branchStates[branchID], forkNode.JoinNodeID, cfg)

			mu.Lock()
			results[branchID] = res
			mu.Unlock()

			if res.Error != nil {
				if hook != nil {
					hook.OnBranchError(sgCtx, branchID, res.State, res.Error)
				}
				if fjConfig.FailFast {
					// Returning the error cancels gctx for the other branches
					return res.Error
				}
			}
			return nil
		})
	}

	// With FailFast the group error is the first branch failure; without
	// it all branches run to completion and errors are collected below.
	_ = g.Wait()

	successfulStates := make(map[string]S, len(forkNode.Branches))
	var firstErr error
	var firstErrBranch string
	for _, branchID := range forkNode.Branches {
		res, ok := results[branchID]
		if !ok {
			// Branch never ran (fail-fast cancellation before start)
			continue
		}
		if res.Error != nil {
			if firstErr == nil {
				firstErr = res.Error
				firstErrBranch = branchID
			}
			continue
		}
		successfulStates[res.BranchID] = res.State
	}

	if firstErr != nil {
		return state, "", &ForkJoinError{
			ForkNodeID: forkNode.NodeID,
			BranchID:   firstErrBranch,
			Err:        firstErr,
		}
	}

	if hook != nil {
		if joinErr := hook.OnJoin(sgCtx, successfulStates); joinErr != nil {
			return state, "", fmt.Errorf("fork node %s: OnJoin hook: %w",
				forkNode.NodeID, joinErr)
		}
	}

	mergedState = mergeStates(state, successfulStates)

	duration := time.Since(startTime)
	sgCtx.Logger().Info("fork/join completed",
		"fork_node", forkNode.NodeID,
		"join_node", forkNode.JoinNodeID,
		"branches", len(forkNode.Branches),
		"duration_ms", duration.Milliseconds())

	return mergedState, forkNode.JoinNodeID, nil
}

// executeBranch executes a single branch from its start node until it
// reaches the join node. Branch execution does not checkpoint or stream;
// the merged state is checkpointed at the join point by the main loop.
func (cg *CompiledGraph[S]) executeBranch(
	groupCtx context.Context,
	sgCtx Context,
	branchID string,
	state S,
	joinNodeID string,
	cfg *runConfig,
) BranchResult[S] {
	startTime := time.Now()
	current := branchID
	iterations := 0
	tracker := &interruptTracker{}

	for current != joinNodeID && current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return BranchResult[S]{
				BranchID: branchID,
				Error: &MaxIterationsError{
					Max:        cfg.maxIterations,
					LastNodeID: current,
					State:      state,
				},
				Duration: time.Since(startTime),
			}
		}

		// Check cancellation from the group (fail-fast, timeout) and
		// the run context
		select {
		case <-groupCtx.Done():
			return BranchResult[S]{
				BranchID: branchID,
				Error: &CancellationError{
					NodeID:       current,
					State:        state,
					Cause:        groupCtx.Err(),
					WasExecuting: false,
				},
				Duration: time.Since(startTime),
			}
		default:
		}

		tracker.reset()

		var nodeErr error
		state, nodeErr = cg.executeNode(sgCtx, current, state, 1, cfg, tracker, nil)
		if nodeErr != nil {
			return BranchResult[S]{
				BranchID: branchID,
				State:    state,
				Error:    nodeErr,
				Duration: time.Since(startTime),
			}
		}

		next, routeErr := cg.nextNode(sgCtx, state, current)
		if routeErr != nil {
			return BranchResult[S]{
				BranchID: branchID,
				State:    state,
				Error:    routeErr,
				Duration: time.Since(startTime),
			}
		}

		current = next
	}

	return BranchResult[S]{
		BranchID: branchID,
		State:    state,
		Duration: time.Since(startTime),
	}
}

// ForkJoinError represents an error during fork/join execution.
type ForkJoinError struct {
	ForkNodeID string
	BranchID   string
	Err        error
}

func (e *ForkJoinError) Error() string {
	return fmt.Sprintf("fork/join error at %s (branch %s): %v", e.ForkNodeID, e.BranchID, e.Err)
}

func (e *ForkJoinError) Unwrap() error {
	return e.Err
}
