package stategraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
)

// approvalGraph builds a prep -> approve -> finish graph where the
// approve node pauses for a boolean decision.
func approvalGraph(t *testing.T, executions *int) *CompiledGraph[State] {
	t.Helper()

	approve := func(ctx Context, s State) (State, error) {
		*executions++
		ok, err := Interrupt[bool](ctx, map[string]any{"question": "approve?"})
		if err != nil {
			return s, err
		}
		s.Approved = ok
		return s, nil
	}

	finish := func(ctx Context, s State) (State, error) {
		s.Completed = true
		return s, nil
	}

	compiled, err := NewGraph[State]().
		AddNode("prep", passthrough[State]).
		AddNode("approve", approve).
		AddNode("finish", finish).
		AddEdge("prep", "approve").
		AddEdge("approve", "finish").
		AddEdge("finish", END).
		SetEntry("prep").
		Compile()
	require.NoError(t, err)
	return compiled
}

// TestInterrupt_DynamicPause tests a node pausing via Interrupt.
func TestInterrupt_DynamicPause(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)

	var intErr *InterruptError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "approve", intErr.NodeID)
	assert.Equal(t, InterruptDynamic, intErr.Kind)
	assert.Equal(t, map[string]any{"question": "approve?"}, intErr.Value)
	assert.Equal(t, 0, intErr.Index)
	assert.Equal(t, 1, executions)
}

// TestInterrupt_ResumeWithCommand tests resuming a dynamic pause.
func TestInterrupt_ResumeWithCommand(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.ErrorIs(t, err, ErrInterrupted)

	result, err := compiled.Resume(testCtx(), store, "run-1",
		WithCommand(Command{Resume: true}))

	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.True(t, result.Completed)
	// The paused node re-executes from the top on resume.
	assert.Equal(t, 2, executions)
}

// TestInterrupt_ResumeWithoutCommand_Error tests dynamic pauses require
// a resume value.
func TestInterrupt_ResumeWithoutCommand_Error(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.ErrorIs(t, err, ErrInterrupted)

	_, err = compiled.Resume(testCtx(), store, "run-1")

	assert.ErrorIs(t, err, ErrResumeValueRequired)
}

// TestInterrupt_MultiplePausesInOneNode tests interrupts are matched to
// resume values by call order.
func TestInterrupt_MultiplePausesInOneNode(t *testing.T) {
	gather := func(ctx Context, s State) (State, error) {
		first, err := Interrupt[string](ctx, "first question")
		if err != nil {
			return s, err
		}
		second, err := Interrupt[string](ctx, "second question")
		if err != nil {
			return s, err
		}
		s.Progress = []string{first, second}
		return s, nil
	}

	compiled, err := NewGraph[State]().
		AddNode("gather", gather).
		AddEdge("gather", END).
		SetEntry("gather").
		Compile()
	require.NoError(t, err)

	store := newTestStore()

	_, err = compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"))

	var intErr *InterruptError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "first question", intErr.Value)
	assert.Equal(t, 0, intErr.Index)

	// First resume answers the first pause, then hits the second.
	_, err = compiled.Resume(testCtx(), store, "run-1",
		WithCommand(Command{Resume: "alpha"}))

	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "second question", intErr.Value)
	assert.Equal(t, 1, intErr.Index)

	result, err := compiled.Resume(testCtx(), store, "run-1",
		WithCommand(Command{Resume: "beta"}))

	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, result.Progress)
}

// TestInterrupt_SwallowedByNode_Error tests nodes cannot drop the
// interrupt error.
func TestInterrupt_SwallowedByNode_Error(t *testing.T) {
	bad := func(ctx Context, s State) (State, error) {
		_, _ = Interrupt[bool](ctx, "ignored")
		return s, nil // Drops the pause
	}

	compiled, err := NewGraph[State]().
		AddNode("bad", bad).
		AddEdge("bad", END).
		SetEntry("bad").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), State{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterruptSwallowed)
}

// TestInterrupt_WithoutCheckpointing tests pauses surface even when no
// store is configured.
func TestInterrupt_WithoutCheckpointing(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)

	_, err := compiled.Run(testCtx(), State{})

	assert.ErrorIs(t, err, ErrInterrupted)
}

// TestInterrupt_OutsideExecution tests calling Interrupt on a bare
// context pauses but cannot resume.
func TestInterrupt_OutsideExecution(t *testing.T) {
	_, err := Interrupt[string](testCtx(), "payload")

	var intErr *InterruptError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, InterruptDynamic, intErr.Kind)
	assert.Equal(t, "payload", intErr.Value)
}

// TestInterruptBefore_PausesBeforeNode tests static pause points.
func TestInterruptBefore_PausesBeforeNode(t *testing.T) {
	var executed []string
	compiled := trackingLinear(t, &executed)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"),
		WithInterruptBefore("b"))

	var intErr *InterruptError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "b", intErr.NodeID)
	assert.Equal(t, InterruptBefore, intErr.Kind)
	assert.Equal(t, []string{"a"}, executed)
}

// TestInterruptBefore_ResumeContinues tests resuming a before-pause.
func TestInterruptBefore_ResumeContinues(t *testing.T) {
	var executed []string
	compiled := trackingLinear(t, &executed)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"),
		WithInterruptBefore("b"))
	require.ErrorIs(t, err, ErrInterrupted)

	_, err = compiled.Resume(testCtx(), store, "run-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, executed)
}

// TestInterruptAfter_PausesAfterNode tests pause points after a node.
func TestInterruptAfter_PausesAfterNode(t *testing.T) {
	var executed []string
	compiled := trackingLinear(t, &executed)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"),
		WithInterruptAfter("a"))

	var intErr *InterruptError
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "a", intErr.NodeID)
	assert.Equal(t, InterruptAfter, intErr.Kind)
	assert.Equal(t, []string{"a"}, executed)

	_, err = compiled.Resume(testCtx(), store, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, executed)
}

// TestInterrupt_ResumeWithGoto tests a Command redirecting routing.
func TestInterrupt_ResumeWithGoto(t *testing.T) {
	var executed []string
	compiled := trackingLinear(t, &executed)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"),
		WithInterruptBefore("b"))
	require.ErrorIs(t, err, ErrInterrupted)

	// Skip b entirely and jump to c.
	_, err = compiled.Resume(testCtx(), store, "run-1",
		WithCommand(Command{Goto: "c"}))

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, executed)
}

// TestResume_NoCheckpoints_Error tests resuming an unknown run.
func TestResume_NoCheckpoints_Error(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)

	_, err := compiled.Resume(testCtx(), newTestStore(), "missing-run")

	assert.ErrorIs(t, err, ErrNoCheckpoints)
}

// TestResume_NilContext_Error tests nil context handling.
func TestResume_NilContext_Error(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)

	_, err := compiled.Resume(nil, newTestStore(), "run-1")

	assert.ErrorIs(t, err, ErrNilContext)
}

// TestResume_VersionMismatch_Error tests incompatible checkpoint formats
// are rejected.
func TestResume_VersionMismatch_Error(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)
	store := newTestStore()

	cp := checkpoint.New("run-1", "prep", 1, []byte(`{}`), "approve")
	cp.Version = 1
	data, err := cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save("run-1", "prep", data))

	_, err = compiled.Resume(testCtx(), store, "run-1")

	assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
}

// TestResume_StateOverride tests modifying state before resuming.
func TestResume_StateOverride(t *testing.T) {
	var seen int

	reader := func(ctx Context, s State) (State, error) {
		seen = s.Count
		return s, nil
	}

	compiled, err := NewGraph[State]().
		AddNode("setup", passthrough[State]).
		AddNode("reader", reader).
		AddEdge("setup", "reader").
		AddEdge("reader", END).
		SetEntry("setup").
		Compile()
	require.NoError(t, err)

	store := newTestStore()

	_, err = compiled.Run(testCtx(), State{Count: 1},
		WithCheckpointing(store), WithRunID("run-1"),
		WithInterruptBefore("reader"))
	require.ErrorIs(t, err, ErrInterrupted)

	_, err = compiled.Resume(testCtx(), store, "run-1",
		WithStateOverride(func(v any) any {
			s := v.(State)
			s.Count = 99
			return s
		}))

	require.NoError(t, err)
	assert.Equal(t, 99, seen)
}

// TestResume_StateValidation_Failure tests validation aborts the resume.
func TestResume_StateValidation_Failure(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.ErrorIs(t, err, ErrInterrupted)

	_, err = compiled.Resume(testCtx(), store, "run-1",
		WithCommand(Command{Resume: true}),
		WithStateValidation(func(v any) error {
			return errors.New("corrupt state")
		}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "state validation failed")
}

// TestResumeFrom_SpecificNode tests resuming from a chosen checkpoint.
func TestResumeFrom_SpecificNode(t *testing.T) {
	compiled := compileLinear(t, "inc1", "inc2", "inc3")
	store := newTestStore()

	result, err := compiled.Run(testCtx(), Counter{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.NoError(t, err)
	require.Equal(t, 3, result.Value)

	// The checkpoint at inc2 holds Value=2; resume continues at inc3.
	result, err = compiled.ResumeFrom(testCtx(), store, "run-1", "inc2")

	require.NoError(t, err)
	assert.Equal(t, 3, result.Value)
}

// TestResumeFrom_WithReplayNode tests re-executing the checkpointed node.
func TestResumeFrom_WithReplayNode(t *testing.T) {
	compiled := compileLinear(t, "inc1", "inc2", "inc3")
	store := newTestStore()

	_, err := compiled.Run(testCtx(), Counter{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.NoError(t, err)

	// Replay re-runs inc2 on its own checkpointed state (Value=2).
	result, err := compiled.ResumeFrom(testCtx(), store, "run-1", "inc2",
		WithReplayNode())

	require.NoError(t, err)
	assert.Equal(t, 4, result.Value)
}

// TestResumeFrom_UnknownNode_Error tests resuming from a node without a
// checkpoint.
func TestResumeFrom_UnknownNode_Error(t *testing.T) {
	compiled := compileLinear(t)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), Counter{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.NoError(t, err)

	_, err = compiled.ResumeFrom(testCtx(), store, "run-1", "nonexistent")

	assert.ErrorIs(t, err, ErrNoCheckpoints)
}

// TestStream_InterruptIsTerminalEvent tests the interrupt event closes
// the stream.
func TestStream_InterruptIsTerminalEvent(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)
	store := newTestStore()

	stream, err := compiled.Stream(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.NoError(t, err)

	events := collectEvents(stream)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventInterrupt, last.Type)
	assert.Equal(t, "approve", last.NodeID)

	intErr, paused := stream.Interrupt()
	require.True(t, paused)
	assert.Equal(t, "approve", intErr.NodeID)
}

// TestResumeStream tests streaming the resumed portion of a run.
func TestResumeStream(t *testing.T) {
	var executions int
	compiled := approvalGraph(t, &executions)
	store := newTestStore()

	_, err := compiled.Run(testCtx(), State{},
		WithCheckpointing(store), WithRunID("run-1"))
	require.ErrorIs(t, err, ErrInterrupted)

	stream, err := compiled.ResumeStream(testCtx(), store, "run-1",
		WithCommand(Command{Resume: true}))
	require.NoError(t, err)

	var nodes []string
	for ev := range stream.Events() {
		nodes = append(nodes, ev.NodeID)
	}

	result, err := stream.Wait()
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, []string{"approve", "finish"}, nodes)
}

// trackingLinear builds an a -> b -> c graph recording execution order.
func trackingLinear(t *testing.T, executed *[]string) *CompiledGraph[State] {
	t.Helper()

	compiled, err := NewGraph[State]().
		AddNode("a", makeTrackingNode("a", executed)).
		AddNode("b", makeTrackingNode("b", executed)).
		AddNode("c", makeTrackingNode("c", executed)).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)
	return compiled
}
