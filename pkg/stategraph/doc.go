/*
Package stategraph provides graph-based orchestration with streaming,
checkpointing, and human-in-the-loop pauses.

# Overview

stategraph is a Go library for building and executing directed graphs
where nodes perform work and edges define flow. State flows through the
graph, nodes transform it, and every intermediate result can be
streamed, checkpointed, and inspected.

The library is inspired by LangGraph but built for Go with:
  - Type-safe generics for state management
  - Compile-time validation of graph structure
  - Streaming execution with multiple event modes
  - Interrupt/resume for human-in-the-loop workflows
  - Built-in crash recovery via checkpointing
  - OpenTelemetry integration for observability

# Basic Usage

Create a graph with nodes and edges, then compile and run:

	type State struct {
	    Input  string
	    Output string
	}

	func process(ctx stategraph.Context, s State) (State, error) {
	    s.Output = "Processed: " + s.Input
	    return s, nil
	}

	func main() {
	    graph := stategraph.NewGraph[State]().
	        AddNode("process", process).
	        AddEdge("process", stategraph.END).
	        SetEntry("process")

	    compiled, err := graph.Compile()
	    if err != nil {
	        log.Fatal(err)
	    }

	    ctx := stategraph.NewContext(context.Background())
	    result, err := compiled.Run(ctx, State{Input: "hello"})
	    if err != nil {
	        log.Fatal(err)
	    }
	    fmt.Println(result.Output) // "Processed: hello"
	}

# Conditional Branching

Use conditional edges for decision points:

	graph.AddConditionalEdge("review", func(ctx stategraph.Context, s State) string {
	    if s.Approved {
	        return "publish"
	    }
	    return "revise"
	})

The router function returns the ID of the next node to execute.
Invalid return values (referencing non-existent nodes) cause runtime errors.

# Streaming

Stream executes the graph and delivers events as nodes run:

	stream, err := compiled.Stream(ctx, state,
	    stategraph.WithStreamModes(stategraph.StreamValues, stategraph.StreamDebug))
	for ev := range stream.Events() {
	    fmt.Printf("[%s] %s\n", ev.Type, ev.NodeID)
	}
	final, err := stream.Wait()

Four modes are available: StreamValues (full state after each node),
StreamUpdates (per-node attribution), StreamDebug (execution traces),
and StreamCustom (values nodes write via ctx.Writer()).

# Human-in-the-Loop

Nodes pause mid-execution with Interrupt and receive the answer when
the run resumes:

	func approve(ctx stategraph.Context, s Order) (Order, error) {
	    ok, err := stategraph.Interrupt[bool](ctx, map[string]any{
	        "question": "approve order?",
	    })
	    if err != nil {
	        return s, err
	    }
	    s.Approved = ok
	    return s, nil
	}

	_, err := compiled.Run(ctx, order,
	    stategraph.WithCheckpointing(store),
	    stategraph.WithRunID("run-123"))
	if errors.Is(err, stategraph.ErrInterrupted) {
	    // ... gather the human's answer ...
	    result, err := compiled.Resume(ctx, store, "run-123",
	        stategraph.WithCommand(stategraph.Command{Resume: true}))
	}

Static pause points work without touching node code:

	result, err := compiled.Run(ctx, state,
	    stategraph.WithInterruptBefore("deploy"),
	    stategraph.WithCheckpointing(store),
	    stategraph.WithRunID("run-123"))

On resume the paused node re-executes from the top, so side effects
before an Interrupt call should be idempotent.

# Checkpointing

Enable crash recovery with checkpointing:

	store, err := checkpoint.NewSQLiteStore("./checkpoints.db")
	defer store.Close()

	result, err := compiled.Run(ctx, state,
	    stategraph.WithCheckpointing(store),
	    stategraph.WithRunID("run-123"))

	// Resume after crash
	result, err = compiled.Resume(ctx, store, "run-123")

Checkpoints are saved after each successful node execution and whenever
a run pauses. GetState and GetStateHistory reconstruct a run's position
and trajectory from its checkpoints.

# Observability

Enable logging, metrics, and tracing:

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	result, err := compiled.Run(ctx, state,
	    stategraph.WithObservabilityLogger(logger),
	    stategraph.WithMetrics(true),
	    stategraph.WithTracing(true),
	    stategraph.WithRunID("run-123"))

Logs include structured fields: run_id, node_id, duration_ms, attempt.
OpenTelemetry metrics: stategraph.node.executions, stategraph.run.interrupts, etc.
OpenTelemetry tracing: stategraph.run > stategraph.node.{id} spans.

# Error Handling

Errors include context about which node failed:

	result, err := compiled.Run(ctx, state)
	var nodeErr *stategraph.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("Node %s failed: %v", nodeErr.NodeID, nodeErr.Err)
	}

Panics in nodes are recovered and converted to PanicError with stack
trace. The errors subpackage adds categorization (transient, permanent,
human-required) and retry policies; enable per-node retry with
WithNodeRetry.

# Thread Safety

  - Graph[S] is NOT safe for concurrent use during construction
  - CompiledGraph[S] IS safe for concurrent use (immutable)
  - Context IS safe for concurrent use
  - Store implementations are safe for concurrent use

# Subpackages

  - checkpoint: Checkpoint storage (memory, SQLite)
  - errors: Error categorization and retry policies
  - event: Run lifecycle event bus
  - observability: Logging, metrics, and tracing helpers
  - saga: Compensation log for undoing side effects
*/
package stategraph
