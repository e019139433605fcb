/*
Package serve exposes compiled graphs over HTTP.

# Overview

serve hosts named graphs behind a chi router. Clients start runs, stream
them over Server-Sent Events, resume interrupted runs with a command,
inspect checkpointed state, and cancel in-flight runs. Prometheus metrics
for the HTTP surface are exported at /metrics.

Graphs served here run over the dynamic state type config.State
(map[string]any), which is what declarative graphs built from a GraphSpec
produce.

# Usage

	srv := serve.New(serve.Config{Addr: ":8080"},
	    serve.WithLogger(logger),
	    serve.WithStore(store),
	    serve.WithGraph("approval", compiled, spec.RunOptions()...),
	)

	go func() {
	    if err := srv.Start(); err != nil {
	        log.Fatal(err)
	    }
	}()

	// ...

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

# Endpoints

	GET  /health
	GET  /metrics
	GET  /v1/graphs
	GET  /v1/graphs/{graph}/schema            ?format=mermaid for a diagram
	POST /v1/graphs/{graph}/runs              start a run, wait for outcome
	POST /v1/graphs/{graph}/runs:stream       start a run, stream events (SSE)
	GET  /v1/graphs/{graph}/runs/{run}/state  latest checkpointed state
	GET  /v1/graphs/{graph}/runs/{run}/history
	POST /v1/graphs/{graph}/runs/{run}/resume        resume with a command
	POST /v1/graphs/{graph}/runs/{run}/resume:stream
	GET  /v1/queries                          registered query names
	GET  /v1/runs/active
	POST /v1/runs/{run}/cancel
	GET  /v1/runs/{run}/events                run lifecycle events (SSE)
	GET  /v1/runs/{run}/query/{name}          named read-only query, ?arg= for a single argument

# Streaming

Run streams emit one SSE frame per stream event, with the event type in
the SSE event field and the JSON-encoded payload in the data field. The
stream ends with a "done" frame carrying the final state, an "interrupt"
frame when the run pauses, or an "error" frame.

The lifecycle endpoint (/v1/runs/{run}/events) fans out the run event bus
to SSE: run.started, node.completed, run.interrupted and the rest, filtered
by run ID.

# Queries

The query endpoint dispatches named read-only queries from the query
package against a run's latest checkpoint. Built-ins (status, progress,
current_node, variables, interrupt, state) are always registered;
WithQuery adds custom handlers.

# Cancellation

POST /v1/runs/{run}/cancel delivers a cancel signal through the signal
dispatcher; the hub cancels the run's context, and the run returns a
CancellationError to its caller.
*/
package serve
