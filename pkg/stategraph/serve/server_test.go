package serve_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stategraph/stategraph/pkg/stategraph"
	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
	sgconfig "github.com/stategraph/stategraph/pkg/stategraph/config"
	"github.com/stategraph/stategraph/pkg/stategraph/serve"
)

// runReply mirrors the wire shape of run responses.
type runReply struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	State     map[string]any `json:"state"`
	Interrupt *struct {
		NodeID string `json:"node_id"`
		Kind   string `json:"kind"`
		Value  any    `json:"value"`
	} `json:"interrupt"`
	Error string `json:"error"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func copyState(s sgconfig.State) sgconfig.State {
	out := make(sgconfig.State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// doubleGraph doubles the "n" input and finishes.
func doubleGraph(t *testing.T) *stategraph.CompiledGraph[sgconfig.State] {
	t.Helper()
	compiled, err := stategraph.NewGraph[sgconfig.State]().
		AddNode("double", func(_ stategraph.Context, s sgconfig.State) (sgconfig.State, error) {
			out := copyState(s)
			if n, ok := s["n"].(float64); ok {
				out["n"] = n * 2
			}
			return out, nil
		}).
		AddEdge("double", stategraph.END).
		SetEntry("double").
		Compile()
	require.NoError(t, err)
	return compiled
}

// approvalGraph pauses for a boolean decision before finishing.
func approvalGraph(t *testing.T) *stategraph.CompiledGraph[sgconfig.State] {
	t.Helper()
	compiled, err := stategraph.NewGraph[sgconfig.State]().
		AddNode("approve", func(ctx stategraph.Context, s sgconfig.State) (sgconfig.State, error) {
			approved, err := stategraph.Interrupt[bool](ctx, map[string]any{"question": "proceed?"})
			if err != nil {
				return s, err
			}
			out := copyState(s)
			out["approved"] = approved
			return out, nil
		}).
		AddEdge("approve", stategraph.END).
		SetEntry("approve").
		Compile()
	require.NoError(t, err)
	return compiled
}

func failingGraph(t *testing.T) *stategraph.CompiledGraph[sgconfig.State] {
	t.Helper()
	compiled, err := stategraph.NewGraph[sgconfig.State]().
		AddNode("boom", func(_ stategraph.Context, s sgconfig.State) (sgconfig.State, error) {
			return s, assert.AnError
		}).
		AddEdge("boom", stategraph.END).
		SetEntry("boom").
		Compile()
	require.NoError(t, err)
	return compiled
}

func newTestServer(t *testing.T, opts ...serve.Option) *serve.Server {
	t.Helper()
	opts = append([]serve.Option{serve.WithLogger(discardLogger())}, opts...)
	return serve.New(serve.Config{}, opts...)
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			payload, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(payload)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestServer_Health(t *testing.T) {
	router := newTestServer(t).Router()

	rec := doRequest(t, router, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	router := newTestServer(t).Router()

	rec := doRequest(t, router, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ListGraphs(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("double", doubleGraph(t)),
		serve.WithGraph("approval", approvalGraph(t)),
	)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/graphs", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Graphs []string `json:"graphs"`
	}
	decodeJSON(t, rec, &body)
	assert.ElementsMatch(t, []string{"double", "approval"}, body.Graphs)
}

func TestServer_Schema(t *testing.T) {
	srv := newTestServer(t, serve.WithGraph("double", doubleGraph(t)))

	t.Run("json", func(t *testing.T) {
		rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/graphs/double/schema", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var schema struct {
			Entry string   `json:"entry"`
			Nodes []string `json:"nodes"`
		}
		decodeJSON(t, rec, &schema)
		assert.Equal(t, "double", schema.Entry)
		assert.Equal(t, []string{"double"}, schema.Nodes)
	})

	t.Run("mermaid", func(t *testing.T) {
		rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/graphs/double/schema?format=mermaid", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "flowchart TD")
		assert.Contains(t, rec.Body.String(), "double")
	})

	t.Run("unknown graph", func(t *testing.T) {
		rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/graphs/nope/schema", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]string
		decodeJSON(t, rec, &body)
		assert.Contains(t, body["error"], "unknown graph: nope")
	})
}

func TestServer_StartRun(t *testing.T) {
	srv := newTestServer(t, serve.WithGraph("double", doubleGraph(t)))
	router := srv.Router()

	t.Run("completed", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/graphs/double/runs",
			map[string]any{"run_id": "run-1", "input": map[string]any{"n": 3}})

		require.Equal(t, http.StatusOK, rec.Code)

		var reply runReply
		decodeJSON(t, rec, &reply)
		assert.Equal(t, "run-1", reply.RunID)
		assert.Equal(t, "completed", reply.Status)
		assert.Equal(t, 6.0, reply.State["n"])
		assert.Nil(t, reply.Interrupt)
		assert.Empty(t, reply.Error)
	})

	t.Run("generates run id", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/graphs/double/runs",
			map[string]any{"input": map[string]any{"n": 1}})

		require.Equal(t, http.StatusOK, rec.Code)

		var reply runReply
		decodeJSON(t, rec, &reply)
		assert.NotEmpty(t, reply.RunID)
	})

	t.Run("empty input defaults", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/graphs/double/runs", "{}")

		require.Equal(t, http.StatusOK, rec.Code)

		var reply runReply
		decodeJSON(t, rec, &reply)
		assert.Equal(t, "completed", reply.Status)
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/graphs/double/runs", "{not json")

		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		decodeJSON(t, rec, &body)
		assert.Contains(t, body["error"], "invalid request body")
	})

	t.Run("unknown graph", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/graphs/missing/runs", "{}")

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_StartRun_Failed(t *testing.T) {
	srv := newTestServer(t, serve.WithGraph("boom", failingGraph(t)))

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/graphs/boom/runs", "{}")

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var reply runReply
	decodeJSON(t, rec, &reply)
	assert.Equal(t, "failed", reply.Status)
	assert.NotEmpty(t, reply.Error)
}

func TestServer_StartRun_Interrupted(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("approval", approvalGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/graphs/approval/runs",
		map[string]any{"run_id": "run-pause", "input": map[string]any{"doc": "d-1"}})

	require.Equal(t, http.StatusOK, rec.Code)

	var reply runReply
	decodeJSON(t, rec, &reply)
	assert.Equal(t, "interrupted", reply.Status)
	require.NotNil(t, reply.Interrupt)
	assert.Equal(t, "approve", reply.Interrupt.NodeID)
	assert.Equal(t, "dynamic", reply.Interrupt.Kind)

	value, ok := reply.Interrupt.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "proceed?", value["question"])
}

func TestServer_Resume(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("approval", approvalGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/graphs/approval/runs",
		map[string]any{"run_id": "run-r1", "input": map[string]any{"doc": "d-1"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/v1/graphs/approval/runs/run-r1/resume",
		map[string]any{"resume": true})

	require.Equal(t, http.StatusOK, rec.Code)

	var reply runReply
	decodeJSON(t, rec, &reply)
	assert.Equal(t, "completed", reply.Status)
	assert.Equal(t, true, reply.State["approved"])
	assert.Equal(t, "d-1", reply.State["doc"])
}

func TestServer_Resume_NoStore(t *testing.T) {
	srv := newTestServer(t, serve.WithGraph("approval", approvalGraph(t)))

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/graphs/approval/runs/run-x/resume", "{}")

	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Contains(t, body["error"], "checkpointing not configured")
}

func TestServer_Resume_UnknownRun(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("approval", approvalGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/graphs/approval/runs/never-ran/resume", "{}")

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Contains(t, body["error"], "no checkpoints found")
}

func TestServer_GetState(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("approval", approvalGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/graphs/approval/runs",
		map[string]any{"run_id": "run-s1", "input": map[string]any{"doc": "d-2"}})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("paused run", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/graphs/approval/runs/run-s1/state", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var snap map[string]any
		decodeJSON(t, rec, &snap)
		assert.Equal(t, "run-s1", snap["RunID"])
		assert.NotNil(t, snap["Interrupt"])
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/graphs/approval/runs/never-ran/state", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_GetState_NoStore(t *testing.T) {
	srv := newTestServer(t, serve.WithGraph("double", doubleGraph(t)))

	rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/graphs/double/runs/run-1/state", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_GetHistory(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("double", doubleGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/graphs/double/runs",
		map[string]any{"run_id": "run-h1", "input": map[string]any{"n": 2}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/v1/graphs/double/runs/run-h1/history", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID       string           `json:"run_id"`
		Checkpoints []map[string]any `json:"checkpoints"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "run-h1", body.RunID)
	assert.NotEmpty(t, body.Checkpoints)
}

func TestServer_Cancel(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	t.Run("active run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		srv.Hub().Track("run-live", cancel)

		rec := doRequest(t, router, http.MethodPost, "/v1/runs/run-live/cancel", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			RunID     string `json:"run_id"`
			Cancelled bool   `json:"cancelled"`
		}
		decodeJSON(t, rec, &body)
		assert.Equal(t, "run-live", body.RunID)
		assert.True(t, body.Cancelled)
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("inactive run", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/v1/runs/run-idle/cancel", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Cancelled bool `json:"cancelled"`
		}
		decodeJSON(t, rec, &body)
		assert.False(t, body.Cancelled)
	})
}

func TestServer_ActiveRuns(t *testing.T) {
	srv := newTestServer(t)

	_, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	_, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	srv.Hub().Track("run-a", cancelA)
	srv.Hub().Track("run-b", cancelB)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/runs/active", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []string `json:"runs"`
	}
	decodeJSON(t, rec, &body)
	assert.ElementsMatch(t, []string{"run-a", "run-b"}, body.Runs)
}

func TestServer_StartRunStream(t *testing.T) {
	srv := newTestServer(t, serve.WithGraph("double", doubleGraph(t)))

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/graphs/double/runs:stream",
		map[string]any{"run_id": "run-st1", "input": map[string]any{"n": 4}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: values")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"run_id":"run-st1"`)
	assert.Contains(t, body, `"status":"completed"`)
}

func TestServer_StartRunStream_Interrupted(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("approval", approvalGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/v1/graphs/approval/runs:stream",
		map[string]any{"run_id": "run-st2", "input": map[string]any{}})

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: interrupt")
	assert.NotContains(t, body, "event: done")
}

func TestServer_ResumeStream(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("approval", approvalGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/graphs/approval/runs",
		map[string]any{"run_id": "run-rs1", "input": map[string]any{}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/v1/graphs/approval/runs/run-rs1/resume:stream",
		map[string]any{"resume": false})

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"approved":false`)
}

func TestServer_ListQueries(t *testing.T) {
	rec := doRequest(t, newTestServer(t).Router(), http.MethodGet, "/v1/queries", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queries []string `json:"queries"`
	}
	decodeJSON(t, rec, &body)
	assert.Subset(t, body.Queries, []string{"status", "progress", "variables", "interrupt", "state"})
}

func TestServer_Query(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("approval", approvalGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/graphs/approval/runs",
		map[string]any{"run_id": "run-q1", "input": map[string]any{"doc": "report"}})
	require.Equal(t, http.StatusOK, rec.Code)

	type queryReply struct {
		QueryName string `json:"query_name"`
		RunID     string `json:"run_id"`
		Value     any    `json:"value"`
	}

	t.Run("status", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/runs/run-q1/query/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var reply queryReply
		decodeJSON(t, rec, &reply)
		assert.Equal(t, "status", reply.QueryName)
		assert.Equal(t, "run-q1", reply.RunID)
		assert.Equal(t, "interrupted", reply.Value)
	})

	t.Run("variables", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/runs/run-q1/query/variables", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var reply queryReply
		decodeJSON(t, rec, &reply)
		assert.Equal(t, map[string]any{"doc": "report"}, reply.Value)
	})

	t.Run("single variable by arg", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/runs/run-q1/query/variables?arg=doc", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var reply queryReply
		decodeJSON(t, rec, &reply)
		assert.Equal(t, "report", reply.Value)
	})

	t.Run("interrupt", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/runs/run-q1/query/interrupt", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var reply queryReply
		decodeJSON(t, rec, &reply)
		pending, ok := reply.Value.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "approve", pending["node_id"])
		assert.Equal(t, "dynamic", pending["kind"])
	})

	t.Run("unknown query", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/runs/run-q1/query/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/v1/runs/ghost/query/status", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Query_CompletedRun(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("double", doubleGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
	)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/v1/graphs/double/runs",
		map[string]any{"run_id": "run-q2", "input": map[string]any{"n": 3}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/v1/runs/run-q2/query/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"value":"completed"`)

	rec = doRequest(t, router, http.MethodGet, "/v1/runs/run-q2/query/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"value":1`)
}

func TestServer_Query_Custom(t *testing.T) {
	srv := newTestServer(t,
		serve.WithGraph("double", doubleGraph(t)),
		serve.WithStore(checkpoint.NewMemoryStore()),
		serve.WithQuery("answer", func(_ context.Context, runID string, _ any) (any, error) {
			return map[string]any{"run": runID, "answer": 42}, nil
		}),
	)

	rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/runs/any-run/query/answer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"answer":42`)
}

func TestServer_Query_NoStore(t *testing.T) {
	srv := newTestServer(t, serve.WithGraph("double", doubleGraph(t)))

	rec := doRequest(t, srv.Router(), http.MethodGet, "/v1/runs/run-x/query/status", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
