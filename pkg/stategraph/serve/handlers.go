package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stategraph/stategraph/pkg/stategraph"
	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
	sgconfig "github.com/stategraph/stategraph/pkg/stategraph/config"
	"github.com/stategraph/stategraph/pkg/stategraph/event"
	"github.com/stategraph/stategraph/pkg/stategraph/query"
	"github.com/stategraph/stategraph/pkg/stategraph/signal"
)

// Run outcome statuses reported to clients.
const (
	statusCompleted   = "completed"
	statusInterrupted = "interrupted"
	statusFailed      = "failed"
)

type startRunRequest struct {
	// RunID optionally fixes the run's identifier. Generated when empty.
	RunID string `json:"run_id"`

	// Input is the initial graph state.
	Input sgconfig.State `json:"input"`
}

type resumeRequest struct {
	// Resume is the value handed to the paused Interrupt call.
	// Absent means no resume value (static interrupts).
	Resume json.RawMessage `json:"resume"`

	// Goto optionally overrides routing after the resumed node.
	Goto string `json:"goto"`
}

type interruptInfo struct {
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
	Value  any    `json:"value,omitempty"`
}

type runResponse struct {
	RunID     string         `json:"run_id"`
	Status    string         `json:"status"`
	State     sgconfig.State `json:"state,omitempty"`
	Interrupt *interruptInfo `json:"interrupt,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// getGraph resolves the {graph} URL parameter to a registered graph,
// writing a 404 when it doesn't exist.
func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) (*graphEntry, bool) {
	name := chi.URLParam(r, "graph")
	entry, ok := s.graphs.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown graph: "+name)
		return nil, false
	}
	return entry, true
}

// runOptions assembles the option set for one run: the graph's registered
// options, then the server's checkpointing, event bus and logging.
func (s *Server) runOptions(entry *graphEntry, runID string) []stategraph.RunOption {
	opts := make([]stategraph.RunOption, 0, len(entry.options)+4)
	opts = append(opts, entry.options...)
	opts = append(opts, stategraph.WithRunID(runID))
	if s.store != nil {
		opts = append(opts, stategraph.WithCheckpointing(s.store))
	}
	opts = append(opts,
		stategraph.WithEventBus(s.bus),
		stategraph.WithObservabilityLogger(s.logger),
	)
	return opts
}

// runContext derives the execution context for a run and tracks its cancel
// function in the hub so the cancel endpoint can reach it. The returned
// release func must be deferred.
func (s *Server) runContext(parent context.Context, runID string) (stategraph.Context, func()) {
	runCtx, cancel := context.WithCancel(parent)
	s.hub.Track(runID, cancel)
	sgCtx := stategraph.NewContext(runCtx, stategraph.WithLogger(s.logger))
	return sgCtx, func() {
		s.hub.Release(runID)
		cancel()
	}
}

// runOutcome converts a run result into the wire response.
func runOutcome(runID string, state sgconfig.State, err error) (int, runResponse) {
	resp := runResponse{RunID: runID}

	if err == nil {
		resp.Status = statusCompleted
		resp.State = state
		return http.StatusOK, resp
	}

	var intErr *stategraph.InterruptError
	if errors.As(err, &intErr) {
		resp.Status = statusInterrupted
		resp.State = state
		resp.Interrupt = &interruptInfo{
			NodeID: intErr.NodeID,
			Kind:   string(intErr.Kind),
			Value:  intErr.Value,
		}
		return http.StatusOK, resp
	}

	resp.Status = statusFailed
	resp.Error = err.Error()
	return http.StatusInternalServerError, resp
}

func (s *Server) handleListGraphs(w http.ResponseWriter, _ *http.Request) {
	names := s.graphs.Keys()
	writeJSON(w, http.StatusOK, map[string]any{"graphs": names})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.getGraph(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("format") == "mermaid" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(entry.graph.Mermaid()))
		return
	}

	writeJSON(w, http.StatusOK, entry.graph.Schema())
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.getGraph(w, r)
	if !ok {
		return
	}

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if req.Input == nil {
		req.Input = sgconfig.State{}
	}

	sgCtx, release := s.runContext(r.Context(), runID)
	defer release()

	result, err := entry.graph.Run(sgCtx, req.Input, s.runOptions(entry, runID)...)

	status, resp := runOutcome(runID, result, err)
	writeJSON(w, status, resp)
}

func (s *Server) handleStartRunStream(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.getGraph(w, r)
	if !ok {
		return
	}

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if req.Input == nil {
		req.Input = sgconfig.State{}
	}

	opts := s.runOptions(entry, runID)
	opts = append(opts, stategraph.WithStreamModes(streamModes(r)...))

	sgCtx, release := s.runContext(r.Context(), runID)
	defer release()

	stream, err := entry.graph.Stream(sgCtx, req.Input, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.pumpStream(w, runID, stream)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.getGraph(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		writeError(w, http.StatusConflict, "checkpointing not configured")
		return
	}
	runID := chi.URLParam(r, "run")

	ropts, ok := s.resumeOptions(w, r, entry, runID)
	if !ok {
		return
	}

	sgCtx, release := s.runContext(r.Context(), runID)
	defer release()

	result, err := entry.graph.Resume(sgCtx, s.store, runID, ropts...)
	if errors.Is(err, stategraph.ErrNoCheckpoints) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	status, resp := runOutcome(runID, result, err)
	writeJSON(w, status, resp)
}

func (s *Server) handleResumeStream(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.getGraph(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		writeError(w, http.StatusConflict, "checkpointing not configured")
		return
	}
	runID := chi.URLParam(r, "run")

	ropts, ok := s.resumeOptions(w, r, entry, runID)
	if !ok {
		return
	}
	ropts = append(ropts, stategraph.WithRunOptions(
		stategraph.WithStreamModes(streamModes(r)...),
	))

	sgCtx, release := s.runContext(r.Context(), runID)
	defer release()

	stream, err := entry.graph.ResumeStream(sgCtx, s.store, runID, ropts...)
	if err != nil {
		if errors.Is(err, stategraph.ErrNoCheckpoints) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.pumpStream(w, runID, stream)
}

// resumeOptions decodes the resume request body into resume options.
// The graph's registered run options are carried into the resumed run.
func (s *Server) resumeOptions(w http.ResponseWriter, r *http.Request, entry *graphEntry, runID string) ([]stategraph.ResumeOption, bool) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}

	ropts := []stategraph.ResumeOption{
		stategraph.WithRunOptions(s.runOptions(entry, runID)...),
	}

	if req.Resume != nil || req.Goto != "" {
		cmd := stategraph.Command{Goto: req.Goto}
		if req.Resume != nil {
			var v any
			if err := json.Unmarshal(req.Resume, &v); err != nil {
				writeError(w, http.StatusBadRequest, "invalid resume value: "+err.Error())
				return nil, false
			}
			cmd.Resume = v
		}
		ropts = append(ropts, stategraph.WithCommand(cmd))
	}

	return ropts, true
}

// pumpStream forwards stream events to the client as SSE frames, ending
// with a done, interrupt, or error frame.
func (s *Server) pumpStream(w http.ResponseWriter, runID string, stream *stategraph.Stream[sgconfig.State]) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	activeStreams.Inc()
	defer activeStreams.Dec()

	for ev := range stream.Events() {
		if err := sse.send(string(ev.Type), ev); err != nil {
			// Client went away; drain so the run goroutine can finish.
			for range stream.Events() {
			}
			break
		}
	}

	result, err := stream.Wait()
	if err != nil {
		if _, ok := stream.Interrupt(); ok {
			// Interrupt frame already emitted from the event channel.
			return
		}
		sse.sendError(err.Error())
		return
	}

	_ = sse.send("done", runResponse{
		RunID:  runID,
		Status: statusCompleted,
		State:  result,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.getGraph(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		writeError(w, http.StatusConflict, "checkpointing not configured")
		return
	}
	runID := chi.URLParam(r, "run")

	snap, err := entry.graph.GetState(s.store, runID)
	if err != nil {
		if errors.Is(err, stategraph.ErrNoCheckpoints) || errors.Is(err, checkpoint.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.getGraph(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		writeError(w, http.StatusConflict, "checkpointing not configured")
		return
	}
	runID := chi.URLParam(r, "run")

	history, err := entry.graph.GetStateHistory(s.store, runID)
	if err != nil {
		if errors.Is(err, stategraph.ErrNoCheckpoints) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      runID,
		"checkpoints": history,
	})
}

func (s *Server) handleActiveRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.hub.Active()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run")

	active := s.hub.IsActive(runID)
	sig := signal.New(signal.SignalCancel, runID, nil)
	if err := s.dispatcher.Send(r.Context(), sig); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.dispatcher.Process(r.Context(), runID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    runID,
		"cancelled": active,
	})
}

// handleRunEvents fans the lifecycle event bus out to SSE, filtered by run.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	activeStreams.Inc()
	defer activeStreams.Dec()

	frames := make(chan event.Event, 64)
	sub := s.bus.SubscribeAll(event.HandlerFunc(func(_ context.Context, evt event.Event) ([]event.Event, error) {
		if evt.CorrelationID() != runID {
			return nil, nil
		}
		select {
		case frames <- evt:
		default:
			// Slow client; drop rather than block the bus.
		}
		return nil, nil
	}))
	defer sub.Unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-frames:
			frame := map[string]any{
				"id":        evt.ID(),
				"type":      evt.Type(),
				"timestamp": evt.Timestamp(),
				"data":      evt.Data(),
			}
			if err := sse.send(evt.Type(), frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleListQueries(w http.ResponseWriter, _ *http.Request) {
	names := s.queries.List()
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"queries": names})
}

// handleQuery dispatches a named read-only query against a run. A single
// string argument can be passed as ?arg= (the variables query uses it to
// select one variable).
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusConflict, "checkpointing not configured")
		return
	}
	runID := chi.URLParam(r, "run")
	name := chi.URLParam(r, "name")

	var args any
	if arg := r.URL.Query().Get("arg"); arg != "" {
		args = arg
	}

	value, err := s.queryExec.Execute(r.Context(), runID, name, args)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrQueryNotFound),
			errors.Is(err, query.ErrRunNotFound),
			errors.Is(err, checkpoint.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, query.Result{
		QueryName: name,
		RunID:     runID,
		Value:     value,
	})
}

// loadRunState reconstructs the queryable view of a run from its latest
// checkpoint. It backs the built-in queries.
func (s *Server) loadRunState(_ context.Context, runID string) (*query.State, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: %s", query.ErrRunNotFound, runID)
	}

	infos, err := s.store.List(runID)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s", query.ErrRunNotFound, runID)
	}

	latest := infos[len(infos)-1]
	data, err := s.store.Load(runID, latest.NodeID)
	if err != nil {
		return nil, err
	}
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	state := &query.State{
		RunID:       runID,
		Status:      "running",
		CurrentNode: cp.NodeID,
	}
	if len(cp.State) > 0 {
		_ = json.Unmarshal(cp.State, &state.Variables)
	}

	switch {
	case cp.Interrupt != nil:
		state.Status = "interrupted"
		pending := &query.PendingInterrupt{
			NodeID:    cp.Interrupt.NodeID,
			Kind:      cp.Interrupt.Kind,
			CreatedAt: cp.Timestamp.Format(time.RFC3339),
		}
		if len(cp.Interrupt.Value) > 0 {
			_ = json.Unmarshal(cp.Interrupt.Value, &pending.Value)
		}
		state.Interrupt = pending
	case cp.NextNode == stategraph.END:
		state.Status = "completed"
	}

	state.Progress = s.runProgress(cp, len(infos))
	return state, nil
}

// runProgress estimates completion as the share of graph nodes the run
// has checkpointed. The owning graph is found by node membership since
// checkpoints don't record the graph name.
func (s *Server) runProgress(cp *checkpoint.Checkpoint, visited int) float64 {
	if cp.NextNode == stategraph.END {
		return 1
	}
	for _, name := range s.graphs.Keys() {
		entry, ok := s.graphs.Get(name)
		if !ok || !entry.graph.HasNode(cp.NodeID) {
			continue
		}
		if total := len(entry.graph.NodeIDs()); total > 0 {
			if visited >= total {
				return 1
			}
			return float64(visited) / float64(total)
		}
	}
	return 0
}

// streamModes parses the ?modes= query parameter into stream modes.
// Defaults to values when absent or empty.
func streamModes(r *http.Request) []stategraph.StreamMode {
	raw := r.URL.Query().Get("modes")
	if raw == "" {
		return []stategraph.StreamMode{stategraph.StreamValues}
	}

	var modes []stategraph.StreamMode
	for _, part := range strings.Split(raw, ",") {
		switch strings.TrimSpace(part) {
		case "values":
			modes = append(modes, stategraph.StreamValues)
		case "updates":
			modes = append(modes, stategraph.StreamUpdates)
		case "debug":
			modes = append(modes, stategraph.StreamDebug)
		case "custom":
			modes = append(modes, stategraph.StreamCustom)
		}
	}
	if len(modes) == 0 {
		modes = []stategraph.StreamMode{stategraph.StreamValues}
	}
	return modes
}
