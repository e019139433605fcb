// Package query provides synchronous read-only inspection of graph runs.
//
// Queries retrieve information from a run without modifying its state:
// current position, progress, variables, or a pending interrupt awaiting
// human input. The HTTP layer exposes registered queries per run.
//
// Common use cases:
//   - Get current run status
//   - Check progress percentage
//   - Retrieve run variables
//   - Inspect a pending interrupt
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler executes a query and returns a result.
// Handlers must not modify run state.
type Handler func(ctx context.Context, runID string, args any) (any, error)

// Registry manages query handlers by query name.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a new query registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for a query name.
func (r *Registry) Register(queryName string, handler Handler) error {
	if queryName == "" {
		return errors.New("query name is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[queryName]; exists {
		return fmt.Errorf("handler for query %q already registered", queryName)
	}

	r.handlers[queryName] = handler
	return nil
}

// MustRegister registers a handler, panicking on error.
func (r *Registry) MustRegister(queryName string, handler Handler) {
	if err := r.Register(queryName, handler); err != nil {
		panic(err)
	}
}

// Get returns the handler for a query name.
func (r *Registry) Get(queryName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[queryName]
	return handler, exists
}

// List returns all registered query names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Unregister removes a handler for a query name.
func (r *Registry) Unregister(queryName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, queryName)
}

// ErrQueryNotFound is returned when a query handler doesn't exist.
var ErrQueryNotFound = errors.New("query not found")

// ErrRunNotFound is returned when the queried run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

// StateLoader retrieves the queryable state of a run.
// This is the integration point with the graph executor; typically it
// reads the run's latest checkpoint.
type StateLoader func(ctx context.Context, runID string) (*State, error)

// State represents the queryable state of a run.
type State struct {
	// RunID is the run identifier.
	RunID string `json:"run_id"`

	// Status is the current run status (e.g. "running", "interrupted",
	// "completed", "failed").
	Status string `json:"status"`

	// CurrentNode is the node the run is at.
	CurrentNode string `json:"current_node,omitempty"`

	// Progress is completion percentage (0.0 to 1.0).
	Progress float64 `json:"progress"`

	// Variables contains run variables.
	Variables map[string]any `json:"variables,omitempty"`

	// Interrupt contains info about a pending pause, if any.
	Interrupt *PendingInterrupt `json:"interrupt,omitempty"`

	// Custom contains additional queryable data.
	Custom map[string]any `json:"custom,omitempty"`
}

// PendingInterrupt describes a pause awaiting external input.
type PendingInterrupt struct {
	NodeID    string `json:"node_id"`
	Kind      string `json:"kind"`
	Value     any    `json:"value,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Executor runs queries against runs.
type Executor struct {
	registry    *Registry
	stateLoader StateLoader
}

// NewExecutor creates a new query executor.
func NewExecutor(registry *Registry, stateLoader StateLoader) *Executor {
	return &Executor{
		registry:    registry,
		stateLoader: stateLoader,
	}
}

// Execute runs a query against a run.
func (e *Executor) Execute(ctx context.Context, runID, queryName string, args any) (any, error) {
	if runID == "" {
		return nil, errors.New("run ID is required")
	}
	if queryName == "" {
		return nil, errors.New("query name is required")
	}

	handler, exists := e.registry.Get(queryName)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, queryName)
	}

	return handler(ctx, runID, args)
}

// Built-in query names.
const (
	QueryStatus      = "status"       // Returns run status
	QueryProgress    = "progress"     // Returns completion percentage
	QueryCurrentNode = "current_node" // Returns current node ID
	QueryVariables   = "variables"    // Returns all or specific variable
	QueryInterrupt   = "interrupt"    // Returns pending interrupt
	QueryState       = "state"        // Returns full state
)

// RegisterBuiltins registers the standard query handlers.
// The stateLoader is used to retrieve state for built-in queries.
func RegisterBuiltins(registry *Registry, stateLoader StateLoader) error {
	load := func(ctx context.Context, runID string) (*State, error) {
		state, err := stateLoader(ctx, runID)
		if err != nil {
			return nil, err
		}
		if state == nil {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return state, nil
	}

	builtins := map[string]Handler{
		QueryStatus: func(ctx context.Context, runID string, _ any) (any, error) {
			state, err := load(ctx, runID)
			if err != nil {
				return nil, err
			}
			return state.Status, nil
		},
		QueryProgress: func(ctx context.Context, runID string, _ any) (any, error) {
			state, err := load(ctx, runID)
			if err != nil {
				return nil, err
			}
			return state.Progress, nil
		},
		QueryCurrentNode: func(ctx context.Context, runID string, _ any) (any, error) {
			state, err := load(ctx, runID)
			if err != nil {
				return nil, err
			}
			return state.CurrentNode, nil
		},
		QueryVariables: func(ctx context.Context, runID string, args any) (any, error) {
			state, err := load(ctx, runID)
			if err != nil {
				return nil, err
			}
			// If args is a string, return that specific variable
			if varName, ok := args.(string); ok && varName != "" {
				if val, exists := state.Variables[varName]; exists {
					return val, nil
				}
				return nil, fmt.Errorf("variable %q not found", varName)
			}
			return state.Variables, nil
		},
		QueryInterrupt: func(ctx context.Context, runID string, _ any) (any, error) {
			state, err := load(ctx, runID)
			if err != nil {
				return nil, err
			}
			return state.Interrupt, nil
		},
		QueryState: func(ctx context.Context, runID string, _ any) (any, error) {
			return load(ctx, runID)
		},
	}

	for name, handler := range builtins {
		if err := registry.Register(name, handler); err != nil {
			return fmt.Errorf("failed to register builtin query %q: %w", name, err)
		}
	}

	return nil
}

// Result wraps a query result with metadata.
type Result struct {
	// QueryName is the query that was executed.
	QueryName string `json:"query_name"`

	// RunID is the run that was queried.
	RunID string `json:"run_id"`

	// Value is the query result.
	Value any `json:"value"`

	// Error contains error details if the query failed.
	Error string `json:"error,omitempty"`
}

// ExecuteMultiple runs multiple queries against a run.
// Returns results for all queries, including any that failed.
func (e *Executor) ExecuteMultiple(ctx context.Context, runID string, queries map[string]any) []Result {
	results := make([]Result, 0, len(queries))

	for queryName, args := range queries {
		result := Result{
			QueryName: queryName,
			RunID:     runID,
		}

		value, err := e.Execute(ctx, runID, queryName, args)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Value = value
		}

		results = append(results, result)
	}

	return results
}
