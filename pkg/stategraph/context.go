package stategraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
	"github.com/stategraph/stategraph/pkg/stategraph/saga"
)

// Context provides execution context to nodes.
// It extends context.Context with stategraph-specific services and metadata.
//
// Context is immutable after creation. The executor creates derived contexts
// for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Services

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// Checkpointer returns the checkpoint store, or nil if not configured.
	// Nodes should check for nil before using.
	Checkpointer() checkpoint.Store

	// Writer returns the custom stream writer. Values written to it are
	// emitted as custom stream events when the run was started with
	// Stream and StreamCustom mode. It never returns nil; outside a
	// streaming run writes are discarded.
	Writer() *Writer

	// Compensations returns the compensation log for the run, or nil if
	// compensation was not enabled via WithCompensation.
	Compensations() *saga.Log

	// Metadata

	// RunID returns the unique identifier for this execution run.
	// Auto-generated if not configured.
	RunID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// Attempt returns the retry attempt number (1 = first attempt).
	Attempt() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger        *slog.Logger
	checkpointer  checkpoint.Store
	writer        *Writer
	compensations *saga.Log
	runID         string
	nodeID        string
	attempt       int

	// interrupts tracks Interrupt calls for the node currently executing.
	// Shared with the executor so it can inspect raised/swallowed state.
	interrupts *interruptTracker
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// Checkpointer returns the checkpoint store.
func (c *executionContext) Checkpointer() checkpoint.Store {
	return c.checkpointer
}

// Writer returns the custom stream writer.
func (c *executionContext) Writer() *Writer {
	if c.writer == nil {
		return noopWriter
	}
	return c.writer
}

// Compensations returns the compensation log.
func (c *executionContext) Compensations() *saga.Log {
	return c.compensations
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// Attempt returns the retry attempt number.
func (c *executionContext) Attempt() int {
	return c.attempt
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id, node_id, and attempt during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithCheckpointer sets the checkpoint store for the context.
func WithCheckpointer(store checkpoint.Store) ContextOption {
	return func(c *executionContext) {
		c.checkpointer = store
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID will be auto-generated.
// This is used for logging and tracing. For checkpointing, use
// WithRunID() as a RunOption with Run().
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
// The returned Context wraps the provided context.Context and adds
// stategraph-specific services and metadata.
//
// Example:
//
//	ctx := stategraph.NewContext(context.Background(),
//	    stategraph.WithLogger(myLogger),
//	    stategraph.WithContextRunID("run-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
		attempt: 1,
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// forNode returns a derived context for executing a specific node.
// The executor supplies run-scoped services (stream writer, compensation
// log, interrupt tracker) and the current attempt number.
func (c *executionContext) forNode(nodeID string, attempt int, writer *Writer, comp *saga.Log, tr *interruptTracker) *executionContext {
	w := writer
	if w == nil {
		w = c.writer
	}
	cl := comp
	if cl == nil {
		cl = c.compensations
	}
	return &executionContext{
		Context:       c.Context,
		logger:        c.logger.With("run_id", c.runID, "node_id", nodeID, "attempt", attempt),
		checkpointer:  c.checkpointer,
		writer:        w,
		compensations: cl,
		runID:         c.runID,
		nodeID:        nodeID,
		attempt:       attempt,
		interrupts:    tr,
	}
}

// withNodeID returns a new context with the given node ID set.
// Used internally by the executor to enrich the context per-node.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context:       c.Context,
		logger:        c.logger.With("run_id", c.runID, "node_id", nodeID, "attempt", c.attempt),
		checkpointer:  c.checkpointer,
		writer:        c.writer,
		compensations: c.compensations,
		runID:         c.runID,
		nodeID:        nodeID,
		attempt:       c.attempt,
		interrupts:    c.interrupts,
	}
}
