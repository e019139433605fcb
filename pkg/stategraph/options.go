package stategraph

import (
	"encoding/json"
	"log/slog"

	"github.com/stategraph/stategraph/pkg/stategraph/checkpoint"
	sgerrors "github.com/stategraph/stategraph/pkg/stategraph/errors"
	"github.com/stategraph/stategraph/pkg/stategraph/event"
	"github.com/stategraph/stategraph/pkg/stategraph/observability"
	"github.com/stategraph/stategraph/pkg/stategraph/saga"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	// Observability
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	// Checkpointing
	checkpointStore        checkpoint.Store
	runID                  string
	sequence               int
	checkpointFailureFatal bool

	// Human-in-the-loop
	interruptBefore map[string]bool
	interruptAfter  map[string]bool

	// Resume bookkeeping, set by the resume path rather than options.
	// resumed carries serialized resume values for the node at resumeNode.
	// skipBeforeNode suppresses a before-interrupt that was already taken.
	resumed        []json.RawMessage
	resumeNode     string
	skipBeforeNode string
	gotoOverride   string
	startNode      string

	// Node retry
	retry *sgerrors.RetryConfig

	// Run lifecycle events
	bus event.Bus

	// Compensation
	compensation *saga.Log

	// Streaming
	streamModes  map[StreamMode]bool
	streamBuffer int
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 1000,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		streamBuffer:  64,
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 1000
//
// This prevents infinite loops from hanging forever. If a graph
// exceeds this limit, Run returns ErrMaxIterations.
//
// Example:
//
//	result, err := compiled.Run(ctx, state, stategraph.WithMaxIterations(100))
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointing enables checkpoint persistence to the given store.
// Requires WithRunID - Run returns ErrRunIDRequired otherwise.
//
// A checkpoint is saved after every successful node execution and whenever
// the run pauses on an interrupt. Checkpoint failures are logged but do not
// abort the run unless WithCheckpointFailureFatal is set.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithRunID sets the run identifier used as the checkpoint key.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithCheckpointFailureFatal makes checkpoint persistence failures abort
// the run with a CheckpointError instead of logging and continuing.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithObservabilityLogger sets the logger for run and node lifecycle logs.
// Nil disables lifecycle logging (nodes still have ctx.Logger()).
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics recording.
// Uses the global OTel meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry span creation for the run and each node.
// Uses the global OTel tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithInterruptBefore pauses the run before any of the named nodes execute.
// The run returns an *InterruptError with Kind InterruptBefore; resuming
// executes the node and continues.
func WithInterruptBefore(nodeIDs ...string) RunOption {
	return func(c *runConfig) {
		if c.interruptBefore == nil {
			c.interruptBefore = make(map[string]bool, len(nodeIDs))
		}
		for _, id := range nodeIDs {
			c.interruptBefore[id] = true
		}
	}
}

// WithInterruptAfter pauses the run after any of the named nodes execute.
// The run returns an *InterruptError with Kind InterruptAfter; resuming
// continues from the node that routing selected next.
func WithInterruptAfter(nodeIDs ...string) RunOption {
	return func(c *runConfig) {
		if c.interruptAfter == nil {
			c.interruptAfter = make(map[string]bool, len(nodeIDs))
		}
		for _, id := range nodeIDs {
			c.interruptAfter[id] = true
		}
	}
}

// WithNodeRetry retries failed node executions according to the config.
// Only errors categorized as transient are retried; see the errors package.
func WithNodeRetry(rc sgerrors.RetryConfig) RunOption {
	return func(c *runConfig) {
		c.retry = &rc
	}
}

// WithEventBus publishes run lifecycle events (run.started, node.completed,
// run.interrupted, ...) to the given bus.
func WithEventBus(bus event.Bus) RunOption {
	return func(c *runConfig) {
		c.bus = bus
	}
}

// WithCompensation attaches a compensation log to the run. Nodes record
// undo actions via ctx.Compensations(); on terminal failure the executor
// unwinds the log in reverse order. Interrupt pauses do not unwind.
func WithCompensation(log *saga.Log) RunOption {
	return func(c *runConfig) {
		c.compensation = log
	}
}

// WithStreamModes selects which event families Stream emits.
// Ignored by Run. Default for Stream is StreamValues.
func WithStreamModes(modes ...StreamMode) RunOption {
	return func(c *runConfig) {
		if c.streamModes == nil {
			c.streamModes = make(map[StreamMode]bool, len(modes))
		}
		for _, m := range modes {
			c.streamModes[m] = true
		}
	}
}

// WithStreamBuffer sets the event channel buffer size for Stream.
// Default: 64. A full buffer blocks the executor until the consumer
// drains events.
func WithStreamBuffer(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.streamBuffer = n
		}
	}
}
