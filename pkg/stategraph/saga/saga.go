// Package saga provides run compensation: nodes register compensating
// actions as they complete side effects, and the executor unwinds them
// in reverse order when the run fails.
//
// Design Influences:
//   - Saga pattern (compensating transactions)
//   - Temporal workflow compensation
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CompensateFunc undoes a previously completed side effect.
type CompensateFunc func(ctx context.Context) error

// Step is a recorded compensating action.
type Step struct {
	// Name identifies the side effect being compensated.
	Name string

	// NodeID is the node that recorded the step.
	NodeID string

	// RecordedAt is when the step was recorded.
	RecordedAt time.Time

	fn CompensateFunc
}

// Log accumulates compensating actions for a single run.
// It is safe for concurrent use (parallel branches may record steps).
type Log struct {
	mu    sync.Mutex
	steps []Step
}

// NewLog creates an empty compensation log.
func NewLog() *Log {
	return &Log{}
}

// Record adds a compensating action. Steps are unwound in reverse
// recording order.
func (l *Log) Record(name, nodeID string, fn CompensateFunc) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.steps = append(l.steps, Step{
		Name:       name,
		NodeID:     nodeID,
		RecordedAt: time.Now().UTC(),
		fn:         fn,
	})
}

// Len returns the number of recorded steps.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps)
}

// Steps returns a snapshot of recorded steps in recording order.
func (l *Log) Steps() []Step {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Unwind executes all compensating actions in reverse order.
// It continues past individual failures and returns the joined errors.
// The log is cleared afterwards so Unwind is not re-run on the same steps.
func (l *Log) Unwind(ctx context.Context, logger *slog.Logger) error {
	l.mu.Lock()
	steps := l.steps
	l.steps = nil
	l.mu.Unlock()

	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]

		logger.Info("compensating",
			"step", step.Name,
			"node_id", step.NodeID,
		)

		if err := step.fn(ctx); err != nil {
			logger.Error("compensation failed",
				"step", step.Name,
				"node_id", step.NodeID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("compensate %s: %w", step.Name, err))
		}
	}

	return errors.Join(errs...)
}
