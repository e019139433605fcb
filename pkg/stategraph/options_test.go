package stategraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestWithMaxIterations_Valid tests valid max iterations values.
func TestWithMaxIterations_Valid(t *testing.T) {
	tests := []struct {
		name  string
		value int
	}{
		{"minimum valid", 1},
		{"typical value", 100},
		{"default value", 1000},
		{"large value", 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := WithMaxIterations(tt.value)
			cfg := defaultRunConfig()
			opt(&cfg)
			assert.Equal(t, tt.value, cfg.maxIterations)
		})
	}
}

// TestWithMaxIterations_IgnoresNonPositive tests invalid values keep the
// default.
func TestWithMaxIterations_IgnoresNonPositive(t *testing.T) {
	for _, value := range []int{0, -1, -100} {
		cfg := defaultRunConfig()
		WithMaxIterations(value)(&cfg)
		assert.Equal(t, 1000, cfg.maxIterations)
	}
}

// TestWithCheckpointing_SetsStore tests the store is recorded.
func TestWithCheckpointing_SetsStore(t *testing.T) {
	store := newTestStore()
	cfg := defaultRunConfig()

	WithCheckpointing(store)(&cfg)
	WithRunID("run-42")(&cfg)

	assert.Equal(t, store, cfg.checkpointStore)
	assert.Equal(t, "run-42", cfg.runID)
}

// TestWithInterruptBefore_Accumulates tests repeated options merge.
func TestWithInterruptBefore_Accumulates(t *testing.T) {
	cfg := defaultRunConfig()

	WithInterruptBefore("a", "b")(&cfg)
	WithInterruptBefore("c")(&cfg)

	assert.True(t, cfg.interruptBefore["a"])
	assert.True(t, cfg.interruptBefore["b"])
	assert.True(t, cfg.interruptBefore["c"])
	assert.False(t, cfg.interruptBefore["d"])
}

// TestWithInterruptAfter_Accumulates tests repeated options merge.
func TestWithInterruptAfter_Accumulates(t *testing.T) {
	cfg := defaultRunConfig()

	WithInterruptAfter("x")(&cfg)
	WithInterruptAfter("y")(&cfg)

	assert.True(t, cfg.interruptAfter["x"])
	assert.True(t, cfg.interruptAfter["y"])
}

// TestWithStreamModes_Accumulates tests mode selection.
func TestWithStreamModes_Accumulates(t *testing.T) {
	cfg := defaultRunConfig()

	WithStreamModes(StreamValues, StreamDebug)(&cfg)
	WithStreamModes(StreamCustom)(&cfg)

	assert.True(t, cfg.streamModes[StreamValues])
	assert.True(t, cfg.streamModes[StreamDebug])
	assert.True(t, cfg.streamModes[StreamCustom])
	assert.False(t, cfg.streamModes[StreamUpdates])
}

// TestWithStreamBuffer tests buffer sizing and the non-positive guard.
func TestWithStreamBuffer(t *testing.T) {
	cfg := defaultRunConfig()
	assert.Equal(t, 64, cfg.streamBuffer)

	WithStreamBuffer(256)(&cfg)
	assert.Equal(t, 256, cfg.streamBuffer)

	WithStreamBuffer(0)(&cfg)
	assert.Equal(t, 256, cfg.streamBuffer)
}

// TestWithMetrics_Toggle tests the recorder swaps with the flag.
func TestWithMetrics_Toggle(t *testing.T) {
	cfg := defaultRunConfig()

	WithMetrics(true)(&cfg)
	assert.NotNil(t, cfg.metrics)

	WithMetrics(false)(&cfg)
	assert.NotNil(t, cfg.metrics) // Noop recorder, never nil
}

// TestWithTracing_Toggle tests span manager configuration.
func TestWithTracing_Toggle(t *testing.T) {
	cfg := defaultRunConfig()
	assert.False(t, cfg.tracingEnabled)

	WithTracing(true)(&cfg)
	assert.True(t, cfg.tracingEnabled)

	WithTracing(false)(&cfg)
	assert.False(t, cfg.tracingEnabled)
}
