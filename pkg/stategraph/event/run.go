package event

// Run lifecycle event types published by the executor.
const (
	TypeRunStarted     = "run.started"
	TypeRunCompleted   = "run.completed"
	TypeRunFailed      = "run.failed"
	TypeRunInterrupted = "run.interrupted"
	TypeRunResumed     = "run.resumed"
	TypeNodeStarted    = "node.started"
	TypeNodeCompleted  = "node.completed"
	TypeNodeFailed     = "node.failed"
)

// SourceExecutor is the event source used by the graph executor.
const SourceExecutor = "executor"

// RunStarted is the payload for run.started events.
type RunStarted struct {
	RunID string `json:"run_id"`
	Entry string `json:"entry"`
}

// RunCompleted is the payload for run.completed events.
type RunCompleted struct {
	RunID      string  `json:"run_id"`
	DurationMs float64 `json:"duration_ms"`
	Steps      int     `json:"steps"`
}

// RunFailed is the payload for run.failed events.
type RunFailed struct {
	RunID    string `json:"run_id"`
	LastNode string `json:"last_node,omitempty"`
	Error    string `json:"error"`
}

// RunInterrupted is the payload for run.interrupted events.
type RunInterrupted struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
}

// RunResumed is the payload for run.resumed events.
type RunResumed struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
}

// NodeStarted is the payload for node.started events.
type NodeStarted struct {
	RunID   string `json:"run_id"`
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
}

// NodeCompleted is the payload for node.completed events.
type NodeCompleted struct {
	RunID      string  `json:"run_id"`
	NodeID     string  `json:"node_id"`
	Next       string  `json:"next,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// NodeFailed is the payload for node.failed events.
type NodeFailed struct {
	RunID   string `json:"run_id"`
	NodeID  string `json:"node_id"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}
