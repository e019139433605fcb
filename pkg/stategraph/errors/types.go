package errors

import "fmt"

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// TimeoutError indicates an operation timed out.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// HumanInterventionError indicates human input is required.
// The executor converts errors of this category into a run interrupt
// instead of failing the run.
type HumanInterventionError struct {
	Question string
	Options  []string
	Original error
}

// Error implements the error interface.
func (e *HumanInterventionError) Error() string {
	return fmt.Sprintf("human intervention required: %s", e.Question)
}

// Unwrap returns the original error.
func (e *HumanInterventionError) Unwrap() error {
	return e.Original
}
