package errors

import "fmt"

// HTTPError represents a non-2xx response from the collector.
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

// EncodeError indicates an event could not be converted to wire format.
type EncodeError struct {
	EventID string
	Err     error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode event %s: %v", e.EventID, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}
