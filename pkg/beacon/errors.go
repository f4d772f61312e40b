package beacon

import "errors"

// Sentinel errors returned by Client.
var (
	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("beacon client closed")

	// ErrNoRecorder indicates a recording method was called without a
	// Recorder configured.
	ErrNoRecorder = errors.New("no session recorder configured")
)
