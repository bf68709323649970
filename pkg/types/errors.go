// Standard errors shared across the harness packages.
package types

import "errors"

var (
	// ErrMissingCommand is returned when the harness is invoked without a
	// command to run. No resources have been created at that point.
	ErrMissingCommand = errors.New("command to run is required")

	// ErrAlreadyStarted is returned when Start is called on a server that
	// is already running.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNotStarted is returned by operations that need a running server.
	ErrNotStarted = errors.New("server not started")

	// ErrReadyTimeout is returned when the readiness poll is bounded and
	// the bound elapses before the server answers.
	ErrReadyTimeout = errors.New("server did not become ready before timeout")
)
