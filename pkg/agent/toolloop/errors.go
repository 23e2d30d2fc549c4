package toolloop

import "errors"

var (
	// ErrMissingDependency is returned when Config lacks a client, scheduler or history.
	ErrMissingDependency = errors.New("tool loop is missing a required dependency")

	// ErrNoToolCalls is returned when Run is entered with a response that requests
	// no tools and no continuation nudge is configured.
	ErrNoToolCalls = errors.New("response has no tool calls")

	// ErrGracefulShutdown indicates the loop was interrupted by context cancellation.
	// Callers should treat the history as consistent and stop.
	ErrGracefulShutdown = errors.New("graceful shutdown requested")
)
