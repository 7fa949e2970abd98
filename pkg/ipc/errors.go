package ipc

import "errors"

var (
	// ErrNotStarted is returned by Get when the dispatch loop has never
	// reached the listening state (no channel subscription established).
	ErrNotStarted = errors.New("ipc: not started")

	// ErrTimeout is returned by Get when no matching reply arrives within
	// the call's timeout.
	ErrTimeout = errors.New("ipc: timed out waiting for reply")

	// ErrClosed is returned once the instance has been closed. Closed
	// instances cannot be restarted.
	ErrClosed = errors.New("ipc: closed")

	// ErrHandlerNotFound is returned by RemoveHandler when no handler is
	// registered under the given name.
	ErrHandlerNotFound = errors.New("ipc: handler not found")
)
