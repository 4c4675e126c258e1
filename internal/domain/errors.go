package domain

import "errors"

// Failure taxonomy. Per-connection failures are isolated from the rest of
// the fan-out; infrastructure failures degrade functionality instead of
// crashing the process.
var (
	// ErrConnectionClosed reports a broken or closed client socket.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnknownConnection reports an operation addressed to a connection
	// id no longer present in the registry.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrRateLimited is the soft rate-limit violation; the connection
	// stays open and receives an error frame.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUpstreamUnavailable reports that Redis is unreachable. Publishing
	// degrades to a warning no-op; same-process broadcast keeps working.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
