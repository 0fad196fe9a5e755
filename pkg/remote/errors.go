package remote

import "errors"

var (
	// ErrCircuitOpen rejects calls while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrPollTimeout means response assembly exceeded the polling budget.
	ErrPollTimeout = errors.New("polling budget exhausted")

	// ErrSessionNotFound means the remote session handle went stale.
	ErrSessionNotFound = errors.New("remote session not found")

	// ErrResponseParse means the server answered with an undecodable body.
	// Parse errors are never retried.
	ErrResponseParse = errors.New("failed to parse server response")

	// ErrServerUnavailable wraps transport-level failures.
	ErrServerUnavailable = errors.New("remote agent server unavailable")
)
