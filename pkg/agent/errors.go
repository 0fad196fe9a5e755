package agent

import (
	"errors"
	"fmt"
)

// Error codes carried by Error and surfaced in error-response metadata.
const (
	CodeAgentNotFound      = "agent_not_found"
	CodeAgentExecution     = "agent_execution_failed"
	CodeClassification     = "intent_classification_failed"
	CodeAggregation        = "response_aggregation_failed"
	CodeTokenLimitExceeded = "token_limit_exceeded"
	CodeSessionNotFound    = "session_not_found"
	CodeCircuitOpen        = "circuit_open"
	CodeRemoteTimeout      = "remote_timeout"
	CodeRemoteUnavailable  = "remote_unavailable"
	CodeResponseParse      = "response_parse_failed"
	CodeExternalService    = "external_service_failed"
	CodeDatabaseConnection = "database_connection_failed"
)

// ErrAgentNotFound reports an unknown agent type tag.
var ErrAgentNotFound = errors.New("agent not found")

// Error is the structured error carried across agent boundaries. Code is
// stable; Message is human-readable; Err preserves the original cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the stable code from err, or "internal" when err carries none.
func CodeOf(err error) string {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	return "internal"
}
