package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeDeadEnd        = "DEAD_END"
	ErrCodeCycleDetected  = "CYCLE_DETECTED"
	ErrCodeProvider       = "PROVIDER_ERROR"
	ErrCodeTool           = "TOOL_ERROR"
	ErrCodeDecision       = "DECISION_ERROR"
	ErrCodeExpression     = "EXPRESSION_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeRecord         = "RECORD_ERROR"
)

// FlowError is the structured error type for all engine operations.
// It carries enough context (node id, attempt count, underlying cause)
// to reconstruct what happened from the transcript plus the error alone.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	NodeID  string         `json:"node_id,omitempty"`
	Attempt int            `json:"attempt,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithAttempt records how many attempts were made before the error surfaced.
func (e *FlowError) WithAttempt(attempt int) *FlowError {
	e.Attempt = attempt
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// IsRetryable reports whether an error with this code may be retried.
// Structural and decision errors never are; provider and timeout errors may be.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeProvider, ErrCodeTimeout, ErrCodeRecord:
		return true
	default:
		return false
	}
}
