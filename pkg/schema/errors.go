package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	// Precondition faults: caller misuse, returned before any state change.
	ErrCodePrecondition     = "PRECONDITION_FAILED"
	ErrCodeAlreadyExecuting = "ALREADY_EXECUTING"

	// Permission faults: reported inside AutomationResult.
	ErrCodeDomainRestricted   = "DOMAIN_RESTRICTED"
	ErrCodeSecurityRestricted = "SECURITY_RESTRICTED"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeGatewayDenied      = "GATEWAY_DENIED"

	// Recoverable step faults.
	ErrCodeTargetNotFound   = "TARGET_NOT_FOUND"
	ErrCodeTargetNotVisible = "TARGET_NOT_VISIBLE"
	ErrCodeWaitTimeout      = "WAIT_TIMEOUT"

	// Non-recoverable step faults.
	ErrCodeInvalidStep       = "INVALID_STEP"
	ErrCodeUnsupportedTarget = "UNSUPPORTED_TARGET"
	ErrCodeOptionNotFound    = "OPTION_NOT_FOUND"
	ErrCodeUnknownStepKind   = "UNKNOWN_STEP_KIND"
	ErrCodeBackend           = "BACKEND_ERROR"

	// Abort.
	ErrCodeResolutionAborted = "RESOLUTION_ABORTED"
	ErrCodeAborted           = "ABORTED"

	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
)

// AutopilotError is the structured error type for all autopilot operations.
type AutopilotError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	StepIndex *int           `json:"step_index,omitempty"`
	Cause     error          `json:"-"`
}

func (e *AutopilotError) Error() string {
	if e.StepIndex != nil {
		return fmt.Sprintf("[%s] step %d: %s", e.Code, *e.StepIndex, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AutopilotError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AutopilotError.
func NewError(code, message string) *AutopilotError {
	return &AutopilotError{Code: code, Message: message}
}

// NewErrorf creates a new AutopilotError with a formatted message.
func NewErrorf(code, format string, args ...any) *AutopilotError {
	return &AutopilotError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step index to the error.
func (e *AutopilotError) WithStep(index int) *AutopilotError {
	e.StepIndex = &index
	return e
}

// WithCause attaches an underlying cause.
func (e *AutopilotError) WithCause(err error) *AutopilotError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AutopilotError) WithDetails(details map[string]any) *AutopilotError {
	e.Details = details
	return e
}

// IsRecoverable reports whether a step failing with this error lets the run continue.
func (e *AutopilotError) IsRecoverable() bool {
	switch e.Code {
	case ErrCodeTargetNotFound, ErrCodeTargetNotVisible, ErrCodeWaitTimeout:
		return true
	default:
		return false
	}
}

// IsAbort reports whether the error stems from a cancelled run.
func (e *AutopilotError) IsAbort() bool {
	return e.Code == ErrCodeAborted || e.Code == ErrCodeResolutionAborted
}

// IsPrecondition reports whether the error is a caller-misuse fault.
func (e *AutopilotError) IsPrecondition() bool {
	return e.Code == ErrCodePrecondition || e.Code == ErrCodeAlreadyExecuting
}

// IsPermission reports whether the error is a permission fault.
func (e *AutopilotError) IsPermission() bool {
	switch e.Code {
	case ErrCodeDomainRestricted, ErrCodeSecurityRestricted, ErrCodePermissionDenied, ErrCodeGatewayDenied:
		return true
	default:
		return false
	}
}

// HasCode reports whether err is an AutopilotError carrying the given code.
func HasCode(err error, code string) bool {
	var apErr *AutopilotError
	if errors.As(err, &apErr) {
		return apErr.Code == code
	}
	return false
}
