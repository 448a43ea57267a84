// Package apperror provides a structured way to handle application errors
// with specific codes, severity levels, and additional details. It also
// includes utilities for converting to and from gRPC status errors.
package apperror

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents a specific application error code.
type ErrorCode string

const (
	// Routing / mapping
	CodeRouteNotFound     ErrorCode = "ROUTE_NOT_FOUND"
	CodeNoMatchingMethod  ErrorCode = "NO_MATCHING_METHOD"
	CodeSchemaCompile     ErrorCode = "SCHEMA_COMPILE_ERROR"
	CodeInvalidBinding    ErrorCode = "INVALID_BINDING"
	CodeUnsupportedSyntax ErrorCode = "UNSUPPORTED_PATH_SYNTAX"

	// Protocol / framing
	CodeFramingError      ErrorCode = "FRAMING_ERROR"
	CodeNegotiationFailed ErrorCode = "NEGOTIATION_FAILED"
	CodeUnsupportedProto  ErrorCode = "UNSUPPORTED_PROTOCOL"
	CodeFlowControl       ErrorCode = "FLOW_CONTROL_VIOLATION"
	CodeStreamReset       ErrorCode = "STREAM_RESET"

	// Backend / proxy
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	CodeDialFailed         ErrorCode = "DIAL_FAILED"
	CodeUpstreamError      ErrorCode = "UPSTREAM_ERROR"

	// Ticket engine
	CodeTicketNotFound   ErrorCode = "TICKET_NOT_FOUND"
	CodeTicketClosed     ErrorCode = "TICKET_CLOSED"
	CodeTicketConflict   ErrorCode = "TICKET_CONFLICT"
	CodeEntryNotFound    ErrorCode = "ENTRY_NOT_FOUND"
	CodeRevisionConflict ErrorCode = "REVISION_CONFLICT"
	CodeKeyExists        ErrorCode = "KEY_EXISTS"

	// Executor / batch
	CodeBatchNotFound    ErrorCode = "BATCH_NOT_FOUND"
	CodeBatchFailed      ErrorCode = "BATCH_FAILED"
	CodeVolumeNotFound   ErrorCode = "VOLUME_NOT_FOUND"
	CodeSandboxError     ErrorCode = "SANDBOX_ERROR"
	CodeBatchNotComplete ErrorCode = "BATCH_NOT_COMPLETE"

	// General
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeNilInput         ErrorCode = "NIL_INPUT"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeUnimplemented    ErrorCode = "UNIMPLEMENTED"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeCanceled         ErrorCode = "CANCELED"
)

// Severity defines the criticality level of an error.
type Severity int

const (
	// SeverityWarning indicates a non-critical issue that can be ignored or automatically resolved.
	SeverityWarning Severity = iota
	// SeverityError indicates a standard error that requires attention.
	SeverityError
	// SeverityCritical indicates a severe error that might require immediate human intervention.
	SeverityCritical
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a custom error type that includes an ErrorCode, message,
// an optional field, additional details, an underlying cause, and a severity level.
type Error struct {
	Code     ErrorCode
	Message  string
	Field    string
	Details  map[string]any
	Cause    error
	Severity Severity
}

// Error implements the error interface, returning a string representation of the error.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, allowing for error chain introspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus converts the application error into a gRPC status.Status.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Message)
}

// grpcCode maps an ErrorCode to an appropriate gRPC codes.Code.
func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case CodeInvalidArgument, CodeInvalidBinding, CodeUnsupportedSyntax, CodeNilInput:
		return codes.InvalidArgument

	case CodeRouteNotFound, CodeNoMatchingMethod, CodeNotFound, CodeTicketNotFound,
		CodeEntryNotFound, CodeBatchNotFound, CodeVolumeNotFound:
		return codes.NotFound

	case CodeTicketClosed, CodeTicketConflict, CodeRevisionConflict, CodeKeyExists,
		CodeBatchNotComplete:
		return codes.FailedPrecondition

	case CodeTimeout:
		return codes.DeadlineExceeded

	case CodeUnauthenticated:
		return codes.Unauthenticated

	case CodePermissionDenied:
		return codes.PermissionDenied

	case CodeBackendUnavailable, CodeDialFailed, CodeUnavailable:
		return codes.Unavailable

	case CodeCanceled:
		return codes.Canceled

	case CodeUnimplemented:
		return codes.Unimplemented

	case CodeUpstreamError, CodeBatchFailed, CodeSandboxError:
		return codes.Aborted

	case CodeFramingError, CodeNegotiationFailed, CodeUnsupportedProto,
		CodeFlowControl, CodeStreamReset, CodeSchemaCompile:
		return codes.Internal

	default:
		return codes.Internal
	}
}

// New creates a new application error with the given code and message.
// The default severity is SeverityError.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Details:  make(map[string]any),
		Severity: SeverityError,
	}
}

// NewWithField creates a new application error with the given code, message, and field.
func NewWithField(code ErrorCode, message, field string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Field:    field,
		Details:  make(map[string]any),
		Severity: SeverityError,
	}
}

// NewWarning creates a new application error with SeverityWarning.
func NewWarning(code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Details:  make(map[string]any),
		Severity: SeverityWarning,
	}
}

// NewCritical creates a new application error with SeverityCritical.
func NewCritical(code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Details:  make(map[string]any),
		Severity: SeverityCritical,
	}
}

// Wrap creates a new application error that wraps an existing error,
// providing additional context with a code and message.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Cause:    cause,
		Details:  make(map[string]any),
		Severity: SeverityError,
	}
}

// WithDetails adds a key-value pair to the error's details map and returns the modified error.
func (e *Error) WithDetails(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// WithField sets the field associated with the error and returns the modified error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithSeverity sets the severity level of the error and returns the modified error.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// Is checks if the given error is an application error with a matching ErrorCode.
func Is(err error, code ErrorCode) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error. If the error is not an *Error,
// it returns CodeInternal.
func Code(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ToGRPC converts an application error or any other error into a gRPC error status.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	return status.Error(codes.Internal, err.Error())
}

// FromGRPC converts a gRPC error into an *Error.
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return New(CodeInternal, err.Error())
	}

	var code ErrorCode
	switch st.Code() {
	case codes.InvalidArgument:
		code = CodeInvalidArgument
	case codes.NotFound:
		code = CodeNotFound
	case codes.DeadlineExceeded:
		code = CodeTimeout
	case codes.Unauthenticated:
		code = CodeUnauthenticated
	case codes.PermissionDenied:
		code = CodePermissionDenied
	case codes.Unavailable:
		code = CodeUnavailable
	case codes.Canceled:
		code = CodeCanceled
	default:
		code = CodeInternal
	}

	return New(code, st.Message())
}

// IsWarning checks if the given error is an application error with SeverityWarning.
func IsWarning(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityWarning
	}
	return false
}

// IsCritical checks if the given error is an application error with SeverityCritical.
func IsCritical(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityCritical
	}
	return false
}

// Predefined errors for common scenarios.
var (
	ErrRouteNotFound    = New(CodeRouteNotFound, "no route matches request path")
	ErrTicketNotFound   = New(CodeTicketNotFound, "ticket not found")
	ErrTicketClosed     = New(CodeTicketClosed, "ticket is closed")
	ErrEntryNotFound    = New(CodeEntryNotFound, "entry not found")
	ErrRevisionConflict = New(CodeRevisionConflict, "revision does not match current entry revision")
	ErrBatchNotFound    = New(CodeBatchNotFound, "batch not found")
	ErrNilInput         = New(CodeNilInput, "required input is nil")
)
