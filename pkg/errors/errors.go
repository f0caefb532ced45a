package errors

import (
	"fmt"
	"strings"
)

// ErrorCode defines known error types in the system.
type ErrorCode int

const (
	// Core error codes.
	Unknown ErrorCode = iota
	InvalidInput
	ValidationFailed
	ResourceNotFound
	Timeout
	RateLimitExceeded
	Canceled

	// Network and scenario errors.
	InvalidNetwork
	InvalidParameters
	NotReady

	// Optimization errors.
	EvaluationFailed
	RoutingUnavailable
	CheckpointFailed
)

// String returns the stable wire name of the code, matching the error
// kinds surfaced to API clients.
func (c ErrorCode) String() string {
	switch c {
	case InvalidInput:
		return "INVALID_INPUT"
	case ValidationFailed:
		return "VALIDATION_FAILED"
	case ResourceNotFound:
		return "NOT_FOUND"
	case Timeout:
		return "TIMEOUT"
	case RateLimitExceeded:
		return "RATE_LIMIT_EXCEEDED"
	case Canceled:
		return "CANCELLED"
	case InvalidNetwork:
		return "INVALID_NETWORK"
	case InvalidParameters:
		return "INVALID_PARAMETERS"
	case NotReady:
		return "NOT_READY"
	case EvaluationFailed:
		return "EVALUATION_FAILURE"
	case RoutingUnavailable:
		return "ROUTING_UNAVAILABLE"
	case CheckpointFailed:
		return "CHECKPOINT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Error represents a structured error with context.
type Error struct {
	code     ErrorCode // Type of error
	message  string    // Human-readable message
	original error     // Original/wrapped error
	fields   Fields    // Additional context
}

// Fields carries structured data about the error.
type Fields map[string]interface{}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.message)

	if e.original != nil {
		b.WriteString(": ")
		b.WriteString(e.original.Error())
	}

	if len(e.fields) > 0 {
		b.WriteString(" [")
		for k, v := range e.fields {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
		b.WriteString("]")
	}

	return strings.TrimSpace(b.String())
}

func (e *Error) Unwrap() error {
	return e.original
}

func (e *Error) Code() ErrorCode {
	return e.code
}

// New creates a new error with a code and message.
func New(code ErrorCode, message string) error {
	return &Error{
		code:    code,
		message: message,
	}
}

// Newf creates a new error with a code and formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{
		code:    code,
		message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		code:     code,
		message:  message,
		original: err,
	}
}

// WithFields adds structured context to an error.
func WithFields(err error, fields Fields) error {
	if err == nil {
		return nil
	}

	// If it's already our error type, add fields
	if e, ok := err.(*Error); ok {
		newFields := make(Fields)
		for k, v := range e.fields {
			newFields[k] = v
		}
		for k, v := range fields {
			newFields[k] = v
		}

		return &Error{
			code:     e.code,
			message:  e.message,
			original: e.original,
			fields:   newFields,
		}
	}

	// Otherwise, create new error
	return &Error{
		code:     Unknown,
		message:  err.Error(),
		original: err,
		fields:   fields,
	}
}

// Is implements error matching.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// As implements error type casting for errors.As.
func (e *Error) As(target interface{}) bool {
	// Check if target is a pointer to *Error
	errorPtr, ok := target.(**Error)
	if !ok {
		return false
	}
	// Set the target pointer to our error
	*errorPtr = e
	return true
}

func (e *Error) Fields() Fields {
	if e.fields == nil {
		return Fields{}
	}
	// Create a copy of the fields map
	fields := make(Fields, len(e.fields))
	for k, v := range e.fields {
		fields[k] = v
	}
	return fields
}

// CodeOf extracts the ErrorCode from any error, returning Unknown for
// errors that did not originate in this package.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Unknown
	}
	if e, ok := err.(*Error); ok {
		return e.code
	}
	return Unknown
}
