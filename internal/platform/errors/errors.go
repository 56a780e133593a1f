package errors

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context, e.g. the offending field
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithField creates a domain error naming the offending input field.
func WithField(code Code, message string, field string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: map[string]string{"field": field},
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the domain code from an error, or CodeUnknown.
func GetCode(err error) Code {
	if typed, ok := err.(*Error); ok {
		return typed.Code
	}
	return CodeUnknown
}

// Field returns the offending field recorded on the error, if any.
func Field(err error) string {
	if typed, ok := err.(*Error); ok && typed.Metadata != nil {
		return typed.Metadata["field"]
	}
	return ""
}
