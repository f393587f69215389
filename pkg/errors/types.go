package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Lifecycle errors
	ErrCodeConfiguration      ErrorCode = "CONFIGURATION"
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeShutdownTimeout    ErrorCode = "SHUTDOWN_TIMEOUT"

	// Validation errors (never reach the engine)
	ErrCodeUnsupportedScheme ErrorCode = "UNSUPPORTED_SCHEME"
	ErrCodeInvalidLocation   ErrorCode = "INVALID_LOCATION"
	ErrCodeInvalidViewport   ErrorCode = "INVALID_VIEWPORT"

	// View errors
	ErrCodeViewNotFound ErrorCode = "VIEW_NOT_FOUND"
	ErrCodeAtBoundary   ErrorCode = "AT_BOUNDARY"
	ErrCodeCancelled    ErrorCode = "CANCELLED"

	// Engine errors
	ErrCodeEngineFault ErrorCode = "ENGINE_FAULT"

	// Storage errors
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error represents a structured Lantern error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Stack       []Frame
	Retryable   bool
	UserMessage string
	Remediation []string
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Context:   make(map[string]any),
		Stack:     captureStack(2), // Skip New and caller
		Retryable: false,
	}
}

// Wrap wraps an existing error with Lantern error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
		Retryable:  false,
	}
}

// Sentinel returns a stackless error usable as an errors.Is target.
func Sentinel(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the human-friendly message returned to users.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation appends actionable remediation tips for the error.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append([]string{}, tips...)
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, e.Context[k]))
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is reports whether target is a Lantern error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable returns whether this error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, frame.String()))
		sb.WriteString(fmt.Sprintf("     %s:%d\n", frame.File, frame.Line))
	}

	return sb.String()
}

// String formats a stack frame
func (f Frame) String() string {
	return f.Function
}

// captureStack captures the current call stack
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, n)

	for i := 0; i < n; i++ {
		pc := pcs[i]
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)

		frames = append(frames, Frame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

// IsCode checks if an error chain carries a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	var lanternErr *Error
	if !stderrors.As(err, &lanternErr) {
		return false
	}

	return lanternErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var lanternErr *Error
	if !stderrors.As(err, &lanternErr) {
		return ErrCodeInternal
	}

	return lanternErr.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var lanternErr *Error
	if !stderrors.As(err, &lanternErr) {
		return false
	}

	return lanternErr.Retryable
}

// Remediation returns the remediation tips attached to err, falling back to
// the defaults for its code.
func Remediation(err error) []string {
	var lanternErr *Error
	if !stderrors.As(err, &lanternErr) {
		return nil
	}
	if len(lanternErr.Remediation) > 0 {
		return append([]string{}, lanternErr.Remediation...)
	}
	if tip, ok := defaultRemediation[lanternErr.Code]; ok {
		return []string{tip}
	}
	return nil
}

var defaultRemediation = map[ErrorCode]string{
	ErrCodeConfiguration:      "Check the renderer and engine sections of the config file and that the engine binary is installed",
	ErrCodeAlreadyInitialized: "Call Shutdown before initializing the renderer again",
	ErrCodeNotInitialized:     "Call Initialize before creating views or issuing commands",
	ErrCodeShutdownTimeout:    "The engine did not acknowledge teardown; check for a hung engine process",
	ErrCodeUnsupportedScheme:  "Only http, https, data and about:blank locations can be opened",
	ErrCodeInvalidLocation:    "Check the address for typos",
	ErrCodeInvalidViewport:    "Width and height must be positive",
	ErrCodeViewNotFound:       "The view was closed; open a new one",
	ErrCodeAtBoundary:         "There is no further history in that direction",
	ErrCodeEngineFault:        "Reload the page; other views are unaffected",
	ErrCodeStorageRead:        "Check that the database file is readable",
	ErrCodeStorageWrite:       "Check disk space and database file permissions",
}
