package voker

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
)

// Protocol errors (C2): malformed bytes from the control plane. Fatal to
// the current connection.
var (
	ErrInvalidStatusLine     = errors.New("voker: invalid HTTP status line")
	ErrHeadTooLong           = errors.New("voker: header line exceeded 256 bytes without a CRLF")
	ErrHeaderInvalidCharacter = errors.New("voker: header name contains a byte outside the RFC 7230 token set")
	ErrChunkedNotSupported   = errors.New("voker: chunked transfer encoding is not supported")
	ErrInvalidContentLength  = errors.New("voker: content-length exceeds the 6 MiB payload cap or is malformed")
	ErrUnexpectedStatusCode  = errors.New("voker: unexpected status code from control plane")
	ErrInvocationMissingPayload = errors.New("voker: 200 response from control plane carried no body")

	// Metadata errors (C2 disambiguation): a 200 /next response is
	// missing a field InvocationMetadata requires.
	ErrMissingRequestID   = errors.New("voker: next response missing Lambda-Runtime-Aws-Request-Id")
	ErrMissingDeadline    = errors.New("voker: next response missing Lambda-Runtime-Deadline-Ms")
	ErrMissingFunctionARN = errors.New("voker: next response missing Lambda-Runtime-Invoked-Function-Arn")

	// Transport errors (C3): recoverable at the next loop iteration boundary.
	ErrConnectionReset = errors.New("voker: control plane connection reset")
	ErrTimeout         = errors.New("voker: control plane request timed out")
	ErrCancelled       = errors.New("voker: request cancelled")

	// Runtime client errors (C4).
	ErrBadStatusCode = errors.New("voker: control plane returned an unexpected status code for this operation")

	// Configuration errors.
	ErrMissingRuntimeAPI     = errors.New("voker: AWS_LAMBDA_RUNTIME_API environment variable is not set")
	ErrInvalidMaxRequests    = errors.New("voker: MAX_REQUESTS must be a non-negative integer")
	ErrInvalidRequestTimeout = errors.New("voker: REQUEST_TIMEOUT must be a duration or a non-negative integer number of seconds")
	ErrInvalidKeepAlive      = errors.New("voker: KEEP_ALIVE must be a boolean")

	// Local mock server errors (C8).
	ErrPoolBusy          = errors.New("voker: pool already has a waiter")
	ErrUnknownInvocation = errors.New("voker: no pending invocation with that request id")
)

// UpstreamError renames a C3 transport failure (Timeout,
// ConnectionReset) as it surfaces through the C4 facade, per spec.md
// §4.4.
type UpstreamError struct {
	Kind error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("voker: upstream error: %v", e.Kind)
}

func (e *UpstreamError) Unwrap() error {
	return e.Kind
}

// TerminationError aggregates the errors returned by one or more
// Terminator entries, per spec.md §4.6.
type TerminationError struct {
	Underlying []error
}

func (e *TerminationError) Error() string {
	msgs := make([]string, len(e.Underlying))
	for i, err := range e.Underlying {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("voker: %d termination hook(s) failed: %s", len(e.Underlying), strings.Join(msgs, "; "))
}

func (e *TerminationError) Unwrap() []error {
	return e.Underlying
}

// ErrorResponse represents a Lambda function error response
type ErrorResponse struct {
	Type       string       `json:"errorType"`
	Message    string       `json:"errorMessage"`
	StackTrace []StackFrame `json:"stackTrace,omitempty"`
}

// Error implements the error interface for ErrorResponse
func (e *ErrorResponse) Error() string {
	return e.Message
}

// LogValue implements the slog.LogValuer interface for structured logging
func (e *ErrorResponse) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("errorType", e.Type),
		slog.String("errorMessage", e.Message),
	}

	if len(e.StackTrace) > 0 {
		frameValues := make([]any, len(e.StackTrace))
		for i, frame := range e.StackTrace {
			frameValues[i] = map[string]any{
				"path":  frame.Path,
				"line":  frame.Line,
				"label": frame.Label,
			}
		}
		attrs = append(attrs, slog.Any("stackTrace", frameValues))
	}

	return slog.GroupValue(attrs...)
}

// StackFrame represents a single frame in a stack trace
type StackFrame struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Label string `json:"label"`
}

// newErrorResponse creates an ErrorResponse from a regular error
func newErrorResponse(err error) *ErrorResponse {
	errorType := getErrorType(err)

	return &ErrorResponse{
		Message: err.Error(),
		Type:    errorType,
	}
}

// getErrorType returns the error type in AWS recommended format: Category.Reason
func getErrorType(err error) string {
	if err == nil {
		return "Runtime.Unknown"
	}

	t := reflect.TypeOf(err)
	if t == nil {
		return "Runtime.Unknown"
	}

	// Get the base type name
	typeName := t.Name()
	if t.Kind() == reflect.Pointer {
		typeName = t.Elem().Name()
	}

	// If we have a named type, use it with Runtime prefix
	if typeName != "" {
		// Handle standard library error types
		if typeName == "errorString" || typeName == "errors" {
			return "Runtime.HandlerError"
		}
		// Handle wrapped errors (fmt.wrapError, etc.)
		if strings.Contains(typeName, "wrap") {
			return "Runtime.HandlerError"
		}
		return "Runtime." + typeName
	}

	// Fallback for anonymous error types
	return "Runtime.HandlerError"
}

// newPanicResponse creates an ErrorResponse from a panic
func newPanicResponse(panicValue any) *ErrorResponse {
	message := fmt.Sprintf("%v", panicValue)
	errorType := getPanicType(panicValue)

	return &ErrorResponse{
		Message:    message,
		Type:       errorType,
		StackTrace: captureStackTrace(),
	}
}

// getPanicType returns the panic type in AWS recommended format
func getPanicType(panicValue any) string {
	if panicValue == nil {
		return "Runtime.Panic"
	}

	t := reflect.TypeOf(panicValue)
	typeName := t.Name()
	if t.Kind() == reflect.Pointer && t.Elem().Name() != "" {
		typeName = t.Elem().Name()
	}

	// If we have a type name, use it
	if typeName != "" {
		return "Runtime.Panic." + typeName
	}

	// For anonymous types, use the type string
	typeStr := fmt.Sprintf("%T", panicValue)
	// Clean up the type string (remove package paths)
	if idx := strings.LastIndex(typeStr, "."); idx >= 0 {
		typeStr = typeStr[idx+1:]
	}
	if typeStr != "" {
		return "Runtime.Panic." + typeStr
	}

	return "Runtime.Panic"
}

// captureStackTrace captures the current stack trace, skipping voker internal frames
func captureStackTrace() []StackFrame {
	const maxFrames = 32
	const framesToSkip = 4 // captureStackTrace -> newPanicResponse -> recover -> handler

	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(framesToSkip, pcs)
	if n == 0 {
		return []StackFrame{}
	}

	frames := runtime.CallersFrames(pcs[:n])
	var stackFrames []StackFrame

	for {
		frame, more := frames.Next()
		stackFrames = append(stackFrames, formatFrame(frame))
		if !more {
			break
		}
	}

	return stackFrames
}

// formatFrame converts a runtime.Frame to a StackFrame
func formatFrame(frame runtime.Frame) StackFrame {
	path := frame.File
	label := frame.Function

	// Strip GOPATH/module path from file path
	// Count slashes in function name to determine how many path components to keep
	slashCount := strings.Count(label, "/")
	if slashCount > 0 {
		parts := strings.Split(path, "/")
		if len(parts) > slashCount+1 {
			path = strings.Join(parts[len(parts)-slashCount-1:], "/")
		}
	}

	// Strip package path from function name
	if idx := strings.LastIndex(label, "/"); idx >= 0 {
		label = label[idx+1:]
	}
	// Strip package name, keeping only type and method
	if idx := strings.Index(label, "."); idx >= 0 {
		label = label[idx+1:]
	}

	return StackFrame{
		Path:  path,
		Line:  frame.Line,
		Label: label,
	}
}
