// Package errors provides the coded error type shared by the db2ixf packages.
// Every fatal condition carries a Code so callers can branch on it, plus
// key/value context that is rendered in the message.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound   Code = "E101"
	CodeFilePermission Code = "E102"
	CodeInvalidFormat  Code = "E103"
	CodeEncodingError  Code = "E106"

	// Parsing errors (2xx)
	CodeParseFailed             Code = "E201"
	CodeTruncatedRecord         Code = "E202"
	CodeInvalidColumnDescriptor Code = "E203"
	CodeUnknownDataType         Code = "E204"
	CodeInvalidPrecision        Code = "E205"
	CodeCorruptionRate          Code = "E206"
	CodeInvalidState            Code = "E207"

	// CodeDataCollector marks a row-local decode failure. It is the only
	// parsing code that does not abort a parse.
	CodeDataCollector Code = "E210"

	// Output errors (3xx)
	CodeWriteFailed    Code = "E301"
	CodeDiskFull       Code = "E302"
	CodeCompressionErr Code = "E303"
	CodeUploadFailed   Code = "E304"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"
	CodeTimeout         Code = "E402"
	CodePanic           Code = "E403"

	// DuckDB errors (5xx)
	CodeDuckDBInit  Code = "E501"
	CodeDuckDBWrite Code = "E503"

	// Configuration errors (6xx)
	CodeInvalidConfig Code = "E601"

	// Unknown
	CodeUnknown Code = "E999"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrTruncated               = &IXFError{Code: CodeTruncatedRecord}
	ErrInvalidColumnDescriptor = &IXFError{Code: CodeInvalidColumnDescriptor}
	ErrUnknownDataType         = &IXFError{Code: CodeUnknownDataType}
	ErrInvalidPrecision        = &IXFError{Code: CodeInvalidPrecision}
	ErrCorruptionRate          = &IXFError{Code: CodeCorruptionRate}
	ErrDataCollector           = &IXFError{Code: CodeDataCollector}
	ErrInvalidConfig           = &IXFError{Code: CodeInvalidConfig}
	ErrInvalidState            = &IXFError{Code: CodeInvalidState}
)

// IXFError is the base error type for all db2ixf errors.
type IXFError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface. Context keys are rendered in
// sorted order so messages are stable.
func (e *IXFError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *IXFError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *IXFError) Is(target error) bool {
	if t, ok := target.(*IXFError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *IXFError) WithContext(key string, value interface{}) *IXFError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new IXFError.
func New(code Code, message string) *IXFError {
	return &IXFError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new IXFError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *IXFError {
	return &IXFError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *IXFError {
	if err == nil {
		return nil
	}

	return &IXFError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *IXFError {
	if err == nil {
		return nil
	}
	return &IXFError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *IXFError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *IXFError {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// Truncated reports a short read while reading a record field.
func Truncated(record, field string, want, got int) *IXFError {
	return New(CodeTruncatedRecord, "truncated or corrupt stream").
		WithContext("record", record).
		WithContext("field", field).
		WithContext("want", want).
		WithContext("got", got)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *IXFError {
	return Wrap(cause, CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var ixfErr *IXFError
	if errors.As(err, &ixfErr) {
		return ixfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var ixfErr *IXFError
	if errors.As(err, &ixfErr) {
		return ixfErr.Code
	}
	return CodeUnknown
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeDiskFull, CodeUploadFailed:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error must abort a parse. Only row-local
// data collector errors are recoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return GetCode(err) != CodeDataCollector
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
