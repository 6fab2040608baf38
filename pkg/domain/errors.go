package domain

import (
	"errors"
	"fmt"
)

// ErrCheckpointNotFound is returned when a checkpoint ID cannot be found in the store.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrNoPage is returned when an operation needs a Page but none is attached.
var ErrNoPage = errors.New("no page attached")

// Error codes shared by the engine and the built-in actions and pipes.
const (
	CodeElementNotFound        = "ElementNotFound"
	CodeElementUnstable        = "ElementUnstable"
	CodeNavigationFailed       = "NavigationFailed"
	CodePipelineOutputMismatch = "PipelineOutputMismatch"
	CodeLoopLimitExceeded      = "LoopLimitExceeded"
	CodeInvalidScript          = "InvalidScript"
	CodeInvalidParameter       = "InvalidParameter"
	CodeContextMatchTimeout    = "ContextMatchTimeout"
	CodeInterrupted            = "Interrupted"
	CodeScriptFailed           = "ScriptFailed"
	CodeExpectFailed           = "ExpectFailed"
	CodeInputRequired          = "InputRequired"
	CodePageUnavailable        = "PageUnavailable"
)

// Error is the engine error model.
// Retry marks transient page-state failures that the retry engine may swallow.
// Script marks intentional business outcomes (explicit fail/expect) as opposed
// to infrastructure failures.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Retry   bool           `json:"retry"`
	Script  bool           `json:"scriptError,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the given detail entries merged in.
func (e *Error) WithDetails(kv map[string]any) *Error {
	next := *e
	next.Details = make(map[string]any, len(e.Details)+len(kv))
	for k, v := range e.Details {
		next.Details[k] = v
	}
	for k, v := range kv {
		next.Details[k] = v
	}
	return &next
}

// Retriable creates an error the retry engine will attempt again.
func Retriable(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retry: true}
}

// Fatal creates a non-retriable engine error.
func Fatal(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidScript reports an authoring mistake (missing parameter, malformed pipeline, type mismatch).
func InvalidScript(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidScript, Message: fmt.Sprintf(format, args...)}
}

// ScriptError reports an intentional business outcome raised by the script itself.
func ScriptError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Script: true}
}

// Wrap attaches a cause to a new error with the given code.
func Wrap(err error, code string, retry bool, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retry: retry, Err: err}
}

// IsRetriable reports whether err (or anything it wraps) is a retriable engine error.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retry
	}
	return false
}

// IsScriptError reports whether err represents an explicit script outcome.
func IsScriptError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Script
	}
	return false
}

// CodeOf returns the engine error code of err, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsError converts any error into the engine error model.
// Foreign errors become non-retriable errors with an empty code.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Message: err.Error(), Err: err}
}
