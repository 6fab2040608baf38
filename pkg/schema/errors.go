package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is one parameter that failed validation.
type ValidationError struct {
	Param  string `json:"param"`
	Reason string `json:"reason"`
	Value  any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("param %q: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("param %q: %s (got %T)", e.Param, e.Reason, e.Value)
}

// AggregateError collects every violation found in one parameter map.
type AggregateError struct {
	Errors []*ValidationError
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d invalid params", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *AggregateError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, err := range e.Errors {
		out[i] = err
	}
	return out
}

// Violations returns the individual violations carried by err, or nil.
func Violations(err error) []*ValidationError {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		return aggr.Errors
	}
	var single *ValidationError
	if errors.As(err, &single) {
		return []*ValidationError{single}
	}
	return nil
}
