package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// UnregisteredTypeError reports a Construct request naming a type token that
// is not present in the registry. Non-retryable.
type UnregisteredTypeError struct {
	Token string
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("component type '%s' is not registered", e.Token)
}

// UnknownMethodError reports a Call request naming a method the target
// component type does not declare. Non-retryable.
type UnknownMethodError struct {
	Token  string
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("component type '%s' has no method '%s'", e.Token, e.Method)
}

// InvalidHandleError reports a Call referencing a handle that was not issued
// in this session, was already dropped, or whose Construct has not completed.
// Indicates a caller protocol violation; non-retryable.
type InvalidHandleError struct {
	URN    string
	Reason string
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("invalid handle '%s': %s", e.URN, e.Reason)
}

// PropertyFailure names a single offending input property. Recoverable: the
// caller may correct the property and resubmit.
type PropertyFailure struct {
	Property string
	Reason   string
}

func (f PropertyFailure) String() string {
	return fmt.Sprintf("%s: %s", f.Property, f.Reason)
}

// ValidationError aggregates the per-property input validation failures of a
// single Construct or Call request. The dispatcher's internal state is
// untouched when a ValidationError is returned.
type ValidationError struct {
	Failures []PropertyFailure
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.String()
	}
	return "input validation failed: " + strings.Join(msgs, "; ")
}

// PartialError reports that a single result field failed to compute. For
// non-atomic methods the other fields of the same bag remain usable. Method
// handlers return one or more PartialErrors (joined with errors.Join) to
// report per-field failures.
type PartialError struct {
	Field string
	Cause error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("result field '%s' failed: %v", e.Field, e.Cause)
}

// Unwrap returns the cause of the field failure.
func (e *PartialError) Unwrap() error {
	return e.Cause
}

// MethodError reports a whole-call failure: atomic methods with any field
// failure, or invoked logic that raised an unrecoverable condition (including
// a panic, which the dispatcher converts rather than crashing).
type MethodError struct {
	Op    string
	Cause error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("'%s' failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *MethodError) Unwrap() error {
	return e.Cause
}

// partialFields extracts the PartialErrors carried by err, unwrapping joined
// errors. It returns nil if err contains anything that is not a PartialError,
// in which case the failure is not per-field and fails the whole call.
func partialFields(err error) []*PartialError {
	var out []*PartialError
	var walk func(error) bool
	walk = func(e error) bool {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, sub := range joined.Unwrap() {
				if !walk(sub) {
					return false
				}
			}
			return true
		}
		var pe *PartialError
		if errors.As(e, &pe) {
			out = append(out, pe)
			return true
		}
		return false
	}
	if !walk(err) {
		return nil
	}
	return out
}
