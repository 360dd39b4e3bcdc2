package server

import (
	"errors"

	"github.com/vk/componentd/internal/dispatch"
	"github.com/vk/componentd/internal/wire"
)

// RequestKind discriminates the message schemas carried by the transport.
type RequestKind string

const (
	// KindConstruct instantiates a component resource from typed inputs.
	KindConstruct RequestKind = "construct"
	// KindCall invokes a named method on a constructed resource.
	KindCall RequestKind = "call"
	// KindAwaitOutput resolves a named construction output of a handle.
	KindAwaitOutput RequestKind = "await_output"
	// KindAwaitCall resolves a named result field of a dispatched call.
	KindAwaitCall RequestKind = "await_call"
	// KindDrop forwards an engine-initiated destroy of a handle.
	KindDrop RequestKind = "drop"
)

// Request is the envelope for every message a caller sends. Which fields are
// meaningful depends on Kind. Inputs carries a wire-encoded property bag.
type Request struct {
	ID      string      `msgpack:"id"`
	Kind    RequestKind `msgpack:"kind"`
	Token   string      `msgpack:"token,omitempty"`
	Name    string      `msgpack:"name,omitempty"`
	Handle  string      `msgpack:"handle,omitempty"`
	Method  string      `msgpack:"method,omitempty"`
	CallID  string      `msgpack:"call_id,omitempty"`
	Field   string      `msgpack:"field,omitempty"`
	Inputs  []byte      `msgpack:"inputs,omitempty"`
	Preview bool        `msgpack:"preview,omitempty"`
}

// Response is the envelope for every reply. Outputs carries a wire-encoded
// property bag; Value a single wire-encoded value (awaits).
type Response struct {
	ID      string     `msgpack:"id"`
	Handle  string     `msgpack:"handle,omitempty"`
	CallID  string     `msgpack:"call_id,omitempty"`
	Outputs []byte     `msgpack:"outputs,omitempty"`
	Value   []byte     `msgpack:"value,omitempty"`
	Error   *WireError `msgpack:"error,omitempty"`
}

// Error codes carried by WireError, mirroring the structured error kinds of
// the dispatch and wire packages.
const (
	CodeMalformedValue   = "malformed_value"
	CodeUnregisteredType = "unregistered_type"
	CodeUnknownMethod    = "unknown_method"
	CodeInvalidHandle    = "invalid_handle"
	CodeInputValidation  = "input_validation"
	CodePartialFailure   = "partial_failure"
	CodeMethodFailure    = "method_failure"
	CodeInternal         = "internal"
)

// WirePropertyFailure names one offending input property in an
// input_validation error.
type WirePropertyFailure struct {
	Property string `msgpack:"property"`
	Reason   string `msgpack:"reason"`
}

// WireError is the structured failure form every dispatch error maps onto.
type WireError struct {
	Code       string                `msgpack:"code"`
	Message    string                `msgpack:"message"`
	Field      string                `msgpack:"field,omitempty"`
	Properties []WirePropertyFailure `msgpack:"properties,omitempty"`
}

// Error implements the error interface.
func (e *WireError) Error() string {
	return e.Code + ": " + e.Message
}

// toWireError converts a structured dispatch/codec error into its wire form.
func toWireError(err error) *WireError {
	var malformed *wire.MalformedValueError
	if errors.As(err, &malformed) {
		return &WireError{Code: CodeMalformedValue, Message: malformed.Error()}
	}
	var unregistered *dispatch.UnregisteredTypeError
	if errors.As(err, &unregistered) {
		return &WireError{Code: CodeUnregisteredType, Message: unregistered.Error()}
	}
	var unknownMethod *dispatch.UnknownMethodError
	if errors.As(err, &unknownMethod) {
		return &WireError{Code: CodeUnknownMethod, Message: unknownMethod.Error()}
	}
	var invalidHandle *dispatch.InvalidHandleError
	if errors.As(err, &invalidHandle) {
		return &WireError{Code: CodeInvalidHandle, Message: invalidHandle.Error()}
	}
	var validation *dispatch.ValidationError
	if errors.As(err, &validation) {
		we := &WireError{Code: CodeInputValidation, Message: validation.Error()}
		for _, f := range validation.Failures {
			we.Properties = append(we.Properties, WirePropertyFailure{Property: f.Property, Reason: f.Reason})
		}
		return we
	}
	var partial *dispatch.PartialError
	if errors.As(err, &partial) {
		return &WireError{Code: CodePartialFailure, Message: partial.Error(), Field: partial.Field}
	}
	var method *dispatch.MethodError
	if errors.As(err, &method) {
		return &WireError{Code: CodeMethodFailure, Message: method.Error()}
	}
	return &WireError{Code: CodeInternal, Message: err.Error()}
}
