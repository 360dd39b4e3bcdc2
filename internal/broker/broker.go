// Package broker is the caller-facing façade over the dispatchers. It owns
// the result cells for construction and call outputs: every await resolves
// exactly once against a cell populated at the end of its originating
// synchronous dispatch; there is no background resolution. The broker also
// enforces the happens-before edge between a resource's Construct and any
// Call referencing its handle.
package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/componentd/internal/dispatch"
)

// cell is a plain result slot: either a resolved output bag (with optional
// per-field failures) or a stored failure every await resolves to.
type cell struct {
	outputs       map[string]cty.Value
	fieldFailures map[string]*dispatch.PartialError
	err           error
}

// Broker resolves output futures for constructed resources and method calls.
type Broker struct {
	dispatcher *dispatch.Dispatcher

	mu         sync.Mutex
	constructs map[string]*cell // keyed by handle URN
	calls      map[string]*cell // keyed by call ID
}

// New creates a Broker over the given dispatcher.
func New(d *dispatch.Dispatcher) *Broker {
	return &Broker{
		dispatcher: d,
		constructs: make(map[string]*cell),
		calls:      make(map[string]*cell),
	}
}

// Construct dispatches a construct request and records its result cell.
// Protocol-level failures (unregistered type, input validation) return the
// error directly: no handle was issued, so there is nothing to await. A
// user-logic failure after handle issuance is stored in the cell, so awaits
// tied to the handle resolve to the failure instead of hanging.
func (b *Broker) Construct(ctx context.Context, req dispatch.ConstructRequest) (dispatch.Handle, error) {
	res, err := b.dispatcher.Construct(ctx, req)
	if err != nil {
		if res == nil {
			return dispatch.Handle{}, err
		}
		b.mu.Lock()
		if _, exists := b.constructs[res.Handle.URN]; !exists {
			b.constructs[res.Handle.URN] = &cell{err: err}
		}
		b.mu.Unlock()
		return res.Handle, err
	}

	b.mu.Lock()
	if _, exists := b.constructs[res.Handle.URN]; !exists {
		b.constructs[res.Handle.URN] = &cell{outputs: res.Outputs}
	}
	b.mu.Unlock()
	return res.Handle, nil
}

// Call dispatches a method call against a previously constructed handle and
// returns an ID for awaiting its results. The broker refuses to dispatch a
// Call whose handle has not produced a ConstructResult here: Construct
// happens-before every Call on the same handle. Execution failures are
// stored in the cell; protocol failures (unknown method, validation) are
// returned directly with no cell.
func (b *Broker) Call(ctx context.Context, handle dispatch.Handle, method string, args map[string]cty.Value, preview bool) (string, error) {
	b.mu.Lock()
	constructCell, seen := b.constructs[handle.URN]
	b.mu.Unlock()
	if !seen {
		return "", &dispatch.InvalidHandleError{URN: handle.URN, Reason: "construct has not completed for this handle"}
	}
	if constructCell.err != nil {
		return "", &dispatch.InvalidHandleError{URN: handle.URN, Reason: "construct failed for this handle"}
	}

	res, err := b.dispatcher.Call(ctx, dispatch.CallRequest{
		Handle:  handle.URN,
		Method:  method,
		Args:    args,
		Preview: preview,
	})

	switch {
	case err == nil:
		id := uuid.NewString()
		b.mu.Lock()
		b.calls[id] = &cell{outputs: res.Outputs, fieldFailures: res.FieldFailures}
		b.mu.Unlock()
		return id, nil

	case isProtocolError(err):
		return "", err

	default:
		// Method execution failed; store the failure so pending awaits
		// resolve to it rather than hanging.
		id := uuid.NewString()
		b.mu.Lock()
		b.calls[id] = &cell{err: err}
		b.mu.Unlock()
		return id, nil
	}
}

// AwaitOutput resolves a named construction output of a handle. Resolution
// is idempotent: repeated awaits return the cached value with its dependency
// marks preserved. A field absent from the bag resolves to a null value;
// result bags tolerate missing optional fields.
func (b *Broker) AwaitOutput(handle dispatch.Handle, field string) (cty.Value, error) {
	b.mu.Lock()
	c, ok := b.constructs[handle.URN]
	b.mu.Unlock()
	if !ok {
		return cty.NilVal, &dispatch.InvalidHandleError{URN: handle.URN, Reason: "construct has not completed for this handle"}
	}
	return c.resolve(field)
}

// AwaitCallResult resolves a named result field of a dispatched call, with
// the same idempotence and missing-field semantics as AwaitOutput.
func (b *Broker) AwaitCallResult(callID, field string) (cty.Value, error) {
	b.mu.Lock()
	c, ok := b.calls[callID]
	b.mu.Unlock()
	if !ok {
		return cty.NilVal, &dispatch.InvalidHandleError{URN: callID, Reason: "no dispatched call with this ID"}
	}
	return c.resolve(field)
}

// Drop forwards an engine-initiated destroy and forgets the construct cell.
// Resolved outputs on other handles are unaffected.
func (b *Broker) Drop(handle dispatch.Handle) error {
	if err := b.dispatcher.Drop(handle.URN); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.constructs, handle.URN)
	b.mu.Unlock()
	return nil
}

// resolve returns the cell's value for a field, or the stored failure.
func (c *cell) resolve(field string) (cty.Value, error) {
	if c.err != nil {
		return cty.NilVal, c.err
	}
	if pe, failed := c.fieldFailures[field]; failed {
		return cty.NilVal, pe
	}
	v, ok := c.outputs[field]
	if !ok {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	return v, nil
}

// isProtocolError reports whether err is a caller protocol violation rather
// than a failure of invoked logic.
func isProtocolError(err error) bool {
	switch err.(type) {
	case *dispatch.InvalidHandleError, *dispatch.UnknownMethodError,
		*dispatch.UnregisteredTypeError, *dispatch.ValidationError:
		return true
	}
	return false
}
