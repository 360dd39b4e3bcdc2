package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/componentd/internal/ctxlog"
	"github.com/vk/componentd/internal/value"
)

// CallRequest asks the dispatcher to invoke a named method on a constructed
// component instance.
type CallRequest struct {
	Handle  string
	Method  string
	Args    map[string]cty.Value
	Preview bool
}

// CallResult carries a method's resolved output bag. For non-atomic methods
// FieldFailures reports the result fields that failed to compute; the other
// fields of the bag remain usable.
type CallResult struct {
	Outputs       map[string]cty.Value
	FieldFailures map[string]*PartialError
}

// Call handles an invoke-named-method request against an existing handle.
// The handle must have been issued by this dispatcher's session and its
// Construct must have completed.
func (d *Dispatcher) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	logger := ctxlog.FromContext(ctx).With("handle", req.Handle, "method", req.Method)
	logger.Debug("Call dispatch started.", "preview", req.Preview)

	rec, err := d.lookup(req.Handle)
	if err != nil {
		return nil, err
	}

	def, ok := d.reg.Component(rec.handle.Token)
	if !ok {
		return nil, &UnregisteredTypeError{Token: rec.handle.Token}
	}
	m, ok := def.Methods[req.Method]
	if !ok {
		return nil, &UnknownMethodError{Token: rec.handle.Token, Method: req.Method}
	}
	handler, ok := d.reg.MethodRegistry[m.Handler]
	if !ok {
		return nil, &UnknownMethodError{Token: rec.handle.Token, Method: req.Method}
	}

	resolved, err := resolveBag(req.Args, m.Inputs, req.Preview)
	if err != nil {
		logger.Debug("Call argument validation failed.", "error", err)
		return nil, err
	}

	deps := value.BagDeps(req.Args).Union(value.NewDepSet(rec.handle.URN))

	// Preview taint: an unknown argument, or a target whose construction
	// outputs are not fully resolved, taints every result field. The method
	// body must not run with side effects against unknowns.
	if req.Preview && (rec.state == nil || value.AnyUnknown(rec.outputs) || anyUnknown(resolved)) {
		taint := deps.Union(value.BagDeps(rec.outputs))
		logger.Debug("Unknowns in preview, skipping method body.")
		return &CallResult{Outputs: unknownOutputs(m.Outputs, taint)}, nil
	}
	if rec.state == nil {
		// Construction was skipped in a preview pass; the method cannot run
		// in apply mode against a body-less instance.
		return nil, &InvalidHandleError{URN: req.Handle, Reason: "construct did not execute for this handle"}
	}

	args := handler.NewArgs()
	if err := decodeArgs(args, resolved); err != nil {
		return nil, &MethodError{Op: req.Method, Cause: err}
	}

	res, err := invokeMethod(ctx, handler.Fn, rec.state, args)
	if err != nil {
		partials := partialFields(err)
		if len(partials) == 0 || m.Atomic || res == nil {
			// Whole-call failure: atomic semantics, a non-field error, or no
			// partial result to salvage.
			logger.Debug("Method failed.", "error", err)
			return nil, &MethodError{Op: req.Method, Cause: err}
		}

		skip := make(map[string]struct{}, len(partials))
		failures := make(map[string]*PartialError, len(partials))
		for _, pe := range partials {
			skip[pe.Field] = struct{}{}
			failures[pe.Field] = pe
		}
		outputs, encErr := encodeOutputs(res, m.Outputs, deps, skip)
		if encErr != nil {
			return nil, &MethodError{Op: req.Method, Cause: encErr}
		}
		logger.Debug("Method finished with per-field failures.", "failed_fields", len(failures))
		return &CallResult{Outputs: outputs, FieldFailures: failures}, nil
	}

	outputs, err := encodeOutputs(res, m.Outputs, deps, nil)
	if err != nil {
		return nil, &MethodError{Op: req.Method, Cause: err}
	}

	logger.Debug("Call dispatch finished.")
	return &CallResult{Outputs: outputs}, nil
}

// invokeMethod calls a method handler via reflection, converting a panic in
// user logic into an error instead of crashing the dispatcher.
func invokeMethod(ctx context.Context, fn any, state any, args any) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("method handler panicked: %v", r)
		}
	}()

	results := reflect.ValueOf(fn).Call([]reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(state),
		reflect.ValueOf(args),
	})
	resVal := results[0]
	if resVal.Kind() == reflect.Ptr && resVal.IsNil() {
		res = nil
	} else {
		res = resVal.Interface()
	}
	if errResult := results[1].Interface(); errResult != nil {
		return res, errResult.(error)
	}
	return res, nil
}
