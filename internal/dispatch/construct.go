package dispatch

import (
	"context"
	"fmt"
	"reflect"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/componentd/internal/ctxlog"
	"github.com/vk/componentd/internal/value"
)

// ConstructRequest asks the dispatcher to instantiate a component resource
// from typed inputs. Preview marks a dry run: unknown inputs are legitimate
// and construction logic must not run against them.
type ConstructRequest struct {
	Token   string
	Name    string
	Inputs  map[string]cty.Value
	Preview bool
}

// ConstructResult carries the issued handle and the resolved output bag. On
// a user-logic failure the handle is still set so the caller can tie pending
// awaits to the failure.
type ConstructResult struct {
	Handle  Handle
	Outputs map[string]cty.Value
}

// Construct handles a construct-a-component request. Repeated requests for
// the same (token, name) are idempotent: the stored result is returned, so a
// replayed unchanged request observes the same handle identity.
func (d *Dispatcher) Construct(ctx context.Context, req ConstructRequest) (*ConstructResult, error) {
	logger := ctxlog.FromContext(ctx).With("token", req.Token, "name", req.Name)
	logger.Debug("Construct dispatch started.", "preview", req.Preview)

	def, ok := d.reg.Component(req.Token)
	if !ok {
		return nil, &UnregisteredTypeError{Token: req.Token}
	}
	handler, ok := d.reg.ConstructRegistry[def.ConstructHandler]
	if !ok {
		// Startup validation makes this unreachable unless the registry was
		// never validated.
		return nil, &UnregisteredTypeError{Token: req.Token}
	}

	h := d.newHandle(req.Token, req.Name)

	d.mu.RLock()
	rec, replay := d.records[h.URN]
	d.mu.RUnlock()
	if replay {
		logger.Debug("Construct replay observed, returning stored result.", "urn", h.URN)
		return &ConstructResult{Handle: rec.handle, Outputs: copyBag(rec.outputs)}, nil
	}

	resolved, err := resolveBag(req.Inputs, def.Inputs, req.Preview)
	if err != nil {
		logger.Debug("Construct input validation failed.", "error", err)
		return nil, err
	}

	// Every output depends on whatever the inputs depended on, plus the new
	// resource itself.
	deps := value.BagDeps(req.Inputs).Union(value.NewDepSet(h.URN))

	if req.Preview && anyUnknown(resolved) {
		logger.Debug("Unknown inputs in preview, skipping construct handler.")
		outputs := unknownOutputs(def.Outputs, deps)
		d.store(&record{handle: h, state: nil, outputs: outputs})
		return &ConstructResult{Handle: h, Outputs: copyBag(outputs)}, nil
	}

	args := handler.NewArgs()
	if err := decodeArgs(args, resolved); err != nil {
		return nil, &MethodError{Op: "construct " + req.Token, Cause: err}
	}

	state, err := invokeConstruct(ctx, handler.Fn, args)
	if err != nil {
		logger.Debug("Construct handler failed.", "error", err)
		return &ConstructResult{Handle: h}, &MethodError{Op: "construct " + req.Token, Cause: err}
	}

	outputs, err := encodeOutputs(state, def.Outputs, deps, nil)
	if err != nil {
		return &ConstructResult{Handle: h}, &MethodError{Op: "construct " + req.Token, Cause: err}
	}

	d.store(&record{handle: h, state: state, outputs: outputs})
	logger.Debug("Construct dispatch finished.", "urn", h.URN)
	return &ConstructResult{Handle: h, Outputs: copyBag(outputs)}, nil
}

// store inserts a record, keeping the first one if a concurrent identical
// construct won the race. Handle identity is immutable once issued.
func (d *Dispatcher) store(rec *record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.records[rec.handle.URN]; exists {
		return
	}
	d.records[rec.handle.URN] = rec
}

// invokeConstruct calls a construct handler via reflection, converting a
// panic in user logic into an error instead of crashing the dispatcher.
func invokeConstruct(ctx context.Context, fn any, args any) (state any, err error) {
	defer func() {
		if r := recover(); r != nil {
			state = nil
			err = fmt.Errorf("construct handler panicked: %v", r)
		}
	}()

	results := reflect.ValueOf(fn).Call([]reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(args),
	})
	state, errResult := results[0].Interface(), results[1].Interface()
	if errResult != nil {
		return nil, errResult.(error)
	}
	return state, nil
}

func copyBag(bag map[string]cty.Value) map[string]cty.Value {
	out := make(map[string]cty.Value, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}
