package registry

import (
	"fmt"
	"log/slog"
	"reflect"
)

// RegisteredConstructor holds the compiled Go parts of a component's
// construct lifecycle. Fn must have the signature
// func(ctx context.Context, args *A) (state any, err error); the returned
// state's tagged fields are the component's outputs and the state is the
// receiver for subsequent method calls.
type RegisteredConstructor struct {
	NewArgs  func() any
	ArgsType reflect.Type
	Fn       any
}

// RegisteredMethod holds the compiled Go parts of a component method. Fn must
// have the signature func(ctx context.Context, state *S, args *A) (res any,
// err error); the result's tagged fields are the method's outputs.
type RegisteredMethod struct {
	NewArgs  func() any
	ArgsType reflect.Type
	Fn       any
}

// RegisterConstructor registers a Go function for a component's construct
// lifecycle event.
func (r *Registry) RegisterConstructor(name string, handler *RegisteredConstructor) {
	if _, exists := r.ConstructRegistry[name]; exists {
		panic(fmt.Sprintf("construct handler with name '%s' already registered", name))
	}
	slog.Debug("Registering construct handler.", "name", name)
	r.ConstructRegistry[name] = handler
}

// RegisterMethod registers a Go function for a component method.
func (r *Registry) RegisterMethod(name string, handler *RegisteredMethod) {
	if _, exists := r.MethodRegistry[name]; exists {
		panic(fmt.Sprintf("method handler with name '%s' already registered", name))
	}
	slog.Debug("Registering method handler.", "name", name)
	r.MethodRegistry[name] = handler
}
