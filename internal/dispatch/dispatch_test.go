package dispatch

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/componentd/internal/manifest"
	"github.com/vk/componentd/internal/registry"
)

// The widget component exercises every dispatch path: defaults, secret
// outputs, a state-mutating method, a method with per-field failures, an
// atomic method, and handlers that fail or panic outright.
const widgetManifest = `
component "test:index:Widget" {
	lifecycle { construct = "OnConstructWidget" }

	input "name" { type = string }

	input "replicas" {
		type     = number
		default  = 1
		optional = true
	}

	output "id"   { type = string }
	output "size" { type = number }

	output "token" {
		type   = string
		secret = true
	}

	method "resize" {
		handler = "OnResizeWidget"

		input "to" { type = number }

		output "previous" { type = number }
		output "current"  { type = number }
	}

	method "stats" {
		handler = "OnStatsWidget"

		output "sum"    { type = number }
		output "halved" { type = number }
	}

	method "explode" {
		handler = "OnExplodeWidget"
		atomic  = true

		output "junk" { type = string }
	}

	method "crash" {
		handler = "OnCrashWidget"
	}
}`

type widgetArgs struct {
	Name     string `compo:"name"`
	Replicas int    `compo:"replicas"`
}

type widgetState struct {
	ID    string `compo:"id"`
	Size  int    `compo:"size"`
	Token string `compo:"token"`
}

type resizeArgs struct {
	To int `compo:"to"`
}

type resizeResult struct {
	Previous int `compo:"previous"`
	Current  int `compo:"current"`
}

type statsArgs struct{}

type statsResult struct {
	Sum    int `compo:"sum"`
	Halved int `compo:"halved"`
}

type emptyArgs struct{}

func onConstructWidget(ctx context.Context, args *widgetArgs) (any, error) {
	switch args.Name {
	case "fail":
		return nil, errors.New("widget refused to exist")
	case "panic":
		panic("construct blew up")
	}
	return &widgetState{
		ID:    "widget-" + args.Name,
		Size:  args.Replicas,
		Token: "tok-" + args.Name,
	}, nil
}

func onResizeWidget(ctx context.Context, s *widgetState, args *resizeArgs) (any, error) {
	prev := s.Size
	s.Size = args.To
	return &resizeResult{Previous: prev, Current: s.Size}, nil
}

func onStatsWidget(ctx context.Context, s *widgetState, args *statsArgs) (any, error) {
	res := &statsResult{Sum: s.Size * 2}
	if s.Size%2 != 0 {
		return res, errors.Join(&PartialError{Field: "halved", Cause: errors.New("size is odd")})
	}
	res.Halved = s.Size / 2
	return res, nil
}

func onExplodeWidget(ctx context.Context, s *widgetState, args *emptyArgs) (any, error) {
	return nil, &PartialError{Field: "junk", Cause: errors.New("nothing to salvage")}
}

func onCrashWidget(ctx context.Context, s *widgetState, args *emptyArgs) (any, error) {
	panic("method blew up")
}

// newTestDispatcher builds a dispatcher over a registry holding the widget
// component, validated the same way app startup validates it.
func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	reg := registry.New()
	reg.RegisterConstructor("OnConstructWidget", &registry.RegisteredConstructor{
		NewArgs:  func() any { return new(widgetArgs) },
		ArgsType: reflect.TypeOf(widgetArgs{}),
		Fn:       onConstructWidget,
	})
	reg.RegisterMethod("OnResizeWidget", &registry.RegisteredMethod{
		NewArgs:  func() any { return new(resizeArgs) },
		ArgsType: reflect.TypeOf(resizeArgs{}),
		Fn:       onResizeWidget,
	})
	reg.RegisterMethod("OnStatsWidget", &registry.RegisteredMethod{
		NewArgs:  func() any { return new(statsArgs) },
		ArgsType: reflect.TypeOf(statsArgs{}),
		Fn:       onStatsWidget,
	})
	reg.RegisterMethod("OnExplodeWidget", &registry.RegisteredMethod{
		NewArgs:  func() any { return new(emptyArgs) },
		ArgsType: reflect.TypeOf(emptyArgs{}),
		Fn:       onExplodeWidget,
	})
	reg.RegisterMethod("OnCrashWidget", &registry.RegisteredMethod{
		NewArgs:  func() any { return new(emptyArgs) },
		ArgsType: reflect.TypeOf(emptyArgs{}),
		Fn:       onCrashWidget,
	})

	model, err := manifest.ParseSources(context.Background(), map[string]string{"widget.hcl": widgetManifest})
	require.NoError(t, err)
	reg.PopulateDefinitionsFromModel(model)
	require.NoError(t, reg.ValidateRegistry(context.Background()))

	return New(reg)
}
