// Package labels is a built-in component that merges label maps and renders
// them deterministically. It exercises collection-typed inputs and outputs.
package labels

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/vk/componentd/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// ConstructArgs defines the inputs for the labels component.
type ConstructArgs struct {
	Base  map[string]string `compo:"base"`
	Extra map[string]string `compo:"extra"`
}

// Labels is the component state; Merged and Count are the outputs.
type Labels struct {
	Merged map[string]string `compo:"merged"`
	Count  int               `compo:"count"`
}

// RenderArgs defines the arguments of the render method.
type RenderArgs struct {
	Separator string `compo:"separator"`
}

// RenderResult defines the result bag of the render method.
type RenderResult struct {
	Lines []string `compo:"lines"`
}

// OnConstructLabels merges base and extra label maps; extra wins on
// conflicting keys.
func OnConstructLabels(ctx context.Context, args *ConstructArgs) (any, error) {
	merged := make(map[string]string, len(args.Base)+len(args.Extra))
	for k, v := range args.Base {
		merged[k] = v
	}
	for k, v := range args.Extra {
		merged[k] = v
	}
	return &Labels{Merged: merged, Count: len(merged)}, nil
}

// OnRenderLabels renders the merged labels as sorted "key<sep>value" lines.
func OnRenderLabels(ctx context.Context, l *Labels, args *RenderArgs) (any, error) {
	keys := make([]string, 0, len(l.Merged))
	for k := range l.Merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s%s%s", k, args.Separator, l.Merged[k]))
	}
	return &RenderResult{Lines: lines}, nil
}

// Register registers the handlers with the provider.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterConstructor("OnConstructLabels", &registry.RegisteredConstructor{
		NewArgs:  func() any { return new(ConstructArgs) },
		ArgsType: reflect.TypeOf(ConstructArgs{}),
		Fn:       OnConstructLabels,
	})
	r.RegisterMethod("OnRenderLabels", &registry.RegisteredMethod{
		NewArgs:  func() any { return new(RenderArgs) },
		ArgsType: reflect.TypeOf(RenderArgs{}),
		Fn:       OnRenderLabels,
	})
}
