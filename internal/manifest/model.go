package manifest

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/componentd/internal/schema"
)

// Input is a resolved input property definition.
type Input struct {
	Name        string
	Type        cty.Type
	Description string
	Default     *cty.Value
	Optional    bool
	Secret      bool
}

// Output is a resolved output property definition.
type Output struct {
	Name        string
	Type        cty.Type
	Description string
	Secret      bool
}

// Method is a resolved method definition, keyed under its component.
type Method struct {
	Name        string
	Handler     string
	Description string
	Atomic      bool
	Inputs      map[string]*Input
	Outputs     map[string]*Output
}

// Component is a resolved component type definition.
type Component struct {
	Token            string
	Description      string
	ConstructHandler string
	Inputs           map[string]*Input
	Outputs          map[string]*Output
	Methods          map[string]*Method
}

// Model is the collection of all component definitions loaded from manifests.
type Model struct {
	Components map[string]*Component
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{Components: make(map[string]*Component)}
}

// translateComponent resolves a raw manifest block into the model form.
func translateComponent(ctx context.Context, def *schema.ComponentDefinition) (*Component, error) {
	if def.Token == "" {
		return nil, fmt.Errorf("component block is missing its type token label")
	}
	if def.Lifecycle == nil || def.Lifecycle.Construct == "" {
		return nil, fmt.Errorf("component %q: lifecycle block with a construct handler is required", def.Token)
	}

	inputs, err := translateInputs(ctx, def.Token, def.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := translateOutputs(ctx, def.Token, def.Outputs)
	if err != nil {
		return nil, err
	}

	methods := make(map[string]*Method, len(def.Methods))
	for _, m := range def.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("component %q: method block is missing its name label", def.Token)
		}
		if _, exists := methods[m.Name]; exists {
			return nil, fmt.Errorf("component %q: duplicate method %q", def.Token, m.Name)
		}
		if m.Handler == "" {
			return nil, fmt.Errorf("component %q: method %q is missing its handler", def.Token, m.Name)
		}
		scope := fmt.Sprintf("%s.%s", def.Token, m.Name)
		mIn, err := translateInputs(ctx, scope, m.Inputs)
		if err != nil {
			return nil, err
		}
		mOut, err := translateOutputs(ctx, scope, m.Outputs)
		if err != nil {
			return nil, err
		}
		methods[m.Name] = &Method{
			Name:        m.Name,
			Handler:     m.Handler,
			Description: m.Description,
			Atomic:      m.Atomic,
			Inputs:      mIn,
			Outputs:     mOut,
		}
	}

	return &Component{
		Token:            def.Token,
		Description:      def.Description,
		ConstructHandler: def.Lifecycle.Construct,
		Inputs:           inputs,
		Outputs:          outputs,
		Methods:          methods,
	}, nil
}

func translateInputs(ctx context.Context, scope string, defs []*schema.InputDefinition) (map[string]*Input, error) {
	out := make(map[string]*Input, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%s: input block is missing its name label", scope)
		}
		if _, exists := out[d.Name]; exists {
			return nil, fmt.Errorf("%s: duplicate input %q", scope, d.Name)
		}
		ty, err := typeExprToCtyType(ctx, d.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: input %q: %w", scope, d.Name, err)
		}
		def := d.Default
		if def != nil {
			// A mistyped default is a manifest error, caught here rather than
			// surfacing from a later dispatch.
			converted, err := convert.Convert(*def, ty)
			if err != nil {
				return nil, fmt.Errorf("%s: input %q: invalid default: %w", scope, d.Name, err)
			}
			def = &converted
		}
		out[d.Name] = &Input{
			Name:        d.Name,
			Type:        ty,
			Description: d.Description,
			Default:     def,
			Optional:    d.Optional,
			Secret:      d.Secret,
		}
	}
	return out, nil
}

func translateOutputs(ctx context.Context, scope string, defs []*schema.OutputDefinition) (map[string]*Output, error) {
	out := make(map[string]*Output, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%s: output block is missing its name label", scope)
		}
		if _, exists := out[d.Name]; exists {
			return nil, fmt.Errorf("%s: duplicate output %q", scope, d.Name)
		}
		ty, err := typeExprToCtyType(ctx, d.Type)
		if err != nil {
			return nil, fmt.Errorf("%s: output %q: %w", scope, d.Name, err)
		}
		out[d.Name] = &Output{
			Name:        d.Name,
			Type:        ty,
			Description: d.Description,
			Secret:      d.Secret,
		}
	}
	return out, nil
}
