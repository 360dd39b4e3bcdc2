package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/componentd/internal/ctxlog"
	"github.com/vk/componentd/internal/manifest"
)

// ValidateRegistry performs a strict parity check between manifests and Go
// code: every referenced handler must be registered, and the handler's args
// struct must agree with the manifest's input declarations in both presence
// and type.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string

	for token, def := range r.Definitions {
		handler, ok := r.ConstructRegistry[def.ConstructHandler]
		if !ok {
			errs = append(errs, fmt.Sprintf("component '%s': construct handler '%s' is not registered", token, def.ConstructHandler))
		} else {
			errs = append(errs, checkArgsParity(ctx, token, handler.ArgsType, def.Inputs)...)
		}

		for name, m := range def.Methods {
			mh, ok := r.MethodRegistry[m.Handler]
			if !ok {
				errs = append(errs, fmt.Sprintf("component '%s', method '%s': handler '%s' is not registered", token, name, m.Handler))
				continue
			}
			scope := fmt.Sprintf("%s.%s", token, name)
			errs = append(errs, checkArgsParity(ctx, scope, mh.ArgsType, m.Inputs)...)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// checkArgsParity compares the compo-tagged fields of a handler's args struct
// against the manifest's input declarations.
func checkArgsParity(ctx context.Context, scope string, argsType reflect.Type, inputs map[string]*manifest.Input) []string {
	logger := ctxlog.FromContext(ctx)
	var errs []string

	if argsType == nil {
		if len(inputs) > 0 {
			errs = append(errs, fmt.Sprintf("'%s': manifest declares inputs, but Go handler has no args struct", scope))
		}
		return errs
	}

	goInputs := make(map[string]reflect.StructField)
	for i := 0; i < argsType.NumField(); i++ {
		field := argsType.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("compo")
		tagName := strings.Split(tag, ",")[0]
		if tagName != "" && tagName != "-" {
			goInputs[tagName] = field
		}
	}

	// Check for presence mismatches.
	for name := range goInputs {
		if _, ok := inputs[name]; !ok {
			errs = append(errs, fmt.Sprintf("'%s': Go struct has field for input '%s' which is not declared in manifest", scope, name))
		}
	}
	for name := range inputs {
		if _, ok := goInputs[name]; !ok {
			errs = append(errs, fmt.Sprintf("'%s': manifest declares input '%s' which is not found in Go struct", scope, name))
		}
	}

	// Check for type mismatches.
	for name, inputDef := range inputs {
		goField, ok := goInputs[name]
		if !ok {
			continue // Already handled by presence check.
		}

		if inputDef.Type.Equals(cty.DynamicPseudoType) {
			logger.Warn("Manifest input with 'type = any' disables static type checking.", "scope", scope, "input", name)
			continue
		}

		goFieldType, err := gocty.ImpliedType(reflect.Zero(goField.Type).Interface())
		if err != nil {
			errs = append(errs, fmt.Sprintf("'%s', input '%s': could not imply cty type from Go field type %s: %v", scope, name, goField.Type, err))
			continue
		}

		if !inputDef.Type.Equals(goFieldType) {
			errs = append(errs, fmt.Sprintf("'%s', input '%s': type mismatch. Manifest requires '%s' but Go struct field '%s' provides '%s'",
				scope, name, inputDef.Type.FriendlyName(), goField.Name, goFieldType.FriendlyName()))
		}
	}

	return errs
}
