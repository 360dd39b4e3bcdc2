package dispatch

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/componentd/internal/manifest"
	"github.com/vk/componentd/internal/value"
)

// resolveBag validates a property bag against the declared inputs: applies
// defaults, rejects undeclared and missing-required properties, and converts
// every value to its declared type. Unknown values pass validation only in
// preview mode, where Unknown is a legitimate state rather than an error.
// Failures are aggregated per property and leave no state behind.
func resolveBag(bag map[string]cty.Value, defs map[string]*manifest.Input, preview bool) (map[string]cty.Value, error) {
	var failures []PropertyFailure
	resolved := make(map[string]cty.Value, len(defs))

	// Deterministic failure order regardless of map iteration.
	names := make([]string, 0, len(bag))
	for name := range bag {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := defs[name]; !ok {
			failures = append(failures, PropertyFailure{Property: name, Reason: "not a declared input"})
		}
	}

	defNames := make([]string, 0, len(defs))
	for name := range defs {
		defNames = append(defNames, name)
	}
	sort.Strings(defNames)

	for _, name := range defNames {
		def := defs[name]
		v, provided := bag[name]
		if !provided {
			if def.Default != nil {
				resolved[name] = *def.Default
				continue
			}
			if def.Optional {
				continue
			}
			failures = append(failures, PropertyFailure{Property: name, Reason: "missing required input"})
			continue
		}

		if !v.IsWhollyKnown() && !preview {
			failures = append(failures, PropertyFailure{Property: name, Reason: "value is unknown outside preview mode"})
			continue
		}

		converted, err := convert.Convert(v, def.Type)
		if err != nil {
			failures = append(failures, PropertyFailure{
				Property: name,
				Reason:   fmt.Sprintf("cannot convert %s to %s: %v", v.Type().FriendlyName(), def.Type.FriendlyName(), err),
			})
			continue
		}
		resolved[name] = converted
	}

	if len(failures) > 0 {
		return nil, &ValidationError{Failures: failures}
	}
	return resolved, nil
}

// anyUnknown reports whether any value in a resolved bag is not wholly known.
func anyUnknown(bag map[string]cty.Value) bool {
	return value.AnyUnknown(bag)
}

// decodeArgs populates a handler's args struct from a resolved, wholly known
// bag. Fields bind by compo tag; marks are stripped before decoding since
// secrecy and dependency metadata never reach user logic.
func decodeArgs(args any, bag map[string]cty.Value) error {
	structVal := reflect.ValueOf(args)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() {
		return fmt.Errorf("args must be a non-nil pointer")
	}
	structVal = structVal.Elem()
	structType := structVal.Type()

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		fieldVal := structVal.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		tag := field.Tag.Get("compo")
		tagName := strings.Split(tag, ",")[0]
		if tagName == "" || tagName == "-" {
			continue
		}

		v, ok := bag[tagName]
		if !ok {
			continue
		}
		unmarked, _ := v.UnmarkDeep()
		if err := gocty.FromCtyValue(unmarked, fieldVal.Addr().Interface()); err != nil {
			return fmt.Errorf("failed to decode argument '%s': %w", tagName, err)
		}
	}
	return nil
}

// encodeOutputs extracts the declared outputs from a handler's returned
// struct: each compo-tagged field is converted to its declared type, secret-
// marked per the manifest, and tagged with the given dependency set. Fields
// named in skip are omitted (their computation failed and is reported
// separately).
func encodeOutputs(result any, defs map[string]*manifest.Output, deps value.DepSet, skip map[string]struct{}) (map[string]cty.Value, error) {
	if result == nil {
		if len(defs) == 0 {
			return map[string]cty.Value{}, nil
		}
		return nil, fmt.Errorf("handler returned no result but manifest declares outputs")
	}

	structVal := reflect.ValueOf(result)
	for structVal.Kind() == reflect.Ptr {
		if structVal.IsNil() {
			return nil, fmt.Errorf("handler returned a nil result")
		}
		structVal = structVal.Elem()
	}
	if structVal.Kind() != reflect.Struct {
		return nil, fmt.Errorf("handler result must be a struct, got %T", result)
	}
	structType := structVal.Type()

	fields := make(map[string]reflect.Value)
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("compo")
		tagName := strings.Split(tag, ",")[0]
		if tagName != "" && tagName != "-" {
			fields[tagName] = structVal.Field(i)
		}
	}

	outputs := make(map[string]cty.Value, len(defs))
	for name, def := range defs {
		if _, skipped := skip[name]; skipped {
			continue
		}
		fieldVal, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("handler result has no field for declared output '%s'", name)
		}

		impliedType, err := gocty.ImpliedType(fieldVal.Interface())
		if err != nil {
			return nil, fmt.Errorf("output '%s': could not imply cty type from %s: %w", name, fieldVal.Type(), err)
		}
		v, err := gocty.ToCtyValue(fieldVal.Interface(), impliedType)
		if err != nil {
			return nil, fmt.Errorf("output '%s': %w", name, err)
		}
		converted, err := convert.Convert(v, def.Type)
		if err != nil {
			return nil, fmt.Errorf("output '%s': cannot convert to declared type %s: %w", name, def.Type.FriendlyName(), err)
		}

		converted = value.WithDeps(converted, deps)
		if def.Secret {
			converted = value.MarkSecret(converted)
		}
		outputs[name] = converted
	}
	return outputs, nil
}

// unknownOutputs builds the all-Unknown output bag used when construction or
// a method body is skipped in preview mode. Every declared output resolves
// Unknown (never a fabricated concrete value), tagged with the triggering
// dependencies.
func unknownOutputs(defs map[string]*manifest.Output, deps value.DepSet) map[string]cty.Value {
	outputs := make(map[string]cty.Value, len(defs))
	for name, def := range defs {
		v := value.WithDeps(value.Unknown(def.Type), deps)
		if def.Secret {
			v = value.MarkSecret(v)
		}
		outputs[name] = v
	}
	return outputs
}
