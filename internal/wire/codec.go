package wire

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/componentd/internal/value"
)

// MalformedValueError reports a wire payload that does not match the value
// grammar. It is fatal to the single decode that produced it.
type MalformedValueError struct {
	Reason string
}

// Error implements the error interface.
func (e *MalformedValueError) Error() string {
	return "malformed value: " + e.Reason
}

func malformedf(format string, args ...any) error {
	return &MalformedValueError{Reason: fmt.Sprintf(format, args...)}
}

// Node kinds. An unrecognized kind on decode is a MalformedValueError.
const (
	kindNull    = "null"
	kindBool    = "bool"
	kindNumber  = "number"
	kindString  = "string"
	kindList    = "list"
	kindSet     = "set"
	kindMap     = "map"
	kindTuple   = "tuple"
	kindObject  = "object"
	kindUnknown = "unknown"
)

// node is the recursive wire form of a single value.
type node struct {
	Kind string `msgpack:"k"`

	Bool bool   `msgpack:"b,omitempty"`
	Num  string `msgpack:"n,omitempty"`
	Str  string `msgpack:"s,omitempty"`

	// Elems holds children for list/set/tuple nodes. Keys/Vals hold the
	// sorted entries of map/object nodes.
	Elems []*node  `msgpack:"e,omitempty"`
	Keys  []string `msgpack:"mk,omitempty"`
	Vals  []*node  `msgpack:"mv,omitempty"`

	// Type is the JSON form of the cty type, carried by null and unknown
	// nodes (which have no payload to infer it from) and by typed
	// collections (so empty collections round-trip).
	Type []byte `msgpack:"t,omitempty"`

	Secret bool     `msgpack:"sec,omitempty"`
	Deps   []string `msgpack:"d,omitempty"`
}

// Encode serializes a value to wire bytes. The encoding is total over the
// value grammar and deterministic for identical logical values.
func Encode(v cty.Value) ([]byte, error) {
	n, err := encodeNode(v)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(n)
}

// Decode deserializes wire bytes produced by Encode. Unrecognized or
// structurally invalid payloads fail with MalformedValueError. Decoding is
// total over arbitrary input: cty constructor panics on hostile envelopes
// are converted to errors here, never propagated.
func Decode(raw []byte) (v cty.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = cty.NilVal
			err = malformedf("invalid value structure: %v", r)
		}
	}()

	var n node
	if err := msgpack.Unmarshal(raw, &n); err != nil {
		return cty.NilVal, malformedf("not a value envelope: %v", err)
	}
	return decodeNode(&n)
}

// EncodeBag serializes a property bag as a single object node.
func EncodeBag(bag map[string]cty.Value) ([]byte, error) {
	return Encode(objectOf(bag))
}

// DecodeBag deserializes a property bag encoded by EncodeBag. Marks on the
// bag's root node are pushed down onto every member, since the bag itself is
// only a naming container.
func DecodeBag(raw []byte) (map[string]cty.Value, error) {
	v, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	v, marks := v.Unmark()
	if !v.Type().IsObjectType() || v.IsNull() || !v.IsKnown() {
		return nil, malformedf("bag payload is not an object value")
	}
	bag := make(map[string]cty.Value)
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		bag[k.AsString()] = ev.WithMarks(marks)
	}
	return bag, nil
}

// objectOf builds an object value from a bag without disturbing the marks on
// the individual members.
func objectOf(bag map[string]cty.Value) cty.Value {
	if len(bag) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(bag)
}

func encodeNode(v cty.Value) (*node, error) {
	if v == cty.NilVal {
		return nil, malformedf("cannot encode the nil value")
	}

	v, marks := v.Unmark()
	n := &node{}
	for m := range marks {
		if m == value.Secret {
			n.Secret = true
		}
	}
	n.Deps = value.DepsOf(v.WithMarks(marks)).Sorted()

	ty := v.Type()
	switch {
	case !v.IsKnown():
		n.Kind = kindUnknown
		tj, err := ctyjson.MarshalType(ty)
		if err != nil {
			return nil, fmt.Errorf("cannot encode unknown value type: %w", err)
		}
		n.Type = tj
		return n, nil

	case v.IsNull():
		n.Kind = kindNull
		tj, err := ctyjson.MarshalType(ty)
		if err != nil {
			return nil, fmt.Errorf("cannot encode null value type: %w", err)
		}
		n.Type = tj
		return n, nil

	case ty == cty.Bool:
		n.Kind = kindBool
		n.Bool = v.True()
		return n, nil

	case ty == cty.Number:
		n.Kind = kindNumber
		n.Num = v.AsBigFloat().Text('g', -1)
		return n, nil

	case ty == cty.String:
		n.Kind = kindString
		n.Str = v.AsString()
		return n, nil

	case ty.IsListType(), ty.IsSetType(), ty.IsTupleType():
		switch {
		case ty.IsListType():
			n.Kind = kindList
		case ty.IsSetType():
			n.Kind = kindSet
		default:
			n.Kind = kindTuple
		}
		if n.Kind != kindTuple {
			tj, err := ctyjson.MarshalType(ty)
			if err != nil {
				return nil, fmt.Errorf("cannot encode collection type: %w", err)
			}
			n.Type = tj
		}
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			en, err := encodeNode(ev)
			if err != nil {
				return nil, err
			}
			n.Elems = append(n.Elems, en)
		}
		return n, nil

	case ty.IsMapType(), ty.IsObjectType():
		if ty.IsMapType() {
			n.Kind = kindMap
			tj, err := ctyjson.MarshalType(ty)
			if err != nil {
				return nil, fmt.Errorf("cannot encode collection type: %w", err)
			}
			n.Type = tj
		} else {
			n.Kind = kindObject
		}
		entries := make(map[string]cty.Value)
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			entries[k.AsString()] = ev
		}
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			en, err := encodeNode(entries[k])
			if err != nil {
				return nil, err
			}
			n.Keys = append(n.Keys, k)
			n.Vals = append(n.Vals, en)
		}
		return n, nil

	default:
		return nil, malformedf("unsupported value type %s", ty.FriendlyName())
	}
}

func decodeNode(n *node) (cty.Value, error) {
	if n == nil {
		return cty.NilVal, malformedf("missing value node")
	}

	v, err := decodePayload(n)
	if err != nil {
		return cty.NilVal, err
	}

	if len(n.Deps) > 0 {
		v = value.WithDeps(v, value.NewDepSet(n.Deps...))
	}
	if n.Secret {
		v = value.MarkSecret(v)
	}
	return v, nil
}

func decodePayload(n *node) (cty.Value, error) {
	switch n.Kind {
	case kindUnknown:
		// The unknown marker carries no payload; it must not be read back
		// as null or empty.
		ty, err := decodeType(n.Type)
		if err != nil {
			return cty.NilVal, err
		}
		return cty.UnknownVal(ty), nil

	case kindNull:
		ty, err := decodeType(n.Type)
		if err != nil {
			return cty.NilVal, err
		}
		return cty.NullVal(ty), nil

	case kindBool:
		return cty.BoolVal(n.Bool), nil

	case kindNumber:
		f, _, err := big.ParseFloat(n.Num, 10, 512, big.ToNearestEven)
		if err != nil {
			return cty.NilVal, malformedf("invalid number %q: %v", n.Num, err)
		}
		return cty.NumberVal(f), nil

	case kindString:
		return cty.StringVal(n.Str), nil

	case kindTuple:
		elems := make([]cty.Value, 0, len(n.Elems))
		for _, en := range n.Elems {
			ev, err := decodeNode(en)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, ev)
		}
		if len(elems) == 0 {
			return cty.EmptyTupleVal, nil
		}
		return cty.TupleVal(elems), nil

	case kindList, kindSet:
		ty, err := decodeType(n.Type)
		if err != nil {
			return cty.NilVal, err
		}
		if !ty.IsListType() && !ty.IsSetType() {
			return cty.NilVal, malformedf("%s node with non-collection type %s", n.Kind, ty.FriendlyName())
		}
		ety := ty.ElementType()
		elems := make([]cty.Value, 0, len(n.Elems))
		for i, en := range n.Elems {
			ev, err := decodeNode(en)
			if err != nil {
				return cty.NilVal, err
			}
			// Every element must match the declared element type; the cty
			// collection constructors panic on inconsistency rather than
			// reporting it.
			want := ety
			if want == cty.DynamicPseudoType && len(elems) > 0 {
				want = elems[0].Type()
			}
			if want != cty.DynamicPseudoType && !ev.Type().Equals(want) {
				return cty.NilVal, malformedf("%s element %d has type %s, want %s", n.Kind, i, ev.Type().FriendlyName(), want.FriendlyName())
			}
			elems = append(elems, ev)
		}
		if len(elems) == 0 {
			if ty.IsListType() {
				return cty.ListValEmpty(ty.ElementType()), nil
			}
			return cty.SetValEmpty(ty.ElementType()), nil
		}
		if ty.IsListType() {
			return cty.ListVal(elems), nil
		}
		return cty.SetVal(elems), nil

	case kindMap:
		ty, err := decodeType(n.Type)
		if err != nil {
			return cty.NilVal, err
		}
		if !ty.IsMapType() {
			return cty.NilVal, malformedf("map node with non-map type %s", ty.FriendlyName())
		}
		if len(n.Keys) != len(n.Vals) {
			return cty.NilVal, malformedf("map node with %d keys but %d values", len(n.Keys), len(n.Vals))
		}
		ety := ty.ElementType()
		if len(n.Keys) == 0 {
			return cty.MapValEmpty(ety), nil
		}
		want := ety
		entries := make(map[string]cty.Value, len(n.Keys))
		for i, k := range n.Keys {
			ev, err := decodeNode(n.Vals[i])
			if err != nil {
				return cty.NilVal, err
			}
			if want == cty.DynamicPseudoType {
				want = ev.Type()
			}
			if !ev.Type().Equals(want) {
				return cty.NilVal, malformedf("map entry %q has type %s, want %s", k, ev.Type().FriendlyName(), want.FriendlyName())
			}
			entries[k] = ev
		}
		return cty.MapVal(entries), nil

	case kindObject:
		if len(n.Keys) != len(n.Vals) {
			return cty.NilVal, malformedf("object node with %d keys but %d values", len(n.Keys), len(n.Vals))
		}
		if len(n.Keys) == 0 {
			return cty.EmptyObjectVal, nil
		}
		entries := make(map[string]cty.Value, len(n.Keys))
		for i, k := range n.Keys {
			ev, err := decodeNode(n.Vals[i])
			if err != nil {
				return cty.NilVal, err
			}
			entries[k] = ev
		}
		return cty.ObjectVal(entries), nil

	default:
		return cty.NilVal, malformedf("unrecognized value kind %q", n.Kind)
	}
}

func decodeType(raw []byte) (cty.Type, error) {
	if len(raw) == 0 {
		return cty.NilType, malformedf("node is missing its type")
	}
	ty, err := ctyjson.UnmarshalType(raw)
	if err != nil {
		return cty.NilType, malformedf("invalid type payload: %v", err)
	}
	return ty, nil
}
