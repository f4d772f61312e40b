package event

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// ErrUnsupportedValue indicates a property value outside the primitive set
// (string, number, bool, null).
var ErrUnsupportedValue = errors.New("unsupported property value")

// Kind identifies the primitive held by a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a property value restricted to string, number, bool or null.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// String creates a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int creates a numeric Value from an int.
func Int(i int) Value { return Value{kind: KindNumber, num: float64(i)} }

// Bool creates a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Null returns the null Value.
func Null() Value { return Value{} }

// Kind returns the kind of primitive held.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload, or "" for other kinds.
func (v Value) AsString() string { return v.str }

// AsNumber returns the numeric payload, or 0 for other kinds.
func (v Value) AsNumber() float64 { return v.num }

// AsBool returns the boolean payload, or false for other kinds.
func (v Value) AsBool() bool { return v.b }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Text renders the value for display and for flattened string contexts.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler.
// Non-finite numbers cannot be represented and return an error.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a plain Go value into a Value.
// Non-primitive kinds and non-finite floats return ErrUnsupportedValue.
func FromAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Number(float64(val)), nil
	case int16:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case uint:
		return Number(float64(val)), nil
	case uint8:
		return Number(float64(val)), nil
	case uint16:
		return Number(float64(val)), nil
	case uint32:
		return Number(float64(val)), nil
	case uint64:
		return Number(float64(val)), nil
	case float32:
		return finite(float64(val))
	case float64:
		return finite(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return finite(f)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, raw)
	}
}

func finite(f float64) (Value, error) {
	if !isFinite(f) {
		return Value{}, fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
	}
	return Number(f), nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Properties is an unordered set of named primitive values.
type Properties map[string]Value

// PropertiesFrom converts a plain map, rejecting unsupported values.
// The error names the first offending key in sorted order.
func PropertiesFrom(raw map[string]any) (Properties, error) {
	props := make(Properties, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := FromAny(raw[k])
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = v
	}
	return props, nil
}

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with other.
func (p Properties) Merge(other Properties) Properties {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Map returns the properties as plain Go values.
func (p Properties) Map() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}
