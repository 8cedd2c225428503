package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind discriminates the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a typed JSON tree used for log attributes, detection expressions,
// and notification payloads, so rule predicates operate on a stable
// representation instead of an untyped map[string]any.
type Value struct {
	Kind ValueKind
	Bool bool
	Num  float64
	Str  string
	Arr  []Value
	Obj  map[string]Value
}

// Null is the zero-value Value, which JSON-marshals to "null".
var Null = Value{Kind: KindNull}

func NewBool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func NewNumber(n float64) Value { return Value{Kind: KindNumber, Num: n} }

func NewString(s string) Value { return Value{Kind: KindString, Str: s} }

func NewArray(items ...Value) Value { return Value{Kind: KindArray, Arr: items} }

func NewObject(fields map[string]Value) Value { return Value{Kind: KindObject, Obj: fields} }

// Get returns the field named key from an object Value, and false if the
// Value is not an object or the field is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindObject || v.Obj == nil {
		return Null, false
	}
	val, ok := v.Obj[key]
	return val, ok
}

// AsString returns the Value's string representation for matching purposes:
// strings pass through verbatim, numbers and booleans are formatted, and
// null/array/object yield "" with ok=false.
func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindNumber:
		return formatNumber(v.Num), true
	case KindBool:
		if v.Bool {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

// IsNull reports whether the Value holds the null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		return json.Marshal(v.Arr)
	case KindObject:
		// Stable key order so repeated marshals of the same Value are
		// byte-identical, which matters for notification payload chunking.
		keys := make([]string, 0, len(v.Obj))
		for k := range v.Obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := json.Marshal(v.Obj[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler, decoding arbitrary JSON into
// the typed tree.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case bool:
		return NewBool(t)
	case float64:
		return NewNumber(t)
	case string:
		return NewString(t)
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, fromAny(item))
		}
		return Value{Kind: KindArray, Arr: items}
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, val := range t {
			obj[k] = fromAny(val)
		}
		return Value{Kind: KindObject, Obj: obj}
	default:
		return Null
	}
}
