package chain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// Entry is one mission event or telemetry sample. Entries are immutable
// once produced by the logging pipeline; this package only reads them.
type Entry struct {
	// Index is the monotonically assigned position of the entry in its
	// flight log. It is the ordering key and participates in hashing.
	Index     uint64           `json:"index"`
	Timestamp time.Time        `json:"timestamp"`
	Type      string           `json:"type"`
	Fields    map[string]Value `json:"fields,omitempty"`
}

// Kind identifies which variant a Value holds. The set is closed so that
// canonical encoding is exhaustive and total.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a closed tagged variant for heterogeneous telemetry fields.
// The zero Value is invalid; construct values with Null, Bool, Int, Float,
// String, Bytes, List, and Map. An explicit Null is distinct from an
// absent field: a null canonicalizes to bytes, absence does not.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	bs   []byte
	list []Value
	m    map[string]Value
}

// Null returns the explicit null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a signed integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating-point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value. Strings are hashed as their UTF-8 bytes
// with no normalization or case folding applied.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes returns a raw byte-string value.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bs: b} }

// List returns a list value preserving element order.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Map returns a nested-structure value. Key order never matters: canonical
// encoding sorts keys.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

type jsonValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"type": ..., "value": ...}. Integers
// are carried as JSON strings so 64-bit precision survives transport.
func (v Value) MarshalJSON() ([]byte, error) {
	var inner any
	switch v.kind {
	case KindNull:
		return json.Marshal(jsonValue{Type: "null"})
	case KindBool:
		inner = v.b
	case KindInt:
		inner = strconv.FormatInt(v.i, 10)
	case KindFloat:
		inner = v.f
	case KindString:
		inner = v.s
	case KindBytes:
		inner = v.bs
	case KindList:
		inner = v.list
	case KindMap:
		inner = v.m
	default:
		return nil, fmt.Errorf("marshal value: invalid kind %d", v.kind)
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonValue{Type: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes the {"type": ..., "value": ...} form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.Type {
	case "null":
		*v = Null()
	case "bool":
		var b bool
		if err := json.Unmarshal(jv.Value, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case "int":
		var s string
		if err := json.Unmarshal(jv.Value, &s); err != nil {
			return err
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("unmarshal int value: %w", err)
		}
		*v = Int(i)
	case "float":
		var f float64
		if err := json.Unmarshal(jv.Value, &f); err != nil {
			return err
		}
		*v = Float(f)
	case "string":
		var s string
		if err := json.Unmarshal(jv.Value, &s); err != nil {
			return err
		}
		*v = String(s)
	case "bytes":
		var b []byte
		if err := json.Unmarshal(jv.Value, &b); err != nil {
			return err
		}
		*v = Bytes(b)
	case "list":
		var vs []Value
		if err := json.Unmarshal(jv.Value, &vs); err != nil {
			return err
		}
		*v = List(vs...)
	case "map":
		var m map[string]Value
		if err := json.Unmarshal(jv.Value, &m); err != nil {
			return err
		}
		*v = Map(m)
	default:
		return fmt.Errorf("unmarshal value: unknown type %q", jv.Type)
	}
	return nil
}

// validate walks the value and reports the first defect found. path names
// the offending field for error messages.
func (v Value) validate(path string) error {
	switch v.kind {
	case KindNull, KindBool, KindInt, KindFloat, KindBytes:
		return nil
	case KindString:
		if !utf8.ValidString(v.s) {
			return fmt.Errorf("field %q: string is not valid UTF-8", path)
		}
		return nil
	case KindList:
		for i, el := range v.list {
			if err := el.validate(fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		for k, el := range v.m {
			if !utf8.ValidString(k) {
				return fmt.Errorf("field %q: map key is not valid UTF-8", path)
			}
			if err := el.validate(path + "." + k); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("field %q: value has invalid kind", path)
	}
}
