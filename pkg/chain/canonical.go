package chain

import (
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the deterministic CBOR encoder used for all canonical bytes.
// Core deterministic encoding gives bytewise-sorted map keys, shortest-form
// integers and floats, and a single valid encoding per value, so the
// canonical bytes of an entry are independent of field insertion order and
// of the platform doing the encoding.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Canonicalize converts an entry to its deterministic byte serialization.
// Two semantically identical entries canonicalize to identical bytes; any
// semantic difference, including a field deleted versus set to null,
// changes the bytes. The layout is the CBOR array
//
//	[index, timestamp_unix_nano, type, fields]
//
// with the timestamp fixed to UTC nanoseconds so no locale or platform
// formatting can perturb the hash. The only failure mode is a malformed
// entry, reported as MalformedInputError.
func Canonicalize(e Entry) ([]byte, error) {
	if !utf8.ValidString(e.Type) {
		return nil, &MalformedInputError{Index: e.Index, Reason: "entry type is not valid UTF-8"}
	}
	fields := make(map[string]any, len(e.Fields))
	for name, v := range e.Fields {
		if !utf8.ValidString(name) {
			return nil, &MalformedInputError{Index: e.Index, Reason: "field name is not valid UTF-8"}
		}
		if err := v.validate(name); err != nil {
			return nil, &MalformedInputError{Index: e.Index, Reason: err.Error()}
		}
		fields[name] = v.canonical()
	}

	doc := []any{e.Index, e.Timestamp.UTC().UnixNano(), e.Type, fields}
	b, err := encMode.Marshal(doc)
	if err != nil {
		// Unreachable for validated input; Value is a closed variant.
		return nil, &MalformedInputError{Index: e.Index, Reason: err.Error()}
	}
	return b, nil
}

// canonical lowers a validated Value to the shape the CBOR encoder sees.
func (v Value) canonical() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		if v.bs == nil {
			return []byte{}
		}
		return v.bs
	case KindList:
		out := make([]any, len(v.list))
		for i, el := range v.list {
			out[i] = el.canonical()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, el := range v.m {
			out[k] = el.canonical()
		}
		return out
	default:
		return nil
	}
}
