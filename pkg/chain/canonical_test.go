package chain_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

func telemetryEntry(idx uint64) chain.Entry {
	return chain.Entry{
		Index:     idx,
		Timestamp: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Type:      "telemetry",
		Fields: map[string]chain.Value{
			"lat":     chain.Float(47.6097),
			"lon":     chain.Float(-122.3331),
			"alt_m":   chain.Int(120),
			"armed":   chain.Bool(true),
			"payload": chain.Bytes([]byte{0xde, 0xad}),
		},
	}
}

func TestCanonicalize_deterministic(t *testing.T) {
	e := telemetryEntry(0)

	a, err := chain.Canonicalize(e)
	if err != nil {
		t.Fatal(err)
	}
	b, err := chain.Canonicalize(e)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("repeated canonicalization produced different bytes")
	}
}

func TestCanonicalize_fieldOrderIndependence(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	first := map[string]chain.Value{}
	first["alt_m"] = chain.Int(120)
	first["lat"] = chain.Float(47.6097)
	first["nested"] = chain.Map(map[string]chain.Value{"a": chain.Int(1), "b": chain.Int(2)})

	second := map[string]chain.Value{}
	second["nested"] = chain.Map(map[string]chain.Value{"b": chain.Int(2), "a": chain.Int(1)})
	second["lat"] = chain.Float(47.6097)
	second["alt_m"] = chain.Int(120)

	a, err := chain.Canonicalize(chain.Entry{Index: 3, Timestamp: ts, Type: "telemetry", Fields: first})
	if err != nil {
		t.Fatal(err)
	}
	b, err := chain.Canonicalize(chain.Entry{Index: 3, Timestamp: ts, Type: "telemetry", Fields: second})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("insertion order of fields changed canonical bytes")
	}
}

func TestCanonicalize_nullDistinctFromAbsent(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	withNull := chain.Entry{Index: 0, Timestamp: ts, Type: "event",
		Fields: map[string]chain.Value{"gps_fix": chain.Null()}}
	without := chain.Entry{Index: 0, Timestamp: ts, Type: "event"}

	a, err := chain.Canonicalize(withNull)
	if err != nil {
		t.Fatal(err)
	}
	b, err := chain.Canonicalize(without)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("present-but-null field canonicalized identically to absent field")
	}
}

func TestCanonicalize_intAndFloatDiffer(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	asInt := chain.Entry{Index: 0, Timestamp: ts, Type: "t",
		Fields: map[string]chain.Value{"alt": chain.Int(120)}}
	asFloat := chain.Entry{Index: 0, Timestamp: ts, Type: "t",
		Fields: map[string]chain.Value{"alt": chain.Float(120)}}

	a, _ := chain.Canonicalize(asInt)
	b, _ := chain.Canonicalize(asFloat)
	if bytes.Equal(a, b) {
		t.Error("int 120 and float 120.0 canonicalized identically")
	}
}

func TestCanonicalize_invalidValue(t *testing.T) {
	e := chain.Entry{
		Index:     7,
		Timestamp: time.Now(),
		Type:      "telemetry",
		Fields:    map[string]chain.Value{"bad": {}}, // zero Value is invalid
	}

	_, err := chain.Canonicalize(e)
	if !errors.Is(err, chain.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	var malformed *chain.MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedInputError, got %T", err)
	}
	if malformed.Index != 7 {
		t.Errorf("malformed index: got %d, want 7", malformed.Index)
	}
}

func TestValue_jsonRoundTripPreservesCanonicalBytes(t *testing.T) {
	e := telemetryEntry(2)
	e.Fields["tags"] = chain.List(chain.String("auto"), chain.Int(-9))
	e.Fields["missing_gps"] = chain.Null()

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded chain.Entry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	a, err := chain.Canonicalize(e)
	if err != nil {
		t.Fatal(err)
	}
	b, err := chain.Canonicalize(decoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("JSON transport changed canonical bytes")
	}
}
