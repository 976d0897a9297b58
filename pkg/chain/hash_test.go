package chain_test

import (
	"strings"
	"testing"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

func TestGenesisHash_isAllZeros(t *testing.T) {
	want := strings.Repeat("0", 64)
	if chain.GenesisHash.Hex() != want {
		t.Errorf("genesis hex: got %q", chain.GenesisHash.Hex())
	}
	if !chain.GenesisHash.IsZero() {
		t.Error("GenesisHash.IsZero() = false")
	}
}

func TestParseHash_roundTrip(t *testing.T) {
	e := telemetryEntry(0)
	canonical, err := chain.Canonicalize(e)
	if err != nil {
		t.Fatal(err)
	}
	h := chain.HashEntry(canonical)

	parsed, err := chain.ParseHash(h.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != h {
		t.Errorf("round trip: got %s, want %s", parsed, h)
	}

	if _, err := chain.ParseHash("abc"); err == nil {
		t.Error("short input should fail")
	}
	if _, err := chain.ParseHash(strings.Repeat("zz", 32)); err == nil {
		t.Error("non-hex input should fail")
	}
}

func TestMissionKey_stableAndDistinct(t *testing.T) {
	a := chain.MissionKey("flight-001")
	b := chain.MissionKey("flight-001")
	c := chain.MissionKey("flight-002")

	if a != b {
		t.Error("mission key is not deterministic")
	}
	if a == c {
		t.Error("distinct mission ids produced the same key")
	}
	if a.IsZero() {
		t.Error("mission key collided with the genesis constant")
	}
}
