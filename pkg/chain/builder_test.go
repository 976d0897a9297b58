package chain_test

import (
	"errors"
	"testing"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

func TestBuilder_appendChains(t *testing.T) {
	b := chain.NewBuilder()

	l0, err := b.Append(telemetryEntry(0))
	if err != nil {
		t.Fatal(err)
	}
	if l0.PrevChainHash != chain.GenesisHash {
		t.Errorf("genesis link prev: got %s, want genesis constant", l0.PrevChainHash)
	}
	if l0.ChainHash.IsZero() {
		t.Error("chain hash of first link is the genesis constant")
	}

	l1, err := b.Append(telemetryEntry(1))
	if err != nil {
		t.Fatal(err)
	}
	if l1.PrevChainHash != l0.ChainHash {
		t.Errorf("chain broken: l1.PrevChainHash=%s, want %s", l1.PrevChainHash, l0.ChainHash)
	}
	if b.Len() != 2 {
		t.Errorf("Len: got %d, want 2", b.Len())
	}
	if tip, ok := b.Tip(); !ok || tip.ChainHash != l1.ChainHash {
		t.Error("Tip does not match last appended link")
	}
}

func TestBuilder_sequenceError(t *testing.T) {
	b := chain.NewBuilder()
	if _, err := b.Append(telemetryEntry(0)); err != nil {
		t.Fatal(err)
	}

	for _, idx := range []uint64{0, 2, 99} {
		_, err := b.Append(telemetryEntry(idx))
		if !errors.Is(err, chain.ErrSequence) {
			t.Fatalf("append at index %d: expected ErrSequence, got %v", idx, err)
		}
		var seq *chain.SequenceError
		if !errors.As(err, &seq) {
			t.Fatalf("expected *SequenceError, got %T", err)
		}
		if seq.Want != 1 || seq.Got != idx {
			t.Errorf("sequence error detail: got want=%d got=%d", seq.Want, seq.Got)
		}
	}

	if b.Len() != 1 {
		t.Errorf("failed appends must not grow the chain: len=%d", b.Len())
	}
}

func TestBuilder_checkpointSnapshotsTip(t *testing.T) {
	b := chain.NewBuilder()
	if _, err := b.Checkpoint(); err == nil {
		t.Error("checkpoint on empty chain should fail")
	}

	link, err := b.Append(telemetryEntry(0))
	if err != nil {
		t.Fatal(err)
	}
	cp, err := b.Checkpoint()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Index != 0 || cp.ChainHash != link.ChainHash {
		t.Errorf("checkpoint: got (%d, %s), want (0, %s)", cp.Index, cp.ChainHash, link.ChainHash)
	}

	// Checkpoint is read-only: appending afterwards must still work at index 1.
	if _, err := b.Append(telemetryEntry(1)); err != nil {
		t.Fatalf("append after checkpoint: %v", err)
	}
}

func TestResumeBuilder_matchesFullChain(t *testing.T) {
	full := chain.NewBuilder()
	var links []chain.Link
	for i := uint64(0); i < 5; i++ {
		l, err := full.Append(telemetryEntry(i))
		if err != nil {
			t.Fatal(err)
		}
		links = append(links, l)
	}

	resumed := chain.ResumeBuilder(links[2])
	for i := uint64(3); i < 5; i++ {
		if _, err := resumed.Append(telemetryEntry(i)); err != nil {
			t.Fatal(err)
		}
	}

	fullTip, _ := full.Tip()
	resumedTip, _ := resumed.Tip()
	if fullTip.ChainHash != resumedTip.ChainHash {
		t.Errorf("resumed chain tip %s != full chain tip %s", resumedTip.ChainHash, fullTip.ChainHash)
	}
	if resumed.Len() != 5 {
		t.Errorf("resumed Len: got %d, want 5", resumed.Len())
	}
}

func TestBuilder_finalize(t *testing.T) {
	b := chain.NewBuilder()
	if _, err := b.Finalize("flight-001"); err == nil {
		t.Error("finalize on empty chain should fail")
	}

	var tip chain.Link
	for i := uint64(0); i < 3; i++ {
		l, err := b.Append(telemetryEntry(i))
		if err != nil {
			t.Fatal(err)
		}
		tip = l
	}

	d, err := b.Finalize("flight-001")
	if err != nil {
		t.Fatal(err)
	}
	if d.MissionID != "flight-001" {
		t.Errorf("mission id: got %q", d.MissionID)
	}
	if d.Algorithm != chain.AlgorithmID {
		t.Errorf("algorithm: got %q, want %q", d.Algorithm, chain.AlgorithmID)
	}
	if d.FinalChainHash != tip.ChainHash {
		t.Errorf("final chain hash: got %s, want %s", d.FinalChainHash, tip.ChainHash)
	}
	if d.EntryCount != 3 {
		t.Errorf("entry count: got %d, want 3", d.EntryCount)
	}
}
