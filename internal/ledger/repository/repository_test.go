package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// fakeRow mimics pgx scan semantics: NULL assigns nil through a pointer
// target and is an error for anything else.
type fakeRow struct {
	vals []any
}

func (r *fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan: %d targets for %d columns", len(dest), len(r.vals))
	}
	for i, src := range r.vals {
		if src == nil {
			switch d := dest[i].(type) {
			case **string:
				*d = nil
			case **uint64:
				*d = nil
			case **time.Time:
				*d = nil
			default:
				return fmt.Errorf("cannot scan NULL into %T", dest[i])
			}
			continue
		}
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = src.(uuid.UUID)
		case *string:
			*d = src.(string)
		case **string:
			v := src.(string)
			*d = &v
		case *model.FlightStatus:
			*d = src.(model.FlightStatus)
		case *uint64:
			*d = src.(uint64)
		case **uint64:
			v := src.(uint64)
			*d = &v
		case *time.Time:
			*d = src.(time.Time)
		case **time.Time:
			v := src.(time.Time)
			*d = &v
		default:
			return fmt.Errorf("unsupported scan target %T", dest[i])
		}
	}
	return nil
}

func TestScanFlight_freshFlightHasNullTip(t *testing.T) {
	// A flight that has never seen an append has NULL tip columns; the
	// scan must still succeed so the first append can happen at all.
	id := uuid.New()
	created := time.Now().UTC()
	row := &fakeRow{vals: []any{
		id, "OP-1", chain.MissionKey("OP-1").Hex(), model.FlightStatusActive,
		uint64(0), nil, nil, created, nil,
	}}

	f, err := scanFlight(row)
	if err != nil {
		t.Fatalf("scanFlight on fresh flight: %v", err)
	}
	if f.TipIndex != nil {
		t.Errorf("TipIndex = %v, want nil before first append", *f.TipIndex)
	}
	if f.TipChainHash != "" {
		t.Errorf("TipChainHash = %q, want empty before first append", f.TipChainHash)
	}
	if f.ClosedAt != nil {
		t.Errorf("ClosedAt = %v, want nil for an active flight", f.ClosedAt)
	}
	if f.ID != id || f.MissionID != "OP-1" {
		t.Errorf("identity fields not scanned: %+v", f)
	}
}

func TestScanFlight_populatedTip(t *testing.T) {
	tipHash := chain.MissionKey("anything").Hex()
	closed := time.Now().UTC()
	row := &fakeRow{vals: []any{
		uuid.New(), "OP-2", chain.MissionKey("OP-2").Hex(), model.FlightStatusClosed,
		uint64(5), uint64(4), tipHash, time.Now().UTC(), closed,
	}}

	f, err := scanFlight(row)
	if err != nil {
		t.Fatalf("scanFlight: %v", err)
	}
	if f.TipIndex == nil || *f.TipIndex != 4 {
		t.Errorf("TipIndex = %v, want 4", f.TipIndex)
	}
	if f.TipChainHash != tipHash {
		t.Errorf("TipChainHash = %q, want %q", f.TipChainHash, tipHash)
	}
	if f.ClosedAt == nil || !f.ClosedAt.Equal(closed) {
		t.Errorf("ClosedAt = %v, want %v", f.ClosedAt, closed)
	}
}

func TestEntryTimestampStorage_preservesEntryHash(t *testing.T) {
	// Entry hashes commit to nanosecond timestamps. The stored form must
	// replay to the identical hash, including nanos that microsecond
	// timestamp columns would have truncated.
	ts := time.Unix(1724930000, 123456789).UTC() // not µs-aligned
	e := chain.Entry{
		Index:     0,
		Timestamp: ts,
		Type:      "telemetry",
		Fields:    map[string]chain.Value{"alt_m": chain.Int(120)},
	}

	canonical, err := chain.Canonicalize(e)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	hashed := chain.HashEntry(canonical)

	replayed := e
	replayed.Timestamp = nanosToTime(entryNanos(e.Timestamp))
	replayedCanonical, err := chain.Canonicalize(replayed)
	if err != nil {
		t.Fatalf("canonicalize replayed: %v", err)
	}
	if got := chain.HashEntry(replayedCanonical); got != hashed {
		t.Errorf("entry hash changed across storage round trip: %s != %s", got, hashed)
	}
}
