package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

// FlightStatus represents the lifecycle state of a registered flight.
type FlightStatus string

const (
	// FlightStatusActive — the flight is registered and still accepting
	// log entries and checkpoints.
	FlightStatusActive FlightStatus = "active"
	// FlightStatusClosed — the flight has been finalized; its log is
	// frozen and only verification is meaningful from here on.
	FlightStatusClosed FlightStatus = "closed"
)

// Flight is the core domain model for one mission's flight log.
type Flight struct {
	ID        uuid.UUID `json:"id"                  db:"id"`
	MissionID string    `json:"mission_id"          db:"mission_id"`
	// MissionKey is the Keccak-256 of MissionID, the fixed 32-byte key
	// external anchoring registries file this flight under.
	MissionKey string       `json:"mission_key"         db:"mission_key"`
	Status     FlightStatus `json:"status"              db:"status"`
	EntryCount uint64       `json:"entry_count"         db:"entry_count"`
	// TipIndex and TipChainHash cache the chain tail so appends can
	// resume without rehashing the stored prefix. TipIndex is nil until
	// the first entry is appended.
	TipIndex     *uint64    `json:"tip_index,omitempty" db:"tip_index"`
	TipChainHash string     `json:"tip_chain_hash,omitempty" db:"tip_chain_hash"`
	CreatedAt    time.Time  `json:"created_at"          db:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// StoredEntry is a log entry at rest together with its chain link, as
// persisted by the entry repository.
type StoredEntry struct {
	FlightID      uuid.UUID   `json:"flight_id"`
	Entry         chain.Entry `json:"entry"`
	EntryHash     string      `json:"entry_hash"`
	PrevChainHash string      `json:"prev_chain_hash"`
	ChainHash     string      `json:"chain_hash"`
	ReceivedAt    time.Time   `json:"received_at"`
}

// CheckpointRecord is a persisted trust anchor for a flight. Rows are
// append-only: written once, never updated or deleted.
type CheckpointRecord struct {
	FlightID   uuid.UUID `json:"flight_id"`
	Seq        int       `json:"seq"`
	EntryIndex uint64    `json:"entry_index"`
	ChainHash  string    `json:"chain_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// Checkpoint converts the stored row back to the engine's form.
func (c *CheckpointRecord) Checkpoint() (chain.Checkpoint, error) {
	h, err := chain.ParseHash(c.ChainHash)
	if err != nil {
		return chain.Checkpoint{}, err
	}
	return chain.Checkpoint{Index: c.EntryIndex, ChainHash: h, Timestamp: c.CreatedAt}, nil
}

// AnchorReceipt records the outcome of handing a mission digest to the
// external anchoring collaborator.
type AnchorReceipt struct {
	FlightID   uuid.UUID `json:"flight_id"`
	MissionKey string    `json:"mission_key"`
	Digest     string    `json:"digest"`
	Algorithm  string    `json:"algorithm"`
	EntryCount uint64    `json:"entry_count"`
	Ref        string    `json:"ref"`
	AnchoredAt time.Time `json:"anchored_at"`
}
