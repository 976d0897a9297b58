package chain

import (
	"errors"
	"time"
)

// MissionDigest is the single commitment value for a mission's chain at a
// point in time: the final chain hash plus mission metadata, suitable for
// handing to an external anchoring collaborator. Immutable once computed.
type MissionDigest struct {
	MissionID      string    `json:"mission_id"`
	Algorithm      string    `json:"algorithm"`
	FinalChainHash Hash      `json:"final_chain_hash"`
	EntryCount     uint64    `json:"entry_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewMissionDigest computes a digest from a chain's final link. Calling it
// mid-mission yields a digest over the entries seen so far, which serves
// intermediate anchoring with the same algorithm as a terminal digest.
func NewMissionDigest(missionID string, final Link, entryCount uint64) MissionDigest {
	return MissionDigest{
		MissionID:      missionID,
		Algorithm:      AlgorithmID,
		FinalChainHash: final.ChainHash,
		EntryCount:     entryCount,
		CreatedAt:      time.Now().UTC(),
	}
}

// Finalize computes the mission digest for everything appended so far.
// It fails only on a chain with no entries.
func (b *Builder) Finalize(missionID string) (MissionDigest, error) {
	tip, ok := b.Tip()
	if !ok {
		return MissionDigest{}, errors.New("finalize: chain has no entries")
	}
	return NewMissionDigest(missionID, tip, b.Len()), nil
}
