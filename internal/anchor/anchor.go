// Package anchor abstracts the externally-anchored immutable ledger that
// mission digests are published to for third-party attestation. The core
// never assumes a specific ledger's transaction semantics, nonce handling,
// or confirmation latency; it hands a digest across this boundary and gets
// a receipt back.
package anchor

import (
	"context"
	"time"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

// Receipt acknowledges that a digest was accepted by the anchoring
// collaborator. Ref is the collaborator's own reference for the anchoring
// event (a transaction hash, object version, or similar) and is opaque to
// this system.
type Receipt struct {
	MissionKey string    `json:"mission_key"`
	Digest     string    `json:"digest"`
	Algorithm  string    `json:"algorithm"`
	EntryCount uint64    `json:"entry_count"`
	Ref        string    `json:"ref"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Anchorer publishes mission digests to an external immutable record.
// Implementations own their retry and confirmation policy; a returned
// error means the digest is not attested and the caller decides what to
// do about it.
type Anchorer interface {
	Anchor(ctx context.Context, digest chain.MissionDigest) (*Receipt, error)
}
