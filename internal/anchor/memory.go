package anchor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/pkg/chain"
)

// MemoryAnchorer keeps receipts in process memory. Use in development and
// tests, or when no external registry is configured; anchored digests do
// not survive a restart and attest nothing to third parties.
type MemoryAnchorer struct {
	mu       sync.Mutex
	receipts map[string][]*Receipt // mission key -> receipts in anchor order
	logger   *zap.Logger
}

// NewMemoryAnchorer creates an empty MemoryAnchorer.
func NewMemoryAnchorer(logger *zap.Logger) *MemoryAnchorer {
	return &MemoryAnchorer{receipts: make(map[string][]*Receipt), logger: logger}
}

// Anchor implements Anchorer.
func (m *MemoryAnchorer) Anchor(_ context.Context, digest chain.MissionDigest) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := chain.MissionKey(digest.MissionID).Hex()
	rec := &Receipt{
		MissionKey: key,
		Digest:     digest.FinalChainHash.Hex(),
		Algorithm:  digest.Algorithm,
		EntryCount: digest.EntryCount,
		Ref:        fmt.Sprintf("mem-%s-%d", key[:8], len(m.receipts[key])+1),
		AnchoredAt: time.Now().UTC(),
	}
	m.receipts[key] = append(m.receipts[key], rec)

	m.logger.Info("digest anchored (memory — not attested externally)",
		zap.String("mission_id", digest.MissionID),
		zap.String("digest", rec.Digest),
		zap.Uint64("entry_count", digest.EntryCount),
	)
	return rec, nil
}

// Receipts returns the receipts recorded for a mission id, oldest first.
func (m *MemoryAnchorer) Receipts(missionID string) []*Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := chain.MissionKey(missionID).Hex()
	out := make([]*Receipt, len(m.receipts[key]))
	copy(out, m.receipts[key])
	return out
}
