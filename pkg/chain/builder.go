package chain

import (
	"errors"
	"time"
)

// Link is the per-entry chain record. ChainHash at index i is a function
// of every entry at indices 0..i, so any suffix of the chain can be
// re-verified from just the preceding ChainHash and the entries onward.
type Link struct {
	Index         uint64 `json:"index"`
	EntryHash     Hash   `json:"entry_hash"`
	PrevChainHash Hash   `json:"prev_chain_hash"`
	ChainHash     Hash   `json:"chain_hash"`
}

// Checkpoint is a trust anchor recorded at a mission milestone: the chain
// hash at a known index. Checkpoints are logically append-only; once
// recorded they are never mutated or deleted.
type Checkpoint struct {
	Index     uint64    `json:"index"`
	ChainHash Hash      `json:"chain_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Builder constructs a flight-log hash chain one entry at a time. It owns
// exclusive write access to its link arena and is not safe for concurrent
// Append; a caller owning a chain serializes its own appends.
type Builder struct {
	links []Link
	prev  Hash
	next  uint64
	now   func() time.Time
}

// NewBuilder returns an empty chain anchored at GenesisHash.
func NewBuilder() *Builder {
	return &Builder{prev: GenesisHash, now: time.Now}
}

// ResumeBuilder returns a builder that continues an existing chain from
// its recorded tip without rehashing the prefix. Links appended before the
// resume point are not retained.
func ResumeBuilder(tip Link) *Builder {
	return &Builder{prev: tip.ChainHash, next: tip.Index + 1, now: time.Now}
}

// Append canonicalizes and links one entry at the end of the chain. The
// entry's index must equal the current chain length; anything else is a
// SequenceError, a producer-side contract violation.
func (b *Builder) Append(e Entry) (Link, error) {
	if e.Index != b.next {
		return Link{}, &SequenceError{Want: b.next, Got: e.Index}
	}
	canonical, err := Canonicalize(e)
	if err != nil {
		return Link{}, err
	}
	entryHash := HashEntry(canonical)
	link := Link{
		Index:         e.Index,
		EntryHash:     entryHash,
		PrevChainHash: b.prev,
		ChainHash:     linkHash(entryHash, b.prev, e.Index),
	}
	b.links = append(b.links, link)
	b.prev = link.ChainHash
	b.next++
	return link, nil
}

// Len returns the number of entries linked so far, counting any prefix a
// resumed builder left behind.
func (b *Builder) Len() uint64 { return b.next }

// Tip returns the most recent link. ok is false when this builder has not
// appended anything yet.
func (b *Builder) Tip() (Link, bool) {
	if len(b.links) == 0 {
		return Link{}, false
	}
	return b.links[len(b.links)-1], true
}

// Links returns the links appended by this builder, oldest first. The
// returned slice is the builder's arena; callers must not mutate it.
func (b *Builder) Links() []Link { return b.links }

// Checkpoint snapshots the chain tip as a trust anchor. It is read-only
// with respect to the chain and fails only on a chain with no appends.
func (b *Builder) Checkpoint() (Checkpoint, error) {
	tip, ok := b.Tip()
	if !ok {
		return Checkpoint{}, errors.New("checkpoint: chain has no entries")
	}
	return Checkpoint{
		Index:     tip.Index,
		ChainHash: tip.ChainHash,
		Timestamp: b.now().UTC(),
	}, nil
}
