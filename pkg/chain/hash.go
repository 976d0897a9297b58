package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// AlgorithmID names the fixed hash construction of this engine version:
// SHA-256 over deterministic CBOR canonical bytes. It is embedded in every
// MissionDigest so a verifier can reject digests computed under a
// different algorithm instead of silently comparing unrelated hashes.
const AlgorithmID = "sha256/cbor-det-v1"

// Hash is a 256-bit digest. The zero value is GenesisHash.
type Hash [32]byte

// GenesisHash is the fixed, publicly known predecessor of the first chain
// link. All chains anchor to it; it is never the output of a computation.
var GenesisHash Hash

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether the hash equals GenesisHash.
func (h Hash) IsZero() bool { return h == GenesisHash }

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON decodes a hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("parse hash: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashEntry computes the content hash of an entry's canonical bytes.
func HashEntry(canonical []byte) Hash {
	return sha256.Sum256(canonical)
}

// linkHash computes chain_hash = H(entry_hash || prev_chain_hash || index).
// Folding the index in prevents an entry hash from being silently reused
// at a different position.
func linkHash(entryHash, prev Hash, index uint64) Hash {
	h := sha256.New()
	h.Write(entryHash[:])
	h.Write(prev[:])
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	h.Write(idx[:])
	var out Hash
	h.Sum(out[:0])
	return out
}

// MissionKey derives the fixed 32-byte anchoring key for a mission
// identifier. External registries key flights by this Keccak-256 value
// rather than by the raw string.
func MissionKey(missionID string) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(missionID))
	var out Hash
	h.Sum(out[:0])
	return out
}
