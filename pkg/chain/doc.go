// Package chain implements the tamper-evidence engine for UAV flight logs.
//
// A flight log is an ordered sequence of Entry values. Each entry is
// canonicalized to a deterministic byte sequence, hashed with SHA-256, and
// linked into a hash chain whose genesis predecessor is the well-known
// GenesisHash (32 zero bytes). The chain hash at index i commits to every
// entry at indices 0..i, so a single MissionDigest or a sparse set of
// Checkpoint values is enough to later prove that a candidate copy of the
// log was deleted from, edited, reordered, or extended.
//
// Construction flows through Builder; verification flows through
// VerifyDigest and VerifyCheckpoints, which recompute the chain from
// scratch and report the earliest index of divergence. Detection of
// tampering is the normal FAIL outcome of a Report, never an error.
package chain
