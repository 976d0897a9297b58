package chain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching. The typed errors below unwrap to
// these, so callers can branch on the category without caring about detail.
var (
	ErrMalformedInput    = errors.New("malformed log entry")
	ErrSequence          = errors.New("entry out of sequence")
	ErrAlgorithmMismatch = errors.New("hash algorithm mismatch")
)

// MalformedInputError reports an entry that failed canonicalization. It is
// fatal to the construction or verification call that hit it and is never
// downgraded to a tamper finding.
type MalformedInputError struct {
	Index  uint64
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("entry %d is malformed: %s", e.Index, e.Reason)
}

func (e *MalformedInputError) Unwrap() error { return ErrMalformedInput }

// SequenceError reports an append at the wrong index. The chain is
// append-only: the only legal index for a new entry is the current length.
// This signals a producer-side bug, not tampering.
type SequenceError struct {
	Want uint64
	Got  uint64
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("append out of sequence: want index %d, got %d", e.Want, e.Got)
}

func (e *SequenceError) Unwrap() error { return ErrSequence }

// AlgorithmMismatchError reports a digest computed under a different hash
// algorithm version. Verification refuses to compare such hashes rather
// than silently falling back; this is a compatibility failure, not
// evidence of tampering.
type AlgorithmMismatchError struct {
	Want string
	Got  string
}

func (e *AlgorithmMismatchError) Error() string {
	return fmt.Sprintf("digest algorithm %q does not match engine algorithm %q", e.Got, e.Want)
}

func (e *AlgorithmMismatchError) Unwrap() error { return ErrAlgorithmMismatch }
