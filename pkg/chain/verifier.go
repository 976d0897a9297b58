package chain

import (
	"errors"
	"fmt"
)

// Result is the outcome of a verification run.
type Result string

const (
	ResultPass Result = "PASS"
	ResultFail Result = "FAIL"
)

// Report is the sole artifact of a verification run. A FAIL result is the
// engine doing its job, not an error; errors are reserved for runs that
// could not be completed at all (malformed input, algorithm mismatch).
type Report struct {
	Result Result `json:"result"`

	// FirstDivergence is the earliest compared index at which the
	// recomputed and expected chains disagree. Nil on PASS. The chaining
	// invariant makes this single index sufficient proof of tampering at
	// or after that point.
	FirstDivergence *uint64 `json:"first_divergence_index,omitempty"`

	// RecomputedDigest is the recomputed chain hash at the point the run
	// stopped; ExpectedDigest is the recorded hash it was held against.
	RecomputedDigest Hash `json:"recomputed_digest"`
	ExpectedDigest   Hash `json:"expected_digest"`

	// CheckedEntryCount is the number of candidate entries recomputed
	// before the run terminated.
	CheckedEntryCount uint64 `json:"checked_entry_count"`

	// UncoveredSuffixLength counts trailing candidate entries beyond the
	// last recorded expectation. A PASS with a non-zero value means the
	// covered prefix verified but the suffix is unattested; callers must
	// not conflate that with a fully verified log.
	UncoveredSuffixLength uint64 `json:"uncovered_suffix_length"`
}

// Tampered reports whether the run concluded FAIL.
func (r *Report) Tampered() bool { return r.Result == ResultFail }

// replay recomputes the chain over a candidate log by position, ignoring
// whatever process produced the candidate. Chaining by position rather
// than by each entry's self-declared index is what turns deletions and
// insertions into hash divergence at the shifted point: the entry's own
// index field is still committed inside its content hash.
type replay struct {
	prev Hash
	pos  uint64
}

func (r *replay) step(e Entry) (Hash, error) {
	canonical, err := Canonicalize(e)
	if err != nil {
		return Hash{}, err
	}
	h := linkHash(HashEntry(canonical), r.prev, r.pos)
	r.prev = h
	r.pos++
	return h, nil
}

// VerifyDigest recomputes the chain over candidate and compares it against
// a previously recorded mission digest. The digest covers exactly one
// index (EntryCount-1), so that is the comparison point; a candidate
// shorter than the digest's entry count is a deletion, reported as
// divergence at the first missing index, never as PASS.
//
// A digest recorded under a different algorithm version fails with
// AlgorithmMismatchError before any hashing happens.
func VerifyDigest(candidate []Entry, want MissionDigest) (*Report, error) {
	if want.Algorithm != AlgorithmID {
		return nil, &AlgorithmMismatchError{Want: AlgorithmID, Got: want.Algorithm}
	}
	if want.EntryCount == 0 {
		return nil, errors.New("verify: digest covers no entries")
	}

	covered := want.EntryCount
	r := replay{prev: GenesisHash}
	var tip Hash

	n := uint64(len(candidate))
	limit := covered
	if n < limit {
		limit = n
	}
	for _, e := range candidate[:limit] {
		h, err := r.step(e)
		if err != nil {
			return nil, err
		}
		tip = h
	}

	report := &Report{
		ExpectedDigest:    want.FinalChainHash,
		RecomputedDigest:  tip,
		CheckedEntryCount: limit,
	}

	if n < covered {
		// Truncated candidate: divergence at the first missing index.
		report.Result = ResultFail
		missing := n
		report.FirstDivergence = &missing
		return report, nil
	}
	if tip != want.FinalChainHash {
		report.Result = ResultFail
		at := covered - 1
		report.FirstDivergence = &at
		return report, nil
	}
	report.Result = ResultPass
	report.UncoveredSuffixLength = n - covered
	return report, nil
}

// VerifyFrom verifies only the suffix of a log beyond a trusted
// checkpoint. Because every chain hash already commits to its full
// prefix, resuming from the checkpoint's chain hash yields the same
// verdict for the suffix as a full replay from genesis would, without
// rehashing the prefix. suffix holds the entries at indices
// trusted.Index+1 onward; history holds checkpoints beyond trusted.
func VerifyFrom(trusted Checkpoint, suffix []Entry, history []Checkpoint) (*Report, error) {
	if len(history) == 0 {
		return nil, errors.New("verify: checkpoint history is empty")
	}
	if history[0].Index <= trusted.Index {
		return nil, fmt.Errorf("verify: history begins at index %d, not beyond trusted checkpoint %d",
			history[0].Index, trusted.Index)
	}
	return verifyCheckpoints(replay{prev: trusted.ChainHash, pos: trusted.Index + 1}, suffix, history)
}

// VerifyCheckpoints recomputes the chain over candidate and compares it
// against an ordered, append-only checkpoint history. Comparison happens
// at every checkpointed index in ascending order and the run stops at the
// first divergence; a dense history (one checkpoint per entry) therefore
// localizes an edit to the exact entry that changed.
func VerifyCheckpoints(candidate []Entry, history []Checkpoint) (*Report, error) {
	if len(history) == 0 {
		return nil, errors.New("verify: checkpoint history is empty")
	}
	return verifyCheckpoints(replay{prev: GenesisHash}, candidate, history)
}

func verifyCheckpoints(r replay, candidate []Entry, history []Checkpoint) (*Report, error) {
	for i := 1; i < len(history); i++ {
		if history[i].Index <= history[i-1].Index {
			return nil, fmt.Errorf("verify: checkpoint history not strictly ascending at position %d", i)
		}
	}

	last := history[len(history)-1]
	covered := last.Index + 1
	report := &Report{ExpectedDigest: last.ChainHash}

	next := 0 // next checkpoint to compare against
	k := 0    // next candidate entry to replay

	for r.pos < covered && k < len(candidate) {
		pos := r.pos
		h, err := r.step(candidate[k])
		if err != nil {
			return nil, err
		}
		k++
		report.RecomputedDigest = h
		report.CheckedEntryCount = uint64(k)

		if history[next].Index != pos {
			continue
		}
		if h != history[next].ChainHash {
			report.Result = ResultFail
			at := pos
			report.FirstDivergence = &at
			return report, nil
		}
		next++
	}

	if r.pos < covered {
		// Candidate ran out before the last checkpointed index: a strict
		// truncation of the expected sequence is a deletion.
		report.Result = ResultFail
		missing := r.pos
		report.FirstDivergence = &missing
		return report, nil
	}

	report.Result = ResultPass
	report.UncoveredSuffixLength = uint64(len(candidate) - k)
	return report, nil
}
