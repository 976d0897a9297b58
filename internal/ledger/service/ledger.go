package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/anchor"
	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// ErrFlightClosed is returned when appending to or checkpointing a flight
// that has been finalized.
var ErrFlightClosed = errors.New("flight is closed")

// ErrNoEntries is returned when an operation needs at least one chained
// entry and the flight has none.
var ErrNoEntries = errors.New("flight has no entries")

// ErrNoExpectation is returned when verification has neither a checkpoint
// history nor an anchored digest to hold the candidate log against.
var ErrNoExpectation = errors.New("no checkpoint history or anchored digest recorded")

// FlightStore is the flight lifecycle persistence the service depends on.
type FlightStore interface {
	Create(ctx context.Context, missionID string) (*model.Flight, error)
	GetByMissionID(ctx context.Context, missionID string) (*model.Flight, error)
	List(ctx context.Context, limit int) ([]*model.Flight, error)
	Close(ctx context.Context, missionID string) (*model.Flight, error)
}

// EntryStore persists chained entries.
type EntryStore interface {
	AppendBatch(ctx context.Context, flightID uuid.UUID, entries []chain.Entry, links []chain.Link) error
	ListByFlight(ctx context.Context, flightID uuid.UUID) ([]chain.Entry, error)
	Get(ctx context.Context, flightID uuid.UUID, idx uint64) (*model.StoredEntry, error)
}

// CheckpointStore persists the append-only checkpoint history and anchor
// receipts.
type CheckpointStore interface {
	Append(ctx context.Context, flightID uuid.UUID, cp chain.Checkpoint) (*model.CheckpointRecord, error)
	Last(ctx context.Context, flightID uuid.UUID) (*model.CheckpointRecord, error)
	History(ctx context.Context, flightID uuid.UUID) ([]chain.Checkpoint, error)
	SaveReceipt(ctx context.Context, rec *model.AnchorReceipt) error
	Receipts(ctx context.Context, flightID uuid.UUID) ([]*model.AnchorReceipt, error)
}

// LedgerService orchestrates flight-log construction and verification:
// chaining incoming entries, recording checkpoints, anchoring digests, and
// replaying candidate logs against the recorded trust anchors.
type LedgerService struct {
	flights     FlightStore
	entries     EntryStore
	checkpoints CheckpointStore
	anchorer    anchor.Anchorer
	logger      *zap.Logger
}

// NewLedgerService creates a LedgerService. anchorer may be nil, in which
// case digests are computed but never published.
func NewLedgerService(flights FlightStore, entries EntryStore, checkpoints CheckpointStore, anchorer anchor.Anchorer, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		flights:     flights,
		entries:     entries,
		checkpoints: checkpoints,
		anchorer:    anchorer,
		logger:      logger,
	}
}

// RegisterFlight creates a new active flight for a mission id.
func (s *LedgerService) RegisterFlight(ctx context.Context, missionID string) (*model.Flight, error) {
	if missionID == "" {
		return nil, errors.New("mission id is required")
	}
	f, err := s.flights.Create(ctx, missionID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("flight registered",
		zap.String("mission_id", f.MissionID),
		zap.String("mission_key", f.MissionKey),
	)
	return f, nil
}

// GetFlight returns a flight by mission id.
func (s *LedgerService) GetFlight(ctx context.Context, missionID string) (*model.Flight, error) {
	return s.flights.GetByMissionID(ctx, missionID)
}

// ListFlights returns recent flights.
func (s *LedgerService) ListFlights(ctx context.Context, limit int) ([]*model.Flight, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.flights.List(ctx, limit)
}

// GetEntry returns a single stored entry with its recorded hashes.
func (s *LedgerService) GetEntry(ctx context.Context, missionID string, idx uint64) (*model.StoredEntry, error) {
	f, err := s.flights.GetByMissionID(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return s.entries.Get(ctx, f.ID, idx)
}

// ListReceipts returns every anchor receipt recorded for a flight.
func (s *LedgerService) ListReceipts(ctx context.Context, missionID string) ([]*model.AnchorReceipt, error) {
	f, err := s.flights.GetByMissionID(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return s.checkpoints.Receipts(ctx, f.ID)
}

// resumeBuilder reconstructs a builder positioned at a flight's stored
// tip, without rehashing the stored prefix.
func resumeBuilder(f *model.Flight) (*chain.Builder, error) {
	if f.TipIndex == nil {
		return chain.NewBuilder(), nil
	}
	tipHash, err := chain.ParseHash(f.TipChainHash)
	if err != nil {
		return nil, fmt.Errorf("stored tip hash: %w", err)
	}
	return chain.ResumeBuilder(chain.Link{Index: *f.TipIndex, ChainHash: tipHash}), nil
}

// AppendEntries chains a run of new entries onto a flight's log and
// persists them. Entry indices must continue the stored chain exactly;
// a gap or repeat surfaces the engine's SequenceError untouched, since it
// indicates a producer bug rather than tampering.
func (s *LedgerService) AppendEntries(ctx context.Context, missionID string, entries []chain.Entry) (*model.Flight, []chain.Link, error) {
	if len(entries) == 0 {
		return nil, nil, errors.New("no entries to append")
	}
	f, err := s.flights.GetByMissionID(ctx, missionID)
	if err != nil {
		return nil, nil, err
	}
	if f.Status == model.FlightStatusClosed {
		return nil, nil, ErrFlightClosed
	}

	b, err := resumeBuilder(f)
	if err != nil {
		return nil, nil, err
	}
	links := make([]chain.Link, 0, len(entries))
	for _, e := range entries {
		link, err := b.Append(e)
		if err != nil {
			return nil, nil, err
		}
		links = append(links, link)
	}

	if err := s.entries.AppendBatch(ctx, f.ID, entries, links); err != nil {
		return nil, nil, err
	}

	tip := links[len(links)-1]
	f.EntryCount = tip.Index + 1
	f.TipIndex = &tip.Index
	f.TipChainHash = tip.ChainHash.Hex()

	s.logger.Debug("entries appended",
		zap.String("mission_id", missionID),
		zap.Int("count", len(entries)),
		zap.Uint64("tip_index", tip.Index),
	)
	return f, links, nil
}

// RecordCheckpoint snapshots the flight's chain tip into the append-only
// checkpoint history. It does not mutate the chain. Recording again at an
// unchanged tip — a client retry, or two checkpoints with no append in
// between — returns the existing record instead of writing a duplicate
// row the verifier would reject as a non-ascending history.
func (s *LedgerService) RecordCheckpoint(ctx context.Context, missionID string) (*model.CheckpointRecord, error) {
	f, err := s.flights.GetByMissionID(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if f.Status == model.FlightStatusClosed {
		return nil, ErrFlightClosed
	}
	if f.TipIndex == nil {
		return nil, ErrNoEntries
	}
	tipHash, err := chain.ParseHash(f.TipChainHash)
	if err != nil {
		return nil, fmt.Errorf("stored tip hash: %w", err)
	}

	last, err := s.checkpoints.Last(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if last != nil && last.EntryIndex == *f.TipIndex && last.ChainHash == tipHash.Hex() {
		return last, nil
	}

	rec, err := s.checkpoints.Append(ctx, f.ID, chain.Checkpoint{
		Index:     *f.TipIndex,
		ChainHash: tipHash,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkpoint recorded",
		zap.String("mission_id", missionID),
		zap.Int("seq", rec.Seq),
		zap.Uint64("entry_index", rec.EntryIndex),
	)
	return rec, nil
}

// FinalizeDigest computes the mission digest over everything chained so
// far and, when an anchorer is configured, publishes it and records the
// receipt. Mid-mission calls are legal and produce intermediate anchors.
func (s *LedgerService) FinalizeDigest(ctx context.Context, missionID string) (*chain.MissionDigest, *anchor.Receipt, error) {
	f, err := s.flights.GetByMissionID(ctx, missionID)
	if err != nil {
		return nil, nil, err
	}
	if f.TipIndex == nil {
		return nil, nil, ErrNoEntries
	}
	tipHash, err := chain.ParseHash(f.TipChainHash)
	if err != nil {
		return nil, nil, fmt.Errorf("stored tip hash: %w", err)
	}

	digest := chain.NewMissionDigest(missionID, chain.Link{Index: *f.TipIndex, ChainHash: tipHash}, f.EntryCount)

	if s.anchorer == nil {
		return &digest, nil, nil
	}
	receipt, err := s.anchorer.Anchor(ctx, digest)
	if err != nil {
		return nil, nil, fmt.Errorf("anchor digest: %w", err)
	}
	if err := s.checkpoints.SaveReceipt(ctx, &model.AnchorReceipt{
		FlightID:   f.ID,
		MissionKey: receipt.MissionKey,
		Digest:     receipt.Digest,
		Algorithm:  receipt.Algorithm,
		EntryCount: receipt.EntryCount,
		Ref:        receipt.Ref,
		AnchoredAt: receipt.AnchoredAt,
	}); err != nil {
		return nil, nil, err
	}
	s.logger.Info("mission digest anchored",
		zap.String("mission_id", missionID),
		zap.String("digest", receipt.Digest),
		zap.String("ref", receipt.Ref),
	)
	return &digest, receipt, nil
}

// CloseFlight finalizes and anchors the terminal mission digest, then
// freezes the flight. Closed flights reject appends and checkpoints.
func (s *LedgerService) CloseFlight(ctx context.Context, missionID string) (*model.Flight, *anchor.Receipt, error) {
	_, receipt, err := s.FinalizeDigest(ctx, missionID)
	if err != nil && !errors.Is(err, ErrNoEntries) {
		return nil, nil, err
	}

	f, err := s.flights.Close(ctx, missionID)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("flight closed", zap.String("mission_id", missionID))
	return f, receipt, nil
}

// VerifyStored replays the flight's own stored entries against its
// recorded trust anchors. A FAIL here means the database copy of the log
// no longer matches what was checkpointed or anchored.
func (s *LedgerService) VerifyStored(ctx context.Context, missionID string) (*chain.Report, error) {
	f, err := s.flights.GetByMissionID(ctx, missionID)
	if err != nil {
		return nil, err
	}
	candidate, err := s.entries.ListByFlight(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, f, candidate)
}

// VerifyCandidate replays an externally supplied candidate log — however
// it was produced — against the flight's recorded trust anchors.
func (s *LedgerService) VerifyCandidate(ctx context.Context, missionID string, candidate []chain.Entry) (*chain.Report, error) {
	f, err := s.flights.GetByMissionID(ctx, missionID)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, f, candidate)
}

// verify prefers the checkpoint history for localization and falls back
// to the most recent anchored digest when no checkpoints were recorded.
func (s *LedgerService) verify(ctx context.Context, f *model.Flight, candidate []chain.Entry) (*chain.Report, error) {
	history, err := s.checkpoints.History(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		return chain.VerifyCheckpoints(candidate, dedupeHistory(history))
	}

	receipts, err := s.checkpoints.Receipts(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, ErrNoExpectation
	}
	last := receipts[len(receipts)-1]
	final, err := chain.ParseHash(last.Digest)
	if err != nil {
		return nil, fmt.Errorf("anchored digest: %w", err)
	}
	return chain.VerifyDigest(candidate, chain.MissionDigest{
		MissionID:      f.MissionID,
		Algorithm:      last.Algorithm,
		FinalChainHash: final,
		EntryCount:     last.EntryCount,
		CreatedAt:      last.AnchoredAt,
	})
}

// dedupeHistory collapses consecutive checkpoints that snapshot the same
// link, as left behind by recorders predating the idempotent write path.
// Repeats with a differing hash are kept: that is a genuinely inconsistent
// history the verifier must reject.
func dedupeHistory(history []chain.Checkpoint) []chain.Checkpoint {
	out := history[:0:0]
	for _, cp := range history {
		if n := len(out); n > 0 && out[n-1].Index == cp.Index && out[n-1].ChainHash == cp.ChainHash {
			continue
		}
		out = append(out, cp)
	}
	return out
}
