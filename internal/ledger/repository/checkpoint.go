package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// CheckpointRepository persists the append-only checkpoint history and
// anchor receipts for flights. Checkpoint rows are never updated or
// deleted; the schema has no UPDATE path for them at all.
type CheckpointRepository struct {
	db *pgxpool.Pool
}

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(db *pgxpool.Pool) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Append records a checkpoint as the next row in the flight's history.
// The sequence number is assigned inside the transaction so concurrent
// recorders cannot interleave.
func (r *CheckpointRepository) Append(ctx context.Context, flightID uuid.UUID, cp chain.Checkpoint) (*model.CheckpointRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", flightLockKey(flightID)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var seq int
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM flight_checkpoints WHERE flight_id = $1",
		flightID,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next checkpoint seq: %w", err)
	}

	rec := &model.CheckpointRecord{
		FlightID:   flightID,
		Seq:        seq,
		EntryIndex: cp.Index,
		ChainHash:  cp.ChainHash.Hex(),
		CreatedAt:  cp.Timestamp,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO flight_checkpoints (flight_id, seq, entry_index, chain_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.FlightID, rec.Seq, rec.EntryIndex, rec.ChainHash, rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit checkpoint: %w", err)
	}
	return rec, nil
}

// Last returns the most recently recorded checkpoint, or nil when the
// flight has none.
func (r *CheckpointRepository) Last(ctx context.Context, flightID uuid.UUID) (*model.CheckpointRecord, error) {
	rec := &model.CheckpointRecord{FlightID: flightID}
	err := r.db.QueryRow(ctx, `
		SELECT seq, entry_index, chain_hash, created_at
		FROM flight_checkpoints WHERE flight_id = $1
		ORDER BY seq DESC LIMIT 1`, flightID,
	).Scan(&rec.Seq, &rec.EntryIndex, &rec.ChainHash, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last checkpoint: %w", err)
	}
	return rec, nil
}

// History returns a flight's checkpoints in recorded order, converted to
// the engine's form for verification.
func (r *CheckpointRepository) History(ctx context.Context, flightID uuid.UUID) ([]chain.Checkpoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT entry_index, chain_hash, created_at
		FROM flight_checkpoints WHERE flight_id = $1 ORDER BY seq ASC`, flightID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []chain.Checkpoint
	for rows.Next() {
		var (
			cp  chain.Checkpoint
			hex string
		)
		if err := rows.Scan(&cp.Index, &hex, &cp.Timestamp); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if cp.ChainHash, err = chain.ParseHash(hex); err != nil {
			return nil, fmt.Errorf("checkpoint at %d: %w", cp.Index, err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// SaveReceipt records the outcome of anchoring a mission digest.
func (r *CheckpointRepository) SaveReceipt(ctx context.Context, rec *model.AnchorReceipt) error {
	if rec.AnchoredAt.IsZero() {
		rec.AnchoredAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO anchor_receipts (flight_id, mission_key, digest, algorithm, entry_count, ref, anchored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.FlightID, rec.MissionKey, rec.Digest, rec.Algorithm, rec.EntryCount, rec.Ref, rec.AnchoredAt,
	)
	if err != nil {
		return fmt.Errorf("insert anchor receipt: %w", err)
	}
	return nil
}

// Receipts returns a flight's anchor receipts, oldest first.
func (r *CheckpointRepository) Receipts(ctx context.Context, flightID uuid.UUID) ([]*model.AnchorReceipt, error) {
	rows, err := r.db.Query(ctx, `
		SELECT flight_id, mission_key, digest, algorithm, entry_count, ref, anchored_at
		FROM anchor_receipts WHERE flight_id = $1 ORDER BY anchored_at ASC`, flightID,
	)
	if err != nil {
		return nil, fmt.Errorf("list anchor receipts: %w", err)
	}
	defer rows.Close()

	var out []*model.AnchorReceipt
	for rows.Next() {
		rec := &model.AnchorReceipt{}
		if err := rows.Scan(
			&rec.FlightID, &rec.MissionKey, &rec.Digest, &rec.Algorithm,
			&rec.EntryCount, &rec.Ref, &rec.AnchoredAt,
		); err != nil {
			return nil, fmt.Errorf("scan anchor receipt: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
