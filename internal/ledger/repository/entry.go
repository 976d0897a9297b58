package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// EntryRepository persists chained log entries against PostgreSQL.
type EntryRepository struct {
	db *pgxpool.Pool
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(db *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{db: db}
}

// flightLockKey derives a per-flight advisory lock key so concurrent
// appends to the same flight serialize without blocking other flights.
func flightLockKey(flightID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(flightID[:8])) //nolint:gosec
}

// Entry timestamps are hashed at nanosecond precision, so they are stored
// as raw unix nanos rather than timestamptz: postgres timestamps carry
// microseconds only, and a truncated copy would replay to a different
// entry hash than the one chained.
func entryNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func nanosToTime(n int64) time.Time { return time.Unix(0, n).UTC() }

// AppendBatch inserts a run of freshly chained entries and advances the
// flight's cached tip, all within one transaction guarded by a per-flight
// advisory lock. links must parallel entries index for index.
func (r *EntryRepository) AppendBatch(ctx context.Context, flightID uuid.UUID, entries []chain.Entry, links []chain.Link) error {
	if len(entries) != len(links) {
		return fmt.Errorf("append batch: %d entries but %d links", len(entries), len(links))
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", flightLockKey(flightID)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	for i, e := range entries {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("marshal entry %d fields: %w", e.Index, err)
		}
		l := links[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO flight_entries
			  (flight_id, idx, ts_unix_nano, entry_type, fields, entry_hash, prev_chain_hash, chain_hash, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			flightID, e.Index, entryNanos(e.Timestamp), e.Type, fields,
			l.EntryHash.Hex(), l.PrevChainHash.Hex(), l.ChainHash.Hex(),
		); err != nil {
			return fmt.Errorf("insert entry %d: %w", e.Index, err)
		}
	}

	tip := links[len(links)-1]
	if _, err := tx.Exec(ctx, `
		UPDATE flights
		SET entry_count = $1, tip_index = $2, tip_chain_hash = $3
		WHERE id = $4`,
		tip.Index+1, tip.Index, tip.ChainHash.Hex(), flightID,
	); err != nil {
		return fmt.Errorf("advance flight tip: %w", err)
	}

	return tx.Commit(ctx)
}

// ListByFlight returns a flight's entries ordered by index, the shape the
// verifier replays.
func (r *EntryRepository) ListByFlight(ctx context.Context, flightID uuid.UUID) ([]chain.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT idx, ts_unix_nano, entry_type, fields
		FROM flight_entries WHERE flight_id = $1 ORDER BY idx ASC`, flightID,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []chain.Entry
	for rows.Next() {
		var (
			e      chain.Entry
			nanos  int64
			fields []byte
		)
		if err := rows.Scan(&e.Index, &nanos, &e.Type, &fields); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Timestamp = nanosToTime(nanos)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, fmt.Errorf("decode entry %d fields: %w", e.Index, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns a single stored entry with its chain link columns.
func (r *EntryRepository) Get(ctx context.Context, flightID uuid.UUID, idx uint64) (*model.StoredEntry, error) {
	var (
		se     model.StoredEntry
		nanos  int64
		fields []byte
	)
	se.FlightID = flightID
	err := r.db.QueryRow(ctx, `
		SELECT idx, ts_unix_nano, entry_type, fields, entry_hash, prev_chain_hash, chain_hash, received_at
		FROM flight_entries WHERE flight_id = $1 AND idx = $2`, flightID, idx,
	).Scan(
		&se.Entry.Index, &nanos, &se.Entry.Type, &fields,
		&se.EntryHash, &se.PrevChainHash, &se.ChainHash, &se.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", idx, err)
	}
	se.Entry.Timestamp = nanosToTime(nanos)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &se.Entry.Fields); err != nil {
			return nil, fmt.Errorf("decode entry %d fields: %w", idx, err)
		}
	}
	return &se, nil
}
