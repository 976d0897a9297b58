package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// ErrNotFound is returned when a flight is not found in the database.
var ErrNotFound = errors.New("flight not found")

// ErrMissionExists is returned when registering a mission id that is
// already taken.
var ErrMissionExists = errors.New("mission id already registered")

// FlightRepository provides flight lifecycle operations against PostgreSQL.
type FlightRepository struct {
	db *pgxpool.Pool
}

// NewFlightRepository creates a new FlightRepository.
func NewFlightRepository(db *pgxpool.Pool) *FlightRepository {
	return &FlightRepository{db: db}
}

// Create registers a new flight in active status.
func (r *FlightRepository) Create(ctx context.Context, missionID string) (*model.Flight, error) {
	f := &model.Flight{
		ID:         uuid.New(),
		MissionID:  missionID,
		MissionKey: chain.MissionKey(missionID).Hex(),
		Status:     model.FlightStatusActive,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO flights (id, mission_id, mission_key, status, entry_count, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)`,
		f.ID, f.MissionID, f.MissionKey, f.Status, f.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrMissionExists
		}
		return nil, fmt.Errorf("insert flight: %w", err)
	}
	return f, nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFlight decodes one flights row. tip_index and tip_chain_hash are
// NULL until the first append, so both scan through nullable targets.
func scanFlight(row rowScanner) (*model.Flight, error) {
	f := &model.Flight{}
	var tipHash *string
	if err := row.Scan(
		&f.ID, &f.MissionID, &f.MissionKey, &f.Status, &f.EntryCount,
		&f.TipIndex, &tipHash, &f.CreatedAt, &f.ClosedAt,
	); err != nil {
		return nil, err
	}
	if tipHash != nil {
		f.TipChainHash = *tipHash
	}
	return f, nil
}

// GetByMissionID retrieves a flight by its human-readable mission id.
func (r *FlightRepository) GetByMissionID(ctx context.Context, missionID string) (*model.Flight, error) {
	f, err := scanFlight(r.db.QueryRow(ctx, `
		SELECT id, mission_id, mission_key, status, entry_count,
		       tip_index, tip_chain_hash, created_at, closed_at
		FROM flights WHERE mission_id = $1`, missionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flight %q: %w", missionID, err)
	}
	return f, nil
}

// List returns flights newest first, capped at limit.
func (r *FlightRepository) List(ctx context.Context, limit int) ([]*model.Flight, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, mission_id, mission_key, status, entry_count,
		       tip_index, tip_chain_hash, created_at, closed_at
		FROM flights ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}
	defer rows.Close()

	var out []*model.Flight
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flight: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Close marks a flight closed. Closing an already-closed flight is a no-op
// reported as ErrNotFound so the caller can surface it.
func (r *FlightRepository) Close(ctx context.Context, missionID string) (*model.Flight, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE flights SET status = $1, closed_at = $2
		WHERE mission_id = $3 AND status = $4`,
		model.FlightStatusClosed, time.Now().UTC(), missionID, model.FlightStatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("close flight %q: %w", missionID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetByMissionID(ctx, missionID)
}
