package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// MemoryStore is an in-memory implementation of the flight, entry, and
// checkpoint stores. It backs development mode and tests; nothing survives
// a restart.
type MemoryStore struct {
	mu          sync.Mutex
	flights     map[string]*model.Flight
	entries     map[uuid.UUID][]chain.Entry
	links       map[uuid.UUID][]chain.Link
	checkpoints map[uuid.UUID][]chain.Checkpoint
	receipts    map[uuid.UUID][]*model.AnchorReceipt
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flights:     make(map[string]*model.Flight),
		entries:     make(map[uuid.UUID][]chain.Entry),
		links:       make(map[uuid.UUID][]chain.Link),
		checkpoints: make(map[uuid.UUID][]chain.Checkpoint),
		receipts:    make(map[uuid.UUID][]*model.AnchorReceipt),
	}
}

func (m *MemoryStore) Create(_ context.Context, missionID string) (*model.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flights[missionID]; ok {
		return nil, ErrMissionExists
	}
	f := &model.Flight{
		ID:         uuid.New(),
		MissionID:  missionID,
		MissionKey: chain.MissionKey(missionID).Hex(),
		Status:     model.FlightStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	m.flights[missionID] = f
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) GetByMissionID(_ context.Context, missionID string) (*model.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flights[missionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*model.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Flight, 0, len(m.flights))
	for _, f := range m.flights {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Close(_ context.Context, missionID string) (*model.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flights[missionID]
	if !ok || f.Status != model.FlightStatusActive {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	f.Status = model.FlightStatusClosed
	f.ClosedAt = &now
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) AppendBatch(_ context.Context, flightID uuid.UUID, entries []chain.Entry, links []chain.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[flightID] = append(m.entries[flightID], entries...)
	m.links[flightID] = append(m.links[flightID], links...)
	tip := links[len(links)-1]
	for _, f := range m.flights {
		if f.ID == flightID {
			idx := tip.Index
			f.EntryCount = idx + 1
			f.TipIndex = &idx
			f.TipChainHash = tip.ChainHash.Hex()
		}
	}
	return nil
}

func (m *MemoryStore) ListByFlight(_ context.Context, flightID uuid.UUID) ([]chain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chain.Entry, len(m.entries[flightID]))
	copy(out, m.entries[flightID])
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, flightID uuid.UUID, idx uint64) (*model.StoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries[flightID] {
		if e.Index != idx {
			continue
		}
		l := m.links[flightID][i]
		return &model.StoredEntry{
			FlightID:      flightID,
			Entry:         e,
			EntryHash:     l.EntryHash.Hex(),
			PrevChainHash: l.PrevChainHash.Hex(),
			ChainHash:     l.ChainHash.Hex(),
		}, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Append(_ context.Context, flightID uuid.UUID, cp chain.Checkpoint) (*model.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[flightID] = append(m.checkpoints[flightID], cp)
	return &model.CheckpointRecord{
		FlightID:   flightID,
		Seq:        len(m.checkpoints[flightID]),
		EntryIndex: cp.Index,
		ChainHash:  cp.ChainHash.Hex(),
		CreatedAt:  cp.Timestamp,
	}, nil
}

func (m *MemoryStore) Last(_ context.Context, flightID uuid.UUID) (*model.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.checkpoints[flightID]
	if len(cps) == 0 {
		return nil, nil
	}
	cp := cps[len(cps)-1]
	return &model.CheckpointRecord{
		FlightID:   flightID,
		Seq:        len(cps),
		EntryIndex: cp.Index,
		ChainHash:  cp.ChainHash.Hex(),
		CreatedAt:  cp.Timestamp,
	}, nil
}

func (m *MemoryStore) History(_ context.Context, flightID uuid.UUID) ([]chain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chain.Checkpoint, len(m.checkpoints[flightID]))
	copy(out, m.checkpoints[flightID])
	return out, nil
}

func (m *MemoryStore) SaveReceipt(_ context.Context, rec *model.AnchorReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[rec.FlightID] = append(m.receipts[rec.FlightID], rec)
	return nil
}

func (m *MemoryStore) Receipts(_ context.Context, flightID uuid.UUID) ([]*model.AnchorReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.AnchorReceipt, len(m.receipts[flightID]))
	copy(out, m.receipts[flightID])
	return out, nil
}
