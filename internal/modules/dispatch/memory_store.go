package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"sokuhai/internal/types"
)

// MemoryStore is a single-process DriverStore. Notification records never expire.
type MemoryStore struct {
	mu        sync.Mutex
	positions map[types.ID]types.Point
	notified  map[types.ID][]types.ID
	offered   map[types.ID][]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[types.ID]types.Point),
		notified:  make(map[types.ID][]types.ID),
		offered:   make(map[types.ID][]types.ID),
	}
}

func (m *MemoryStore) SetAvailable(_ context.Context, driverID types.ID, p types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[driverID] = p
	return nil
}

func (m *MemoryStore) SetOffline(_ context.Context, driverID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, driverID)
	return nil
}

func (m *MemoryStore) NearbyDrivers(_ context.Context, p types.Point, radiusKm float64, limit int) ([]types.ID, error) {
	type candidate struct {
		id types.ID
		km float64
	}
	m.mu.Lock()
	var found []candidate
	for id, pos := range m.positions {
		if km := haversineKm(p, pos); km <= radiusKm {
			found = append(found, candidate{id: id, km: km})
		}
	}
	m.mu.Unlock()

	sort.Slice(found, func(i, j int) bool {
		if found[i].km != found[j].km {
			return found[i].km < found[j].km
		}
		return found[i].id < found[j].id
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]types.ID, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids, nil
}

func (m *MemoryStore) RecordDispatch(_ context.Context, orderID types.ID, driverIDs []types.ID, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified[orderID] = append(m.notified[orderID], driverIDs...)
	for _, d := range driverIDs {
		m.offered[d] = append(m.offered[d], orderID)
	}
	return nil
}

func (m *MemoryStore) NotifiedOrders(_ context.Context, driverID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ID(nil), m.offered[driverID]...), nil
}

func (m *MemoryStore) NotifiedDrivers(_ context.Context, orderID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ID(nil), m.notified[orderID]...), nil
}
