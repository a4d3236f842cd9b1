// README: Tariff table backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTariffNotFound = errors.New("vehicle tariff not found")

// TariffStore is the tariff table collaborator.
type TariffStore interface {
	GetTariff(ctx context.Context, classID string) (VehicleTariff, error)
	ListTariffs(ctx context.Context) ([]VehicleTariff, error)
	UpsertTariff(ctx context.Context, t VehicleTariff) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetTariff(ctx context.Context, classID string) (VehicleTariff, error) {
	var t VehicleTariff
	err := s.db.QueryRow(ctx, `
		SELECT class_id, name, base_price, per_km_rate
		FROM vehicle_tariffs
		WHERE class_id = $1`, classID,
	).Scan(&t.ClassID, &t.Name, &t.BasePrice, &t.PerKmRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return VehicleTariff{}, ErrTariffNotFound
	}
	if err != nil {
		return VehicleTariff{}, err
	}
	return t, nil
}

func (s *Store) ListTariffs(ctx context.Context) ([]VehicleTariff, error) {
	rows, err := s.db.Query(ctx, `
		SELECT class_id, name, base_price, per_km_rate
		FROM vehicle_tariffs
		ORDER BY base_price, class_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VehicleTariff
	for rows.Next() {
		var t VehicleTariff
		if err := rows.Scan(&t.ClassID, &t.Name, &t.BasePrice, &t.PerKmRate); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertTariff(ctx context.Context, t VehicleTariff) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicle_tariffs (class_id, name, base_price, per_km_rate, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (class_id) DO UPDATE SET
			name = EXCLUDED.name,
			base_price = EXCLUDED.base_price,
			per_km_rate = EXCLUDED.per_km_rate,
			updated_at = NOW()`,
		t.ClassID, t.Name, t.BasePrice, t.PerKmRate,
	)
	return err
}

// MemoryTariffStore is an in-process tariff table for tests and DB-less runs.
type MemoryTariffStore struct {
	mu      sync.RWMutex
	tariffs map[string]VehicleTariff
}

func NewMemoryTariffStore(tariffs ...VehicleTariff) *MemoryTariffStore {
	m := &MemoryTariffStore{tariffs: make(map[string]VehicleTariff, len(tariffs))}
	for _, t := range tariffs {
		m.tariffs[t.ClassID] = t
	}
	return m
}

// DefaultTariffs mirrors the seed rows in migrations/0001_init.sql.
func DefaultTariffs() []VehicleTariff {
	return []VehicleTariff{
		{ClassID: "light_van", Name: "軽バン", BasePrice: 2500, PerKmRate: 400},
		{ClassID: "van", Name: "バン", BasePrice: 3500, PerKmRate: 450},
		{ClassID: "truck_2t", Name: "2tトラック", BasePrice: 6000, PerKmRate: 550},
	}
}

func (m *MemoryTariffStore) GetTariff(_ context.Context, classID string) (VehicleTariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tariffs[classID]
	if !ok {
		return VehicleTariff{}, ErrTariffNotFound
	}
	return t, nil
}

func (m *MemoryTariffStore) ListTariffs(_ context.Context) ([]VehicleTariff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]VehicleTariff, 0, len(m.tariffs))
	for _, t := range m.tariffs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BasePrice != out[j].BasePrice {
			return out[i].BasePrice < out[j].BasePrice
		}
		return out[i].ClassID < out[j].ClassID
	})
	return out, nil
}

func (m *MemoryTariffStore) UpsertTariff(_ context.Context, t VehicleTariff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tariffs[t.ClassID] = t
	return nil
}
