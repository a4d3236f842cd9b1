// README: Dispatch store backed by Redis GEO and sets.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sokuhai/internal/types"
)

const (
	driverGeoKey        = "dispatch:drivers"
	dispatchedAtPattern = "dispatch:order:%s:dispatched_at"
	notifiedPattern     = "dispatch:order:%s:notified"
	driverOrdersPattern = "dispatch:driver:%s:orders"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) SetAvailable(ctx context.Context, driverID types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *Store) SetOffline(ctx context.Context, driverID types.ID) error {
	return s.redis.ZRem(ctx, driverGeoKey, string(driverID)).Err()
}

// NearbyDrivers returns up to limit drivers within radiusKm, nearest first.
func (s *Store) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
		Count:      limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// RecordDispatch records the dispatch timestamp, the set of notified drivers for
// an order and, per driver, the orders they were offered.
func (s *Store) RecordDispatch(ctx context.Context, orderID types.ID, driverIDs []types.ID, ttl time.Duration) error {
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(dispatchedAtPattern, orderID), time.Now().UTC().Format(time.RFC3339), ttl)
	if len(driverIDs) > 0 {
		members := make([]interface{}, len(driverIDs))
		for i, d := range driverIDs {
			members[i] = string(d)

			driverKey := fmt.Sprintf(driverOrdersPattern, d)
			pipe.SAdd(ctx, driverKey, string(orderID))
			pipe.Expire(ctx, driverKey, ttl)
		}
		notifiedKey := fmt.Sprintf(notifiedPattern, orderID)
		pipe.SAdd(ctx, notifiedKey, members...)
		pipe.Expire(ctx, notifiedKey, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetDispatchedAt returns when the order was first dispatched, and whether it has been dispatched.
func (s *Store) GetDispatchedAt(ctx context.Context, orderID types.ID) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, fmt.Sprintf(dispatchedAtPattern, orderID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *Store) NotifiedDrivers(ctx context.Context, orderID types.ID) ([]types.ID, error) {
	return s.members(ctx, fmt.Sprintf(notifiedPattern, orderID))
}

func (s *Store) NotifiedOrders(ctx context.Context, driverID types.ID) ([]types.ID, error) {
	return s.members(ctx, fmt.Sprintf(driverOrdersPattern, driverID))
}

func (s *Store) members(ctx context.Context, key string) ([]types.ID, error) {
	vals, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(vals))
	for i, v := range vals {
		ids[i] = types.ID(v)
	}
	return ids, nil
}
