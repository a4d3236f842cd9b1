package maps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"sokuhai/internal/metrics"
)

const routeKeyPrefix = "route:"

// CachedRouteService fronts a DistanceProvider with Redis and collapses
// concurrent lookups for the same origin/destination pair into one call.
// Failed lookups are never cached.
type CachedRouteService struct {
	next   DistanceProvider
	redis  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

func NewCachedRouteService(next DistanceProvider, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRouteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRouteService{next: next, redis: rdb, ttl: ttl, logger: logger}
}

func (s *CachedRouteService) GetDistance(ctx context.Context, origin, destination string) (Route, error) {
	key := routeKey(origin, destination)

	if route, ok := s.lookup(ctx, key); ok {
		metrics.RouteLookups.WithLabelValues("cache", "hit").Inc()
		return route, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		route, err := s.next.GetDistance(ctx, origin, destination)
		if err != nil {
			metrics.RouteLookups.WithLabelValues("provider", resultLabel(err)).Inc()
			return Route{}, err
		}
		metrics.RouteLookups.WithLabelValues("provider", "ok").Inc()
		s.store(ctx, key, route)
		return route, nil
	})
	if err != nil {
		return Route{}, err
	}
	return v.(Route), nil
}

func (s *CachedRouteService) lookup(ctx context.Context, key string) (Route, bool) {
	if s.redis == nil {
		return Route{}, false
	}
	raw, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return Route{}, false
	}
	if err != nil {
		s.logger.Warn("route cache read failed", zap.String("key", key), zap.Error(err))
		return Route{}, false
	}
	var route Route
	if err := json.Unmarshal(raw, &route); err != nil {
		s.logger.Warn("route cache entry corrupt", zap.String("key", key), zap.Error(err))
		return Route{}, false
	}
	return route, true
}

func (s *CachedRouteService) store(ctx context.Context, key string, route Route) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(route)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("route cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// routeKey normalises whitespace so "東京駅 " and "東京駅" share an entry.
func routeKey(origin, destination string) string {
	sum := sha256.Sum256([]byte(normalizeAddress(origin) + "\x00" + normalizeAddress(destination)))
	return routeKeyPrefix + hex.EncodeToString(sum[:16])
}

func normalizeAddress(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrRouteNotFound):
		return "not_found"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
