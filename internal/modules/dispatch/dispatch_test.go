// README: Dispatch tests covering availability, nearest-driver selection and the Redis store.
package dispatch

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"sokuhai/internal/config"
	"sokuhai/internal/types"
)

var (
	tokyoStation = types.Point{Lat: 35.6812, Lng: 139.7671}
	yurakucho    = types.Point{Lat: 35.6751, Lng: 139.7630} // ~0.8km
	ginza        = types.Point{Lat: 35.6717, Lng: 139.7650} // ~1.1km
	shinjuku     = types.Point{Lat: 35.6896, Lng: 139.7006} // ~6km
	yokohama     = types.Point{Lat: 35.4437, Lng: 139.6380} // ~28km
)

func testConfig() config.DispatchConfig {
	return config.DispatchConfig{RadiusKm: 5, NotifyLimit: 2, NotifiedTTL: time.Hour}
}

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{"same point", tokyoStation, tokyoStation, 0, 0.001},
		{"Tokyo to Shinjuku", tokyoStation, shinjuku, 6.0, 0.5},
		{"Tokyo to Yokohama", tokyoStation, yokohama, 28, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("haversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestDispatch_NotifiesNearestDrivers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, testConfig(), nil)

	for id, p := range map[types.ID]types.Point{"d_ginza": ginza, "d_yurakucho": yurakucho, "d_shinjuku": shinjuku, "d_yokohama": yokohama} {
		require.NoError(t, svc.SetAvailability(ctx, AvailabilityCommand{DriverID: id, Online: true, Position: p}))
	}

	require.NoError(t, svc.Dispatch(ctx, "o1", tokyoStation))

	notified, err := store.NotifiedDrivers(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, []types.ID{"d_yurakucho", "d_ginza"}, notified)

	offered, err := svc.NotifiedOrders(ctx, "d_ginza")
	require.NoError(t, err)
	require.Equal(t, []types.ID{"o1"}, offered)

	offered, err = svc.NotifiedOrders(ctx, "d_shinjuku")
	require.NoError(t, err)
	require.Empty(t, offered)
}

func TestDispatch_OfflineDriversAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, testConfig(), nil)

	require.NoError(t, svc.SetAvailability(ctx, AvailabilityCommand{DriverID: "d1", Online: true, Position: ginza}))
	require.NoError(t, svc.SetAvailability(ctx, AvailabilityCommand{DriverID: "d1", Online: false}))
	require.NoError(t, svc.Dispatch(ctx, "o1", tokyoStation))

	notified, err := store.NotifiedDrivers(ctx, "o1")
	require.NoError(t, err)
	require.Empty(t, notified)
}

func TestSetAvailability_RejectsBadPosition(t *testing.T) {
	svc := NewService(NewMemoryStore(), testConfig(), nil)
	for _, p := range []types.Point{{}, {Lat: 91, Lng: 0}, {Lat: 35, Lng: 181}} {
		err := svc.SetAvailability(context.Background(), AvailabilityCommand{DriverID: "d1", Online: true, Position: p})
		require.ErrorIs(t, err, ErrBadPosition, "position %+v", p)
	}
}

func TestStore_Redis(t *testing.T) {
	addr := os.Getenv("SOKUHAI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SOKUHAI_TEST_REDIS_ADDR not set; skipping redis-backed dispatch test")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Del(ctx, driverGeoKey).Err())

	store := NewStore(rdb)
	svc := NewService(store, testConfig(), nil)
	orderID := types.NewID()

	require.NoError(t, svc.SetAvailability(ctx, AvailabilityCommand{DriverID: "rd_ginza", Online: true, Position: ginza}))
	require.NoError(t, svc.SetAvailability(ctx, AvailabilityCommand{DriverID: "rd_yurakucho", Online: true, Position: yurakucho}))
	require.NoError(t, svc.SetAvailability(ctx, AvailabilityCommand{DriverID: "rd_shinjuku", Online: true, Position: shinjuku}))
	require.NoError(t, svc.Dispatch(ctx, orderID, tokyoStation))

	notified, err := store.NotifiedDrivers(ctx, orderID)
	require.NoError(t, err)
	require.ElementsMatch(t, []types.ID{"rd_ginza", "rd_yurakucho"}, notified)

	offered, err := store.NotifiedOrders(ctx, "rd_ginza")
	require.NoError(t, err)
	require.Contains(t, offered, orderID)

	at, ok, err := store.GetDispatchedAt(ctx, orderID)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, time.Now(), at, time.Minute)

	ttl, err := rdb.TTL(ctx, "dispatch:order:"+string(orderID)+":notified").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
