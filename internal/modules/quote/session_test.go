package quote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sokuhai/internal/config"
	"sokuhai/internal/maps"
	"sokuhai/internal/modules/pricing"
)

// gatedProvider records lookups by destination and blocks on a per-destination gate.
type gatedProvider struct {
	mu      sync.Mutex
	calls   []string
	km      map[string]float64
	gates   map[string]chan struct{}
	err     error
	started chan string
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		km:      make(map[string]float64),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 32),
	}
}

func (p *gatedProvider) GetDistance(_ context.Context, _, destination string) (maps.Route, error) {
	p.mu.Lock()
	p.calls = append(p.calls, destination)
	gate := p.gates[destination]
	km := p.km[destination]
	err := p.err
	p.mu.Unlock()

	p.started <- destination
	if gate != nil {
		<-gate
	}
	if err != nil {
		return maps.Route{}, err
	}
	if km == 0 {
		km = 10
	}
	return maps.Route{DistanceKm: km}, nil
}

func (p *gatedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestRegistry(p *gatedProvider) *Registry {
	svc := pricing.NewService(pricing.NewMemoryTariffStore(pricing.DefaultTariffs()...), p, pricing.Calculator{Strict: true})
	return NewRegistry(svc, config.QuoteConfig{
		Debounce:      20 * time.Millisecond,
		SessionTTL:    time.Minute,
		LookupTimeout: 2 * time.Second,
	}, zap.NewNop())
}

func manualRequest(destination string) pricing.QuoteRequest {
	return pricing.QuoteRequest{
		Origin:       "東京都千代田区丸の内1-9-1",
		Destination:  destination,
		VehicleClass: "light_van",
		Flow:         pricing.FlowManual,
	}
}

func subscribe(t *testing.T, s *Session) <-chan Event {
	t.Helper()
	_, events, cancel := s.Subscribe()
	t.Cleanup(cancel)
	return events
}

func waitForState(t *testing.T, s *Session, events <-chan Event, want State) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if ev.State == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; latest = %+v", want, s.Latest())
		}
	}
}

func waitStarted(t *testing.T, p *gatedProvider) string {
	t.Helper()
	select {
	case d := <-p.started:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("lookup never started")
		return ""
	}
}

func TestSession_DebounceCollapsesBursts(t *testing.T) {
	p := newGatedProvider()
	s := newTestRegistry(p).Open()
	events := subscribe(t, s)

	for _, dest := range []string{"新", "新宿", "新宿区", "新宿区西新宿", "新宿区西新宿2-8-1"} {
		require.NoError(t, s.Update(manualRequest(dest)))
	}

	ev := waitForState(t, s, events, StateReady)
	require.Equal(t, 1, p.callCount())
	require.Equal(t, []string{"新宿区西新宿2-8-1"}, p.calls)
	require.NotNil(t, ev.Breakdown)
	require.Equal(t, int64(7150), ev.Breakdown.TotalCustomerPrice)
	require.Equal(t, 10.0, ev.Route.DistanceKm)
}

func TestSession_UpdateShowsCalculatingImmediately(t *testing.T) {
	p := newGatedProvider()
	gate := make(chan struct{})
	p.gates["B"] = gate
	defer close(gate)

	s := newTestRegistry(p).Open()
	events := subscribe(t, s)
	require.NoError(t, s.Update(manualRequest("A")))
	ready := waitForState(t, s, events, StateReady)

	require.NoError(t, s.Update(manualRequest("B")))
	latest := s.Latest()
	require.Equal(t, StateCalculating, latest.State)
	require.Nil(t, latest.Breakdown)
	require.Greater(t, latest.Generation, ready.Generation)
}

func TestSession_StaleResultIsDiscarded(t *testing.T) {
	p := newGatedProvider()
	gateA := make(chan struct{})
	p.gates["A"] = gateA
	p.km["B"] = 20

	s := newTestRegistry(p).Open()
	events := subscribe(t, s)
	require.NoError(t, s.Update(manualRequest("A")))
	require.Equal(t, "A", waitStarted(t, p))

	require.NoError(t, s.Update(manualRequest("B")))
	require.Equal(t, "B", waitStarted(t, p))
	ev := waitForState(t, s, events, StateReady)
	require.Equal(t, int64(11550), ev.Breakdown.TotalCustomerPrice)

	// A resolves after B was published.
	close(gateA)
	time.Sleep(100 * time.Millisecond)

	latest := s.Latest()
	require.Equal(t, ev.Generation, latest.Generation)
	require.Equal(t, int64(11550), latest.Breakdown.TotalCustomerPrice)
	select {
	case late := <-events:
		t.Fatalf("stale result was published: %+v", late)
	default:
	}
}

func TestSession_ReusesRouteWhenAddressesUnchanged(t *testing.T) {
	p := newGatedProvider()
	s := newTestRegistry(p).Open()
	events := subscribe(t, s)

	req := manualRequest("新宿区西新宿2-8-1")
	require.NoError(t, s.Update(req))
	first := waitForState(t, s, events, StateReady)

	req.VehicleClass = "van"
	require.NoError(t, s.Update(req))
	second := waitForState(t, s, events, StateReady)

	require.Equal(t, 1, p.callCount())
	require.Equal(t, int64(7150), first.Breakdown.TotalCustomerPrice)
	require.Equal(t, int64(8800), second.Breakdown.TotalCustomerPrice)
}

func TestSession_IncompleteInputSkipsLookup(t *testing.T) {
	tests := []struct {
		name   string
		req    pricing.QuoteRequest
		reason string
	}{
		{"blank origin", pricing.QuoteRequest{Destination: "新宿", VehicleClass: "light_van", Flow: pricing.FlowManual}, ReasonIncompleteAddress},
		{"blank destination", manualRequest("  "), ReasonIncompleteAddress},
		{"no vehicle", pricing.QuoteRequest{Origin: "丸の内", Destination: "新宿", Flow: pricing.FlowManual}, pricing.ReasonMissingVehicle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newGatedProvider()
			s := newTestRegistry(p).Open()
			events := subscribe(t, s)
			require.NoError(t, s.Update(tt.req))

			ev := waitForState(t, s, events, StateInvalid)
			require.Equal(t, tt.reason, ev.Reason)
			require.Nil(t, ev.Breakdown)
			require.Zero(t, p.callCount())
		})
	}
}

func TestSession_UnknownVehicleIsInvalidNotFailed(t *testing.T) {
	p := newGatedProvider()
	s := newTestRegistry(p).Open()
	events := subscribe(t, s)

	req := manualRequest("新宿")
	req.VehicleClass = "rocket"
	require.NoError(t, s.Update(req))

	ev := waitForState(t, s, events, StateInvalid)
	require.Equal(t, pricing.ReasonMissingVehicle, ev.Reason)
	require.Nil(t, ev.Breakdown)
	require.NotNil(t, ev.Route)
}

func TestSession_ProviderFailure(t *testing.T) {
	tests := []struct {
		err    error
		reason string
	}{
		{maps.ErrProviderUnavailable, "provider_unavailable"},
		{maps.ErrRouteNotFound, "route_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			p := newGatedProvider()
			p.err = tt.err
			s := newTestRegistry(p).Open()
			events := subscribe(t, s)
			require.NoError(t, s.Update(manualRequest("新宿")))

			ev := waitForState(t, s, events, StateFailed)
			require.Equal(t, tt.reason, ev.Reason)
			require.Nil(t, ev.Breakdown)
		})
	}
}

func TestSession_ResetDropsInFlightLookup(t *testing.T) {
	p := newGatedProvider()
	gate := make(chan struct{})
	p.gates["新宿"] = gate

	s := newTestRegistry(p).Open()
	require.NoError(t, s.Update(manualRequest("新宿")))
	waitStarted(t, p)

	require.NoError(t, s.Reset())
	close(gate)
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, StateIdle, s.Latest().State)
	require.Nil(t, s.Latest().Breakdown)
}

func TestSession_CloseWhileInFlight(t *testing.T) {
	p := newGatedProvider()
	gate := make(chan struct{})
	p.gates["新宿"] = gate

	s := newTestRegistry(p).Open()
	events := subscribe(t, s)
	require.NoError(t, s.Update(manualRequest("新宿")))
	waitStarted(t, p)

	s.Close()
	close(gate)
	time.Sleep(100 * time.Millisecond)

	for ev := range events {
		require.NotEqual(t, StateReady, ev.State)
	}
	require.ErrorIs(t, s.Update(manualRequest("新宿")), ErrSessionClosed)
	require.ErrorIs(t, s.Reset(), ErrSessionClosed)
	s.Close()
}

func TestSession_EverySubscriberReceivesEachResult(t *testing.T) {
	p := newGatedProvider()
	s := newTestRegistry(p).Open()
	first := subscribe(t, s)
	second := subscribe(t, s)

	require.NoError(t, s.Update(manualRequest("新宿区西新宿2-8-1")))
	a := waitForState(t, s, first, StateReady)
	b := waitForState(t, s, second, StateReady)
	require.Equal(t, a.Generation, b.Generation)
	require.Equal(t, a.Breakdown.TotalCustomerPrice, b.Breakdown.TotalCustomerPrice)

	// A late subscriber gets the current event up front and nothing buffered.
	latest, late, cancel := s.Subscribe()
	defer cancel()
	require.Equal(t, StateReady, latest.State)
	require.Equal(t, a.Generation, latest.Generation)
	select {
	case ev := <-late:
		t.Fatalf("late subscriber replayed %+v", ev)
	default:
	}

	cancel()
	_, open := <-late
	require.False(t, open)

	require.NoError(t, s.Reset())
	require.Equal(t, StateIdle, waitForState(t, s, first, StateIdle).State)
	require.Equal(t, StateIdle, waitForState(t, s, second, StateIdle).State)
}
