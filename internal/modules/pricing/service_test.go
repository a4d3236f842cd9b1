package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"sokuhai/internal/maps"
)

type stubRoutes struct {
	route maps.Route
	err   error
	calls int
}

func (s *stubRoutes) GetDistance(_ context.Context, _, _ string) (maps.Route, error) {
	s.calls++
	return s.route, s.err
}

func newTestService(routes *stubRoutes) *Service {
	s := NewService(NewMemoryTariffStore(DefaultTariffs()...), routes, Calculator{Strict: true})
	s.now = func() time.Time { return bookedAt }
	return s
}

func TestService_Quote(t *testing.T) {
	routes := &stubRoutes{route: maps.Route{DistanceKm: 10, DurationMinutes: 28}}
	s := newTestService(routes)

	q, err := s.Quote(context.Background(), QuoteRequest{
		Origin:       "東京都千代田区丸の内1-9-1",
		Destination:  "東京都新宿区西新宿2-8-1",
		VehicleClass: "light_van",
		Flow:         FlowFullQuote,
		PickupAt:     relaxed,
	})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if q.Breakdown == nil {
		t.Fatal("expected breakdown")
	}
	if q.Breakdown.TotalCustomerPrice != 7150 {
		t.Errorf("TotalCustomerPrice = %d, want 7150", q.Breakdown.TotalCustomerPrice)
	}
	if q.Vehicle.ClassID != "light_van" || !q.BookedAt.Equal(bookedAt) {
		t.Errorf("unexpected quote metadata: %+v", q)
	}
}

func TestService_QuoteUnknownVehicleIsInvalid(t *testing.T) {
	s := newTestService(&stubRoutes{route: maps.Route{DistanceKm: 10}})

	_, err := s.Quote(context.Background(), QuoteRequest{VehicleClass: "rocket", Flow: FlowManual})
	var ie *InvalidInputError
	if !errors.As(err, &ie) || ie.Reason != ReasonMissingVehicle {
		t.Fatalf("expected missing_vehicle, got %v", err)
	}
}

func TestService_QuoteProviderFailure(t *testing.T) {
	for _, providerErr := range []error{maps.ErrRouteNotFound, maps.ErrProviderUnavailable} {
		s := newTestService(&stubRoutes{err: providerErr})
		q, err := s.Quote(context.Background(), QuoteRequest{VehicleClass: "light_van", Flow: FlowManual})
		if !errors.Is(err, providerErr) {
			t.Fatalf("expected %v, got %v", providerErr, err)
		}
		if q.Breakdown != nil {
			t.Fatalf("provider failure must not produce a breakdown: %+v", q.Breakdown)
		}
		if Outcome(err) == "ok" || Outcome(err) == "invalid" {
			t.Errorf("Outcome(%v) = %s", err, Outcome(err))
		}
	}
}

func TestService_BookingTimeComesFromServerClock(t *testing.T) {
	s := newTestService(&stubRoutes{route: maps.Route{DistanceKm: 10}})

	q, err := s.Quote(context.Background(), QuoteRequest{
		VehicleClass: "light_van",
		Flow:         FlowFullQuote,
		PickupAt:     bookedAt.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Quote() error = %v", err)
	}
	if q.Breakdown.Surcharges.UrgencySurcharge != 1000 {
		t.Errorf("UrgencySurcharge = %d, want 1000", q.Breakdown.Surcharges.UrgencySurcharge)
	}
}

func TestService_UpsertTariffValidates(t *testing.T) {
	s := newTestService(&stubRoutes{})
	ctx := context.Background()

	if err := s.UpsertTariff(ctx, VehicleTariff{ClassID: " ", BasePrice: 100}); !errors.Is(err, ErrBadTariff) {
		t.Errorf("blank class: expected ErrBadTariff, got %v", err)
	}
	if err := s.UpsertTariff(ctx, VehicleTariff{ClassID: "bike", PerKmRate: -1}); !errors.Is(err, ErrBadTariff) {
		t.Errorf("negative rate: expected ErrBadTariff, got %v", err)
	}
	if err := s.UpsertTariff(ctx, VehicleTariff{ClassID: "bike", Name: "バイク便", BasePrice: 1200, PerKmRate: 150}); err != nil {
		t.Fatalf("UpsertTariff() error = %v", err)
	}
	list, err := s.ListTariffs(ctx)
	if err != nil {
		t.Fatalf("ListTariffs() error = %v", err)
	}
	if len(list) != 4 || list[0].ClassID != "bike" {
		t.Errorf("expected bike first by base price, got %+v", list)
	}
}
