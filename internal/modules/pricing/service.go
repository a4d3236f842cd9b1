// README: Pricing service; resolves route and tariff, then runs the shared calculator.
package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"sokuhai/internal/maps"
	"sokuhai/internal/metrics"
)

var ErrBadTariff = errors.New("tariff must have a class id and prices between 0 and 1,000,000 yen")

// QuoteRequest is what a customer-facing form submits.
type QuoteRequest struct {
	Origin          string
	Destination     string
	VehicleClass    string
	Flow            Flow
	UseHighway      bool
	TollFee         int64
	Cargo           CargoCounts
	HelperRequested bool
	PickupAt        time.Time
	WaitingMinutes  int
	LoadingFee      int64
}

// Quote is a priced route. Breakdown is never nil on a nil error.
type Quote struct {
	Route     maps.Route
	Vehicle   VehicleTariff
	BookedAt  time.Time
	Breakdown *FareBreakdown
}

type Service struct {
	tariffs TariffStore
	routes  maps.DistanceProvider
	calc    Calculator
	now     func() time.Time
}

func NewService(tariffs TariffStore, routes maps.DistanceProvider, calc Calculator) *Service {
	return &Service{tariffs: tariffs, routes: routes, calc: calc, now: time.Now}
}

// Route performs the distance lookup on its own so callers can debounce and
// cancel it independently of the calculation.
func (s *Service) Route(ctx context.Context, origin, destination string) (maps.Route, error) {
	return s.routes.GetDistance(ctx, origin, destination)
}

// Quote looks up the route and prices it. Provider failures are returned as-is
// and the calculator is not invoked.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	route, err := s.Route(ctx, req.Origin, req.Destination)
	if err != nil {
		metrics.QuotesTotal.WithLabelValues(string(req.Flow), Outcome(err)).Inc()
		return Quote{}, err
	}
	return s.Price(ctx, route, req)
}

// Price runs the calculator for an already resolved route. An unknown vehicle
// class is reported the same way as a missing vehicle: *InvalidInputError.
func (s *Service) Price(ctx context.Context, route maps.Route, req QuoteRequest) (Quote, error) {
	var vehicle *VehicleTariff
	t, err := s.tariffs.GetTariff(ctx, req.VehicleClass)
	switch {
	case err == nil:
		vehicle = &t
	case errors.Is(err, ErrTariffNotFound):
	default:
		return Quote{}, err
	}

	bookedAt := s.now()
	b, err := s.calc.Calculate(req.params(route.DistanceKm, vehicle, bookedAt))
	metrics.QuotesTotal.WithLabelValues(string(req.Flow), Outcome(err)).Inc()
	if err != nil {
		return Quote{}, err
	}
	metrics.QuoteTotalYen.WithLabelValues(string(req.Flow)).Observe(float64(b.TotalCustomerPrice))

	return Quote{Route: route, Vehicle: t, BookedAt: bookedAt, Breakdown: b}, nil
}

func (s *Service) ListTariffs(ctx context.Context) ([]VehicleTariff, error) {
	return s.tariffs.ListTariffs(ctx)
}

func (s *Service) UpsertTariff(ctx context.Context, t VehicleTariff) error {
	t.ClassID = strings.TrimSpace(t.ClassID)
	if t.ClassID == "" || t.BasePrice < 0 || t.PerKmRate < 0 ||
		t.BasePrice > maxTariffAmount || t.PerKmRate > maxTariffAmount {
		return ErrBadTariff
	}
	return s.tariffs.UpsertTariff(ctx, t)
}

func (r QuoteRequest) params(distanceKm float64, vehicle *VehicleTariff, bookedAt time.Time) TripParameters {
	return TripParameters{
		DistanceKm:      distanceKm,
		Vehicle:         vehicle,
		Flow:            r.Flow,
		UseHighway:      r.UseHighway,
		TollFee:         r.TollFee,
		Cargo:           r.Cargo,
		HelperRequested: r.HelperRequested,
		BookedAt:        bookedAt,
		PickupAt:        r.PickupAt,
		WaitingMinutes:  r.WaitingMinutes,
		LoadingFee:      r.LoadingFee,
	}
}

// Outcome is the metric/log label for a quote result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, maps.ErrRouteNotFound):
		return "route_not_found"
	case errors.Is(err, maps.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "error"
	}
}
