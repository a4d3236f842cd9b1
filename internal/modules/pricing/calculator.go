package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sokuhai/internal/metrics"
)

const (
	// TaxRatePercent is the consumption tax applied to the net price.
	TaxRatePercent = 10
	// CompanyCommissionPercent is the platform share of the net price. The
	// driver receives the remainder, including any rounding difference.
	CompanyCommissionPercent = 20

	// maxDistanceKm rejects figures no regional delivery can produce.
	maxDistanceKm = 2000

	// Upper bounds on tariff and trip input. Every breakdown sum stays far inside int64.
	maxTariffAmount   = 1_000_000
	maxCargoItems     = 999
	maxWaitingMinutes = 24 * 60
	maxTollFee        = 1_000_000
)

var ErrInvalidInput = errors.New("invalid fare input")

// Reasons reported by InvalidInputError.
const (
	ReasonMissingVehicle      = "missing_vehicle"
	ReasonNegativeTariff      = "negative_tariff"
	ReasonNonPositiveDistance = "non_positive_distance"
	ReasonDistanceOutOfRange  = "distance_out_of_range"
	ReasonUnknownFlow         = "unknown_flow"
	ReasonConflictingTolls    = "conflicting_toll_rules"
	ReasonNegativeToll        = "negative_toll"
	ReasonNegativeCargo       = "negative_cargo"
	ReasonNegativeWaiting     = "negative_waiting"
	ReasonUnknownLoadingTier  = "unknown_loading_tier"
	ReasonMissingSchedule     = "missing_schedule"
	ReasonPickupBeforeBooking = "pickup_before_booking"
	ReasonTariffOutOfRange    = "tariff_out_of_range"
	ReasonTollOutOfRange      = "toll_out_of_range"
	ReasonCargoOutOfRange     = "cargo_out_of_range"
	ReasonWaitingOutOfRange   = "waiting_out_of_range"
)

// InvalidInputError reports why parameters cannot be quoted yet. It is an
// expected state while a form is being filled in, not a failure.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid fare input: " + e.Reason
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(reason string) error {
	return &InvalidInputError{Reason: reason}
}

// InvariantError means the calculator produced an unreconciled breakdown. It
// indicates a bug in this package, never bad input.
type InvariantError struct {
	Breakdown FareBreakdown
	Detail    string
}

func (e *InvariantError) Error() string {
	return "fare invariant violated: " + e.Detail
}

// Calculator is the single fare calculation entry point shared by every flow.
//
// Strict calculators panic on an invariant violation. Lenient ones re-derive the
// dependent fields from the net price and log the violation.
type Calculator struct {
	Strict bool
	Logger *zap.Logger
}

var defaultCalculator = Calculator{Strict: true}

// Calculate runs the strict calculator.
func Calculate(p TripParameters) (*FareBreakdown, error) {
	return defaultCalculator.Calculate(p)
}

// Calculate returns a reconciled breakdown, or nil and an *InvalidInputError.
// It has no side effects other than logging in lenient mode.
func (c Calculator) Calculate(p TripParameters) (*FareBreakdown, error) {
	active, err := validate(p)
	if err != nil {
		return nil, err
	}

	b := &FareBreakdown{Flow: p.Flow}
	b.BaseFare = p.Vehicle.BasePrice + distanceCharge(p.DistanceKm, p.Vehicle.PerKmRate)
	b.Surcharges = applySurcharges(p, active)
	b.NetPrice = b.BaseFare + b.Surcharges.Sum()
	b.TaxAmount = percentOf(b.NetPrice, TaxRatePercent)
	b.TotalCustomerPrice = b.NetPrice + b.TaxAmount
	b.CompanyRevenue = percentOf(b.NetPrice, CompanyCommissionPercent)
	b.DriverRevenue = b.NetPrice - b.CompanyRevenue

	c.settle(b)
	return b, nil
}

// settle enforces the reconciliation invariants on b.
func (c Calculator) settle(b *FareBreakdown) {
	err := b.Reconcile()
	if err == nil {
		return
	}
	if c.Strict {
		panic(err)
	}

	metrics.InvariantViolations.Inc()
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Error("fare breakdown failed reconciliation; re-deriving from net price",
		zap.Error(err),
		zap.Any("breakdown", *b),
	)
	b.NetPrice = b.BaseFare + b.Surcharges.Sum()
	b.TaxAmount = percentOf(b.NetPrice, TaxRatePercent)
	b.TotalCustomerPrice = b.NetPrice + b.TaxAmount
	b.CompanyRevenue = percentOf(b.NetPrice, CompanyCommissionPercent)
	b.DriverRevenue = b.NetPrice - b.CompanyRevenue
}

// Reconcile checks the additive invariants and that no field is negative.
func (b FareBreakdown) Reconcile() error {
	fail := func(format string, args ...any) error {
		return &InvariantError{Breakdown: b, Detail: fmt.Sprintf(format, args...)}
	}
	if b.NetPrice != b.BaseFare+b.Surcharges.Sum() {
		return fail("net %d != base %d + surcharges %d", b.NetPrice, b.BaseFare, b.Surcharges.Sum())
	}
	if b.TotalCustomerPrice != b.NetPrice+b.TaxAmount {
		return fail("total %d != net %d + tax %d", b.TotalCustomerPrice, b.NetPrice, b.TaxAmount)
	}
	if b.CompanyRevenue+b.DriverRevenue != b.NetPrice {
		return fail("company %d + driver %d != net %d", b.CompanyRevenue, b.DriverRevenue, b.NetPrice)
	}
	for name, v := range map[string]int64{
		"base_fare":            b.BaseFare,
		"toll_fee":             b.Surcharges.TollFee,
		"cargo_surcharge":      b.Surcharges.CargoSurcharge,
		"urgency_surcharge":    b.Surcharges.UrgencySurcharge,
		"helper_fee":           b.Surcharges.HelperFee,
		"waiting_fee":          b.Surcharges.WaitingFee,
		"loading_fee":          b.Surcharges.LoadingFee,
		"net_price":            b.NetPrice,
		"tax_amount":           b.TaxAmount,
		"total_customer_price": b.TotalCustomerPrice,
		"company_revenue":      b.CompanyRevenue,
		"driver_revenue":       b.DriverRevenue,
	} {
		if v < 0 {
			return fail("%s is negative (%d)", name, v)
		}
	}
	return nil
}

func validate(p TripParameters) (SurchargeSet, error) {
	if p.Vehicle == nil {
		return 0, invalid(ReasonMissingVehicle)
	}
	if p.Vehicle.BasePrice < 0 || p.Vehicle.PerKmRate < 0 {
		return 0, invalid(ReasonNegativeTariff)
	}
	if p.Vehicle.BasePrice > maxTariffAmount || p.Vehicle.PerKmRate > maxTariffAmount {
		return 0, invalid(ReasonTariffOutOfRange)
	}
	if math.IsNaN(p.DistanceKm) || p.DistanceKm <= 0 {
		return 0, invalid(ReasonNonPositiveDistance)
	}
	if math.IsInf(p.DistanceKm, 1) || p.DistanceKm > maxDistanceKm {
		return 0, invalid(ReasonDistanceOutOfRange)
	}

	active := p.Surcharges
	if active == 0 {
		active = p.Flow.Surcharges()
	}
	if active == 0 {
		return 0, invalid(ReasonUnknownFlow)
	}
	if active.Has(SurchargeTollEstimate | SurchargeTollDeclared) {
		return 0, invalid(ReasonConflictingTolls)
	}

	if p.TollFee < 0 {
		return 0, invalid(ReasonNegativeToll)
	}
	if p.Cargo.Boxes < 0 || p.Cargo.Suitcases < 0 {
		return 0, invalid(ReasonNegativeCargo)
	}
	if p.WaitingMinutes < 0 {
		return 0, invalid(ReasonNegativeWaiting)
	}
	if p.TollFee > maxTollFee {
		return 0, invalid(ReasonTollOutOfRange)
	}
	if p.Cargo.Boxes > maxCargoItems || p.Cargo.Suitcases > maxCargoItems {
		return 0, invalid(ReasonCargoOutOfRange)
	}
	if p.WaitingMinutes > maxWaitingMinutes {
		return 0, invalid(ReasonWaitingOutOfRange)
	}
	if !IsLoadingTier(p.LoadingFee) {
		return 0, invalid(ReasonUnknownLoadingTier)
	}
	if active.Has(SurchargeUrgency) {
		if p.BookedAt.IsZero() || p.PickupAt.IsZero() {
			return 0, invalid(ReasonMissingSchedule)
		}
		if p.PickupAt.Before(p.BookedAt) {
			return 0, invalid(ReasonPickupBeforeBooking)
		}
	}
	return active, nil
}

// distanceCharge is round-half-up(km × rate).
func distanceCharge(distanceKm float64, perKmRate int64) int64 {
	return yen(decimal.NewFromFloat(distanceKm).Mul(decimal.NewFromInt(perKmRate)).Round(0))
}

// percentOf is round-half-up(amount × pct / 100). Every tax and split
// computation goes through here so they share one rounding rule.
func percentOf(amount int64, pct int64) int64 {
	return yen(decimal.NewFromInt(amount).Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Round(0))
}

var maxYen = decimal.NewFromInt(math.MaxInt64)

// yen converts a whole-yen decimal to int64, saturating instead of wrapping.
func yen(d decimal.Decimal) int64 {
	if d.GreaterThan(maxYen) {
		return math.MaxInt64
	}
	return d.IntPart()
}
