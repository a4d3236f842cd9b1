package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// SurchargeSet is a bitmask of the surcharge rules a flow applies.
type SurchargeSet uint8

const (
	SurchargeTollEstimate SurchargeSet = 1 << iota
	SurchargeTollDeclared
	SurchargeCargo
	SurchargeUrgency
	SurchargeHelper
	SurchargeWaiting
	SurchargeLoading
)

const (
	FullQuoteSurcharges = SurchargeTollEstimate | SurchargeCargo | SurchargeUrgency | SurchargeHelper
	ManualSurcharges    = SurchargeTollDeclared | SurchargeWaiting | SurchargeLoading
)

func (s SurchargeSet) Has(rule SurchargeSet) bool {
	return s&rule == rule
}

// Surcharges returns the default rule set for the flow, or 0 for an unknown flow.
func (f Flow) Surcharges() SurchargeSet {
	switch f {
	case FlowFullQuote:
		return FullQuoteSurcharges
	case FlowManual:
		return ManualSurcharges
	default:
		return 0
	}
}

const (
	tollBaseFee  = 500
	tollPerKmFee = 25

	freeBoxAllowance      = 6
	boxOverageFee         = 500
	freeSuitcaseAllowance = 6
	suitcaseOverageFee    = 800

	urgentWindow   = 2 * time.Hour
	sameDayWindow  = 24 * time.Hour
	urgentFee      = 2000
	sameDayFee     = 1000
	helperFlatFee  = 1000
	freeWaitingMin = 30
	waitingBlock   = 15
	waitingFeeUnit = 1000
)

// Loading/packing tiers offered by the manual estimator.
const (
	LoadingNone     int64 = 0
	LoadingStandard int64 = 1000
	LoadingFull     int64 = 1500
)

// EstimateToll approximates highway tolls as 500 + ceil(km × 25).
func EstimateToll(distanceKm float64) int64 {
	perKm := decimal.NewFromFloat(distanceKm).Mul(decimal.NewFromInt(tollPerKmFee)).Ceil()
	return yen(perKm.Add(decimal.NewFromInt(tollBaseFee)))
}

// CargoSurcharge charges per box and per suitcase beyond the free allowance of six each.
func CargoSurcharge(c CargoCounts) int64 {
	fee := decimal.Zero
	if c.Boxes > freeBoxAllowance {
		fee = fee.Add(decimal.NewFromInt(int64(c.Boxes - freeBoxAllowance)).Mul(decimal.NewFromInt(boxOverageFee)))
	}
	if c.Suitcases > freeSuitcaseAllowance {
		fee = fee.Add(decimal.NewFromInt(int64(c.Suitcases - freeSuitcaseAllowance)).Mul(decimal.NewFromInt(suitcaseOverageFee)))
	}
	return yen(fee)
}

// UrgencySurcharge depends on the lead time between booking and pickup:
// under 2h, under 24h, or a day or more.
func UrgencySurcharge(bookedAt, pickupAt time.Time) int64 {
	lead := pickupAt.Sub(bookedAt)
	switch {
	case lead < urgentWindow:
		return urgentFee
	case lead < sameDayWindow:
		return sameDayFee
	default:
		return 0
	}
}

func HelperFee(requested bool) int64 {
	if requested {
		return helperFlatFee
	}
	return 0
}

// WaitingFee leaves the first 30 minutes free and bills each started 15-minute block after that.
func WaitingFee(minutes int) int64 {
	if minutes <= freeWaitingMin {
		return 0
	}
	blocks := decimal.NewFromInt(int64(minutes - freeWaitingMin)).Div(decimal.NewFromInt(waitingBlock)).Ceil()
	return yen(blocks.Mul(decimal.NewFromInt(waitingFeeUnit)))
}

func IsLoadingTier(fee int64) bool {
	switch fee {
	case LoadingNone, LoadingStandard, LoadingFull:
		return true
	default:
		return false
	}
}

// applySurcharges evaluates every active rule. Inputs are already validated.
func applySurcharges(p TripParameters, active SurchargeSet) Surcharges {
	var s Surcharges
	if active.Has(SurchargeTollEstimate) && p.UseHighway {
		s.TollFee = EstimateToll(p.DistanceKm)
	}
	if active.Has(SurchargeTollDeclared) {
		s.TollFee = p.TollFee
	}
	if active.Has(SurchargeCargo) {
		s.CargoSurcharge = CargoSurcharge(p.Cargo)
	}
	if active.Has(SurchargeUrgency) {
		s.UrgencySurcharge = UrgencySurcharge(p.BookedAt, p.PickupAt)
	}
	if active.Has(SurchargeHelper) {
		s.HelperFee = HelperFee(p.HelperRequested)
	}
	if active.Has(SurchargeWaiting) {
		s.WaitingFee = WaitingFee(p.WaitingMinutes)
	}
	if active.Has(SurchargeLoading) {
		s.LoadingFee = p.LoadingFee
	}
	return s
}
