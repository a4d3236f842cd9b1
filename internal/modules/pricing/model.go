// README: Pricing data model: vehicle tariffs, trip parameters and the reconciled fare breakdown.
package pricing

import "time"

// VehicleTariff is read-only reference data for one vehicle class. Amounts are whole yen.
type VehicleTariff struct {
	ClassID   string `json:"class_id"`
	Name      string `json:"name"`
	BasePrice int64  `json:"base_price"`
	PerKmRate int64  `json:"per_km_rate"`
}

// Flow names the calling context; each flow has its own active surcharge set.
type Flow string

const (
	// FlowFullQuote is the customer quote flow: estimated tolls, cargo overage,
	// urgency and helper fees.
	FlowFullQuote Flow = "full_quote"
	// FlowManual is the form-based estimator: declared tolls, loading fee and
	// waiting time.
	FlowManual Flow = "manual"
)

type CargoCounts struct {
	Boxes     int `json:"boxes"`
	Suitcases int `json:"suitcases"`
}

// TripParameters is the input to a single fare calculation.
type TripParameters struct {
	DistanceKm float64
	Vehicle    *VehicleTariff
	Flow       Flow
	// Surcharges overrides the flow's default set when non-zero.
	Surcharges SurchargeSet

	UseHighway      bool
	TollFee         int64
	Cargo           CargoCounts
	HelperRequested bool
	BookedAt        time.Time
	PickupAt        time.Time
	WaitingMinutes  int
	LoadingFee      int64
}

// Surcharges itemises every additive fee. Fees outside the active set stay zero.
type Surcharges struct {
	TollFee          int64 `json:"toll_fee"`
	CargoSurcharge   int64 `json:"cargo_surcharge"`
	UrgencySurcharge int64 `json:"urgency_surcharge"`
	HelperFee        int64 `json:"helper_fee"`
	WaitingFee       int64 `json:"waiting_fee"`
	LoadingFee       int64 `json:"loading_fee"`
}

func (s Surcharges) Sum() int64 {
	return s.TollFee + s.CargoSurcharge + s.UrgencySurcharge + s.HelperFee + s.WaitingFee + s.LoadingFee
}

// FareBreakdown is a complete, reconciled quote:
//
//	TotalCustomerPrice == NetPrice + TaxAmount
//	NetPrice == CompanyRevenue + DriverRevenue
type FareBreakdown struct {
	Flow               Flow       `json:"flow"`
	BaseFare           int64      `json:"base_fare"`
	Surcharges         Surcharges `json:"surcharges"`
	NetPrice           int64      `json:"net_price"`
	TaxAmount          int64      `json:"tax_amount"`
	TotalCustomerPrice int64      `json:"total_customer_price"`
	CompanyRevenue     int64      `json:"company_revenue"`
	DriverRevenue      int64      `json:"driver_revenue"`
}
