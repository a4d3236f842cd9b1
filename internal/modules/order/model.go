// README: Delivery order aggregate and status definitions.
package order

import (
	"time"

	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusPickedUp  Status = "picked_up"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

const (
	ActorCustomer = "customer"
	ActorDriver   = "driver"
	ActorAdmin    = "admin"
	ActorSystem   = "system"
)

// Order carries the fare exactly as quoted at booking time; it is never re-priced.
type Order struct {
	ID            types.ID              `json:"id"`
	CustomerID    types.ID              `json:"customer_id"`
	DriverID      *types.ID             `json:"driver_id,omitempty"`
	Status        Status                `json:"status"`
	StatusVersion int                   `json:"status_version"`
	Origin        string                `json:"origin"`
	Destination   string                `json:"destination"`
	Pickup        types.Point           `json:"pickup"`
	Dropoff       types.Point           `json:"dropoff"`
	DistanceKm    float64               `json:"distance_km"`
	VehicleClass  string                `json:"vehicle_class"`
	Fare          pricing.FareBreakdown `json:"fare"`
	BookedAt      time.Time             `json:"booked_at"`
	PickupAt      *time.Time            `json:"pickup_at,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	AssignedAt    *time.Time            `json:"assigned_at,omitempty"`
	PickedUpAt    *time.Time            `json:"picked_up_at,omitempty"`
	DeliveredAt   *time.Time            `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason  *string               `json:"cancel_reason,omitempty"`
}

type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"order_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorType  string    `json:"actor_type"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Transition is a guarded status change. It applies only while the stored
// order is still in From at Version.
type Transition struct {
	OrderID  types.ID
	From     Status
	To       Status
	Version  int
	DriverID *types.ID
	Reason   string
	At       time.Time
}

type ListFilter struct {
	Status     Status
	CustomerID types.ID
	DriverID   types.ID
	IDs        []types.ID
	Limit      int
}

// RevenueSummary totals delivered orders.
type RevenueSummary struct {
	Orders         int         `json:"orders"`
	CustomerTotal  types.Money `json:"customer_total"`
	TaxTotal       types.Money `json:"tax_total"`
	CompanyRevenue types.Money `json:"company_revenue"`
	DriverRevenue  types.Money `json:"driver_revenue"`
}

// AllowedTransitions represents the delivery flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusPickedUp, StatusPending, StatusCancelled},
	StatusPickedUp: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// apply mirrors a successful Transition onto o.
func (o *Order) apply(tr Transition) {
	o.Status = tr.To
	o.StatusVersion++
	at := tr.At
	switch tr.To {
	case StatusAssigned:
		o.DriverID = tr.DriverID
		o.AssignedAt = &at
	case StatusPending:
		o.DriverID = nil
		o.AssignedAt = nil
	case StatusPickedUp:
		o.PickedUpAt = &at
	case StatusDelivered:
		o.DeliveredAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
		if tr.Reason != "" {
			r := tr.Reason
			o.CancelReason = &r
		}
	}
}

func (f ListFilter) matches(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.DriverID != "" && (o.DriverID == nil || *o.DriverID != f.DriverID) {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == o.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
