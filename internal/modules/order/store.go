// README: Order repository backed by PostgreSQL.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sokuhai/internal/types"
)

// Repository is the persistence collaborator of Service.
type Repository interface {
	Save(ctx context.Context, o *Order) error
	Find(ctx context.Context, id types.ID) (*Order, error)
	// Update applies tr and reports false when the order moved on in the meantime.
	Update(ctx context.Context, tr Transition) (bool, error)
	List(ctx context.Context, f ListFilter) ([]*Order, error)
	AppendEvent(ctx context.Context, e *Event) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, customer_id, driver_id, status, status_version,
	origin, destination, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	distance_km, vehicle_class, flow,
	base_fare, toll_fee, cargo_surcharge, urgency_surcharge, helper_fee, waiting_fee, loading_fee,
	net_price, tax_amount, total_customer_price, company_revenue, driver_revenue,
	booked_at, pickup_at, created_at, assigned_at, picked_up_at, delivered_at, cancelled_at, cancel_reason`

func (s *Store) Save(ctx context.Context, o *Order) error {
	f := o.Fare
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21,
			$22, $23, $24, $25, $26,
			$27, $28, $29, $30, $31, $32, $33, $34
		)`,
		string(o.ID), string(o.CustomerID), toStringPtr(o.DriverID), string(o.Status), o.StatusVersion,
		o.Origin, o.Destination, o.Pickup.Lat, o.Pickup.Lng, o.Dropoff.Lat, o.Dropoff.Lng,
		o.DistanceKm, o.VehicleClass, string(f.Flow),
		f.BaseFare, f.Surcharges.TollFee, f.Surcharges.CargoSurcharge, f.Surcharges.UrgencySurcharge,
		f.Surcharges.HelperFee, f.Surcharges.WaitingFee, f.Surcharges.LoadingFee,
		f.NetPrice, f.TaxAmount, f.TotalCustomerPrice, f.CompanyRevenue, f.DriverRevenue,
		o.BookedAt, o.PickupAt, o.CreatedAt, o.AssignedAt, o.PickedUpAt, o.DeliveredAt, o.CancelledAt, o.CancelReason,
	)
	return err
}

func (s *Store) Find(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) Update(ctx context.Context, tr Transition) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			driver_id = CASE WHEN $1 = 'pending' THEN NULL ELSE COALESCE($2, driver_id) END,
			assigned_at = CASE WHEN $1 = 'assigned' THEN $6 WHEN $1 = 'pending' THEN NULL ELSE assigned_at END,
			picked_up_at = CASE WHEN $1 = 'picked_up' THEN $6 ELSE picked_up_at END,
			delivered_at = CASE WHEN $1 = 'delivered' THEN $6 ELSE delivered_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $6 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $1 = 'cancelled' THEN NULLIF($7, '') ELSE cancel_reason END
		WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(tr.To),
		toStringPtr(tr.DriverID),
		string(tr.OrderID),
		string(tr.From),
		tr.Version,
		tr.At,
		tr.Reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", string(f.CustomerID))
	}
	if f.DriverID != "" {
		add("driver_id = $%d", string(f.DriverID))
	}
	if len(f.IDs) > 0 {
		ids := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = string(id)
		}
		add("id = ANY($%d)", ids)
	}

	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO order_events (
			order_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	).Scan(&e.ID)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o        Order
		driverID *string
	)
	f := &o.Fare
	err := row.Scan(
		&o.ID, &o.CustomerID, &driverID, &o.Status, &o.StatusVersion,
		&o.Origin, &o.Destination, &o.Pickup.Lat, &o.Pickup.Lng, &o.Dropoff.Lat, &o.Dropoff.Lng,
		&o.DistanceKm, &o.VehicleClass, &f.Flow,
		&f.BaseFare, &f.Surcharges.TollFee, &f.Surcharges.CargoSurcharge, &f.Surcharges.UrgencySurcharge,
		&f.Surcharges.HelperFee, &f.Surcharges.WaitingFee, &f.Surcharges.LoadingFee,
		&f.NetPrice, &f.TaxAmount, &f.TotalCustomerPrice, &f.CompanyRevenue, &f.DriverRevenue,
		&o.BookedAt, &o.PickupAt, &o.CreatedAt, &o.AssignedAt, &o.PickedUpAt, &o.DeliveredAt, &o.CancelledAt, &o.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
