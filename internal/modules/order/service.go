// README: Order service implements delivery state transitions and persistence.
package order

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sokuhai/internal/metrics"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/types"
)

// Quoter prices a request server side. *pricing.Service satisfies it.
type Quoter interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
}

// Dispatcher notifies nearby drivers about new orders and remembers who was told.
type Dispatcher interface {
	Dispatch(ctx context.Context, orderID types.ID, pickup types.Point) error
	NotifiedOrders(ctx context.Context, driverID types.ID) ([]types.ID, error)
}

type Service struct {
	repo       Repository
	quoter     Quoter
	dispatcher Dispatcher
	events     EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(repo Repository, quoter Quoter, events EventPublisher, logger *zap.Logger) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, quoter: quoter, events: events, logger: logger, now: time.Now}
}

// SetDispatcher wires driver notification. Without one, orders are created but
// no driver is offered them.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("order not found")
	ErrConflict     = errors.New("order state conflict")
	ErrForbidden    = errors.New("caller may not act on this order")
	ErrBadRequest   = errors.New("bad request")
)

type CreateCommand struct {
	CustomerID types.ID
	Request    pricing.QuoteRequest
}

type AcceptCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type ReleaseCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type PickUpCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type DeliverCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

type CancelCommand struct {
	OrderID   types.ID
	ActorType string
	ActorID   types.ID
	Reason    string
}

// Create prices the request and stores a pending order. Invalid quotes and
// failed route lookups are returned unchanged and nothing is stored.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" {
		return nil, ErrBadRequest
	}
	q, err := s.quoter.Quote(ctx, cmd.Request)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:            types.NewID(),
		CustomerID:    cmd.CustomerID,
		Status:        StatusPending,
		StatusVersion: 0,
		Origin:        cmd.Request.Origin,
		Destination:   cmd.Request.Destination,
		Pickup:        q.Route.Origin,
		Dropoff:       q.Route.Destination,
		DistanceKm:    q.Route.DistanceKm,
		VehicleClass:  q.Vehicle.ClassID,
		Fare:          *q.Breakdown,
		BookedAt:      q.BookedAt,
		PickupAt:      timePtr(cmd.Request.PickupAt),
		CreatedAt:     now,
	}
	if err := s.repo.Save(ctx, o); err != nil {
		return nil, err
	}
	s.record(ctx, o, Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  ActorCustomer,
		ActorID:    &cmd.CustomerID,
		CreatedAt:  now,
	})

	if s.dispatcher != nil && !o.Pickup.IsZero() {
		if err := s.dispatcher.Dispatch(ctx, o.ID, o.Pickup); err != nil {
			s.logger.Warn("dispatch failed", zap.String("order_id", string(o.ID)), zap.Error(err))
		}
	}
	return o, nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Order, error) {
	if cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	driverID := cmd.DriverID
	return s.transition(ctx, cmd.OrderID, StatusAssigned, ActorDriver, &driverID, "", nil)
}

// Release hands an assigned order back to the pending pool.
func (s *Service) Release(ctx context.Context, cmd ReleaseCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, StatusPending, ActorDriver, &cmd.DriverID, "", assignedTo(cmd.DriverID))
}

func (s *Service) PickUp(ctx context.Context, cmd PickUpCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, StatusPickedUp, ActorDriver, &cmd.DriverID, "", assignedTo(cmd.DriverID))
}

func (s *Service) Deliver(ctx context.Context, cmd DeliverCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, StatusDelivered, ActorDriver, &cmd.DriverID, "", assignedTo(cmd.DriverID))
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	var guard func(*Order) error
	switch cmd.ActorType {
	case ActorCustomer:
		guard = func(o *Order) error {
			if o.CustomerID != cmd.ActorID {
				return ErrForbidden
			}
			return nil
		}
	case ActorDriver:
		guard = assignedTo(cmd.ActorID)
	case ActorAdmin, ActorSystem:
	default:
		return nil, ErrBadRequest
	}
	var actorID *types.ID
	if cmd.ActorID != "" {
		actorID = &cmd.ActorID
	}
	return s.transition(ctx, cmd.OrderID, StatusCancelled, cmd.ActorType, actorID, cmd.Reason, guard)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Find(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Order, error) {
	return s.repo.List(ctx, f)
}

// ListOffered returns pending orders the driver was notified about.
func (s *Service) ListOffered(ctx context.Context, driverID types.ID) ([]*Order, error) {
	if s.dispatcher == nil {
		return nil, nil
	}
	ids, err := s.dispatcher.NotifiedOrders(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.List(ctx, ListFilter{Status: StatusPending, IDs: ids})
}

// OfferedTo reports whether o is still pending and driverID was notified about it.
func (s *Service) OfferedTo(ctx context.Context, o *Order, driverID types.ID) (bool, error) {
	if s.dispatcher == nil || o.Status != StatusPending || driverID == "" {
		return false, nil
	}
	ids, err := s.dispatcher.NotifiedOrders(ctx, driverID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == o.ID {
			return true, nil
		}
	}
	return false, nil
}

// Revenue sums the split of every delivered order.
func (s *Service) Revenue(ctx context.Context) (RevenueSummary, error) {
	orders, err := s.repo.List(ctx, ListFilter{Status: StatusDelivered})
	if err != nil {
		return RevenueSummary{}, err
	}
	var sum RevenueSummary
	var customer, tax, company, driver int64
	for _, o := range orders {
		customer += o.Fare.TotalCustomerPrice
		tax += o.Fare.TaxAmount
		company += o.Fare.CompanyRevenue
		driver += o.Fare.DriverRevenue
	}
	sum.Orders = len(orders)
	sum.CustomerTotal = types.Yen(customer)
	sum.TaxTotal = types.Yen(tax)
	sum.CompanyRevenue = types.Yen(company)
	sum.DriverRevenue = types.Yen(driver)
	return sum, nil
}

func (s *Service) transition(ctx context.Context, id types.ID, to Status, actorType string, actorID *types.ID, reason string, guard func(*Order) error) (*Order, error) {
	o, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(o); err != nil {
			return nil, err
		}
	}
	if !CanTransition(o.Status, to) {
		return nil, ErrInvalidState
	}

	tr := Transition{
		OrderID: o.ID,
		From:    o.Status,
		To:      to,
		Version: o.StatusVersion,
		Reason:  reason,
		At:      s.now(),
	}
	if to == StatusAssigned {
		tr.DriverID = actorID
	}
	ok, err := s.repo.Update(ctx, tr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	from := o.Status
	o.apply(tr)
	s.record(ctx, o, Event{
		OrderID:    o.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  tr.At,
	})
	return o, nil
}

// record appends the lifecycle event and publishes it. Neither failure undoes
// the transition.
func (s *Service) record(ctx context.Context, o *Order, e Event) {
	metrics.OrderTransitions.WithLabelValues(string(e.ToStatus)).Inc()
	if err := s.repo.AppendEvent(ctx, &e); err != nil {
		s.logger.Error("append order event", zap.String("order_id", string(o.ID)), zap.Error(err))
	}
	if err := s.events.Publish(ctx, o, e); err != nil {
		s.logger.Warn("publish order event", zap.String("order_id", string(o.ID)), zap.Error(err))
	}
}

func assignedTo(driverID types.ID) func(*Order) error {
	return func(o *Order) error {
		if o.DriverID == nil || *o.DriverID != driverID {
			return ErrForbidden
		}
		return nil
	}
}
