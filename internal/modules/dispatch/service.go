// README: Dispatch service tracks available drivers and offers new orders to the nearest ones.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sokuhai/internal/config"
	"sokuhai/internal/types"
)

type DriverStore interface {
	SetAvailable(ctx context.Context, driverID types.ID, p types.Point) error
	SetOffline(ctx context.Context, driverID types.ID) error
	NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]types.ID, error)
	RecordDispatch(ctx context.Context, orderID types.ID, driverIDs []types.ID, ttl time.Duration) error
	NotifiedOrders(ctx context.Context, driverID types.ID) ([]types.ID, error)
}

type Service struct {
	store  DriverStore
	cfg    config.DispatchConfig
	logger *zap.Logger
}

func NewService(store DriverStore, cfg config.DispatchConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, cfg: cfg, logger: logger}
}

func (s *Service) SetAvailability(ctx context.Context, cmd AvailabilityCommand) error {
	if !cmd.Online {
		return s.store.SetOffline(ctx, cmd.DriverID)
	}
	if !validPosition(cmd.Position) {
		return ErrBadPosition
	}
	return s.store.SetAvailable(ctx, cmd.DriverID, cmd.Position)
}

// Dispatch offers the order to the nearest available drivers within the
// configured radius. Having nobody nearby is not an error.
func (s *Service) Dispatch(ctx context.Context, orderID types.ID, pickup types.Point) error {
	drivers, err := s.store.NearbyDrivers(ctx, pickup, s.cfg.RadiusKm, s.cfg.NotifyLimit)
	if err != nil {
		return err
	}
	if len(drivers) == 0 {
		s.logger.Info("no drivers near pickup", zap.String("order_id", string(orderID)))
	}
	if err := s.store.RecordDispatch(ctx, orderID, drivers, s.cfg.NotifiedTTL); err != nil {
		return err
	}
	s.logger.Debug("order dispatched", zap.String("order_id", string(orderID)), zap.Int("drivers", len(drivers)))
	return nil
}

func (s *Service) NotifiedOrders(ctx context.Context, driverID types.ID) ([]types.ID, error) {
	return s.store.NotifiedOrders(ctx, driverID)
}
