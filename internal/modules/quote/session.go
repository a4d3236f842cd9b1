// README: Debounced quote session: input -> debounce -> cancellable route lookup -> fare calculation -> publish.
package quote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sokuhai/internal/maps"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/types"
)

type State string

const (
	StateIdle        State = "idle"
	StateCalculating State = "calculating"
	StateReady       State = "ready"
	StateInvalid     State = "invalid"
	StateFailed      State = "failed"
)

// ReasonIncompleteAddress is reported before any lookup when origin or destination is blank.
const ReasonIncompleteAddress = "incomplete_address"

var ErrSessionClosed = errors.New("quote session closed")

// Pricer is the pricing surface a session needs. *pricing.Service satisfies it.
type Pricer interface {
	Route(ctx context.Context, origin, destination string) (maps.Route, error)
	Price(ctx context.Context, route maps.Route, req pricing.QuoteRequest) (pricing.Quote, error)
}

// Event is one published state of a session. Generation increases with every
// input change; consumers may drop events older than one they already hold.
type Event struct {
	SessionID  types.ID               `json:"session_id"`
	Generation uint64                 `json:"generation"`
	State      State                  `json:"state"`
	Reason     string                 `json:"reason,omitempty"`
	Route      *maps.Route            `json:"route,omitempty"`
	Breakdown  *pricing.FareBreakdown `json:"breakdown,omitempty"`
	At         time.Time              `json:"at"`
}

type cachedRoute struct {
	origin      string
	destination string
	route       maps.Route
}

// Session serialises quote recomputation for one form. Only the most recently
// started lookup may publish; anything older is discarded when it resolves.
type Session struct {
	id            types.ID
	pricer        Pricer
	debounce      time.Duration
	lookupTimeout time.Duration
	logger        *zap.Logger

	mu         sync.Mutex
	input      pricing.QuoteRequest
	generation uint64
	timer      *time.Timer
	cancel     context.CancelFunc
	route      *cachedRoute
	latest     Event
	touched    time.Time
	closed     bool
	subs       map[chan Event]struct{}
}

func newSession(id types.ID, pricer Pricer, debounce, lookupTimeout time.Duration, logger *zap.Logger) *Session {
	s := &Session{
		id:            id,
		pricer:        pricer,
		debounce:      debounce,
		lookupTimeout: lookupTimeout,
		logger:        logger.With(zap.String("quote_session", string(id))),
		touched:       time.Now(),
		subs:          make(map[chan Event]struct{}),
	}
	s.latest = Event{SessionID: id, State: StateIdle, At: s.touched}
	return s
}

func (s *Session) ID() types.ID {
	return s.id
}

// Subscribe returns the current event and a channel of the ones published
// after it. Every subscriber has its own channel holding at most one unread
// event, so a slow reader only sees the newest. The channel is closed by
// cancel or when the session closes.
func (s *Session) Subscribe() (Event, <-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	ch := make(chan Event, 1)
	if s.closed {
		close(ch)
		return s.latest, ch, func() {}
	}
	s.subs[ch] = struct{}{}
	return s.latest, ch, func() { s.unsubscribe(ch) }
}

func (s *Session) unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// Latest returns the most recently published event.
func (s *Session) Latest() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = time.Now()
	return s.latest
}

// Update replaces the form input. The previous breakdown is invalidated at
// once and a new calculation runs after the debounce interval.
func (s *Session) Update(in pricing.QuoteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.input = in
	s.touched = time.Now()
	gen := s.invalidateLocked()
	s.publishLocked(Event{State: StateCalculating})

	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen) })
	return nil
}

// Reset drops the input and any in-flight lookup.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.input = pricing.QuoteRequest{}
	s.touched = time.Now()
	s.invalidateLocked()
	s.publishLocked(Event{State: StateIdle})
	return nil
}

// Close cancels in-flight work and closes every subscriber channel. Late results are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.invalidateLocked()
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// invalidateLocked starts a new generation: pending timers stop and the
// in-flight lookup is cancelled.
func (s *Session) invalidateLocked() uint64 {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return s.generation
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	in := s.input

	if strings.TrimSpace(in.Origin) == "" || strings.TrimSpace(in.Destination) == "" {
		s.publishLocked(Event{State: StateInvalid, Reason: ReasonIncompleteAddress})
		s.mu.Unlock()
		return
	}
	if in.VehicleClass == "" {
		s.publishLocked(Event{State: StateInvalid, Reason: pricing.ReasonMissingVehicle})
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.lookupTimeout)
	s.cancel = cancel
	cached := s.route
	s.mu.Unlock()
	defer cancel()

	var (
		route maps.Route
		err   error
	)
	if cached != nil && cached.origin == in.Origin && cached.destination == in.Destination {
		route = cached.route
	} else {
		route, err = s.pricer.Route(ctx, in.Origin, in.Destination)
	}
	if err != nil {
		s.finish(gen, in, maps.Route{}, nil, err)
		return
	}

	q, err := s.pricer.Price(ctx, route, in)
	s.finish(gen, in, route, q.Breakdown, err)
}

// finish publishes a result if gen is still current.
func (s *Session) finish(gen uint64, in pricing.QuoteRequest, route maps.Route, b *pricing.FareBreakdown, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		s.logger.Debug("discarding stale quote result", zap.Uint64("generation", gen), zap.Uint64("current", s.generation))
		return
	}
	s.cancel = nil

	var ie *pricing.InvalidInputError
	switch {
	case err == nil:
		s.route = &cachedRoute{origin: in.Origin, destination: in.Destination, route: route}
		s.publishLocked(Event{State: StateReady, Route: &route, Breakdown: b})
	case errors.As(err, &ie):
		if route.DistanceKm <= 0 {
			s.publishLocked(Event{State: StateInvalid, Reason: ie.Reason})
			return
		}
		s.route = &cachedRoute{origin: in.Origin, destination: in.Destination, route: route}
		s.publishLocked(Event{State: StateInvalid, Reason: ie.Reason, Route: &route})
	case errors.Is(err, maps.ErrRouteNotFound), errors.Is(err, maps.ErrProviderUnavailable):
		s.publishLocked(Event{State: StateFailed, Reason: pricing.Outcome(err)})
	default:
		s.logger.Error("quote calculation failed", zap.Error(err))
		s.publishLocked(Event{State: StateFailed, Reason: "internal_error"})
	}
}

// publishLocked stamps ev with the current generation and hands it to every
// subscriber, replacing whatever that subscriber has not read yet.
func (s *Session) publishLocked(ev Event) {
	ev.SessionID = s.id
	ev.Generation = s.generation
	ev.At = time.Now()
	s.latest = ev

	for ch := range s.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}
