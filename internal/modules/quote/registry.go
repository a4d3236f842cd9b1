// README: Registry of open quote sessions keyed by ULID, with idle expiry.
package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"sokuhai/internal/config"
	"sokuhai/internal/metrics"
	"sokuhai/internal/types"
)

var ErrSessionNotFound = errors.New("quote session not found")

type Registry struct {
	pricer Pricer
	cfg    config.QuoteConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[types.ID]*Session
}

func NewRegistry(pricer Pricer, cfg config.QuoteConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		pricer:   pricer,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[types.ID]*Session),
	}
}

func (r *Registry) Open() *Session {
	s := newSession(types.NewID(), r.pricer, r.cfg.Debounce, r.cfg.LookupTimeout, r.logger)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.QuoteSessionsActive.Set(float64(n))
	return s
}

func (r *Registry) Get(id types.ID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) Close(id types.ID) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	metrics.QuoteSessionsActive.Set(float64(n))
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunJanitor closes sessions idle for longer than the configured TTL until ctx
// is done, then closes whatever is left.
func (r *Registry) RunJanitor(ctx context.Context) {
	interval := r.cfg.SessionTTL / 2
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case now := <-ticker.C:
			if n := r.expireIdle(now); n > 0 {
				r.logger.Info("expired idle quote sessions", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) expireIdle(now time.Time) int {
	var expired []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.idleSince()) > r.cfg.SessionTTL {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	metrics.QuoteSessionsActive.Set(float64(n))
	return len(expired)
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[types.ID]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	metrics.QuoteSessionsActive.Set(0)
}
