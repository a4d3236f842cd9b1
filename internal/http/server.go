// README: API gateway; wires module services into the router and applies CORS.
package http

import (
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"sokuhai/internal/http/middleware"
	"sokuhai/internal/modules/dispatch"
	"sokuhai/internal/modules/order"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/modules/quote"
)

type ServerDeps struct {
	Order       *order.Service
	Dispatch    *dispatch.Service
	Pricing     *pricing.Service
	Quotes      *quote.Registry
	Logger      *zap.Logger
	CORSOrigins []string
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", middleware.HeaderCallerID, middleware.HeaderCallerRole},
	})
	return c.Handler(NewRouter(s.deps))
}
