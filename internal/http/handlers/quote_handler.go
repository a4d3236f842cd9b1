// README: Quote handlers: one-shot quotes and debounced quote sessions (JSON + SSE).
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sokuhai/internal/maps"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/modules/quote"
	"sokuhai/internal/types"
)

type QuoteHandler struct {
	pricing  *pricing.Service
	sessions *quote.Registry
}

func NewQuoteHandler(pricingSvc *pricing.Service, sessions *quote.Registry) *QuoteHandler {
	return &QuoteHandler{pricing: pricingSvc, sessions: sessions}
}

type quoteReq struct {
	Origin          string              `json:"origin"`
	Destination     string              `json:"destination"`
	VehicleClass    string              `json:"vehicle_class"`
	Flow            pricing.Flow        `json:"flow"`
	UseHighway      bool                `json:"use_highway"`
	TollFee         int64               `json:"toll_fee"`
	Cargo           pricing.CargoCounts `json:"cargo"`
	HelperRequested bool                `json:"helper_requested"`
	PickupAt        *time.Time          `json:"pickup_at"`
	WaitingMinutes  int                 `json:"waiting_minutes"`
	LoadingFee      int64               `json:"loading_fee"`
}

func (r quoteReq) toRequest() pricing.QuoteRequest {
	flow := r.Flow
	if flow == "" {
		flow = pricing.FlowFullQuote
	}
	req := pricing.QuoteRequest{
		Origin:          r.Origin,
		Destination:     r.Destination,
		VehicleClass:    r.VehicleClass,
		Flow:            flow,
		UseHighway:      r.UseHighway,
		TollFee:         r.TollFee,
		Cargo:           r.Cargo,
		HelperRequested: r.HelperRequested,
		WaitingMinutes:  r.WaitingMinutes,
		LoadingFee:      r.LoadingFee,
	}
	if r.PickupAt != nil {
		req.PickupAt = *r.PickupAt
	}
	return req
}

type quoteResp struct {
	Route     maps.Route             `json:"route"`
	Vehicle   pricing.VehicleTariff  `json:"vehicle"`
	BookedAt  time.Time              `json:"booked_at"`
	Breakdown *pricing.FareBreakdown `json:"breakdown"`
	Display   map[string]string      `json:"display"`
}

type sessionEventResp struct {
	quote.Event
	Display map[string]string `json:"display,omitempty"`
}

func eventView(ev quote.Event) sessionEventResp {
	out := sessionEventResp{Event: ev}
	if ev.Breakdown != nil {
		out.Display = ev.Breakdown.Display()
	}
	return out
}

func (h *QuoteHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	q, err := h.pricing.Quote(c.Request.Context(), req.toRequest())
	if err != nil {
		writeQuoteError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, quoteResp{
		Route:     q.Route,
		Vehicle:   q.Vehicle,
		BookedAt:  q.BookedAt,
		Breakdown: q.Breakdown,
		Display:   q.Breakdown.Display(),
	})
}

func (h *QuoteHandler) OpenSession(c *gin.Context) {
	s := h.sessions.Open()
	writeJSON(c, http.StatusCreated, eventView(s.Latest()))
}

func (h *QuoteHandler) UpdateSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.Update(req.toRequest()); err != nil {
		writeQuoteError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, eventView(s.Latest()))
}

func (h *QuoteHandler) ResetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Reset(); err != nil {
		writeQuoteError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, eventView(s.Latest()))
}

func (h *QuoteHandler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, eventView(s.Latest()))
}

// StreamSession pushes state changes as server-sent events named after the
// state, starting with the current one. The stream ends when the session closes.
func (h *QuoteHandler) StreamSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	latest, events, cancel := s.Subscribe()
	defer cancel()
	c.SSEvent(string(latest.State), eventView(latest))
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case ev, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(ev.State), eventView(ev))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *QuoteHandler) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := h.sessions.Close(types.ID(id)); err != nil {
		writeQuoteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *QuoteHandler) session(c *gin.Context) (*quote.Session, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	s, err := h.sessions.Get(types.ID(id))
	if err != nil {
		writeQuoteError(c, err)
		return nil, false
	}
	return s, true
}
