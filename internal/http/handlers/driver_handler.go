// README: Driver handlers for offers, the delivery lifecycle and availability.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"sokuhai/internal/http/middleware"
	"sokuhai/internal/modules/dispatch"
	"sokuhai/internal/modules/order"
	"sokuhai/internal/types"
)

type DriverHandler struct {
	order    *order.Service
	dispatch *dispatch.Service
}

func NewDriverHandler(orderSvc *order.Service, dispatchSvc *dispatch.Service) *DriverHandler {
	return &DriverHandler{order: orderSvc, dispatch: dispatchSvc}
}

// ListOffered returns pending orders this driver was notified about.
func (h *DriverHandler) ListOffered(c *gin.Context) {
	orders, err := h.order.ListOffered(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	out := make([]orderResp, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView(o))
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": out})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	h.act(c, func(ctx context.Context, id, driver types.ID) (*order.Order, error) {
		return h.order.Accept(ctx, order.AcceptCommand{OrderID: id, DriverID: driver})
	})
}

func (h *DriverHandler) Release(c *gin.Context) {
	h.act(c, func(ctx context.Context, id, driver types.ID) (*order.Order, error) {
		return h.order.Release(ctx, order.ReleaseCommand{OrderID: id, DriverID: driver})
	})
}

func (h *DriverHandler) PickUp(c *gin.Context) {
	h.act(c, func(ctx context.Context, id, driver types.ID) (*order.Order, error) {
		return h.order.PickUp(ctx, order.PickUpCommand{OrderID: id, DriverID: driver})
	})
}

func (h *DriverHandler) Deliver(c *gin.Context) {
	h.act(c, func(ctx context.Context, id, driver types.ID) (*order.Order, error) {
		return h.order.Deliver(ctx, order.DeliverCommand{OrderID: id, DriverID: driver})
	})
}

type availabilityReq struct {
	Online   bool        `json:"online"`
	Position types.Point `json:"position"`
}

// SetAvailability lets a driver go online at a position or go offline.
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	if id != middleware.CallerUID(c) {
		writeError(c, http.StatusForbidden, "drivers may only update themselves")
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.dispatch.SetAvailability(c.Request.Context(), dispatch.AvailabilityCommand{
		DriverID: types.ID(id),
		Online:   req.Online,
		Position: req.Position,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "online": req.Online})
}

func (h *DriverHandler) act(c *gin.Context, fn func(ctx context.Context, id, driver types.ID) (*order.Order, error)) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := fn(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderView(o))
}
