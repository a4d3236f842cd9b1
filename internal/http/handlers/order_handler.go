// README: Order handlers for create/get/cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sokuhai/internal/http/middleware"
	"sokuhai/internal/modules/order"
	"sokuhai/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type orderResp struct {
	*order.Order
	Display map[string]string `json:"display"`
}

func orderView(o *order.Order) orderResp {
	return orderResp{Order: o, Display: o.Fare.Display()}
}

// Create books an order for the calling customer at the server-side quote.
func (h *OrderHandler) Create(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID: types.ID(middleware.CallerUID(c)),
		Request:    req.toRequest(),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, orderView(o))
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	allowed, err := h.canView(c, o)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if !allowed {
		writeError(c, http.StatusForbidden, order.ErrForbidden.Error())
		return
	}
	writeJSON(c, http.StatusOK, orderView(o))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:   types.ID(id),
		ActorType: middleware.CallerRole(c),
		ActorID:   types.ID(middleware.CallerUID(c)),
		Reason:    req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderView(o))
}

// canView lets a driver see the order they hold or a pending order they were offered.
func (h *OrderHandler) canView(c *gin.Context, o *order.Order) (bool, error) {
	uid := types.ID(middleware.CallerUID(c))
	switch middleware.CallerRole(c) {
	case middleware.RoleAdmin:
		return true, nil
	case middleware.RoleCustomer:
		return o.CustomerID == uid, nil
	case middleware.RoleDriver:
		if o.DriverID != nil && *o.DriverID == uid {
			return true, nil
		}
		return h.order.OfferedTo(c.Request.Context(), o, uid)
	}
	return false, nil
}
