// README: Tariff and back-office handlers.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sokuhai/internal/modules/order"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/types"
)

type AdminHandler struct {
	order   *order.Service
	pricing *pricing.Service
}

func NewAdminHandler(orderSvc *order.Service, pricingSvc *pricing.Service) *AdminHandler {
	return &AdminHandler{order: orderSvc, pricing: pricingSvc}
}

func (h *AdminHandler) ListTariffs(c *gin.Context) {
	tariffs, err := h.pricing.ListTariffs(c.Request.Context())
	if err != nil {
		writeQuoteError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"tariffs": tariffs})
}

type tariffReq struct {
	Name      string `json:"name"`
	BasePrice int64  `json:"base_price"`
	PerKmRate int64  `json:"per_km_rate"`
}

func (h *AdminHandler) UpsertTariff(c *gin.Context) {
	var req tariffReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t := pricing.VehicleTariff{
		ClassID:   c.Param("class"),
		Name:      req.Name,
		BasePrice: req.BasePrice,
		PerKmRate: req.PerKmRate,
	}
	if err := h.pricing.UpsertTariff(c.Request.Context(), t); err != nil {
		writeQuoteError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *AdminHandler) ListOrders(c *gin.Context) {
	f := order.ListFilter{
		Status:     order.Status(c.Query("status")),
		CustomerID: types.ID(c.Query("customer_id")),
		DriverID:   types.ID(c.Query("driver_id")),
		Limit:      100,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	orders, err := h.order.List(c.Request.Context(), f)
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

func (h *AdminHandler) Revenue(c *gin.Context) {
	sum, err := h.order.Revenue(c.Request.Context())
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"summary": sum,
		"display": gin.H{
			"customer_total":  pricing.FormatYen(sum.CustomerTotal.Amount),
			"tax_total":       pricing.FormatYen(sum.TaxTotal.Amount),
			"company_revenue": pricing.FormatYen(sum.CompanyRevenue.Amount),
			"driver_revenue":  pricing.FormatYen(sum.DriverRevenue.Amount),
		},
	})
}
