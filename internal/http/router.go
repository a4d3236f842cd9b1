// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sokuhai/internal/http/handlers"
	"sokuhai/internal/http/middleware"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth())
	customer := middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin)
	driver := middleware.RequireRole(middleware.RoleDriver)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	quoteHandler := handlers.NewQuoteHandler(deps.Pricing, deps.Quotes)
	api.POST("/quotes", quoteHandler.Quote)
	api.POST("/quote-sessions", quoteHandler.OpenSession)
	api.GET("/quote-sessions/:id", quoteHandler.GetSession)
	api.PUT("/quote-sessions/:id", quoteHandler.UpdateSession)
	api.POST("/quote-sessions/:id/reset", quoteHandler.ResetSession)
	api.GET("/quote-sessions/:id/events", quoteHandler.StreamSession)
	api.DELETE("/quote-sessions/:id", quoteHandler.CloseSession)

	orderHandler := handlers.NewOrderHandler(deps.Order)
	api.POST("/orders", customer, orderHandler.Create)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(deps.Order, deps.Dispatch)
	api.GET("/drivers/orders", driver, driverHandler.ListOffered)
	api.POST("/drivers/orders/:id/accept", driver, driverHandler.Accept)
	api.POST("/drivers/orders/:id/release", driver, driverHandler.Release)
	api.POST("/drivers/orders/:id/pickup", driver, driverHandler.PickUp)
	api.POST("/drivers/orders/:id/deliver", driver, driverHandler.Deliver)
	api.PUT("/drivers/:id/availability", driver, driverHandler.SetAvailability)

	adminHandler := handlers.NewAdminHandler(deps.Order, deps.Pricing)
	api.GET("/tariffs", adminHandler.ListTariffs)
	api.PUT("/admin/tariffs/:class", admin, adminHandler.UpsertTariff)
	api.GET("/admin/orders", admin, adminHandler.ListOrders)
	api.GET("/admin/revenue", admin, adminHandler.Revenue)

	return r
}
