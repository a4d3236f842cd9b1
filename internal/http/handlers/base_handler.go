// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sokuhai/internal/maps"
	"sokuhai/internal/modules/dispatch"
	"sokuhai/internal/modules/order"
	"sokuhai/internal/modules/pricing"
	"sokuhai/internal/modules/quote"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// isValidID accepts ULIDs and other short alphanumeric ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeQuoteError maps calculator and route lookup outcomes. An invalid quote
// is a 422 carrying the reason so forms can point at the missing field.
func writeQuoteError(c *gin.Context, err error) {
	var ie *pricing.InvalidInputError
	switch {
	case errors.As(err, &ie):
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{Error: "quote unavailable", Reason: ie.Reason})
	case errors.Is(err, maps.ErrRouteNotFound):
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Reason: "route_not_found"})
	case errors.Is(err, maps.ErrProviderUnavailable):
		writeJSON(c, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Reason: "provider_unavailable"})
	case errors.Is(err, pricing.ErrBadTariff):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, quote.ErrSessionNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, quote.ErrSessionClosed):
		writeError(c, http.StatusGone, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest), errors.Is(err, dispatch.ErrBadPosition):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidState), errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeQuoteError(c, err)
	}
}
