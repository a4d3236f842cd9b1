// README: Request logging and HTTP metrics.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sokuhai/internal/metrics"
)

func Logging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.RequestCounter.WithLabelValues(endpoint, strconv.Itoa(status/100)+"xx").Inc()
		metrics.RequestHistogram.WithLabelValues(endpoint).Observe(elapsed.Seconds())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if uid := CallerUID(c); uid != "" {
			fields = append(fields, zap.String("caller", uid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= 500:
			logger.Error("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
