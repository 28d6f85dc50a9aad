package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/platform/metrics"
)

// Logger writes one access log line per request and records it in the HTTP
// request metrics when m is non-nil. Client errors log at warn level.
func Logger(logger zerolog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			latency := time.Since(start)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			req := c.Request()

			// Unmatched routes share one label to keep cardinality bounded.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if m != nil {
				m.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
				m.HTTPLatency.WithLabelValues(req.Method, route).Observe(latency.Seconds())
			}

			var evt *zerolog.Event
			switch {
			case err == nil:
				evt = logger.Info()
			case status < 500:
				evt = logger.Warn().Err(err)
			default:
				evt = logger.Error().Err(err)
			}
			rid, _ := c.Get("request_id").(string)
			evt.
				Str("request_id", rid).
				Str("owner", auth.UserIDFromContext(req.Context())).
				Str("method", req.Method).
				Str("route", route).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", latency).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
