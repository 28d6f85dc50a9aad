package kv

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/internal/platform/db"
)

// Pinger is implemented by backends with a remote dependency to check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the durable store is reachable. Postgres
// backends include connection pool statistics.
func HealthHandler(s Store, backend string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{
			"status":  "healthy",
			"backend": backend,
		}
		var pool *db.Stats
		if ps, ok := s.(*PostgresStore); ok {
			pool = ps.PoolStats()
			body["pool"] = pool
		}

		if p, ok := s.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				if pool != nil {
					pool.Healthy = false
				}
				body["status"] = "unhealthy"
				body["error"] = err.Error()
				return c.JSON(http.StatusServiceUnavailable, body)
			}
		}
		return c.JSON(http.StatusOK, body)
	}
}
