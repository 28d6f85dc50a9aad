package sandbox

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/store"
	"github.com/ehr/workspace/internal/workspace"
)

// Resolver returns the caller's workspace.
type Resolver func(echo.Context) (*workspace.Workspace, error)

// Handler fills the caller's workspace with generated collections. It is
// only mounted in development mode.
type Handler struct {
	resolve Resolver
	now     func() time.Time
}

func NewHandler(resolve Resolver) *Handler {
	return &Handler{resolve: resolve, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sandbox/seed", h.Seed, auth.RequireRole(auth.WriteRoles...))
}

// Seed replaces the caller's collections with a generated dataset. Omitted
// config fields take their defaults.
func (h *Handler) Seed(c echo.Context) error {
	cfg := DefaultConfig()
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&cfg); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if err := cfg.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.resolve(c)
	if err != nil {
		return store.ResolveError(err)
	}

	g := NewGenerator(cfg.Seed, h.now())
	ds := g.Generate(cfg)
	Apply(w, ds)

	return c.JSON(http.StatusOK, Result{
		Seed:         g.Seed(),
		Patients:     len(ds.Patients),
		Appointments: len(ds.Appointments),
		Recordings:   len(ds.Recordings),
		Templates:    len(ds.Templates),
	})
}
