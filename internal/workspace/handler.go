package workspace

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/store"
)

// Handler serves the workspace-wide routes: status of every store, an
// explicit flush, and closing the caller's workspace.
type Handler struct {
	manager *Manager
	resolve func(echo.Context) (*Workspace, error)
}

func NewHandler(m *Manager) *Handler {
	return &Handler{
		manager: m,
		resolve: Resolver(m, func(w *Workspace) *Workspace { return w }),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/status", h.Status, auth.RequireRole(auth.ReadRoles...))
	api.POST("/flush", h.Flush, auth.RequireRole(auth.ReadRoles...))
	api.DELETE("", h.Close, auth.RequireRole(auth.ReadRoles...))
}

func (h *Handler) workspace(c echo.Context) (*Workspace, error) {
	w, err := h.resolve(c)
	if err != nil {
		return nil, store.ResolveError(err)
	}
	return w, nil
}

type statusResponse struct {
	Owner  string                  `json:"owner"`
	Stores map[string]store.Status `json:"stores"`
}

func (h *Handler) Status(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{Owner: w.Owner, Stores: w.Status()})
}

// Flush blocks until the caller's pending preference writes are stored.
func (h *Handler) Flush(c echo.Context) error {
	w, err := h.workspace(c)
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Close evicts the caller's workspace, e.g. on sign-out, and returns once
// its persisted slices are stored. They are hydrated again on the next
// request.
func (h *Handler) Close(c echo.Context) error {
	owner := auth.UserIDFromContext(c.Request().Context())
	if owner == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing workspace owner")
	}
	if _, err := h.manager.Evict(owner); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
