package patient

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/store"
)

// Resolver returns the patient store of the caller's workspace.
type Resolver func(c echo.Context) (*Store, error)

type Handler struct {
	common  *store.Handler[Patient, Filter]
	resolve Resolver
}

func NewHandler(resolve Resolver) *Handler {
	return &Handler{
		resolve: resolve,
		common: store.NewHandler(func(c echo.Context) (*store.Store[Patient, Filter], error) {
			s, err := resolve(c)
			if err != nil {
				return nil, err
			}
			return s.Store, nil
		}),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	grp := api.Group("/" + Domain)
	readGroup := grp.Group("", auth.RequireRole(auth.ReadRoles...))
	writeGroup := grp.Group("", auth.RequireRole(auth.WriteRoles...))

	readGroup.GET("/stats", h.GetStats)
	readGroup.GET("/conditions/:condition", h.ListByCondition)
	writeGroup.POST("", h.Create)
	writeGroup.PATCH("/:id", h.Patch)

	h.common.RegisterRoutes(readGroup, writeGroup)
}

func (h *Handler) store(c echo.Context) (*Store, error) {
	s, err := h.resolve(c)
	if err != nil {
		return nil, store.ResolveError(err)
	}
	return s, nil
}

func (h *Handler) Create(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := s.Create(p)
	if err != nil {
		return store.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Patch(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, found, err := s.Patch(c.Param("id"), patch)
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return store.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) GetStats(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Stats())
}

func (h *Handler) ListByCondition(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	out := s.ByCondition(c.Param("condition"))
	if out == nil {
		out = []Patient{}
	}
	return c.JSON(http.StatusOK, out)
}
