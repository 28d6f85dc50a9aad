package prevention

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/store"
)

type Resolver func(c echo.Context) (*Store, error)

type Handler struct {
	common  *store.Handler[Template, Filter]
	resolve Resolver
}

func NewHandler(resolve Resolver) *Handler {
	return &Handler{
		resolve: resolve,
		common: store.NewHandler(func(c echo.Context) (*store.Store[Template, Filter], error) {
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

	readGroup.GET("/applicable", h.ListApplicable)
	writeGroup.POST("", h.Create)
	writeGroup.PATCH("/:id", h.Patch)
	writeGroup.POST("/:id/duplicate", h.Duplicate)
	writeGroup.POST("/:id/usage", h.RecordUsage)
	writeGroup.POST("/bulk/activate", h.ActivateSelected)
	writeGroup.POST("/bulk/deactivate", h.DeactivateSelected)
	writeGroup.DELETE("/bulk", h.RemoveSelected)

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
	var t Template
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := s.Create(t)
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
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if err != nil {
		return store.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Duplicate(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	dup, found, err := s.DuplicateTemplate(c.Param("id"))
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if err != nil {
		return store.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, dup)
}

func (h *Handler) RecordUsage(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	t, ok := s.RecordUsage(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	return c.JSON(http.StatusOK, t)
}

// ListApplicable returns active templates for a patient profile.
// GET /applicable?age=52&gender=female
func (h *Handler) ListApplicable(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	age, err := strconv.Atoi(c.QueryParam("age"))
	if err != nil || age < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "age must be a non-negative integer")
	}
	gender := Gender(c.QueryParam("gender"))
	if gender == "" {
		gender = GenderAll
	}
	if !validGenders[gender] {
		return echo.NewHTTPError(http.StatusBadRequest, "gender must be male, female or all")
	}
	return c.JSON(http.StatusOK, s.ApplicableTo(age, gender))
}

type bulkResponse struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

func newBulkResponse(ids []string) bulkResponse {
	if ids == nil {
		ids = []string{}
	}
	return bulkResponse{IDs: ids, Count: len(ids)}
}

func (h *Handler) ActivateSelected(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) DeactivateSelected(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newBulkResponse(s.SetActiveForSelected(active)))
}

func (h *Handler) RemoveSelected(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newBulkResponse(s.RemoveSelected()))
}
