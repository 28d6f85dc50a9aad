package appointment

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/store"
)

type Resolver func(c echo.Context) (*Store, error)

type Handler struct {
	common  *store.Handler[Appointment, Filter]
	resolve Resolver
}

func NewHandler(resolve Resolver) *Handler {
	return &Handler{
		resolve: resolve,
		common: store.NewHandler(func(c echo.Context) (*store.Store[Appointment, Filter], error) {
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

	readGroup.GET("/conflicts", h.CheckConflicts)
	readGroup.GET("/upcoming", h.ListUpcoming)
	readGroup.GET("/day/:date", h.ListForDay)
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
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := s.Create(a)
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
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	if err != nil {
		return store.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

type conflictResponse struct {
	Conflict  bool          `json:"conflict"`
	Conflicts []Appointment `json:"conflicts"`
}

// CheckConflicts answers whether [start, end) would double-book.
// GET /conflicts?start=RFC3339&end=RFC3339&exclude=id
func (h *Handler) CheckConflicts(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be an RFC 3339 timestamp")
	}
	if !end.After(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be after start")
	}
	conflicts := s.Conflicts(start, end, c.QueryParam("exclude"))
	if conflicts == nil {
		conflicts = []Appointment{}
	}
	return c.JSON(http.StatusOK, conflictResponse{Conflict: len(conflicts) > 0, Conflicts: conflicts})
}

func (h *Handler) ListUpcoming(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	out := s.Upcoming(limit)
	if out == nil {
		out = []Appointment{}
	}
	return c.JSON(http.StatusOK, out)
}

// ListForDay returns the schedule for a YYYY-MM-DD date in UTC.
func (h *Handler) ListForDay(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	day, err := time.Parse(time.DateOnly, c.Param("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	out := s.ForDay(day)
	if out == nil {
		out = []Appointment{}
	}
	return c.JSON(http.StatusOK, out)
}
