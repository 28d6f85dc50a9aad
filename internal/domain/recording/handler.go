package recording

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/store"
)

type Resolver func(c echo.Context) (*Store, error)

type Handler struct {
	common  *store.Handler[Session, Filter]
	resolve Resolver
}

func NewHandler(resolve Resolver) *Handler {
	return &Handler{
		resolve: resolve,
		common: store.NewHandler(func(c echo.Context) (*store.Store[Session, Filter], error) {
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

	readGroup.GET("/drafts", h.ListDrafts)
	readGroup.GET("/:id/draft", h.GetDraft)
	writeGroup.PUT("/:id/draft", h.SaveDraft)
	writeGroup.DELETE("/:id/draft", h.DiscardDraft)
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
	var r Session
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := s.Create(r)
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
		return echo.NewHTTPError(http.StatusNotFound, "recording not found")
	}
	if err != nil {
		return store.HTTPError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) ListDrafts(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Drafts())
}

func (h *Handler) GetDraft(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	d, ok := s.Draft(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "draft not found")
	}
	return c.JSON(http.StatusOK, d)
}

type draftRequest struct {
	Content string `json:"content"`
}

func (h *Handler) SaveDraft(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	var req draftRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, found, err := s.SaveDraft(c.Param("id"), req.Content)
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "recording not found")
	}
	if err != nil {
		return store.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DiscardDraft(c echo.Context) error {
	s, err := h.store(c)
	if err != nil {
		return err
	}
	if !s.DiscardDraft(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "draft not found")
	}
	return c.NoContent(http.StatusNoContent)
}
