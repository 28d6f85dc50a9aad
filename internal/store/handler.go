package store

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/workspace/pkg/pagination"
)

// Resolver finds the store serving a request, normally the one in the
// caller's workspace.
type Resolver[E Entity, F Filter] func(c echo.Context) (*Store[E, F], error)

// Handler serves the routes every domain shares: collection, selection,
// filter, ledger, multi-select and status. Domain packages mount it and add
// their own create and update routes.
type Handler[E Entity, F Filter] struct {
	resolve Resolver[E, F]
}

func NewHandler[E Entity, F Filter](resolve Resolver[E, F]) *Handler[E, F] {
	return &Handler[E, F]{resolve: resolve}
}

// RegisterRoutes mounts the shared routes. read and write are the domain
// group with read and write role checks applied.
func (h *Handler[E, F]) RegisterRoutes(read, write *echo.Group) {
	read.GET("", h.List)
	read.GET("/all", h.ListAll)
	read.GET("/selection", h.GetSelection)
	read.GET("/recent", h.ListRecent)
	read.GET("/favorites", h.ListFavorites)
	read.GET("/filter", h.GetFilter)
	read.GET("/multi-select", h.GetMultiSelect)
	read.GET("/status", h.GetStatus)
	read.GET("/:id", h.Get)

	write.PUT("", h.Load)
	write.DELETE("/:id", h.Remove)
	write.POST("/:id/select", h.Select)
	write.DELETE("/selection", h.ClearSelection)
	write.POST("/recent/:id", h.AddRecent)
	write.DELETE("/recent", h.ClearRecent)
	write.POST("/:id/favorite", h.ToggleFavorite)
	write.PUT("/filter", h.SetFilter)
	write.PATCH("/filter", h.PatchFilter)
	write.DELETE("/filter", h.ResetFilter)
	write.POST("/multi-select", h.EnableMultiSelect)
	write.DELETE("/multi-select", h.DisableMultiSelect)
	write.POST("/multi-select/all", h.SelectAll)
	write.POST("/multi-select/clear", h.ClearMultiSelect)
	write.POST("/multi-select/:id", h.ToggleSelection)
	write.PUT("/status", h.SetStatus)
}

// Store resolves the request's store, translating resolver failures.
func (h *Handler[E, F]) Store(c echo.Context) (*Store[E, F], error) {
	s, err := h.resolve(c)
	if err != nil {
		return nil, ResolveError(err)
	}
	return s, nil
}

// ResolveError passes HTTP errors through and reports anything else, such as
// a workspace that failed to hydrate, as 503.
func ResolveError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
}

// HTTPError maps store and domain errors onto HTTP status codes.
func HTTPError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrDuplicateID), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrEmptyID), errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Collection --

func (h *Handler[E, F]) List(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Of(s.View(), pagination.FromContext(c)))
}

func (h *Handler[E, F]) ListAll(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Of(s.Items(), pagination.FromContext(c)))
}

func (h *Handler[E, F]) Get(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	e, ok := s.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, s.Name()+" entry not found")
	}
	return c.JSON(http.StatusOK, e)
}

// Load replaces the collection with the request body.
func (h *Handler[E, F]) Load(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	var items []E
	if err := c.Bind(&items); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for _, e := range items {
		if e.EntityID() == "" {
			return HTTPError(ErrEmptyID)
		}
	}
	s.SetCollection(items)
	return c.JSON(http.StatusOK, s.Status())
}

func (h *Handler[E, F]) Remove(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	if !s.RemoveByID(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, s.Name()+" entry not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Selection --

func (h *Handler[E, F]) Select(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	if !s.SelectByID(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, s.Name()+" entry not found")
	}
	sel, _ := s.Selected()
	return c.JSON(http.StatusOK, sel)
}

func (h *Handler[E, F]) GetSelection(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	sel, ok := s.Selected()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, sel)
}

func (h *Handler[E, F]) ClearSelection(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.Select(nil)
	return c.NoContent(http.StatusNoContent)
}

// -- Ledger --

type recentResponse[E any] struct {
	IDs   []string `json:"ids"`
	Items []E      `json:"items"`
}

func (h *Handler[E, F]) ListRecent(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, recentResponse[E]{
		IDs:   s.RecentlyViewed(),
		Items: s.RecentlyViewedItems(),
	})
}

func (h *Handler[E, F]) AddRecent(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.AddToRecentlyViewed(c.Param("id"))
	return c.JSON(http.StatusOK, map[string][]string{"ids": s.RecentlyViewed()})
}

func (h *Handler[E, F]) ClearRecent(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.ClearRecentlyViewed()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler[E, F]) ListFavorites(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string][]string{"ids": s.Favorites()})
}

func (h *Handler[E, F]) ToggleFavorite(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       id,
		"favorite": s.ToggleFavorite(id),
	})
}

// -- Filter --

type validator interface {
	Validate() error
}

func validate[F any](f F) error {
	if v, ok := any(f).(validator); ok {
		return v.Validate()
	}
	return nil
}

func (h *Handler[E, F]) GetFilter(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Filter())
}

// SetFilter replaces the filter with the request body.
func (h *Handler[E, F]) SetFilter(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	var f F
	if err := c.Bind(&f); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate(f); err != nil {
		return HTTPError(err)
	}
	s.SetFilter(f)
	return c.JSON(http.StatusOK, f)
}

// PatchFilter merges the request body into the current filter.
func (h *Handler[E, F]) PatchFilter(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var patchErr error
	next := s.UpdateFilter(func(f *F) {
		merged := *f
		if patchErr = json.Unmarshal(body, &merged); patchErr != nil {
			return
		}
		if patchErr = validate(merged); patchErr != nil {
			return
		}
		*f = merged
	})
	if patchErr != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(patchErr, &syntaxErr) || errors.As(patchErr, &typeErr) {
			return echo.NewHTTPError(http.StatusBadRequest, patchErr.Error())
		}
		return HTTPError(patchErr)
	}
	return c.JSON(http.StatusOK, next)
}

func (h *Handler[E, F]) ResetFilter(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.ResetFilter()
	return c.JSON(http.StatusOK, s.Filter())
}

// -- Multi-select --

type multiSelectResponse struct {
	Enabled bool     `json:"enabled"`
	IDs     []string `json:"ids"`
}

func multiSelectState[E Entity, F Filter](s *Store[E, F]) multiSelectResponse {
	return multiSelectResponse{Enabled: s.MultiSelectEnabled(), IDs: s.SelectedIDs()}
}

func (h *Handler[E, F]) GetMultiSelect(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, multiSelectState(s))
}

func (h *Handler[E, F]) EnableMultiSelect(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.EnableMultiSelect()
	return c.JSON(http.StatusOK, multiSelectState(s))
}

func (h *Handler[E, F]) DisableMultiSelect(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.DisableMultiSelect()
	return c.JSON(http.StatusOK, multiSelectState(s))
}

func (h *Handler[E, F]) ToggleSelection(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       id,
		"selected": s.ToggleSelection(id),
	})
}

func (h *Handler[E, F]) SelectAll(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.SelectAll()
	return c.JSON(http.StatusOK, multiSelectState(s))
}

func (h *Handler[E, F]) ClearMultiSelect(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	s.ClearMultiSelect()
	return c.JSON(http.StatusOK, multiSelectState(s))
}

// -- Status --

type statusRequest struct {
	Loading *bool   `json:"loading"`
	Error   *string `json:"error"`
}

func (h *Handler[E, F]) GetStatus(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Status())
}

func (h *Handler[E, F]) SetStatus(c echo.Context) error {
	s, err := h.Store(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Loading != nil {
		s.SetLoading(*req.Loading)
	}
	if req.Error != nil {
		s.SetError(*req.Error)
	}
	return c.JSON(http.StatusOK, s.Status())
}
