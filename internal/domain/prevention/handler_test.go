package prevention

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *Store) {
	t.Helper()
	s := newTestStore(t, nil)
	s.SetCollection(sampleTemplates())
	return NewHandler(func(echo.Context) (*Store, error) { return s, nil }), s
}

func newContext(method, target, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_CreateAndPatch(t *testing.T) {
	h, _ := newTestHandler(t)

	c, rec := newContext(http.MethodPost, "/", `{"name":"Shingles vaccine","category":"vaccination","min_age":50}`, "")
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = newContext(http.MethodPost, "/", `{"name":"x","category":"surgery"}`, "")
	if code := httpCode(t, h.Create(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}

	c, rec = newContext(http.MethodPatch, "/", `{"frequency":"every 3 years"}`, "t3")
	if err := h.Patch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"frequency":"every 3 years"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newContext(http.MethodPatch, "/", `{}`, "nope")
	if code := httpCode(t, h.Patch(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_BulkOperations(t *testing.T) {
	h, s := newTestHandler(t)
	s.EnableMultiSelect()
	s.ToggleSelection("t2")
	s.ToggleSelection("t4")

	c, rec := newContext(http.MethodPost, "/", "", "")
	if err := h.DeactivateSelected(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp bulkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 {
		t.Errorf("expected two deactivated, got %+v", resp)
	}

	c, rec = newContext(http.MethodPost, "/", "", "")
	_ = h.DeactivateSelected(c)
	if !strings.Contains(rec.Body.String(), `"ids":[]`) {
		t.Errorf("repeat deactivation should report no ids, got %s", rec.Body.String())
	}

	c, rec = newContext(http.MethodDelete, "/", "", "")
	if err := h.RemoveSelected(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 templates left, got %d", s.Len())
	}
}

func TestHandler_DuplicateAndUsage(t *testing.T) {
	h, s := newTestHandler(t)

	c, rec := newContext(http.MethodPost, "/", "", "t2")
	if err := h.Duplicate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated || s.Len() != 6 {
		t.Errorf("expected 201 and a sixth template, got %d and %d", rec.Code, s.Len())
	}

	c, _ = newContext(http.MethodPost, "/", "", "missing")
	if code := httpCode(t, h.Duplicate(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c, rec = newContext(http.MethodPost, "/", "", "t2")
	if err := h.RecordUsage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"usage_count":41`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_ListApplicable(t *testing.T) {
	h, _ := newTestHandler(t)

	c, rec := newContext(http.MethodGet, "/applicable?age=30&gender=female", "", "")
	if err := h.ListApplicable(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out []Template
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if got := idsOf(out); !equal(got, []string{"t2", "t4"}) {
		t.Errorf("unexpected templates %v", got)
	}

	for _, q := range []string{"/applicable", "/applicable?age=-1", "/applicable?age=40&gender=robot"} {
		c, _ := newContext(http.MethodGet, q, "", "")
		if code := httpCode(t, h.ListApplicable(c)); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1/workspace"))

	want := map[string]bool{
		"POST /api/v1/workspace/prevention":                  false,
		"POST /api/v1/workspace/prevention/:id/duplicate":    false,
		"POST /api/v1/workspace/prevention/bulk/activate":    false,
		"POST /api/v1/workspace/prevention/bulk/deactivate":  false,
		"DELETE /api/v1/workspace/prevention/bulk":           false,
		"GET /api/v1/workspace/prevention/applicable":        false,
		"POST /api/v1/workspace/prevention/multi-select/all": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
