package patient

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
	s.SetCollection(samplePatients())
	return NewHandler(func(echo.Context) (*Store, error) { return s, nil }), s
}

func jsonContext(method, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_Create(t *testing.T) {
	h, s := newTestHandler(t)

	c, rec := jsonContext(http.MethodPost, `{"first_name":"Mary","last_name":"Jackson","risk_level":"medium"}`)
	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var created Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get(created.ID); !ok {
		t.Error("created patient not in store")
	}

	c, _ = jsonContext(http.MethodPost, `{"id":"p1","first_name":"Again"}`)
	if code := httpCode(t, h.Create(c)); code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate id, got %d", code)
	}

	c, _ = jsonContext(http.MethodPost, `{"status":"active"}`)
	if code := httpCode(t, h.Create(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", code)
	}
}

func TestHandler_Patch(t *testing.T) {
	h, s := newTestHandler(t)

	c, rec := jsonContext(http.MethodPatch, `{"email":"grace@navy.mil"}`)
	c.SetParamNames("id")
	c.SetParamValues("p3")
	if err := h.Patch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if p, _ := s.Get("p3"); p.Email != "grace@navy.mil" || p.FirstName != "Grace" {
		t.Errorf("unexpected patched patient %+v", p)
	}

	c, _ = jsonContext(http.MethodPatch, `{"email":"x@y.z"}`)
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if code := httpCode(t, h.Patch(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c, _ = jsonContext(http.MethodPatch, `{"gender":"robot"}`)
	c.SetParamNames("id")
	c.SetParamValues("p3")
	if code := httpCode(t, h.Patch(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_FilterValidation(t *testing.T) {
	h, s := newTestHandler(t)

	c, _ := jsonContext(http.MethodPut, `{"sort_by":"shoeSize","sort_order":"asc"}`)
	if code := httpCode(t, h.common.SetFilter(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if s.Filter().SortBy != SortName {
		t.Error("invalid filter must not be stored")
	}

	c, _ = jsonContext(http.MethodPatch, `{"risk_level":"high"}`)
	if err := h.common.PatchFilter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := viewIDs(s); !equal(got, []string{"p1"}) {
		t.Errorf("expected only high risk, got %v", got)
	}
}

func TestHandler_StatsAndConditions(t *testing.T) {
	h, _ := newTestHandler(t)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.GetStats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.Upcoming != 1 {
		t.Errorf("unexpected stats %+v", st)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("condition")
	c.SetParamValues("gout")
	_ = h.ListByCondition(c)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1/workspace"))

	want := map[string]bool{
		"POST /api/v1/workspace/patients":             false,
		"PATCH /api/v1/workspace/patients/:id":        false,
		"GET /api/v1/workspace/patients/stats":        false,
		"POST /api/v1/workspace/patients/:id/select":  false,
		"PATCH /api/v1/workspace/patients/filter":     false,
		"POST /api/v1/workspace/patients/multi-select": false,
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
