package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()
	m.PersistWrites.WithLabelValues("patients", ResultOK).Inc()
	m.PersistWrites.WithLabelValues("patients", ResultOK).Inc()
	m.ViewCache.WithLabelValues("patients", ResultHit).Inc()
	m.Workspaces.Set(3)

	if got := testutil.ToFloat64(m.PersistWrites.WithLabelValues("patients", ResultOK)); got != 2 {
		t.Errorf("expected 2 writes, got %v", got)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := m.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`workspace_persist_writes_total{domain="patients",result="ok"} 2`,
		`workspace_open_workspaces 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in exposition", want)
		}
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// two instances must not collide on registration
	a := New()
	b := New()
	a.Workspaces.Set(1)
	if got := testutil.ToFloat64(b.Workspaces); got != 0 {
		t.Errorf("expected independent gauges, got %v", got)
	}
}
