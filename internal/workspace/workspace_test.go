package workspace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ehr/workspace/internal/domain/patient"
	"github.com/ehr/workspace/internal/domain/recording"
	"github.com/ehr/workspace/internal/platform/auth"
	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/platform/metrics"
)

// brokenKV fails every read so hydration cannot complete.
type brokenKV struct{ *kv.MemoryStore }

func (brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

// slowKV delays every write, as a remote backend under load would.
type slowKV struct {
	*kv.MemoryStore
	delay time.Duration
}

func (s slowKV) Set(ctx context.Context, key, value string) error {
	time.Sleep(s.delay)
	return s.MemoryStore.Set(ctx, key, value)
}

func testDeps(backing kv.Store) Deps {
	return Deps{KV: backing, Logger: zerolog.Nop(), Metrics: metrics.New()}
}

func TestOpen_HydratesEveryStore(t *testing.T) {
	w, err := Open(context.Background(), "dr-who", testDeps(kv.NewMemoryStore()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	status := w.Status()
	for _, domain := range []string{"patients", "appointments", "recordings", "prevention"} {
		st, ok := status[domain]
		if !ok {
			t.Errorf("missing store %s", domain)
			continue
		}
		if !st.Hydrated {
			t.Errorf("%s not hydrated", domain)
		}
	}
}

func TestOpen_RejectsBadOwner(t *testing.T) {
	for _, owner := range []string{"", "  ", "team/dr-who"} {
		if _, err := Open(context.Background(), owner, testDeps(nil)); !errors.Is(err, ErrInvalidOwner) {
			t.Errorf("owner %q: expected ErrInvalidOwner, got %v", owner, err)
		}
	}
}

func TestOpen_HydrationFailure(t *testing.T) {
	_, err := Open(context.Background(), "dr-who", testDeps(brokenKV{kv.NewMemoryStore()}))
	if err == nil {
		t.Fatal("expected hydration error")
	}
}

func TestOpen_OwnersAreIsolated(t *testing.T) {
	backing := kv.NewMemoryStore()
	deps := testDeps(backing)

	a, err := Open(context.Background(), "dr-a", deps)
	if err != nil {
		t.Fatal(err)
	}
	a.Patients.UpdateFilter(func(f *patient.Filter) { f.Search = "lovelace" })
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := Open(context.Background(), "dr-b", deps)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if b.Patients.Filter().Search != "" {
		t.Error("one owner's filter leaked into another's workspace")
	}

	keys, err := backing.Keys(context.Background(), "dr-a/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != kv.Key("dr-a", patient.Domain) {
		t.Errorf("expected only the patient slice written, got %v", keys)
	}
}

func TestManager_CachesAndEvicts(t *testing.T) {
	backing := kv.NewMemoryStore()
	deps := testDeps(backing)
	m, err := NewManager(1, deps)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()

	a, err := m.Get(ctx, "dr-a")
	if err != nil {
		t.Fatal(err)
	}
	again, _ := m.Get(ctx, "dr-a")
	if a != again {
		t.Error("expected the cached workspace")
	}

	a.Recordings.SetCollection([]recording.Session{{ID: "r1", Title: "Intake", Status: recording.StatusRecording}})
	if _, _, err := a.Recordings.SaveDraft("r1", "history of present illness"); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Get(ctx, "dr-b"); err != nil {
		t.Fatal(err)
	}
	m.closes.Wait()
	if m.Len() != 1 {
		t.Errorf("expected one open workspace, got %d", m.Len())
	}
	if got := testutil.ToFloat64(deps.Metrics.Workspaces); got != 1 {
		t.Errorf("expected gauge 1, got %v", got)
	}

	reopened, err := m.Get(ctx, "dr-a")
	if err != nil {
		t.Fatal(err)
	}
	if reopened == a {
		t.Fatal("evicted workspace must not be reused")
	}
	if d, ok := reopened.Recordings.Draft("r1"); !ok || d.Content != "history of present illness" {
		t.Errorf("draft should survive eviction, got %+v", d)
	}
}

func TestManager_ConcurrentGetOpensOnce(t *testing.T) {
	m, err := NewManager(4, testDeps(kv.NewMemoryStore()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	const n = 16
	var wg sync.WaitGroup
	got := make([]*Workspace, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := m.Get(context.Background(), "dr-who")
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = w
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatal("concurrent gets returned different workspaces")
		}
	}
	if m.Len() != 1 {
		t.Errorf("expected one workspace, got %d", m.Len())
	}
}

func TestManager_Close(t *testing.T) {
	deps := testDeps(kv.NewMemoryStore())
	m, err := NewManager(4, deps)
	if err != nil {
		t.Fatal(err)
	}
	for _, owner := range []string{"dr-a", "dr-b"} {
		if _, err := m.Get(context.Background(), owner); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty cache, got %d", m.Len())
	}
	if got := testutil.ToFloat64(deps.Metrics.Workspaces); got != 0 {
		t.Errorf("expected gauge 0, got %v", got)
	}
	if _, err := m.Get(context.Background(), "dr-a"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func contextFor(owner string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if owner != "" {
		req = req.WithContext(context.WithValue(req.Context(), auth.UserIDKey, owner))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestResolver(t *testing.T) {
	m, err := NewManager(4, testDeps(kv.NewMemoryStore()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	resolve := Resolver(m, func(w *Workspace) *patient.Store { return w.Patients })

	c, _ := contextFor("dr-who")
	s, err := resolve(c)
	if err != nil || s == nil {
		t.Fatalf("expected the patient store, got %v", err)
	}

	c, _ = contextFor("")
	_, err = resolve(c)
	expectHTTPError(t, err, http.StatusUnauthorized)

	c, _ = contextFor("team/dr-who")
	_, err = resolve(c)
	expectHTTPError(t, err, http.StatusBadRequest)
}

func TestHandler(t *testing.T) {
	m, err := NewManager(4, testDeps(kv.NewMemoryStore()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	h := NewHandler(m)

	c, rec := contextFor("dr-who")
	if err := h.Status(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || m.Len() != 1 {
		t.Errorf("status should open the workspace, code=%d len=%d", rec.Code, m.Len())
	}

	c, rec = contextFor("dr-who")
	if err := h.Flush(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = contextFor("dr-who")
	if err := h.Close(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected workspace closed, got %d open", m.Len())
	}

	c, _ = contextFor("")
	expectHTTPError(t, h.Close(c), http.StatusUnauthorized)
}

func TestManager_HydrationFailureSurfacesAs503(t *testing.T) {
	m, err := NewManager(4, testDeps(brokenKV{kv.NewMemoryStore()}))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	c, _ := contextFor("dr-who")
	expectHTTPError(t, NewHandler(m).Status(c), http.StatusServiceUnavailable)
	if m.Len() != 0 {
		t.Error("a failed open must not be cached")
	}
}

func TestManager_EvictWaitsForPendingWrites(t *testing.T) {
	m, err := NewManager(4, testDeps(slowKV{kv.NewMemoryStore(), 100 * time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()

	w, err := m.Get(ctx, "dr-who")
	if err != nil {
		t.Fatal(err)
	}
	w.Patients.ToggleFavorite("p1")

	open, err := m.Evict("dr-who")
	if err != nil || !open {
		t.Fatalf("Evict = %v, %v", open, err)
	}
	reopened, err := m.Get(ctx, "dr-who")
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Patients.Favorites(); !slices.Equal(got, []string{"p1"}) {
		t.Errorf("favorites after evict and reopen: %v", got)
	}
	if open, _ := m.Evict("nobody"); open {
		t.Error("evicting an unknown owner should report false")
	}
}

func TestManager_ReopenWaitsForCapacityEviction(t *testing.T) {
	m, err := NewManager(1, testDeps(slowKV{kv.NewMemoryStore(), 100 * time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	ctx := context.Background()

	a, err := m.Get(ctx, "dr-a")
	if err != nil {
		t.Fatal(err)
	}
	a.Patients.ToggleFavorite("p7")

	// Opening dr-b evicts dr-a while its write is still in flight.
	if _, err := m.Get(ctx, "dr-b"); err != nil {
		t.Fatal(err)
	}
	reopened, err := m.Get(ctx, "dr-a")
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Patients.IsFavorite("p7") {
		t.Error("favorite written before eviction was not hydrated")
	}
}
