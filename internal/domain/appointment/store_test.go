package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/store"
)

var testNow = time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 16, hour, min, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func newTestStore(t *testing.T, backing kv.Store) *Store {
	t.Helper()
	s, err := newStore(store.Options{KV: backing, Owner: "dr-who", Logger: zerolog.Nop()}, func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	if err := s.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleAppointments() []Appointment {
	return []Appointment{
		{
			ID: "a1", PatientID: "p1", PatientName: "Ada Lovelace", ProviderID: "dr-1",
			Title: "Blood pressure review", Type: TypeFollowUp, Status: StatusConfirmed,
			StartTime: at(10, 0), EndTime: at(11, 0), Location: "Room 4",
			CreatedAt: testNow.AddDate(0, 0, -3),
		},
		{
			ID: "a2", PatientID: "p2", PatientName: "Alan Turing", ProviderID: "dr-2",
			Title: "Asthma consult", Type: TypeConsultation, Status: StatusCancelled,
			StartTime: at(9, 0), EndTime: at(9, 30), Notes: "inhaler refill",
			CreatedAt: testNow.AddDate(0, 0, -1),
		},
		{
			ID: "a3", PatientID: "p3", PatientName: "Grace Hopper", ProviderID: "dr-1",
			Title: "Telehealth check-in", Type: TypeTelehealth, Status: StatusScheduled,
			StartTime: at(14, 0), EndTime: at(14, 20),
			CreatedAt: testNow.AddDate(0, 0, -7),
		},
		{
			ID: "a4", PatientID: "p1", PatientName: "Ada Lovelace", ProviderID: "dr-1",
			Title: "Annual physical", Type: TypeProcedure, Status: StatusCompleted,
			StartTime: testNow.AddDate(0, 0, -30), EndTime: testNow.AddDate(0, 0, -30).Add(time.Hour),
			CreatedAt: testNow.AddDate(0, -2, 0),
		},
	}
}

func viewIDs(s *Store) []string {
	var out []string
	for _, a := range s.View() {
		out = append(out, a.ID)
	}
	return out
}

func idsOf(as []Appointment) []string {
	var out []string
	for _, a := range as {
		out = append(out, a.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHasConflict_HalfOpenBoundaries(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleAppointments())

	tests := []struct {
		name       string
		start, end time.Time
		exclude    string
		want       bool
	}{
		{"adjacent after", at(11, 0), at(12, 0), "", false},
		{"adjacent before", at(9, 30), at(10, 0), "", false},
		{"overlaps end", at(10, 59), at(11, 30), "", true},
		{"overlaps start", at(9, 45), at(10, 1), "", true},
		{"contained", at(10, 15), at(10, 45), "", true},
		{"containing", at(9, 45), at(11, 15), "", true},
		{"excluded self", at(10, 15), at(10, 45), "a1", false},
		{"cancelled does not block", at(9, 0), at(9, 30), "", false},
		{"completed does not block", testNow.AddDate(0, 0, -30), testNow.AddDate(0, 0, -30).Add(time.Hour), "", false},
		{"second blocking appointment", at(14, 10), at(15, 0), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.HasConflict(tt.start, tt.end, tt.exclude); got != tt.want {
				t.Errorf("HasConflict(%s, %s) = %v, want %v", tt.start.Format("15:04"), tt.end.Format("15:04"), got, tt.want)
			}
		})
	}
}

func TestDescriptor_DefaultSortByStartTime(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleAppointments())
	if got := viewIDs(s); !equal(got, []string{"a4", "a2", "a1", "a3"}) {
		t.Errorf("expected start order, got %v", got)
	}
}

func TestDescriptor_Filters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Filter)
		want   []string
	}{
		{"search title", func(f *Filter) { f.Search = "asthma" }, []string{"a2"}},
		{"search notes", func(f *Filter) { f.Search = "INHALER" }, []string{"a2"}},
		{"search patient", func(f *Filter) { f.Search = "lovelace" }, []string{"a4", "a1"}},
		{"status", func(f *Filter) { f.Status = StatusScheduled }, []string{"a3"}},
		{"type", func(f *Filter) { f.Type = TypeTelehealth }, []string{"a3"}},
		{"provider", func(f *Filter) { f.ProviderID = "dr-2" }, []string{"a2"}},
		{"from", func(f *Filter) { f.From = ptr(at(10, 0)) }, []string{"a1", "a3"}},
		{"range inclusive", func(f *Filter) { f.From = ptr(at(9, 0)); f.To = ptr(at(10, 0)) }, []string{"a2", "a1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, nil)
			s.SetCollection(sampleAppointments())
			s.UpdateFilter(tt.mutate)
			if got := viewIDs(s); !equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDescriptor_Sorts(t *testing.T) {
	tests := []struct {
		sortBy SortField
		order  store.SortOrder
		want   []string
	}{
		{SortPatientName, store.Asc, []string{"a1", "a4", "a2", "a3"}},
		{SortStatus, store.Asc, []string{"a3", "a1", "a4", "a2"}},
		{SortCreatedAt, store.Desc, []string{"a2", "a1", "a3", "a4"}},
		{SortStartTime, store.Desc, []string{"a3", "a1", "a2", "a4"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sortBy)+" "+string(tt.order), func(t *testing.T) {
			s := newTestStore(t, nil)
			s.SetCollection(sampleAppointments())
			s.UpdateFilter(func(f *Filter) { f.SortBy = tt.sortBy; f.SortOrder = tt.order })
			if got := viewIDs(s); !equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleAppointments())

	created, err := s.Create(Appointment{PatientName: "Katherine Johnson", StartTime: at(11, 0), EndTime: at(11, 30)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == "" || created.Status != StatusScheduled || !created.CreatedAt.Equal(testNow) {
		t.Errorf("defaults not applied: %+v", created)
	}
	if items := s.Items(); items[len(items)-1].ID != created.ID {
		t.Error("appointments append to the collection")
	}

	_, err = s.Create(Appointment{PatientName: "Double", StartTime: at(10, 30), EndTime: at(11, 15)})
	if !errors.Is(err, ErrConflict) || !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}

	_, err = s.Create(Appointment{PatientName: "Inverted", StartTime: at(16, 0), EndTime: at(15, 0)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for inverted interval, got %v", err)
	}

	_, err = s.Create(Appointment{PatientName: "Empty", StartTime: at(16, 0), EndTime: at(16, 0)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty interval, got %v", err)
	}

	if _, err := s.Create(Appointment{PatientName: "Walk-in", Status: StatusCancelled, StartTime: at(10, 0), EndTime: at(11, 0)}); err != nil {
		t.Errorf("a cancelled booking cannot double-book: %v", err)
	}
}

func TestPatch(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleAppointments())

	updated, found, err := s.Patch("a1", Patch{StartTime: ptr(at(10, 30)), EndTime: ptr(at(11, 30))})
	if err != nil || !found {
		t.Fatalf("moving within its own slot must pass: found=%v err=%v", found, err)
	}
	if !updated.StartTime.Equal(at(10, 30)) {
		t.Errorf("start not moved: %v", updated.StartTime)
	}

	_, found, err = s.Patch("a1", Patch{EndTime: ptr(at(14, 5))})
	if !found || !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict with a3, got found=%v err=%v", found, err)
	}
	if got, _ := s.Get("a1"); !got.EndTime.Equal(at(11, 30)) {
		t.Error("rejected patch must not be applied")
	}

	_, _, err = s.Patch("a2", Patch{Status: ptr(StatusScheduled), StartTime: ptr(at(10, 45)), EndTime: ptr(at(11, 0))})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("reviving a cancelled appointment must re-check conflicts, got %v", err)
	}

	if _, _, err := s.Patch("a1", Patch{Notes: ptr("bring readings")}); err != nil {
		t.Errorf("notes-only patch: %v", err)
	}

	if _, found, _ := s.Patch("missing", Patch{}); found {
		t.Error("expected not found")
	}
}

func TestUpcomingAndForDay(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleAppointments())
	tomorrow := Appointment{
		ID: "a5", PatientName: "Mary Jackson", Status: StatusScheduled,
		StartTime: at(9, 0).AddDate(0, 0, 1), EndTime: at(10, 0).AddDate(0, 0, 1),
	}
	if err := s.Add(tomorrow); err != nil {
		t.Fatal(err)
	}

	if got := idsOf(s.Upcoming(0)); !equal(got, []string{"a1", "a3", "a5"}) {
		t.Errorf("upcoming: %v", got)
	}
	if got := idsOf(s.Upcoming(2)); !equal(got, []string{"a1", "a3"}) {
		t.Errorf("limited upcoming: %v", got)
	}
	if got := idsOf(s.ForDay(at(0, 0))); !equal(got, []string{"a2", "a1", "a3"}) {
		t.Errorf("day schedule: %v", got)
	}
	if got := s.ForDay(at(0, 0).AddDate(0, 0, 5)); len(got) != 0 {
		t.Errorf("expected empty day, got %v", idsOf(got))
	}
}

func TestPersistence_RestoresFilterAndRecent(t *testing.T) {
	backing := kv.NewMemoryStore()
	s := newTestStore(t, backing)
	s.SetCollection(sampleAppointments())
	s.SelectByID("a3")
	s.ToggleFavorite("a1")
	s.UpdateFilter(func(f *Filter) { f.Type = TypeTelehealth })
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	restored := newTestStore(t, backing)
	if got := restored.RecentlyViewed(); !equal(got, []string{"a3"}) {
		t.Errorf("recent: %v", got)
	}
	if restored.Filter().Type != TypeTelehealth {
		t.Errorf("filter not restored: %+v", restored.Filter())
	}
	if restored.IsFavorite("a1") {
		t.Error("appointment favorites are not persisted")
	}
}

func TestFilterValidate(t *testing.T) {
	if err := DefaultFilter().Validate(); err != nil {
		t.Fatalf("default filter must be valid: %v", err)
	}
	bad := []Filter{
		{SortBy: "duration"},
		{SortOrder: "sideways"},
		{Status: "postponed"},
		{Type: "house-call"},
		{From: ptr(at(12, 0)), To: ptr(at(11, 0))},
	}
	for _, f := range bad {
		if err := f.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", f, err)
		}
	}
}

func TestCreate_ConcurrentBookingsOfOneSlot(t *testing.T) {
	s := newTestStore(t, nil)
	// A long day of past bookings widens the window between check and insert.
	var history []Appointment
	for i := 0; i < 2000; i++ {
		start := testNow.AddDate(0, 0, -1-i)
		history = append(history, Appointment{
			ID: fmt.Sprintf("h%04d", i), PatientName: "History", Status: StatusScheduled,
			StartTime: start, EndTime: start.Add(30 * time.Minute),
		})
	}

	for round := 0; round < 20; round++ {
		s.SetCollection(history)
		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Create(Appointment{PatientName: fmt.Sprintf("Patient %d", i), StartTime: at(10, 0), EndTime: at(11, 0)})
			}(i)
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			switch {
			case err == nil:
				accepted++
			case !errors.Is(err, ErrConflict):
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if accepted != 1 || len(s.Conflicts(at(10, 0), at(11, 0), "")) != 1 {
			t.Fatalf("round %d: %d bookings accepted for one slot", round, accepted)
		}
	}
}

func TestPatch_ConcurrentMovesIntoOneSlot(t *testing.T) {
	s := newTestStore(t, nil)
	for round := 0; round < 20; round++ {
		s.SetCollection([]Appointment{
			{ID: "x", PatientName: "X", Status: StatusScheduled, StartTime: at(8, 0), EndTime: at(8, 30)},
			{ID: "y", PatientName: "Y", Status: StatusScheduled, StartTime: at(9, 0), EndTime: at(9, 30)},
		})
		var wg sync.WaitGroup
		for _, id := range []string{"x", "y"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _, _ = s.Patch(id, Patch{StartTime: ptr(at(15, 0)), EndTime: ptr(at(15, 30))})
			}(id)
		}
		wg.Wait()
		if got := s.Conflicts(at(15, 0), at(15, 30), ""); len(got) != 1 {
			t.Fatalf("round %d: slot holds %v", round, idsOf(got))
		}
	}
}
