package prevention

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/store"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

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

func days(n int) time.Time { return testNow.AddDate(0, 0, -n) }

func sampleTemplates() []Template {
	return []Template{
		{
			ID: "t1", Name: "Colorectal cancer screening", Description: "Colonoscopy or FIT",
			Category: CategoryScreening, MinAge: ptr(45), MaxAge: ptr(75), TargetGender: GenderAll,
			Frequency: "every 10 years", Active: true, UsageCount: 12, UpdatedAt: days(10),
		},
		{
			ID: "t2", Name: "Influenza vaccine", Category: CategoryVaccination, TargetGender: GenderAll,
			Frequency: "annually", Active: true, UsageCount: 40, UpdatedAt: days(2),
		},
		{
			ID: "t3", Name: "Mammogram", Category: CategoryScreening, MinAge: ptr(40), MaxAge: ptr(74),
			TargetGender: GenderFemale, Frequency: "every 2 years", UsageCount: 5, UpdatedAt: days(30),
		},
		{
			ID: "t4", Name: "Smoking cessation counseling", Category: CategoryLifestyle, MinAge: ptr(18),
			TargetGender: GenderAll, Active: true, UpdatedAt: days(1),
		},
		{
			ID: "t5", Name: "Statin therapy", Description: "Lipid-lowering therapy for primary prevention",
			Category: CategoryMedication, MinAge: ptr(40), MaxAge: ptr(75), TargetGender: GenderAll,
			Active: true, UsageCount: 8, UpdatedAt: days(5),
		},
	}
}

func viewIDs(s *Store) []string {
	var out []string
	for _, t := range s.View() {
		out = append(out, t.ID)
	}
	return out
}

func idsOf(ts []Template) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func equal(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}

func TestDescriptor_DefaultSortByName(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleTemplates())
	if got := viewIDs(s); !equal(got, []string{"t1", "t2", "t3", "t4", "t5"}) {
		t.Errorf("expected name order, got %v", got)
	}
}

func TestDescriptor_Filters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Filter)
		want   []string
	}{
		{"search name", func(f *Filter) { f.Search = "vaccine" }, []string{"t2"}},
		{"search description", func(f *Filter) { f.Search = "lipid" }, []string{"t5"}},
		{"category", func(f *Filter) { f.Category = CategoryScreening }, []string{"t1", "t3"}},
		{"inactive", func(f *Filter) { f.Active = ptr(false) }, []string{"t3"}},
		{"male", func(f *Filter) { f.Gender = GenderMale }, []string{"t1", "t2", "t4", "t5"}},
		{"female", func(f *Filter) { f.Gender = GenderFemale }, []string{"t1", "t2", "t3", "t4", "t5"}},
		{"combined", func(f *Filter) { f.Category = CategoryScreening; f.Active = ptr(true) }, []string{"t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, nil)
			s.SetCollection(sampleTemplates())
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
		{SortCategory, store.Asc, []string{"t1", "t3", "t2", "t4", "t5"}},
		{SortUsageCount, store.Desc, []string{"t2", "t1", "t5", "t3", "t4"}},
		{SortUpdatedAt, store.Desc, []string{"t4", "t2", "t5", "t1", "t3"}},
		{SortName, store.Desc, []string{"t5", "t4", "t3", "t2", "t1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sortBy)+" "+string(tt.order), func(t *testing.T) {
			s := newTestStore(t, nil)
			s.SetCollection(sampleTemplates())
			s.UpdateFilter(func(f *Filter) { f.SortBy = tt.sortBy; f.SortOrder = tt.order })
			if got := viewIDs(s); !equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCreateAndPatch(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleTemplates())

	created, err := s.Create(Template{Name: "Hepatitis B vaccine", Category: CategoryVaccination})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.TargetGender != GenderAll || !created.UpdatedAt.Equal(testNow) {
		t.Errorf("defaults not applied: %+v", created)
	}
	if s.Items()[0].ID != created.ID {
		t.Error("templates prepend to the collection")
	}

	invalid := []Template{
		{Category: CategoryLifestyle},
		{Name: "x", Category: "surgery"},
		{Name: "x", Category: CategoryScreening, MinAge: ptr(70), MaxAge: ptr(50)},
		{Name: "x", Category: CategoryScreening, TargetGender: "other"},
	}
	for _, tpl := range invalid {
		if _, err := s.Create(tpl); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", tpl, err)
		}
	}

	updated, found, err := s.Patch("t3", Patch{Active: ptr(true), MinAge: ptr(50)})
	if err != nil || !found {
		t.Fatalf("patch: found=%v err=%v", found, err)
	}
	if !updated.Active || *updated.MinAge != 50 {
		t.Errorf("patch not applied: %+v", updated)
	}
	if _, _, err := s.Patch("t3", Patch{MaxAge: ptr(30)}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSetActiveForSelected(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleTemplates())
	s.EnableMultiSelect()
	s.ToggleSelection("t1")
	s.ToggleSelection("t3")

	if changed := s.SetActiveForSelected(false); !equal(changed, []string{"t1"}) {
		t.Errorf("only templates whose flag flips are reported, got %v", changed)
	}
	for _, id := range []string{"t1", "t3"} {
		if tpl, _ := s.Get(id); tpl.Active {
			t.Errorf("%s should be inactive", id)
		}
	}
	if tpl, _ := s.Get("t2"); !tpl.Active {
		t.Error("unselected templates must be untouched")
	}

	if changed := s.SetActiveForSelected(true); !equal(changed, []string{"t1", "t3"}) {
		t.Errorf("expected both re-activated, got %v", changed)
	}
	if len(s.SelectedIDs()) != 2 {
		t.Error("bulk activation keeps the selection")
	}
}

func TestRemoveSelected(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleTemplates())
	s.ToggleFavorite("t2")
	s.SelectByID("t4")
	s.EnableMultiSelect()
	s.UpdateFilter(func(f *Filter) { f.Category = CategoryScreening })
	s.SelectAll()
	s.ToggleSelection("t2")

	if removed := s.RemoveSelected(); !equal(removed, []string{"t1", "t2", "t3"}) {
		t.Errorf("unexpected removed ids %v", removed)
	}
	if s.Len() != 2 || len(s.SelectedIDs()) != 0 || !s.MultiSelectEnabled() {
		t.Errorf("expected two left, an empty set and multi-select still on; len=%d", s.Len())
	}
	if s.IsFavorite("t2") {
		t.Error("removal must cascade to favorites")
	}
	if sel, ok := s.Selected(); !ok || sel.ID != "t4" {
		t.Error("selection of a surviving template must stay")
	}
}

func TestDuplicateTemplate(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleTemplates())

	dup, found, err := s.DuplicateTemplate("t1")
	if err != nil || !found {
		t.Fatalf("duplicate: found=%v err=%v", found, err)
	}
	if dup.ID == "t1" || dup.Name != "Colorectal cancer screening (Copy)" || dup.Active || dup.UsageCount != 0 {
		t.Errorf("unexpected duplicate %+v", dup)
	}
	if s.Items()[0].ID != dup.ID || s.Len() != 6 {
		t.Error("duplicate should be prepended")
	}

	*dup.MinAge = 1
	if src, _ := s.Get("t1"); *src.MinAge != 45 {
		t.Error("duplicate must not share age bounds with its source")
	}

	if _, found, _ := s.DuplicateTemplate("missing"); found {
		t.Error("expected not found")
	}
}

func TestRecordUsageAndApplicable(t *testing.T) {
	s := newTestStore(t, nil)
	s.SetCollection(sampleTemplates())

	tpl, ok := s.RecordUsage("t4")
	if !ok || tpl.UsageCount != 1 {
		t.Errorf("expected usage 1, got %+v", tpl)
	}
	if _, ok := s.RecordUsage("missing"); ok {
		t.Error("expected not found")
	}

	if got := idsOf(s.ApplicableTo(50, GenderMale)); !equal(got, []string{"t1", "t2", "t4", "t5"}) {
		t.Errorf("50 year old male: %v", got)
	}
	if got := idsOf(s.ApplicableTo(30, GenderFemale)); !equal(got, []string{"t2", "t4"}) {
		t.Errorf("30 year old female: %v", got)
	}
}

func TestPersistence_RestoresFavoritesRecentAndFilter(t *testing.T) {
	backing := kv.NewMemoryStore()
	s := newTestStore(t, backing)
	s.SetCollection(sampleTemplates())
	s.ToggleFavorite("t2")
	s.SelectByID("t5")
	s.UpdateFilter(func(f *Filter) { f.Active = ptr(true) })
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	restored := newTestStore(t, backing)
	if !restored.IsFavorite("t2") || !equal(restored.RecentlyViewed(), []string{"t5"}) {
		t.Errorf("ledger not restored: favorites=%v recent=%v", restored.Favorites(), restored.RecentlyViewed())
	}
	if f := restored.Filter(); f.Active == nil || !*f.Active {
		t.Errorf("filter not restored: %+v", f)
	}
}

func TestFilterValidate(t *testing.T) {
	if err := DefaultFilter().Validate(); err != nil {
		t.Fatalf("default filter must be valid: %v", err)
	}
	bad := []Filter{
		{SortBy: "popularity"},
		{SortOrder: "up"},
		{Category: "surgery"},
		{Gender: "unknown"},
	}
	for _, f := range bad {
		if err := f.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", f, err)
		}
	}
}
