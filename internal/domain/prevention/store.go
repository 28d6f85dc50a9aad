// Package prevention holds the clinic's preventive-care template library and
// the bulk operations run over a multi-selection of templates.
package prevention

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/workspace/internal/store"
)

const Domain = "prevention"

const Persisted = store.SliceFilter | store.SliceRecent | store.SliceFavorites

// errUnchanged aborts an update that would not change anything.
var errUnchanged = errors.New("unchanged")

type Store struct {
	*store.Store[Template, Filter]
	now func() time.Time
}

func NewStore(opts store.Options) (*Store, error) {
	return newStore(opts, time.Now)
}

func newStore(opts store.Options, now func() time.Time) (*Store, error) {
	s, err := store.New(Descriptor(), opts)
	if err != nil {
		return nil, err
	}
	return &Store{Store: s, now: now}, nil
}

func Descriptor() store.Descriptor[Template, Filter] {
	return store.Descriptor[Template, Filter]{
		Name:          Domain,
		Prepend:       true,
		Persist:       Persisted,
		DefaultFilter: DefaultFilter,
		Match: func(t Template, f Filter) bool {
			if !store.MatchesSearch(f.Search, t.Name, t.Description) {
				return false
			}
			if !store.MatchesCategory(f.Category, t.Category) {
				return false
			}
			if f.Active != nil && *f.Active != t.Active {
				return false
			}
			if f.Gender != "" && f.Gender != GenderAll && t.TargetGender != GenderAll && t.TargetGender != f.Gender {
				return false
			}
			return true
		},
		Compare: compareTemplates,
	}
}

func compareTemplates(a, b Template, f Filter) int {
	switch f.SortBy {
	case SortCategory:
		return store.CompareNumber(categoryRank[a.Category], categoryRank[b.Category])
	case SortUsageCount:
		return store.CompareNumber(a.UsageCount, b.UsageCount)
	case SortUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		return store.CompareText(a.Name, b.Name)
	}
}

// Create validates t, fills in id and timestamps, and adds it.
func (s *Store) Create(t Template) (Template, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TargetGender == "" {
		t.TargetGender = GenderAll
	}
	if err := t.Validate(); err != nil {
		return Template{}, err
	}
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if err := s.Add(t); err != nil {
		return Template{}, err
	}
	return t, nil
}

// Patch applies a partial update and validates the result before storing
// it. found is false when id is not loaded.
func (s *Store) Patch(id string, patch Patch) (updated Template, found bool, err error) {
	found, err = s.UpdateIf(id, func(t *Template, _ []Template) error {
		patch.Apply(t)
		if err := t.Validate(); err != nil {
			return err
		}
		t.UpdatedAt = s.now().UTC()
		updated = *t
		return nil
	})
	if err != nil || !found {
		return Template{}, found, err
	}
	return updated, true, nil
}

// SetActiveForSelected sets the active flag on every multi-selected template
// and returns the ids it changed.
func (s *Store) SetActiveForSelected(active bool) []string {
	now := s.now().UTC()
	var changed []string
	for _, id := range s.SelectedIDs() {
		found, err := s.UpdateIf(id, func(t *Template, _ []Template) error {
			if t.Active == active {
				return errUnchanged
			}
			t.Active = active
			t.UpdatedAt = now
			return nil
		})
		if found && err == nil {
			changed = append(changed, id)
		}
	}
	return changed
}

// RemoveSelected removes every multi-selected template and returns the
// removed ids. The multi-select set is empty afterwards; the mode is kept.
func (s *Store) RemoveSelected() []string {
	var removed []string
	for _, id := range s.SelectedIDs() {
		if s.RemoveByID(id) {
			removed = append(removed, id)
		}
	}
	s.ClearMultiSelect()
	return removed
}

// DuplicateTemplate adds an inactive copy of id with a fresh id, a "(Copy)"
// name suffix and a zero usage count.
func (s *Store) DuplicateTemplate(id string) (Template, bool, error) {
	src, ok := s.Get(id)
	if !ok {
		return Template{}, false, nil
	}
	dup := src
	dup.ID = uuid.NewString()
	dup.Name = src.Name + " (Copy)"
	dup.Active = false
	dup.UsageCount = 0
	if src.MinAge != nil {
		v := *src.MinAge
		dup.MinAge = &v
	}
	if src.MaxAge != nil {
		v := *src.MaxAge
		dup.MaxAge = &v
	}
	now := s.now().UTC()
	dup.CreatedAt = now
	dup.UpdatedAt = now
	if err := s.Add(dup); err != nil {
		return Template{}, true, err
	}
	return dup, true, nil
}

// RecordUsage counts one application of the template to a patient.
func (s *Store) RecordUsage(id string) (Template, bool) {
	ok := s.UpdateByID(id, func(t *Template) {
		t.UsageCount++
		t.UpdatedAt = s.now().UTC()
	})
	if !ok {
		return Template{}, false
	}
	return s.Get(id)
}

// ApplicableTo returns the active templates that target a patient of the
// given age and gender, in the current sort order.
func (s *Store) ApplicableTo(age int, gender Gender) []Template {
	applies := func(t Template, _ Filter) bool { return t.Active && t.AppliesTo(age, gender) }
	return store.Derive(s.Items(), s.Filter(), applies, compareTemplates)
}
