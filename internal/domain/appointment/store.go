// Package appointment holds the clinician's schedule and the double-booking
// check run before an appointment is created or moved.
package appointment

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/workspace/internal/store"
)

const Domain = "appointments"

const Persisted = store.SliceFilter | store.SliceRecent

type Store struct {
	*store.Store[Appointment, Filter]
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

func Descriptor() store.Descriptor[Appointment, Filter] {
	return store.Descriptor[Appointment, Filter]{
		Name:          Domain,
		Persist:       Persisted,
		DefaultFilter: DefaultFilter,
		Match: func(a Appointment, f Filter) bool {
			if !store.MatchesSearch(f.Search, a.Title, a.PatientName, a.ProviderName, a.Location, a.Notes) {
				return false
			}
			if !store.MatchesCategory(f.Status, a.Status) || !store.MatchesCategory(f.Type, a.Type) {
				return false
			}
			if f.ProviderID != "" && f.ProviderID != a.ProviderID {
				return false
			}
			start := a.StartTime
			return store.InRange(&start, f.From, f.To)
		},
		Compare: compareAppointments,
	}
}

func compareAppointments(a, b Appointment, f Filter) int {
	switch f.SortBy {
	case SortPatientName:
		return store.CompareText(a.PatientName, b.PatientName)
	case SortStatus:
		return store.CompareNumber(statusRank[a.Status], statusRank[b.Status])
	case SortCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	default:
		return a.StartTime.Compare(b.StartTime)
	}
}

// Conflicts returns the blocking appointments overlapping [start, end).
// Cancelled and completed appointments never block, and excludeID lets a
// reschedule ignore the appointment being moved.
func (s *Store) Conflicts(start, end time.Time, excludeID string) []Appointment {
	return conflicts(s.Items(), start, end, excludeID)
}

func (s *Store) HasConflict(start, end time.Time, excludeID string) bool {
	return len(s.Conflicts(start, end, excludeID)) > 0
}

func conflicts(items []Appointment, start, end time.Time, excludeID string) []Appointment {
	var out []Appointment
	for _, a := range items {
		if a.ID == excludeID || a.Status.Terminal() {
			continue
		}
		if a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	return out
}

// checkConflict runs with the store lock held, so the check and the write
// that follows it see the same schedule.
func checkConflict(items []Appointment, a Appointment, excludeID string) error {
	if a.Status.Terminal() {
		return nil
	}
	if c := conflicts(items, a.StartTime, a.EndTime, excludeID); len(c) > 0 {
		return fmt.Errorf("%w with %s at %s", ErrConflict, c[0].ID, c[0].StartTime.Format(time.RFC3339))
	}
	return nil
}

// Create validates a, refuses it when it would double-book, and adds it.
func (s *Store) Create(a Appointment) (Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if err := a.Validate(); err != nil {
		return Appointment{}, err
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	err := s.AddIf(a, func(items []Appointment) error {
		return checkConflict(items, a, a.ID)
	})
	if err != nil {
		return Appointment{}, err
	}
	return a, nil
}

// Patch applies a partial update, re-running the conflict check when the
// appointment moves or becomes blocking again.
func (s *Store) Patch(id string, patch Patch) (updated Appointment, found bool, err error) {
	found, err = s.UpdateIf(id, func(a *Appointment, items []Appointment) error {
		patch.Apply(a)
		if err := a.Validate(); err != nil {
			return err
		}
		if patch.Reschedules() {
			if err := checkConflict(items, *a, id); err != nil {
				return err
			}
		}
		a.UpdatedAt = s.now().UTC()
		updated = *a
		return nil
	})
	if err != nil || !found {
		return Appointment{}, found, err
	}
	return updated, true, nil
}

// Upcoming returns up to limit blocking appointments starting after now,
// soonest first. A limit of zero or less returns all of them.
func (s *Store) Upcoming(limit int) []Appointment {
	now := s.now()
	var out []Appointment
	for _, a := range s.Items() {
		if a.Status.Terminal() || a.Status == StatusNoShow || !a.StartTime.After(now) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ForDay returns the appointments starting on day's calendar date in day's
// location, in start order.
func (s *Store) ForDay(day time.Time) []Appointment {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)
	var out []Appointment
	for _, a := range s.Items() {
		if !a.StartTime.Before(from) && a.StartTime.Before(to) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
