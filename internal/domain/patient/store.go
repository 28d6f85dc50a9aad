// Package patient holds the clinician's patient panel: the patient entity,
// its filter descriptor and the store configured for it.
package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/workspace/internal/store"
)

// Domain is the store and persistence key name.
const Domain = "patients"

// Persisted is the patient persistence slice.
const Persisted = store.SliceFilter | store.SliceRecent | store.SliceFavorites

type Store struct {
	*store.Store[Patient, Filter]
	now func() time.Time
}

func NewStore(opts store.Options) (*Store, error) {
	return newStore(opts, time.Now)
}

func newStore(opts store.Options, now func() time.Time) (*Store, error) {
	s, err := store.New(Descriptor(now), opts)
	if err != nil {
		return nil, err
	}
	return &Store{Store: s, now: now}, nil
}

// Descriptor configures the generic store for patients. now anchors the
// has-upcoming-appointment predicate.
func Descriptor(now func() time.Time) store.Descriptor[Patient, Filter] {
	return store.Descriptor[Patient, Filter]{
		Name:          Domain,
		Prepend:       true,
		Persist:       Persisted,
		DefaultFilter: DefaultFilter,
		Match: func(p Patient, f Filter) bool {
			if !store.MatchesSearch(f.Search, p.FirstName, p.LastName, p.FullName(), p.Email, p.MRN, p.Phone) {
				return false
			}
			if !store.MatchesCategory(f.Status, p.Status) ||
				!store.MatchesCategory(f.RiskLevel, p.RiskLevel) ||
				!store.MatchesCategory(f.Gender, p.Gender) {
				return false
			}
			if f.HasUpcomingAppointment != nil {
				upcoming := p.NextAppointment != nil && p.NextAppointment.After(now())
				if upcoming != *f.HasUpcomingAppointment {
					return false
				}
			}
			return true
		},
		Compare: comparePatients,
		Volatile: func(f Filter) bool {
			return f.HasUpcomingAppointment != nil
		},
	}
}

func comparePatients(a, b Patient, f Filter) int {
	switch f.SortBy {
	case SortLastVisit:
		return store.CompareTime(a.LastVisit, b.LastVisit)
	case SortNextAppointment:
		return store.CompareTime(a.NextAppointment, b.NextAppointment)
	case SortRiskLevel:
		return store.CompareNumber(riskRank[a.RiskLevel], riskRank[b.RiskLevel])
	case SortCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	default:
		if c := store.CompareText(a.LastName, b.LastName); c != 0 {
			return c
		}
		return store.CompareText(a.FirstName, b.FirstName)
	}
}

// Create validates p, fills in id, status and timestamps, and adds it.
func (s *Store) Create(p Patient) (Patient, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if err := p.Validate(); err != nil {
		return Patient{}, err
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.Add(p); err != nil {
		return Patient{}, err
	}
	return p, nil
}

// Patch applies a partial update and validates the result before storing
// it. found is false when id is not loaded.
func (s *Store) Patch(id string, patch Patch) (updated Patient, found bool, err error) {
	found, err = s.UpdateIf(id, func(p *Patient, _ []Patient) error {
		patch.Apply(p)
		if err := p.Validate(); err != nil {
			return err
		}
		p.UpdatedAt = s.now().UTC()
		updated = *p
		return nil
	})
	if err != nil || !found {
		return Patient{}, found, err
	}
	return updated, true, nil
}

// Stats are the headline counts shown on the patient dashboard.
type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	HighRisk int `json:"high_risk"`
	Upcoming int `json:"upcoming_appointments"`
}

func (s *Store) Stats() Stats {
	now := s.now()
	var st Stats
	for _, p := range s.Items() {
		st.Total++
		if p.Status == StatusActive {
			st.Active++
		}
		if p.RiskLevel == RiskHigh {
			st.HighRisk++
		}
		if p.NextAppointment != nil && p.NextAppointment.After(now) {
			st.Upcoming++
		}
	}
	return st
}

// ByCondition returns loaded patients carrying condition, matched
// case-insensitively.
func (s *Store) ByCondition(condition string) []Patient {
	if condition == "" {
		return nil
	}
	var out []Patient
	for _, p := range s.Items() {
		for _, c := range p.Conditions {
			if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(condition)) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
