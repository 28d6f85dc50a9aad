// Package recording holds ambient-scribe recording sessions and the note
// drafts a clinician keeps against them between visits.
package recording

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/workspace/internal/store"
)

const Domain = "recordings"

// Persisted is the recording persistence slice: the filter and the drafts.
const Persisted = store.SliceFilter | store.SliceExtra

type Store struct {
	*store.Store[Session, Filter]
	drafts *drafts
	now    func() time.Time
}

// NewStore constructs the recording store. Any Extra in opts is replaced by
// the store's drafts.
func NewStore(opts store.Options) (*Store, error) {
	return newStore(opts, time.Now)
}

func newStore(opts store.Options, now func() time.Time) (*Store, error) {
	d := &drafts{m: make(map[string]Draft)}
	opts.Extra = d
	s, err := store.New(Descriptor(), opts)
	if err != nil {
		return nil, err
	}
	return &Store{Store: s, drafts: d, now: now}, nil
}

func Descriptor() store.Descriptor[Session, Filter] {
	return store.Descriptor[Session, Filter]{
		Name:          Domain,
		Prepend:       true,
		Persist:       Persisted,
		DefaultFilter: DefaultFilter,
		Match: func(r Session, f Filter) bool {
			if !store.MatchesSearch(f.Search, r.Title, r.PatientName, r.Transcript, r.Summary, strings.Join(r.Tags, " ")) {
				return false
			}
			if !store.MatchesCategory(f.Status, r.Status) {
				return false
			}
			if f.PatientID != "" && f.PatientID != r.PatientID {
				return false
			}
			started := r.StartedAt
			return store.InRange(&started, f.From, f.To)
		},
		Compare: compareSessions,
	}
}

func compareSessions(a, b Session, f Filter) int {
	switch f.SortBy {
	case SortDuration:
		return store.CompareNumber(a.Duration, b.Duration)
	case SortPatientName:
		return store.CompareText(a.PatientName, b.PatientName)
	case SortTitle:
		return store.CompareText(a.Title, b.Title)
	default:
		return a.StartedAt.Compare(b.StartedAt)
	}
}

// Create validates r, fills in id, status and timestamps, and adds it.
func (s *Store) Create(r Session) (Session, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusRecording
	}
	now := s.now().UTC()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	if err := r.Validate(); err != nil {
		return Session{}, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if err := s.Add(r); err != nil {
		return Session{}, err
	}
	return r, nil
}

// Patch applies a partial update and validates the result before storing
// it. found is false when id is not loaded.
func (s *Store) Patch(id string, patch Patch) (updated Session, found bool, err error) {
	found, err = s.UpdateIf(id, func(r *Session, _ []Session) error {
		patch.Apply(r)
		if err := r.Validate(); err != nil {
			return err
		}
		r.UpdatedAt = s.now().UTC()
		updated = *r
		return nil
	})
	if err != nil || !found {
		return Session{}, found, err
	}
	return updated, true, nil
}

// SaveDraft stores content as the draft for a loaded session, replacing any
// earlier draft. found is false when the session is not loaded. The draft is
// written under the store lock, so a session removed concurrently never
// keeps one.
func (s *Store) SaveDraft(sessionID, content string) (d Draft, found bool, err error) {
	if strings.TrimSpace(content) == "" {
		_, found = s.Get(sessionID)
		if !found {
			return Draft{}, false, nil
		}
		return Draft{}, true, fmt.Errorf("%w: draft content is required", ErrValidation)
	}
	d = Draft{SessionID: sessionID, Content: content, UpdatedAt: s.now().UTC()}
	found = s.UpdateExtra(sessionID, func(Session) bool {
		s.drafts.put(d)
		return true
	})
	if !found {
		return Draft{}, false, nil
	}
	return d, true, nil
}

func (s *Store) Draft(sessionID string) (Draft, bool) {
	return s.drafts.get(sessionID)
}

// DiscardDraft drops the draft for sessionID. It reports false when there
// was none.
func (s *Store) DiscardDraft(sessionID string) bool {
	if !s.drafts.Forget(sessionID) {
		return false
	}
	s.PersistExtra()
	return true
}

// Drafts returns every draft, most recently edited first.
func (s *Store) Drafts() []Draft {
	return s.drafts.list()
}

// drafts is the Extra persisted with the recording slice. RemoveByID drops a
// session's draft through Forget.
type drafts struct {
	mu sync.Mutex
	m  map[string]Draft
}

func (d *drafts) put(draft Draft) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[draft.SessionID] = draft
}

func (d *drafts) get(id string) (Draft, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft, ok := d.m[id]
	return draft, ok
}

func (d *drafts) list() []Draft {
	d.mu.Lock()
	out := make([]Draft, 0, len(d.m))
	for _, draft := range d.m {
		out = append(out, draft)
	}
	d.mu.Unlock()
	slices.SortFunc(out, func(a, b Draft) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out
}

func (d *drafts) Forget(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.m[id]; !ok {
		return false
	}
	delete(d.m, id)
	return true
}

func (d *drafts) MarshalSlice() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(d.m)
}

func (d *drafts) UnmarshalSlice(data []byte) error {
	m := make(map[string]Draft)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	d.mu.Lock()
	d.m = m
	d.mu.Unlock()
	return nil
}
