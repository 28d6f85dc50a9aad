// Package store implements the domain collection store shared by every
// workspace domain: an in-memory collection with single and multi selection,
// a filtered and sorted view, a recently-viewed ledger, favorites, and a
// persistence adapter that mirrors a declared slice of that state to a
// key-value store.
//
// A Store is configured by a Descriptor; the patient, appointment, recording
// and prevention packages each provide one. All methods are safe for
// concurrent use.
package store

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/platform/metrics"
)

var (
	ErrDuplicateID = errors.New("entity id already exists")
	ErrEmptyID     = errors.New("entity id is required")
	// ErrInvalid is wrapped by the domain validation errors.
	ErrInvalid = errors.New("invalid")
	// ErrConflict is wrapped by domain errors for requests that collide with
	// existing entities, such as overlapping appointments.
	ErrConflict = errors.New("conflict")
)

// Entity is anything with a stable, collection-unique id.
type Entity interface {
	EntityID() string
}

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Valid reports whether o is a known order. The empty order counts as Asc.
func (o SortOrder) Valid() bool {
	return o == "" || o == Asc || o == Desc
}

// Filter is the domain filter descriptor. It must be JSON-encodable; the
// encoding is used both for persistence and as the view cache key.
type Filter interface {
	Order() SortOrder
}

// Slice names the parts of store state that a domain persists.
type Slice uint8

const (
	SliceFilter Slice = 1 << iota
	SliceRecent
	SliceFavorites
	SliceExtra
)

func (s Slice) Has(part Slice) bool { return s&part != 0 }

// Descriptor configures a Store for one domain.
type Descriptor[E Entity, F Filter] struct {
	// Name is the domain name, used as the persistence key suffix and as a
	// metrics label.
	Name string
	// Prepend places added entities at the front of the collection.
	Prepend bool
	// Persist lists the persisted parts of state.
	Persist Slice
	// DefaultFilter returns the filter used initially and by ResetFilter.
	DefaultFilter func() F
	// Match applies the search, categorical and range predicates.
	Match func(e E, f F) bool
	// Compare orders two entities ascending by the filter's sort field.
	// A nil Compare keeps collection order.
	Compare func(a, b E, f F) int
	// Volatile reports whether the view for f depends on the clock. Such
	// views are recomputed on every read instead of being memoized.
	Volatile func(f F) bool
}

// Extra is domain state persisted alongside the built-in slice parts, such as
// recording drafts.
type Extra interface {
	MarshalSlice() ([]byte, error)
	UnmarshalSlice(data []byte) error
}

// Forgetter is implemented by Extra state keyed by entity id. RemoveByID
// calls Forget with the store lock held; Forget reports whether it dropped
// anything.
type Forgetter interface {
	Forget(id string) bool
}

// Options carries the collaborators injected into a Store.
type Options struct {
	// KV is the durable store. Nil disables persistence.
	KV kv.Store
	// Owner namespaces the persistence key.
	Owner   string
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Extra   Extra
	// ViewCacheSize bounds the number of memoized filtered views.
	ViewCacheSize int
	// OnChange is called with the store lock held after every collection
	// change. It must not block or call back into the store.
	OnChange func(Change)
}

// Change describes a collection mutation.
type Change struct {
	Domain  string
	Owner   string
	Version uint64
}

const (
	// RecentLimit bounds the recently-viewed ledger.
	RecentLimit = 10

	defaultViewCacheSize = 8
)

// Status reports the request-lifecycle flags and bookkeeping of a Store.
type Status struct {
	Domain       string `json:"domain"`
	Count        int    `json:"count"`
	Version      uint64 `json:"version"`
	Loading      bool   `json:"loading"`
	Error        string `json:"error,omitempty"`
	Hydrated     bool   `json:"hydrated"`
	MultiSelect  bool   `json:"multi_select"`
	PersistError string `json:"persist_error,omitempty"`
}

type Store[E Entity, F Filter] struct {
	desc     Descriptor[E, F]
	owner    string
	log      zerolog.Logger
	metrics  *metrics.Metrics
	extra    Extra
	onChange func(Change)

	mu          sync.RWMutex
	items       []E
	version     uint64
	selected    *E
	multiSelect bool
	multiIDs    map[string]struct{}
	filter      F
	recent      []string
	favorites   map[string]struct{}
	loading     bool
	errMsg      string
	hydrated    bool

	views  *lru.Cache[viewKey, []E]
	writer *writer
	key    string
}

// New constructs a Store. The store is not hydrated until Hydrate is called.
func New[E Entity, F Filter](desc Descriptor[E, F], opts Options) (*Store[E, F], error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("descriptor name is required")
	}
	if desc.Match == nil {
		desc.Match = func(E, F) bool { return true }
	}
	size := opts.ViewCacheSize
	if size <= 0 {
		size = defaultViewCacheSize
	}
	views, err := lru.New[viewKey, []E](size)
	if err != nil {
		return nil, fmt.Errorf("create view cache: %w", err)
	}

	s := &Store[E, F]{
		desc:      desc,
		owner:     opts.Owner,
		onChange:  opts.OnChange,
		log:       opts.Logger.With().Str("domain", desc.Name).Str("owner", opts.Owner).Logger(),
		metrics:   opts.Metrics,
		extra:     opts.Extra,
		multiIDs:  make(map[string]struct{}),
		favorites: make(map[string]struct{}),
		views:     views,
	}
	if desc.DefaultFilter != nil {
		s.filter = desc.DefaultFilter()
	}
	if opts.KV != nil && desc.Persist != 0 {
		s.key = kv.Key(opts.Owner, desc.Name)
		s.writer = newWriter(opts.KV, s.key, desc.Name, s.log, opts.Metrics)
	}
	return s, nil
}

// Name returns the domain name.
func (s *Store[E, F]) Name() string { return s.desc.Name }

// -- Collection --

// SetCollection replaces the collection. Later duplicates of an id are
// dropped. A selected entity that is still present is refreshed.
func (s *Store[E, F]) SetCollection(items []E) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(items))
	next := make([]E, 0, len(items))
	for _, e := range items {
		id := e.EntityID()
		if _, dup := seen[id]; dup {
			s.log.Warn().Str("id", id).Msg("dropping duplicate id in collection")
			continue
		}
		seen[id] = struct{}{}
		next = append(next, e)
	}
	s.items = next
	if s.selected != nil {
		if i := s.indexLocked((*s.selected).EntityID()); i >= 0 {
			sel := s.items[i]
			s.selected = &sel
		}
	}
	s.bumpLocked()
}

// Add inserts e at the front or back of the collection per the descriptor.
func (s *Store[E, F]) Add(e E) error {
	return s.AddIf(e, nil)
}

// AddIf adds e only if guard accepts the current collection. guard runs with
// the store lock held, so no other change can slip in between the check and
// the insert; it must not retain or modify items. A nil guard accepts.
func (s *Store[E, F]) AddIf(e E, guard func(items []E) error) error {
	id := e.EntityID()
	if id == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) >= 0 {
		return fmt.Errorf("%s %s: %w", s.desc.Name, id, ErrDuplicateID)
	}
	if guard != nil {
		if err := guard(s.items); err != nil {
			return err
		}
	}
	if s.desc.Prepend {
		s.items = append([]E{e}, s.items...)
	} else {
		s.items = append(s.items, e)
	}
	s.bumpLocked()
	return nil
}

// UpdateByID applies patch to a copy of the matching entity and stores the
// result. It reports false, changing nothing, when the id is absent.
func (s *Store[E, F]) UpdateByID(id string, patch func(*E)) bool {
	found, _ := s.UpdateIf(id, func(e *E, _ []E) error {
		patch(e)
		return nil
	})
	return found
}

// UpdateIf applies patch to a copy of the matching entity with the store lock
// held and stores the result unless patch returns an error. patch sees the
// whole collection for cross-entity checks and must not retain or modify it.
// found is false when the id is absent; nothing changes when err is non-nil.
func (s *Store[E, F]) UpdateIf(id string, patch func(e *E, items []E) error) (found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	updated := s.items[i]
	if err := patch(&updated, s.items); err != nil {
		return true, err
	}
	if updated.EntityID() != id {
		s.log.Warn().Str("id", id).Msg("patch attempted to change entity id; ignored")
		return false, nil
	}
	s.items[i] = updated
	if s.selected != nil && (*s.selected).EntityID() == id {
		sel := updated
		s.selected = &sel
	}
	s.bumpLocked()
	return true, nil
}

// RemoveByID deletes the matching entity and evicts its id from the
// selection, the multi-select set, recently viewed, favorites and any
// Forgetter extra state.
func (s *Store[E, F]) RemoveByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
	if s.selected != nil && (*s.selected).EntityID() == id {
		s.selected = nil
	}
	delete(s.multiIDs, id)

	var changed Slice
	if s.removeRecentLocked(id) {
		changed |= SliceRecent
	}
	if _, ok := s.favorites[id]; ok {
		delete(s.favorites, id)
		changed |= SliceFavorites
	}
	if f, ok := s.extra.(Forgetter); ok && f.Forget(id) {
		changed |= SliceExtra
	}
	s.bumpLocked()
	s.persistLocked(changed)
	return true
}

// Items returns a copy of the collection in collection order.
func (s *Store[E, F]) Items() []E {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]E, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store[E, F]) Get(id string) (E, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	var zero E
	return zero, false
}

func (s *Store[E, F]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// -- Selection --

// Select makes a copy of e the active entity and records it as recently
// viewed. A nil e clears the selection.
func (s *Store[E, F]) Select(e *E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e == nil {
		s.selected = nil
		return
	}
	sel := *e
	s.selected = &sel
	if s.pushRecentLocked(sel.EntityID()) {
		s.persistLocked(SliceRecent)
	}
}

// SelectByID selects the entity with id. It reports false, leaving the
// selection unchanged, when the id is absent.
func (s *Store[E, F]) SelectByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	sel := s.items[i]
	s.selected = &sel
	if s.pushRecentLocked(id) {
		s.persistLocked(SliceRecent)
	}
	return true
}

// Selected returns a copy of the active entity.
func (s *Store[E, F]) Selected() (E, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		var zero E
		return zero, false
	}
	return *s.selected, true
}

// -- Multi-select --

func (s *Store[E, F]) EnableMultiSelect() {
	s.mu.Lock()
	s.multiSelect = true
	s.multiIDs = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *Store[E, F]) DisableMultiSelect() {
	s.mu.Lock()
	s.multiSelect = false
	s.multiIDs = make(map[string]struct{})
	s.mu.Unlock()
}

func (s *Store[E, F]) MultiSelectEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.multiSelect
}

// ToggleSelection flips id's membership in the multi-select set and returns
// the new membership.
func (s *Store[E, F]) ToggleSelection(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.multiIDs[id]; ok {
		delete(s.multiIDs, id)
		return false
	}
	s.multiIDs[id] = struct{}{}
	return true
}

// SelectAll replaces the multi-select set with the ids of the current
// filtered view, so bulk actions only reach visible rows.
func (s *Store[E, F]) SelectAll() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.viewLocked()
	s.multiIDs = make(map[string]struct{}, len(view))
	ids := make([]string, 0, len(view))
	for _, e := range view {
		s.multiIDs[e.EntityID()] = struct{}{}
		ids = append(ids, e.EntityID())
	}
	return ids
}

func (s *Store[E, F]) ClearMultiSelect() {
	s.mu.Lock()
	s.multiIDs = make(map[string]struct{})
	s.mu.Unlock()
}

// SelectedIDs returns the multi-select set in collection order.
func (s *Store[E, F]) SelectedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.multiIDs))
	for _, e := range s.items {
		if _, ok := s.multiIDs[e.EntityID()]; ok {
			ids = append(ids, e.EntityID())
		}
	}
	return ids
}

// IsMultiSelected reports whether id is in the multi-select set.
func (s *Store[E, F]) IsMultiSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.multiIDs[id]
	return ok
}

// -- Request lifecycle --

func (s *Store[E, F]) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

func (s *Store[E, F]) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

func (s *Store[E, F]) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Domain:      s.desc.Name,
		Count:       len(s.items),
		Version:     s.version,
		Loading:     s.loading,
		Error:       s.errMsg,
		Hydrated:    s.hydrated,
		MultiSelect: s.multiSelect,
	}
	if s.writer != nil {
		if err := s.writer.lastError(); err != nil {
			st.PersistError = err.Error()
		}
	}
	return st
}

// -- internals --

func (s *Store[E, F]) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].EntityID() == id {
			return i
		}
	}
	return -1
}

// bumpLocked invalidates memoized views after a collection change.
func (s *Store[E, F]) bumpLocked() {
	s.version++
	s.views.Purge()
	if s.onChange != nil {
		s.onChange(Change{Domain: s.desc.Name, Owner: s.owner, Version: s.version})
	}
}
