package store

import (
	"encoding/json"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/ehr/workspace/internal/platform/metrics"
)

// viewKey identifies a memoized view: the collection version it was derived
// from and a hash of the filter that produced it.
type viewKey struct {
	version uint64
	filter  uint64
}

// View returns the filtered and sorted view of the collection. Results are
// memoized per (collection version, filter) unless the descriptor marks the
// filter volatile, and returned as fresh copies.
func (s *Store[E, F]) View() []E {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.viewLocked())
}

// viewLocked returns the cached view slice itself; callers must not modify
// it.
func (s *Store[E, F]) viewLocked() []E {
	if s.desc.Volatile != nil && s.desc.Volatile(s.filter) {
		s.observeView(metrics.ResultMiss)
		return Derive(s.items, s.filter, s.desc.Match, s.desc.Compare)
	}
	key, hashed := s.viewKeyLocked()
	if hashed {
		if v, ok := s.views.Get(key); ok {
			s.observeView(metrics.ResultHit)
			return v
		}
	}
	s.observeView(metrics.ResultMiss)
	v := Derive(s.items, s.filter, s.desc.Match, s.desc.Compare)
	if hashed {
		s.views.Add(key, v)
	}
	return v
}

func (s *Store[E, F]) viewKeyLocked() (viewKey, bool) {
	raw, err := json.Marshal(s.filter)
	if err != nil {
		s.log.Warn().Err(err).Msg("filter not encodable; view cache bypassed")
		return viewKey{}, false
	}
	return viewKey{version: s.version, filter: xxhash.Sum64(raw)}, true
}

// Derive runs the filter and sort pipeline over items without touching any
// store state: match, then a stable sort whose direction follows f.Order().
func Derive[E Entity, F Filter](items []E, f F, match func(E, F) bool, compare func(a, b E, f F) int) []E {
	out := make([]E, 0, len(items))
	for _, e := range items {
		if match == nil || match(e, f) {
			out = append(out, e)
		}
	}
	if compare == nil {
		return out
	}
	desc := f.Order() == Desc
	slices.SortStableFunc(out, func(a, b E) int {
		c := compare(a, b, f)
		if desc {
			return -c
		}
		return c
	})
	return out
}

// -- Filter --

func (s *Store[E, F]) Filter() F {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetFilter replaces the filter descriptor.
func (s *Store[E, F]) SetFilter(f F) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
	s.persistLocked(SliceFilter)
}

// UpdateFilter applies fn to a copy of the filter and stores the result.
func (s *Store[E, F]) UpdateFilter(fn func(*F)) F {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.filter
	fn(&next)
	s.filter = next
	s.persistLocked(SliceFilter)
	return next
}

// ResetFilter restores the descriptor's default filter.
func (s *Store[E, F]) ResetFilter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var f F
	if s.desc.DefaultFilter != nil {
		f = s.desc.DefaultFilter()
	}
	s.filter = f
	s.persistLocked(SliceFilter)
}

func (s *Store[E, F]) observeView(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ViewCache.WithLabelValues(s.desc.Name, result).Inc()
}
