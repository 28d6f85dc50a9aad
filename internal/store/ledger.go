package store

import "sort"

// AddToRecentlyViewed moves id to the front of the recently viewed ledger,
// keeping at most RecentLimit distinct ids.
func (s *Store[E, F]) AddToRecentlyViewed(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushRecentLocked(id) {
		s.persistLocked(SliceRecent)
	}
}

// RecentlyViewed returns the ledger, most recent first.
func (s *Store[E, F]) RecentlyViewed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.recent))
	copy(out, s.recent)
	return out
}

// RecentlyViewedItems resolves the ledger against the collection, skipping
// ids that are no longer loaded.
func (s *Store[E, F]) RecentlyViewedItems() []E {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]E, 0, len(s.recent))
	for _, id := range s.recent {
		if i := s.indexLocked(id); i >= 0 {
			out = append(out, s.items[i])
		}
	}
	return out
}

// ClearRecentlyViewed empties the ledger. Favorites are unaffected.
func (s *Store[E, F]) ClearRecentlyViewed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recent) == 0 {
		return
	}
	s.recent = nil
	s.persistLocked(SliceRecent)
}

// ToggleFavorite flips id's favorite membership and returns the new state.
func (s *Store[E, F]) ToggleFavorite(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, had := s.favorites[id]
	if had {
		delete(s.favorites, id)
	} else {
		s.favorites[id] = struct{}{}
	}
	s.persistLocked(SliceFavorites)
	return !had
}

func (s *Store[E, F]) IsFavorite(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.favorites[id]
	return ok
}

// Favorites returns the favorite ids in sorted order.
func (s *Store[E, F]) Favorites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.favoritesLocked()
}

func (s *Store[E, F]) favoritesLocked() []string {
	out := make([]string, 0, len(s.favorites))
	for id := range s.favorites {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// pushRecentLocked reports whether the ledger changed.
func (s *Store[E, F]) pushRecentLocked(id string) bool {
	if len(s.recent) > 0 && s.recent[0] == id {
		return false
	}
	next := make([]string, 0, RecentLimit)
	next = append(next, id)
	for _, existing := range s.recent {
		if existing == id {
			continue
		}
		if len(next) == RecentLimit {
			break
		}
		next = append(next, existing)
	}
	s.recent = next
	return true
}

func (s *Store[E, F]) removeRecentLocked(id string) bool {
	for i, existing := range s.recent {
		if existing == id {
			s.recent = append(s.recent[:i:i], s.recent[i+1:]...)
			return true
		}
	}
	return false
}
