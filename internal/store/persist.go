package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/platform/metrics"
)

const (
	snapshotFormat = 1
	writeTimeout   = 10 * time.Second
)

// snapshot is the persisted slice. Parts a domain does not declare are
// omitted.
type snapshot[F any] struct {
	Format         int             `json:"v"`
	Filter         *F              `json:"filter,omitempty"`
	RecentlyViewed []string        `json:"recentlyViewed,omitempty"`
	Favorites      []string        `json:"favorites,omitempty"`
	Extra          json.RawMessage `json:"extra,omitempty"`
}

// Hydrate loads the persisted slice. Until it succeeds the store issues no
// writes and Hydrated reports false. A missing or undecodable slice leaves the
// defaults in place and still marks the store hydrated; a storage error does
// not.
func (s *Store[E, F]) Hydrate(ctx context.Context) error {
	if s.writer == nil {
		s.mu.Lock()
		s.hydrated = true
		s.mu.Unlock()
		return nil
	}

	raw, ok, err := s.writer.kv.Get(ctx, s.key)
	if err != nil {
		s.observeHydration(metrics.ResultError)
		return fmt.Errorf("hydrate %s: %w", s.key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		var snap snapshot[F]
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			s.log.Warn().Err(err).Msg("discarding undecodable persisted slice")
		} else {
			s.applyLocked(snap)
		}
	}
	s.hydrated = true
	s.observeHydration(metrics.ResultOK)
	s.log.Debug().Bool("found", ok).Msg("store hydrated")
	return nil
}

func (s *Store[E, F]) applyLocked(snap snapshot[F]) {
	p := s.desc.Persist
	if p.Has(SliceFilter) && snap.Filter != nil {
		s.filter = *snap.Filter
	}
	if p.Has(SliceRecent) {
		s.recent = nil
		// oldest first so the most recent ends up at the front
		for i := len(snap.RecentlyViewed) - 1; i >= 0; i-- {
			if id := snap.RecentlyViewed[i]; id != "" {
				s.pushRecentLocked(id)
			}
		}
	}
	if p.Has(SliceFavorites) {
		s.favorites = make(map[string]struct{}, len(snap.Favorites))
		for _, id := range snap.Favorites {
			s.favorites[id] = struct{}{}
		}
	}
	if p.Has(SliceExtra) && s.extra != nil && len(snap.Extra) > 0 {
		if err := s.extra.UnmarshalSlice(snap.Extra); err != nil {
			s.log.Warn().Err(err).Msg("discarding undecodable extra slice")
		}
	}
}

// Hydrated is the gate for logic that depends on persisted state.
func (s *Store[E, F]) Hydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hydrated
}

// PersistExtra mirrors the slice after the domain changed its Extra state.
func (s *Store[E, F]) PersistExtra() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked(SliceExtra)
}

// UpdateExtra runs fn with the store lock held while id is loaded, then
// persists the slice when fn reports a change. Extra state keyed by entity id
// goes through here so it cannot outlive a concurrent RemoveByID. It reports
// false, without calling fn, when id is absent.
func (s *Store[E, F]) UpdateExtra(id string, fn func(e E) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	if fn(s.items[i]) {
		s.persistLocked(SliceExtra)
	}
	return true
}

// Flush blocks until every write issued so far has been attempted and
// returns the most recent write error.
func (s *Store[E, F]) Flush() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.flush()
}

// Close flushes pending writes and stops the background writer.
func (s *Store[E, F]) Close() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.close()
}

// persistLocked hands the current slice to the writer when a declared part
// changed. Collection changes never reach here.
func (s *Store[E, F]) persistLocked(changed Slice) {
	if s.writer == nil || !s.hydrated || s.desc.Persist&changed == 0 {
		return
	}
	data, err := s.encodeLocked()
	if err != nil {
		s.log.Warn().Err(err).Msg("encode persisted slice")
		return
	}
	s.writer.save(data)
}

func (s *Store[E, F]) encodeLocked() ([]byte, error) {
	p := s.desc.Persist
	snap := snapshot[F]{Format: snapshotFormat}
	if p.Has(SliceFilter) {
		f := s.filter
		snap.Filter = &f
	}
	if p.Has(SliceRecent) {
		snap.RecentlyViewed = append([]string(nil), s.recent...)
	}
	if p.Has(SliceFavorites) {
		snap.Favorites = s.favoritesLocked()
	}
	if p.Has(SliceExtra) && s.extra != nil {
		extra, err := s.extra.MarshalSlice()
		if err != nil {
			return nil, fmt.Errorf("encode extra: %w", err)
		}
		snap.Extra = extra
	}
	return json.Marshal(snap)
}

func (s *Store[E, F]) observeHydration(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Hydrations.WithLabelValues(s.desc.Name, result).Inc()
}

// writer mirrors snapshots to the kv store from a background goroutine.
// Bursts coalesce: only the latest pending snapshot is written.
type writer struct {
	kv      kv.Store
	key     string
	domain  string
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	queued  uint64
	written uint64
	lastErr error
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newWriter(store kv.Store, key, domain string, log zerolog.Logger, m *metrics.Metrics) *writer {
	w := &writer{
		kv:      store,
		key:     key,
		domain:  domain,
		log:     log,
		metrics: m,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

func (w *writer) save(data []byte) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		// A request still holding an evicted workspace; the owner's next
		// workspace hydrates from what was stored at close.
		w.log.Warn().Str("key", w.key).Msg("persist after close dropped")
		if w.metrics != nil {
			w.metrics.PersistWrites.WithLabelValues(w.domain, metrics.ResultDropped).Inc()
		}
		return
	}
	w.pending = data
	w.queued++
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.drain()
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *writer) drain() {
	w.mu.Lock()
	if w.pending == nil {
		w.mu.Unlock()
		return
	}
	data, seq := w.pending, w.queued
	w.pending = nil
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	start := time.Now()
	err := w.kv.Set(ctx, w.key, string(data))
	cancel()

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		w.log.Warn().Err(err).Str("key", w.key).Msg("persist slice failed; in-memory state kept")
	}
	if w.metrics != nil {
		w.metrics.PersistWrites.WithLabelValues(w.domain, result).Inc()
		w.metrics.PersistLatency.WithLabelValues(w.domain).Observe(time.Since(start).Seconds())
	}

	w.mu.Lock()
	w.written = seq
	w.lastErr = err
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *writer) flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	target := w.queued
	for w.written < target {
		w.cond.Wait()
	}
	return w.lastErr
}

func (w *writer) lastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *writer) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return w.lastError()
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
	return w.lastError()
}
