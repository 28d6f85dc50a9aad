package workspace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/workspace/internal/platform/auth"
)

var ErrClosed = errors.New("workspace manager is closed")

// openTimeout bounds hydration. The open is shared by every request waiting
// on the owner, so it is detached from the first caller's cancellation.
const openTimeout = 15 * time.Second

// Manager keeps up to size workspaces open. The least recently used one is
// flushed and closed when a new owner needs room.
type Manager struct {
	deps   Deps
	cache  *lru.Cache[string, *Workspace]
	opens  singleflight.Group
	closes sync.WaitGroup

	// life is held around every cache insert, removal and purge, so the
	// eviction callback runs under it and may touch closing.
	life    sync.Mutex
	closing map[string]*closing

	mu     sync.RWMutex
	closed bool
}

// closing tracks an evicted workspace until its final flush is done. A new
// workspace for the same owner is not hydrated before then.
type closing struct {
	done chan struct{}
	err  error
}

func NewManager(size int, deps Deps) (*Manager, error) {
	m := &Manager{deps: deps, closing: make(map[string]*closing)}
	cache, err := lru.NewWithEvict[string, *Workspace](size, m.evicted)
	if err != nil {
		return nil, fmt.Errorf("create workspace cache: %w", err)
	}
	m.cache = cache
	return m, nil
}

// evicted runs with m.life held.
func (m *Manager) evicted(owner string, w *Workspace) {
	if m.deps.Metrics != nil {
		m.deps.Metrics.Workspaces.Dec()
	}
	prev := m.closing[owner]
	c := &closing{done: make(chan struct{})}
	m.closing[owner] = c

	m.closes.Add(1)
	go func() {
		defer m.closes.Done()
		if prev != nil {
			<-prev.done
		}
		c.err = w.Close()
		close(c.done)

		m.life.Lock()
		if m.closing[owner] == c {
			delete(m.closing, owner)
		}
		m.life.Unlock()

		if c.err != nil {
			m.deps.Logger.Warn().Err(c.err).Str("owner", owner).Msg("closing evicted workspace")
			return
		}
		m.deps.Logger.Debug().Str("owner", owner).Msg("workspace evicted")
	}()
}

// Get returns the owner's workspace, opening and hydrating it on first use.
// Concurrent first requests for one owner share a single open. When the
// owner's previous workspace is still closing, Get waits for its writes to
// land before hydrating.
func (m *Manager) Get(ctx context.Context, owner string) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if w, ok := m.cache.Get(owner); ok {
		return w, nil
	}
	v, err, _ := m.opens.Do(owner, func() (any, error) {
		m.life.Lock()
		if w, ok := m.cache.Get(owner); ok {
			m.life.Unlock()
			return w, nil
		}
		prev := m.closing[owner]
		m.life.Unlock()

		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()
		if prev != nil {
			select {
			case <-prev.done:
			case <-octx.Done():
				return nil, fmt.Errorf("wait for previous workspace of %s: %w", owner, octx.Err())
			}
		}
		w, err := Open(octx, owner, m.deps)
		if err != nil {
			return nil, err
		}

		m.life.Lock()
		m.cache.Add(owner, w)
		m.life.Unlock()
		if m.deps.Metrics != nil {
			m.deps.Metrics.Workspaces.Inc()
		}
		m.deps.Logger.Debug().Str("owner", owner).Msg("workspace opened")
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// Evict closes the owner's workspace and waits until its pending writes are
// stored, returning the close error. It reports whether a workspace was open.
// The next Get hydrates it again from the kv store.
func (m *Manager) Evict(owner string) (bool, error) {
	m.life.Lock()
	open := m.cache.Remove(owner)
	c := m.closing[owner]
	m.life.Unlock()

	if c == nil {
		return open, nil
	}
	<-c.done
	return open, c.err
}

// Len reports the number of open workspaces.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Close evicts and closes every workspace and waits for the closes to finish.
// Get fails with ErrClosed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.life.Lock()
	m.cache.Purge()
	m.life.Unlock()
	m.closes.Wait()
	return nil
}

// Resolver adapts the manager to a domain handler: it opens the workspace of
// the authenticated owner and picks one store from it.
func Resolver[T any](m *Manager, pick func(*Workspace) T) func(echo.Context) (T, error) {
	return func(c echo.Context) (T, error) {
		var zero T
		owner := auth.UserIDFromContext(c.Request().Context())
		if owner == "" {
			return zero, echo.NewHTTPError(http.StatusUnauthorized, "missing workspace owner")
		}
		w, err := m.Get(c.Request().Context(), owner)
		if errors.Is(err, ErrInvalidOwner) {
			return zero, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err != nil {
			return zero, err
		}
		return pick(w), nil
	}
}
