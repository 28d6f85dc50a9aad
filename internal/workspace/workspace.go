// Package workspace bundles the four domain stores of one clinician and keeps
// recently used workspaces open in a bounded cache.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/workspace/internal/domain/appointment"
	"github.com/ehr/workspace/internal/domain/patient"
	"github.com/ehr/workspace/internal/domain/prevention"
	"github.com/ehr/workspace/internal/domain/recording"
	"github.com/ehr/workspace/internal/platform/kv"
	"github.com/ehr/workspace/internal/platform/metrics"
	"github.com/ehr/workspace/internal/store"
)

var ErrInvalidOwner = errors.New("invalid workspace owner")

// Deps are the collaborators shared by every workspace.
type Deps struct {
	KV            kv.Store
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	ViewCacheSize int
	// OnChange receives every collection change of every workspace.
	OnChange func(store.Change)
}

type Workspace struct {
	Owner        string
	Patients     *patient.Store
	Appointments *appointment.Store
	Recordings   *recording.Store
	Prevention   *prevention.Store
}

type closer interface {
	Name() string
	Flush() error
	Close() error
	Status() store.Status
}

func (w *Workspace) stores() []closer {
	return []closer{w.Patients, w.Appointments, w.Recordings, w.Prevention}
}

// ValidateOwner rejects owners that cannot be used as a storage key prefix.
func ValidateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" || strings.Contains(owner, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	return nil
}

// Open constructs the owner's stores and hydrates them concurrently. On error
// every constructed store is closed.
func Open(ctx context.Context, owner string, deps Deps) (*Workspace, error) {
	if err := ValidateOwner(owner); err != nil {
		return nil, err
	}
	opts := store.Options{
		KV:            deps.KV,
		Owner:         owner,
		Logger:        deps.Logger,
		Metrics:       deps.Metrics,
		ViewCacheSize: deps.ViewCacheSize,
		OnChange:      deps.OnChange,
	}

	w := &Workspace{Owner: owner}
	var err error
	if w.Patients, err = patient.NewStore(opts); err != nil {
		return nil, err
	}
	if w.Appointments, err = appointment.NewStore(opts); err != nil {
		_ = w.Patients.Close()
		return nil, err
	}
	if w.Recordings, err = recording.NewStore(opts); err != nil {
		_ = w.Patients.Close()
		_ = w.Appointments.Close()
		return nil, err
	}
	if w.Prevention, err = prevention.NewStore(opts); err != nil {
		_ = w.Patients.Close()
		_ = w.Appointments.Close()
		_ = w.Recordings.Close()
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Patients.Hydrate(gctx) })
	g.Go(func() error { return w.Appointments.Hydrate(gctx) })
	g.Go(func() error { return w.Recordings.Hydrate(gctx) })
	g.Go(func() error { return w.Prevention.Hydrate(gctx) })
	if err := g.Wait(); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("hydrate workspace %s: %w", owner, err)
	}
	return w, nil
}

// Flush waits for every pending write and returns the write errors joined.
func (w *Workspace) Flush() error {
	var errs []error
	for _, s := range w.stores() {
		if err := s.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and stops every store. It is safe to call more than once.
func (w *Workspace) Close() error {
	var errs []error
	for _, s := range w.stores() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Status reports every store's status keyed by domain.
func (w *Workspace) Status() map[string]store.Status {
	out := make(map[string]store.Status, 4)
	for _, s := range w.stores() {
		out[s.Name()] = s.Status()
	}
	return out
}
