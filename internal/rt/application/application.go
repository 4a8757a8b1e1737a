// Package application implements the application container: a named,
// idempotent wrapper that runs a module's entry point inside its own
// supervised subtree.
package application

import (
	"context"
	"errors"
	"sync"

	"github.com/finleyrs/knot/internal/rt/rtlog"
	"github.com/finleyrs/knot/internal/rt/supervisor"
)

var log rtlog.Logger = rtlog.NewDiscard()

// UseLogger rebinds the package-level logger.
func UseLogger(logger rtlog.Logger) {
	log = logger
}

// ErrNotFound is returned by Stop when no application by that name is
// currently running.
var ErrNotFound = errors.New("application: not found")

// Spec describes one application.
type Spec struct {
	// Name identifies the application. Starting two applications with
	// the same Name is a no-op the second time.
	Name string

	// Start is the application's entry point. It blocks for the
	// application's entire lifetime, same contract as
	// supervisor.ChildSpec.Task.
	Start func(ctx context.Context) error

	// Permanent, if true, makes the application's subtree restart on
	// any termination (including a clean one). Most applications should
	// leave this false (RestartTransient): restart only on error.
	Permanent bool

	// SupOpts are forwarded to the application's dedicated supervisor
	// (e.g. a custom restart-intensity budget).
	SupOpts []supervisor.Option
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks the running applications for one node.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty application registry. node.Run creates
// exactly one of these per node.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Wait blocks until every application registered at the time of the call
// has finished.
func (r *Registry) Wait() {
	r.mu.Lock()
	snapshot := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.Unlock()

	for _, e := range snapshot {
		<-e.done
	}
}

type ctxKey struct{}

// WithRegistry returns a context carrying r, mirroring mailbox.WithRegistry.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

func registryFrom(ctx context.Context) (*Registry, error) {
	r, ok := ctx.Value(ctxKey{}).(*Registry)
	if !ok || r == nil {
		return nil, errors.New("application: no registry installed on context")
	}

	return r, nil
}

// Start launches spec's subtree under its own dedicated supervisor,
// returning immediately once the subtree's goroutine has been spawned.
// Starting an application whose Name is already running is a no-op.
func Start(ctx context.Context, spec Spec) error {
	reg, err := registryFrom(ctx)
	if err != nil {
		return err
	}

	reg.mu.Lock()
	if _, exists := reg.entries[spec.Name]; exists {
		reg.mu.Unlock()
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	e := &entry{cancel: cancel, done: make(chan struct{})}
	reg.entries[spec.Name] = e
	reg.mu.Unlock()

	restart := supervisor.RestartTransient
	if spec.Permanent {
		restart = supervisor.RestartPermanent
	}

	child := supervisor.ChildSpec{
		ID:      spec.Name,
		Restart: restart,
		Task:    spec.Start,
	}

	go func() {
		defer close(e.done)

		if err := supervisor.Start(subCtx, []supervisor.ChildSpec{child}, spec.SupOpts...); err != nil {
			log.Errorf("application %q terminated: %v", spec.Name, err)
		} else {
			log.Debugf("application %q stopped cleanly", spec.Name)
		}
	}()

	return nil
}

// Stop cancels the named application's subtree and blocks until it has
// fully wound down.
func Stop(ctx context.Context, name string) error {
	reg, err := registryFrom(ctx)
	if err != nil {
		return err
	}

	reg.mu.Lock()
	e, ok := reg.entries[name]
	if !ok {
		reg.mu.Unlock()
		return ErrNotFound
	}
	delete(reg.entries, name)
	reg.mu.Unlock()

	e.cancel()
	<-e.done

	return nil
}
