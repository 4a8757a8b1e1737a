// Package mailbox implements the runtime's addressable-delivery primitive:
// rendezvous channels identified by an opaque ID and, optionally, a
// process-wide unique name. It is the substrate that supervisor,
// genserver, and dynsup are all built on top of.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finleyrs/knot/internal/rt/rtlog"
)

var log rtlog.Logger = rtlog.NewDiscard()

// UseLogger rebinds the package-level logger, typically called once from
// node.Run with a subsystem-tagged handler.
func UseLogger(logger rtlog.Logger) {
	log = logger
}

// ID identifies a single mailbox. It has no meaning beyond equality; two
// mailboxes never share an ID.
type ID string

// NewID returns a fresh, globally unique mailbox ID.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

var (
	// ErrNoRegistry is returned when a mailbox operation is attempted on
	// a context that was never scoped with WithRegistry. node.Run scopes
	// every application's context this way, so this only surfaces when a
	// package is exercised outside of the runtime it was designed for
	// (e.g. directly in a unit test with a bare context).
	ErrNoRegistry = errors.New("mailbox: no registry installed on context")

	// ErrMailboxDoesNotExist is returned when a target name or ID does
	// not resolve to a live mailbox.
	ErrMailboxDoesNotExist = errors.New("mailbox: mailbox does not exist")

	// ErrNameAlreadyExist is returned by Register when the requested
	// name is already bound to a different mailbox.
	ErrNameAlreadyExist = errors.New("mailbox: name already registered")

	// ErrNameDoesNotExist is returned by Unregister when the requested
	// name has no binding.
	ErrNameDoesNotExist = errors.New("mailbox: name does not exist")

	// ErrTimeout is returned by Receive when no message arrives before
	// the requested deadline.
	ErrTimeout = errors.New("mailbox: receive timed out")
)

// box is a single rendezvous channel plus the bookkeeping needed to
// unblock any pending Send/Receive once the mailbox is destroyed.
type box struct {
	ch        chan any
	done      chan struct{}
	closeOnce sync.Once
}

func newBox() *box {
	return &box{
		ch:   make(chan any),
		done: make(chan struct{}),
	}
}

func (b *box) destroy() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Registry owns the live set of mailboxes and the name-to-ID bindings for
// one node. It is safe for concurrent use; callers never see the map
// directly, so the single-threaded-ownership model the rest of the runtime
// assumes is preserved by construction.
type Registry struct {
	mu      sync.RWMutex
	boxes   map[ID]*box
	names   map[string]ID
	byID    map[ID]string
	closing bool
}

// NewRegistry returns an empty registry. node.Run creates exactly one of
// these per node and installs it on the root context via WithRegistry.
func NewRegistry() *Registry {
	return &Registry{
		boxes: make(map[ID]*box),
		names: make(map[string]ID),
		byID:  make(map[ID]string),
	}
}

func (r *Registry) create() *Handle {
	b := newBox()
	id := NewID()

	r.mu.Lock()
	r.boxes[id] = b
	r.mu.Unlock()

	return &Handle{id: id, reg: r}
}

func (r *Registry) lookup(id ID) (*box, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.boxes[id]
	return b, ok
}

func (r *Registry) resolve(target string) (*box, ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.names[target]; ok {
		return r.boxes[id], id, true
	}
	if b, ok := r.boxes[ID(target)]; ok {
		return b, ID(target), true
	}

	return nil, "", false
}

func (r *Registry) register(id ID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.boxes[id]; !ok {
		return ErrMailboxDoesNotExist
	}
	if existing, taken := r.names[name]; taken && existing != id {
		return ErrNameAlreadyExist
	}
	if old, hadName := r.byID[id]; hadName {
		delete(r.names, old)
	}

	r.names[name] = id
	r.byID[id] = name

	return nil
}

func (r *Registry) unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.names[name]
	if !ok {
		return ErrNameDoesNotExist
	}

	delete(r.names, name)
	delete(r.byID, id)

	return nil
}

func (r *Registry) destroy(id ID) error {
	r.mu.Lock()
	b, ok := r.boxes[id]
	if !ok {
		r.mu.Unlock()
		return ErrMailboxDoesNotExist
	}
	delete(r.boxes, id)
	if name, hadName := r.byID[id]; hadName {
		delete(r.byID, id)
		delete(r.names, name)
	}
	r.mu.Unlock()

	b.destroy()

	return nil
}

// ctxKey scopes the registry lookup key to this package.
type ctxKey struct{}

// WithRegistry returns a context carrying r. Every mailbox package-level
// function pulls its registry from the context this way, so callers never
// thread a *Registry through function signatures by hand.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

func registryFrom(ctx context.Context) (*Registry, error) {
	r, ok := ctx.Value(ctxKey{}).(*Registry)
	if !ok || r == nil {
		return nil, ErrNoRegistry
	}

	return r, nil
}

// Handle is the capability returned by Open. Closing it destroys the
// mailbox and unblocks any goroutine currently blocked sending to or
// receiving from it.
type Handle struct {
	id        ID
	reg       *Registry
	closeOnce sync.Once
}

// ID returns the mailbox's identifier.
func (h *Handle) ID() ID { return h.id }

// Close destroys the mailbox. It is idempotent: closing an already-closed
// handle is a no-op.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.reg.destroy(h.id)
	})
	if errors.Is(err, ErrMailboxDoesNotExist) {
		return nil
	}
	return err
}

// Open creates a fresh mailbox, scoped to the registry installed on ctx,
// and optionally binds it to a name. Passing more than one name is a
// programmer error and only the first is honored.
func Open(ctx context.Context, name ...string) (*Handle, error) {
	r, err := registryFrom(ctx)
	if err != nil {
		return nil, err
	}

	h := r.create()
	if len(name) > 0 && name[0] != "" {
		if err := r.register(h.id, name[0]); err != nil {
			h.Close()
			return nil, err
		}
	}

	log.Debugf("mailbox opened id=%s name=%q", h.id, first(name))

	return h, nil
}

// Register binds name to mid. It fails if mid does not exist or name is
// already bound to a different mailbox. A mailbox holds at most one name:
// registering a second name for mid releases the name it had before.
func Register(ctx context.Context, mid ID, name string) error {
	r, err := registryFrom(ctx)
	if err != nil {
		return err
	}

	return r.register(mid, name)
}

// Unregister removes a name binding without destroying the underlying
// mailbox.
func Unregister(ctx context.Context, name string) error {
	r, err := registryFrom(ctx)
	if err != nil {
		return err
	}

	return r.unregister(name)
}

// Destroy tears down the mailbox identified by mid, unblocking any pending
// Send or Receive against it.
func Destroy(ctx context.Context, mid ID) error {
	r, err := registryFrom(ctx)
	if err != nil {
		return err
	}

	return r.destroy(mid)
}

// Send delivers msg to the mailbox named or identified by target. It
// blocks until a receiver takes the message, the context is cancelled, or
// the mailbox is destroyed out from under the call.
func Send(ctx context.Context, target string, msg any) error {
	r, err := registryFrom(ctx)
	if err != nil {
		return err
	}

	b, _, ok := r.resolve(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMailboxDoesNotExist, target)
	}

	select {
	case b.ch <- msg:
		return nil
	case <-b.done:
		return fmt.Errorf("%w: %s", ErrMailboxDoesNotExist, target)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message arrives at mid, the context is cancelled,
// the mailbox is destroyed, or timeout elapses. A non-positive timeout
// means wait forever (subject to ctx).
func Receive(ctx context.Context, mid ID, timeout time.Duration) (any, error) {
	r, err := registryFrom(ctx)
	if err != nil {
		return nil, err
	}

	b, ok := r.lookup(mid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMailboxDoesNotExist, mid)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case msg := <-b.ch:
		return msg, nil
	case <-b.done:
		return nil, fmt.Errorf("%w: %s", ErrMailboxDoesNotExist, mid)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, ErrTimeout
	}
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
