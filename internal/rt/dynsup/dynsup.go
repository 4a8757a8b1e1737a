// Package dynsup implements the dynamic supervisor: a supervisor whose set
// of children is not fixed at startup. New children are attached at
// runtime by sending a ChildSpec to its mailbox.
package dynsup

import (
	"context"

	"github.com/finleyrs/knot/internal/rt/mailbox"
	"github.com/finleyrs/knot/internal/rt/rtlog"
	"github.com/finleyrs/knot/internal/rt/supervisor"
)

var log rtlog.Logger = rtlog.NewDiscard()

// UseLogger rebinds the package-level logger.
func UseLogger(logger rtlog.Logger) {
	log = logger
}

type startChildRequest struct {
	spec     supervisor.ChildSpec
	attached chan<- struct{}
}

type broadcastRequest struct {
	build func(childIdx int) supervisor.ChildSpec
}

type config struct {
	name        []string
	supOpts     []supervisor.Option
	ready       func(mailbox.ID)
	startSignal chan error
}

// Option configures Run/Start.
type Option func(*config)

// WithName registers the dynamic supervisor's control mailbox under name.
func WithName(name string) Option {
	return func(c *config) { c.name = []string{name} }
}

// WithSupervisorOptions forwards options (e.g. a custom restart-intensity
// budget) to the underlying supervisor.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(c *config) { c.supOpts = append(c.supOpts, opts...) }
}

// WithReady registers a callback invoked with the dynamic supervisor's
// control mailbox ID once it is ready to accept StartChild calls.
func WithReady(ready func(mailbox.ID)) Option {
	return func(c *config) { c.ready = ready }
}

func withStartSignal(ch chan error) Option {
	return func(c *config) { c.startSignal = ch }
}

// Run starts a dynamic supervisor and services its control mailbox until
// ctx is cancelled or the underlying supervisor's restart budget is
// exhausted by one of its children. It blocks for the dynamic
// supervisor's entire lifetime, making it usable directly as a
// supervisor.ChildSpec.Task for nesting dynamic supervisors inside a
// static tree.
func Run(ctx context.Context, opts ...Option) error {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	handle, err := mailbox.Open(ctx, cfg.name...)
	if err != nil {
		if cfg.startSignal != nil {
			cfg.startSignal <- err
		}
		return err
	}
	defer handle.Close()

	sup, supCtx := supervisor.New(ctx, cfg.supOpts...)

	if cfg.startSignal != nil {
		cfg.startSignal <- nil
	}
	if cfg.ready != nil {
		cfg.ready(handle.ID())
	}

	return listen(supCtx, handle.ID(), sup)
}

// listen services the control mailbox, attaching children to sup as
// requests arrive. ctx is the supervisor's own derived context, so it is
// cancelled the instant any attached child gives up with a non-nil error;
// that cancellation is what unblocks the Receive below and lets Wait
// return the real underlying error.
func listen(ctx context.Context, mid mailbox.ID, sup *supervisor.Supervisor) error {
	childIdx := 0

	for {
		msg, err := mailbox.Receive(ctx, mid, 0)
		if err != nil {
			return sup.Wait()
		}

		switch m := msg.(type) {
		case startChildRequest:
			sup.AttachChild(m.spec)
			if m.attached != nil {
				close(m.attached)
			}
			childIdx++

		case broadcastRequest:
			sup.AttachChild(m.build(childIdx))
			childIdx++
		}
	}
}

// Start launches Run in the background and blocks only until the control
// mailbox is open and ready, returning its ID (or an error if startup
// failed). The dynamic supervisor continues running after Start returns.
func Start(ctx context.Context, opts ...Option) (mailbox.ID, error) {
	signal := make(chan error, 1)
	readyCh := make(chan mailbox.ID, 1)

	opts = append(opts, withStartSignal(signal), WithReady(func(id mailbox.ID) {
		readyCh <- id
	}))

	go func() {
		if err := Run(ctx, opts...); err != nil {
			log.Debugf("dynsup: supervisor exited: %v", err)
		}
	}()

	if err := <-signal; err != nil {
		return "", err
	}

	return <-readyCh, nil
}

// StartChild attaches a new ChildSpec to the dynamic supervisor addressed
// by target, blocking until it has been handed to the supervisor (not
// until the child itself finishes initializing).
func StartChild(ctx context.Context, target string, spec supervisor.ChildSpec) error {
	attached := make(chan struct{})

	if err := mailbox.Send(ctx, target, startChildRequest{
		spec: spec, attached: attached,
	}); err != nil {
		return err
	}

	select {
	case <-attached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast attaches one child per entry produced by build, called once
// per index in [0, n). This is useful for fanning a uniform worker shape
// out across a batch, e.g. one child per item in a work list.
func Broadcast(ctx context.Context, target string, n int, build func(childIdx int) supervisor.ChildSpec) error {
	for i := 0; i < n; i++ {
		i := i
		if err := mailbox.Send(ctx, target, broadcastRequest{
			build: func(int) supervisor.ChildSpec { return build(i) },
		}); err != nil {
			return err
		}
	}

	return nil
}
