// Package supervisor implements supervised task trees: a supervisor runs a
// fixed set of child tasks, restarting each one according to its restart
// strategy, subject to a sliding-window restart-intensity budget. Exceeding
// the budget tears the whole subtree down.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finleyrs/knot/internal/rt/rtlog"
)

var log rtlog.Logger = rtlog.NewDiscard()

// UseLogger rebinds the package-level logger.
func UseLogger(logger rtlog.Logger) {
	log = logger
}

// RestartStrategy controls whether a terminated child is restarted.
type RestartStrategy string

const (
	// RestartPermanent always restarts the child, whether it exits
	// normally or with an error, subject to the restart-intensity
	// budget.
	RestartPermanent RestartStrategy = "permanent"

	// RestartTransient restarts the child only if it terminates with a
	// non-cancellation error; a normal exit is left alone.
	RestartTransient RestartStrategy = "transient"

	// RestartTemporary never restarts the child, regardless of how it
	// terminates.
	RestartTemporary RestartStrategy = "temporary"
)

// ChildSpec describes one supervised task.
type ChildSpec struct {
	// ID names the child in log messages. Restart budgets are kept per
	// attached child, not keyed by ID, so IDs need not be unique.
	ID string

	// Task is the child's body. It must return promptly when ctx is
	// cancelled.
	Task func(ctx context.Context) error

	// Restart selects the restart strategy. The zero value is treated
	// as RestartPermanent.
	Restart RestartStrategy
}

// Intensity is the sliding-window restart budget: at most MaxRestarts
// restarts are allowed within any window of length Period.
type Intensity struct {
	MaxRestarts int
	Period      time.Duration
}

// DefaultIntensity allows 10 restarts within a 10 second window, mirroring
// the conventional OTP supervisor defaults.
var DefaultIntensity = Intensity{MaxRestarts: 10, Period: 10 * time.Second}

type config struct {
	intensity Intensity
	ready     func()
}

// Option configures a supervisor at Start/New time.
type Option func(*config)

// WithIntensity overrides the restart-intensity budget.
func WithIntensity(maxRestarts int, period time.Duration) Option {
	return func(c *config) {
		c.intensity = Intensity{MaxRestarts: maxRestarts, Period: period}
	}
}

// WithReady registers a callback invoked once every initial child has been
// attached to the supervisor, before Start blocks waiting for completion.
func WithReady(ready func()) Option {
	return func(c *config) { c.ready = ready }
}

func defaultConfig() config {
	return config{intensity: DefaultIntensity}
}

// Supervisor is a running task tree that children can be attached to after
// Start, used by the dynsup package to implement hot-attachable children.
type Supervisor struct {
	g   *errgroup.Group
	ctx context.Context
	cfg config
}

// New creates a supervisor bound to ctx's cancellation and returns both the
// supervisor and the derived context every attached child runs under. The
// returned context is cancelled the moment any child gives up with a
// non-nil error (a failing child whose budget is exhausted, or a failing
// temporary child), which in turn cancels every sibling. A child that
// stops after a clean exit leaves it uncancelled.
func New(ctx context.Context, opts ...Option) (*Supervisor, context.Context) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	g, gctx := errgroup.WithContext(ctx)

	return &Supervisor{g: g, ctx: gctx, cfg: cfg}, gctx
}

// AttachChild starts monitoring a new child under the supervisor. It is
// safe to call concurrently with Wait, which is what lets dynsup hot-attach
// children to an already-running supervisor.
func (s *Supervisor) AttachChild(spec ChildSpec) {
	budget := newRestartBudget(s.cfg.intensity)
	s.g.Go(func() error {
		return monitorChild(s.ctx, spec, budget)
	})
}

// Wait blocks until every attached child has terminated without being
// restarted, returning the first non-restart-eligible error encountered (or
// nil if every child ran to a clean stop).
func (s *Supervisor) Wait() error {
	return s.g.Wait()
}

// Start runs children to completion: it attaches every ChildSpec, invokes
// Ready if supplied, and blocks until the whole subtree has wound down,
// either because every child exited cleanly or because one child's
// restart-intensity budget was exhausted (which cancels every sibling).
func Start(ctx context.Context, children []ChildSpec, opts ...Option) error {
	sup, _ := New(ctx, opts...)
	for _, spec := range children {
		sup.AttachChild(spec)
	}
	if sup.cfg.ready != nil {
		sup.cfg.ready()
	}

	return sup.Wait()
}

// restartBudget tracks a sliding window of restart timestamps for a single
// child.
type restartBudget struct {
	timestamps []time.Time
	max        int
	period     time.Duration
}

func newRestartBudget(i Intensity) *restartBudget {
	return &restartBudget{max: i.MaxRestarts, period: i.Period}
}

// allow records a restart attempt at now and reports whether it is within
// budget: at most max restarts may fall within any window of length
// period.
func (b *restartBudget) allow(now time.Time) bool {
	b.timestamps = append(b.timestamps, now)
	if len(b.timestamps) <= b.max {
		return true
	}

	oldest := b.timestamps[0]
	b.timestamps = b.timestamps[1:]

	return now.Sub(oldest) >= b.period
}

// monitorChild runs spec.Task repeatedly, restarting it according to
// spec.Restart and the restart-intensity budget, until the child's
// termination is not restart-eligible.
func monitorChild(ctx context.Context, spec ChildSpec, budget *restartBudget) error {
	restart := spec.Restart
	if restart == "" {
		restart = RestartPermanent
	}

	for {
		term := classify(runChild(ctx, spec))

		if term.cancelled {
			log.Infof("supervisor: child %q cancelled: %v", spec.ID, term.err)
			return term.err
		}

		eligible := restart == RestartPermanent ||
			(restart == RestartTransient && term.err != nil)

		if !eligible {
			return term.err
		}

		if !budget.allow(time.Now()) {
			log.Warnf(
				"supervisor: child %q exhausted restart "+
					"budget, giving up", spec.ID,
			)
			return term.err
		}

		if term.err != nil {
			log.Errorf(
				"supervisor: restarting child %q after error: %v",
				spec.ID, term.err,
			)
		} else {
			log.Errorf(
				"supervisor: restarting child %q after unexpected exit",
				spec.ID,
			)
		}
	}
}

// runChild executes spec.Task, converting a panic into an error so a
// misbehaving child cannot take the whole process down with it.
func runChild(ctx context.Context, spec ChildSpec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf(
				"supervisor: child %q panicked: %v", spec.ID, r,
			)
		}
	}()

	return spec.Task(ctx)
}

// isCancellation reports whether err represents the task observing context
// cancellation or deadline expiry, rather than a genuine failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
