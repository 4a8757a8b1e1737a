// Package genserver implements the generic-server abstraction: a mailbox
// receive loop that dispatches synchronous calls, asynchronous casts, and
// out-of-band info messages to user-supplied callbacks, built on top of
// package mailbox.
package genserver

import (
	"context"
	"errors"
	"time"

	"github.com/finleyrs/knot/internal/rt/mailbox"
	"github.com/finleyrs/knot/internal/rt/rtlog"
)

var log rtlog.Logger = rtlog.NewDiscard()

// UseLogger rebinds the package-level logger.
func UseLogger(logger rtlog.Logger) {
	log = logger
}

var (
	// ErrGenServerExited is the error a pending Call receives when the
	// server stops (or already had stopped) before replying.
	ErrGenServerExited = errors.New("genserver: server exited before replying")

	// ErrNotImplemented is returned when a Call or Cast arrives for a
	// callback the server's Callbacks value left nil.
	ErrNotImplemented = errors.New("genserver: callback not implemented")

	// ErrCallTimeout is returned by Call when no reply arrives before the
	// requested timeout.
	ErrCallTimeout = errors.New("genserver: call timed out")
)

// ReplyTo is the capability a HandleCall callback uses to answer a call,
// either inline (by returning Reply) or later (by returning NoReply and
// calling Reply asynchronously from another goroutine).
type ReplyTo struct {
	ch chan any
}

func (r ReplyTo) send(v any) {
	select {
	case r.ch <- v:
	default:
		// Already replied, or the caller gave up; the buffered
		// channel guarantees this never blocks.
	}
}

// Outcome is the sealed result type a callback returns to tell the receive
// loop what to do next.
type Outcome interface {
	outcomeMarker()
}

// Reply answers the in-flight call with Payload. Returning Reply from
// HandleCast or HandleInfo is a programming error.
type Reply struct {
	Payload any
}

func (Reply) outcomeMarker() {}

// NoReply continues the receive loop without answering yet. A HandleCall
// that returns NoReply must eventually call genserver.Reply itself, from
// any goroutine, using the ReplyTo it was handed.
type NoReply struct{}

func (NoReply) outcomeMarker() {}

// Stop terminates the server. Reason is passed to Terminate and, for a
// Stop returned from HandleCall, delivered to the caller (if no Reply was
// already sent) as an error that matches both ErrGenServerExited and Reason
// under errors.Is.
type Stop struct {
	Reason error
}

func (Stop) outcomeMarker() {}

// Callbacks is the set of user-supplied behavior functions a server is
// built from. Only Init is required. A nil HandleCall or HandleCast stops
// the server with ErrNotImplemented when a message of that shape arrives;
// a nil HandleInfo drops info messages; a nil Terminate is a no-op.
type Callbacks[S any] struct {
	// Init builds the initial state from the argument passed to Run or
	// Start. Returning an error aborts startup before the mailbox is
	// ever opened for business.
	Init func(ctx context.Context, arg any) (S, error)

	// HandleCall answers a synchronous Call.
	HandleCall func(ctx context.Context, payload any, from ReplyTo, state S) (Outcome, S)

	// HandleCast handles an asynchronous Cast. Returning Reply here is a
	// programmer error: there is no caller to answer.
	HandleCast func(ctx context.Context, payload any, state S) (Outcome, S)

	// HandleInfo handles any message delivered to the server's mailbox
	// that isn't a Call or Cast envelope (e.g. a monitor notification).
	HandleInfo func(ctx context.Context, msg any, state S) (Outcome, S)

	// Terminate is called exactly once, with whatever state the server
	// last held, right before the mailbox is closed.
	Terminate func(ctx context.Context, reason error, state S)
}

type callEnvelope struct {
	replyTo ReplyTo
	payload any
}

type castEnvelope struct {
	payload any
}

type config struct {
	name        []string
	ready       func(mailbox.ID)
	startSignal chan error
}

// Option configures Run/Start.
type Option func(*config)

// WithName registers the server's mailbox under name as part of startup.
func WithName(name string) Option {
	return func(c *config) { c.name = []string{name} }
}

// WithReady registers a callback invoked with the server's mailbox ID once
// Init has succeeded and the receive loop is about to begin.
func WithReady(ready func(mailbox.ID)) Option {
	return func(c *config) { c.ready = ready }
}

func withStartSignal(ch chan error) Option {
	return func(c *config) { c.startSignal = ch }
}

// Run opens the server's mailbox, runs Init, and then services the
// mailbox until a callback returns Stop, the mailbox is destroyed, or ctx
// is cancelled. It blocks for the server's entire lifetime, which is what
// makes it usable directly as a supervisor.ChildSpec.Task.
func Run[S any](ctx context.Context, cb Callbacks[S], initArg any, opts ...Option) error {
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

	state, err := cb.Init(ctx, initArg)
	if err != nil {
		if cfg.startSignal != nil {
			cfg.startSignal <- err
		}
		if cb.Terminate != nil {
			cb.Terminate(ctx, err, state)
		}
		return err
	}

	if cfg.startSignal != nil {
		cfg.startSignal <- nil
	}
	if cfg.ready != nil {
		cfg.ready(handle.ID())
	}

	return serve(ctx, cb, handle.ID(), state)
}

func serve[S any](ctx context.Context, cb Callbacks[S], mid mailbox.ID, state S) error {
	for {
		msg, err := mailbox.Receive(ctx, mid, 0)
		if err != nil {
			if cb.Terminate != nil {
				cb.Terminate(ctx, err, state)
			}
			return err
		}

		var outcome Outcome

		switch m := msg.(type) {
		case callEnvelope:
			if cb.HandleCall == nil {
				outcome = Stop{Reason: ErrNotImplemented}
			} else {
				outcome, state = cb.HandleCall(ctx, m.payload, m.replyTo, state)
			}

			switch o := outcome.(type) {
			case Reply:
				m.replyTo.send(o.Payload)
			case NoReply:
			case Stop:
				exitErr := ErrGenServerExited
				if o.Reason != nil {
					exitErr = errors.Join(ErrGenServerExited, o.Reason)
				}
				m.replyTo.send(exitErr)
				if cb.Terminate != nil {
					cb.Terminate(ctx, o.Reason, state)
				}
				return o.Reason
			}

		case castEnvelope:
			if cb.HandleCast == nil {
				outcome = Stop{Reason: ErrNotImplemented}
			} else {
				outcome, state = cb.HandleCast(ctx, m.payload, state)
			}

			if stopErr, stopped := settleNonCallOutcome(ctx, cb, outcome, state); stopped {
				return stopErr
			}

		default:
			if cb.HandleInfo == nil {
				continue
			}
			outcome, state = cb.HandleInfo(ctx, msg, state)

			if stopErr, stopped := settleNonCallOutcome(ctx, cb, outcome, state); stopped {
				return stopErr
			}
		}
	}
}

// settleNonCallOutcome applies a cast/info dispatch's outcome: NoReply is a
// no-op, Stop runs Terminate and reports the reason the loop should
// return. Reply from a non-call dispatch is a programmer error and
// panics, matching the contract documented on Reply.
func settleNonCallOutcome[S any](ctx context.Context, cb Callbacks[S], outcome Outcome, state S) (err error, stopped bool) {
	switch o := outcome.(type) {
	case Reply:
		panic("genserver: Reply outcome returned from HandleCast/HandleInfo")
	case Stop:
		if cb.Terminate != nil {
			cb.Terminate(ctx, o.Reason, state)
		}
		return o.Reason, true
	default:
		return nil, false
	}
}

// Start launches Run in the background and blocks only until Init
// completes (successfully or not), returning that result. The server
// continues running after Start returns; callers that want to be notified
// of its eventual termination should drive it through a supervisor
// instead.
func Start[S any](ctx context.Context, cb Callbacks[S], initArg any, opts ...Option) error {
	signal := make(chan error, 1)
	opts = append(opts, withStartSignal(signal))

	go func() {
		if err := Run(ctx, cb, initArg, opts...); err != nil {
			log.Debugf("genserver: server exited: %v", err)
		}
	}()

	return <-signal
}

// Call sends a synchronous request to target and blocks for a reply, a
// context cancellation, or timeout (non-positive means wait forever,
// subject to ctx).
func Call(ctx context.Context, target string, payload any, timeout time.Duration) (any, error) {
	replyCh := make(chan any, 1)
	msg := callEnvelope{replyTo: ReplyTo{ch: replyCh}, payload: payload}

	if err := mailbox.Send(ctx, target, msg); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case v := <-replyCh:
		if errVal, ok := v.(error); ok {
			return nil, errVal
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutCh:
		return nil, ErrCallTimeout
	}
}

// Cast sends a fire-and-forget request to target. It only reports mailbox
// delivery failures (e.g. the target does not exist); it says nothing
// about how the server eventually handles the message.
func Cast(ctx context.Context, target string, payload any) error {
	return mailbox.Send(ctx, target, castEnvelope{payload: payload})
}

// Reply answers a call asynchronously, from any goroutine, using the
// ReplyTo handed to HandleCall alongside a NoReply outcome.
func Reply(to ReplyTo, value any) {
	to.send(value)
}
