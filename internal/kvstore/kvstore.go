// Package kvstore is a small genserver demonstrating the generic-server
// abstraction: a get/set/clear key-value store reachable by name from
// anywhere in the node.
package kvstore

import (
	"context"

	"github.com/finleyrs/knot/internal/rt/genserver"
)

// MailboxName is the name kvstore registers its genserver mailbox under.
const MailboxName = "kvstore"

// Get requests are answered synchronously with the stored value (nil if
// absent).
type Get struct {
	Key string
}

// Set requests store Value under Key and reply with whatever value was
// previously stored there (nil if the key was unset).
type Set struct {
	Key   string
	Value any
}

// Clear removes every key, fire-and-forget. It has no HandleCall handler;
// calling Clear (rather than casting it) exercises the unhandled-shape /
// ErrNotImplemented path the same way the spec's own worked kvstore example
// does.
type Clear struct{}

type state map[string]any

func callbacks() genserver.Callbacks[state] {
	return genserver.Callbacks[state]{
		Init: func(ctx context.Context, arg any) (state, error) {
			return make(state), nil
		},

		HandleCall: func(ctx context.Context, payload any, from genserver.ReplyTo, s state) (genserver.Outcome, state) {
			switch m := payload.(type) {
			case Get:
				return genserver.Reply{Payload: s[m.Key]}, s
			case Set:
				prev := s[m.Key]
				s[m.Key] = m.Value
				return genserver.Reply{Payload: prev}, s
			default:
				return genserver.Stop{Reason: genserver.ErrNotImplemented}, s
			}
		},

		HandleCast: func(ctx context.Context, payload any, s state) (genserver.Outcome, state) {
			switch payload.(type) {
			case Clear:
				s = make(state)
			default:
				return genserver.Stop{Reason: genserver.ErrNotImplemented}, s
			}
			return genserver.NoReply{}, s
		},
	}
}

// Start runs the kvstore's receive loop, blocking for its entire lifetime.
// It is shaped as a supervisor.ChildSpec.Task / application.Spec.Start so
// it can be dropped directly into either.
func Start(ctx context.Context) error {
	return genserver.Run(ctx, callbacks(), nil, genserver.WithName(MailboxName))
}
