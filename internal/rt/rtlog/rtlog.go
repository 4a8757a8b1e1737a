// Package rtlog provides the logging plumbing shared by the runtime
// packages. mailbox, supervisor, genserver, dynsup and application each
// keep an unexported, package-level btclog.Logger that defaults to a
// discard logger and can be rebound with UseLogger; node.Run does that
// rebinding, following the subsystem-logger convention used throughout
// this codebase.
package rtlog

import (
	"io"

	btclog "github.com/btcsuite/btclog/v2"
)

// Logger is the logging surface every runtime package depends on. It is
// satisfied by the value returned from btclog.NewSLogger.
type Logger = btclog.Logger

// NewDiscard returns a Logger that writes nowhere. Runtime packages install
// this as their default so that logging is opt-in: callers who never wire a
// real logger via UseLogger (node.Run does this) see no log output.
func NewDiscard() Logger {
	return btclog.NewSLogger(btclog.NewDefaultHandler(io.Discard))
}

