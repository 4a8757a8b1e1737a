// Package rtutil provides fan-out helpers over genserver.Call/Cast, for
// callers that need to talk to several targets concurrently rather than
// one at a time.
package rtutil

import (
	"context"
	"fmt"
	"time"

	"github.com/finleyrs/knot/internal/rt/genserver"
)

// Result pairs a target with its Call outcome, used by CallAll so callers
// can tell which target produced which error without re-deriving it from
// index alone.
type Result struct {
	Target  string
	Payload any
	Err     error
}

// CallAll sends the same payload to every target concurrently and returns
// one Result per target, in the same order as targets.
func CallAll(ctx context.Context, targets []string, payload any, timeout time.Duration) []Result {
	results := make([]Result, len(targets))
	done := make(chan struct{})

	for i, target := range targets {
		i, target := i, target
		go func() {
			v, err := genserver.Call(ctx, target, payload, timeout)
			results[i] = Result{Target: target, Payload: v, Err: err}
			done <- struct{}{}
		}()
	}

	for range targets {
		<-done
	}

	return results
}

// CastAll sends payload to every target, fire-and-forget, and returns the
// first delivery error encountered (if any). It does not wait for any
// target to process the message.
func CastAll(ctx context.Context, targets []string, payload any) error {
	var firstErr error
	for _, target := range targets {
		if err := genserver.Cast(ctx, target, payload); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cast to %s: %w", target, err)
		}
	}

	return firstErr
}

// FirstSuccess calls every target concurrently and returns the first
// successful reply. If every target fails, the last error observed is
// returned.
func FirstSuccess(ctx context.Context, targets []string, payload any, timeout time.Duration) (any, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("rtutil: no targets provided")
	}

	type indexed struct {
		Result
	}

	resultCh := make(chan indexed, len(targets))
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, target := range targets {
		target := target
		go func() {
			v, err := genserver.Call(callCtx, target, payload, timeout)
			resultCh <- indexed{Result{Target: target, Payload: v, Err: err}}
		}()
	}

	var lastErr error
	for range targets {
		res := <-resultCh
		if res.Err == nil {
			cancel()
			return res.Payload, nil
		}
		lastErr = res.Err
	}

	return nil, lastErr
}

// AllSucceeded reports whether every Result in results has a nil Err.
func AllSucceeded(results []Result) bool {
	for _, r := range results {
		if r.Err != nil {
			return false
		}
	}
	return true
}
