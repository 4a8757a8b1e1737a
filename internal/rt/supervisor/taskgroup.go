package supervisor

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Task is a unit of work run inside a TaskGroup.
type Task func(ctx context.Context) error

// RunGroup runs every task concurrently under a context derived from ctx,
// cancelling all of them the moment the group context is cancelled from
// outside. Unlike errgroup.Group.Wait, which only surfaces the first
// error, RunGroup collects every task's error into a *multierror.Error so
// a faulting grandchild produces an aggregated error a parent
// ChildSpec.Task can return as-is; classify then decides whether that
// aggregate represents a genuine failure or pure cancellation fanout.
func RunGroup(ctx context.Context, tasks ...Task) error {
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		combine *multierror.Error
	)

	wg.Add(len(tasks))
	for _, t := range tasks {
		t := t
		go func() {
			defer wg.Done()
			if err := t(childCtx); err != nil {
				mu.Lock()
				combine = multierror.Append(combine, err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return combine.ErrorOrNil()
}
