package dynsup_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finleyrs/knot/internal/rt/dynsup"
	"github.com/finleyrs/knot/internal/rt/mailbox"
	"github.com/finleyrs/knot/internal/rt/supervisor"
)

func newCtx() context.Context {
	return mailbox.WithRegistry(context.Background(), mailbox.NewRegistry())
}

func TestStartChildAttachesAndRuns(t *testing.T) {
	ctx := newCtx()

	mid, err := dynsup.Start(ctx, dynsup.WithName("dsup"))
	require.NoError(t, err)
	require.NotEmpty(t, mid)

	var ran atomic.Bool
	done := make(chan struct{})

	err = dynsup.StartChild(ctx, "dsup", supervisor.ChildSpec{
		ID:      "worker-1",
		Restart: supervisor.RestartTemporary,
		Task: func(ctx context.Context) error {
			ran.Store(true)
			close(done)
			return nil
		},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dynamically started child never ran")
	}
	require.True(t, ran.Load())
}

func TestBroadcastAttachesOneChildPerIndex(t *testing.T) {
	ctx := newCtx()

	mid, err := dynsup.Start(ctx, dynsup.WithName("dsup2"))
	require.NoError(t, err)
	require.NotEmpty(t, mid)

	var count atomic.Int64
	n := 5
	allDone := make(chan struct{})

	go func() {
		for count.Load() < int64(n) {
			time.Sleep(time.Millisecond)
		}
		close(allDone)
	}()

	err = dynsup.Broadcast(ctx, "dsup2", n, func(idx int) supervisor.ChildSpec {
		return supervisor.ChildSpec{
			ID:      "batch-worker",
			Restart: supervisor.RestartTemporary,
			Task: func(ctx context.Context) error {
				count.Add(1)
				return nil
			},
		}
	})
	require.NoError(t, err)

	select {
	case <-allDone:
	case <-time.After(time.Second):
		t.Fatalf("only %d/%d broadcast children ran", count.Load(), n)
	}
}

func TestDynamicSupervisorTearsDownWhenChildGivesUp(t *testing.T) {
	ctx, cancel := context.WithCancel(newCtx())
	defer cancel()

	boom := errTest("doomed worker failed")

	readyCh := make(chan mailbox.ID, 1)
	errCh := make(chan error, 1)

	go func() {
		errCh <- dynsup.Run(
			ctx, dynsup.WithName("dsup3"),
			dynsup.WithReady(func(id mailbox.ID) { readyCh <- id }),
		)
	}()

	<-readyCh

	require.NoError(t, dynsup.StartChild(ctx, "dsup3", supervisor.ChildSpec{
		ID:      "doomed",
		Restart: supervisor.RestartTemporary,
		Task: func(ctx context.Context) error {
			return boom
		},
	}))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("dynamic supervisor did not tear down")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
