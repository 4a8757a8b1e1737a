package mailbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finleyrs/knot/internal/rt/mailbox"
)

func newCtx() context.Context {
	return mailbox.WithRegistry(context.Background(), mailbox.NewRegistry())
}

func TestOpenSendReceiveByID(t *testing.T) {
	ctx := newCtx()

	h, err := mailbox.Open(ctx)
	require.NoError(t, err)
	defer h.Close()

	var recvErr error
	var got any
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, recvErr = mailbox.Receive(ctx, h.ID(), 0)
	}()

	require.NoError(t, mailbox.Send(ctx, h.ID().String(), "hello"))
	wg.Wait()

	require.NoError(t, recvErr)
	require.Equal(t, "hello", got)
}

func TestSendByRegisteredName(t *testing.T) {
	ctx := newCtx()

	h, err := mailbox.Open(ctx, "kv-store")
	require.NoError(t, err)
	defer h.Close()

	go func() { _ = mailbox.Send(ctx, "kv-store", 42) }()

	got, err := mailbox.Receive(ctx, h.ID(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestRegisterNameAlreadyTaken(t *testing.T) {
	ctx := newCtx()

	a, err := mailbox.Open(ctx, "dup")
	require.NoError(t, err)
	defer a.Close()

	b, err := mailbox.Open(ctx)
	require.NoError(t, err)
	defer b.Close()

	err = mailbox.Register(ctx, b.ID(), "dup")
	require.ErrorIs(t, err, mailbox.ErrNameAlreadyExist)
}

func TestUnregisterKeepsMailboxAlive(t *testing.T) {
	ctx := newCtx()

	h, err := mailbox.Open(ctx, "named")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, mailbox.Unregister(ctx, "named"))

	err = mailbox.Send(ctx, "named", "unreachable")
	require.ErrorIs(t, err, mailbox.ErrMailboxDoesNotExist)

	// The mailbox itself is still alive by ID.
	go func() { _ = mailbox.Send(ctx, h.ID().String(), "still here") }()
	got, err := mailbox.Receive(ctx, h.ID(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "still here", got)
}

func TestReceiveTimeout(t *testing.T) {
	ctx := newCtx()

	h, err := mailbox.Open(ctx)
	require.NoError(t, err)
	defer h.Close()

	_, err = mailbox.Receive(ctx, h.ID(), 10*time.Millisecond)
	require.ErrorIs(t, err, mailbox.ErrTimeout)
}

func TestDestroyUnblocksPendingSendAndReceive(t *testing.T) {
	ctx := newCtx()

	h, err := mailbox.Open(ctx)
	require.NoError(t, err)

	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- mailbox.Send(ctx, h.ID().String(), "never delivered")
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.Close())

	select {
	case err := <-sendErrCh:
		require.ErrorIs(t, err, mailbox.ErrMailboxDoesNotExist)
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after mailbox destroyed")
	}

	_, err = mailbox.Receive(ctx, h.ID(), time.Second)
	require.ErrorIs(t, err, mailbox.ErrMailboxDoesNotExist)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := newCtx()

	h, err := mailbox.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}

func TestSendRespectsContextCancellation(t *testing.T) {
	ctx := newCtx()

	h, err := mailbox.Open(ctx)
	require.NoError(t, err)
	defer h.Close()

	sendCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- mailbox.Send(sendCtx, h.ID().String(), "blocked forever")
	}()

	cancel()

	select {
	case err := <-errCh:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Send did not observe context cancellation")
	}
}

func TestOpenWithoutRegistryOnContext(t *testing.T) {
	_, err := mailbox.Open(context.Background())
	require.ErrorIs(t, err, mailbox.ErrNoRegistry)
}
