package kvstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finleyrs/knot/internal/kvstore"
	"github.com/finleyrs/knot/internal/rt/genserver"
	"github.com/finleyrs/knot/internal/rt/mailbox"
)

func TestGetSetClear(t *testing.T) {
	ctx := mailbox.WithRegistry(context.Background(), mailbox.NewRegistry())

	done := make(chan error, 1)
	go func() { done <- kvstore.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)

	prev, err := genserver.Call(ctx, kvstore.MailboxName, kvstore.Set{Key: "x", Value: 7}, time.Second)
	require.NoError(t, err)
	require.Nil(t, prev)

	v, err := genserver.Call(ctx, kvstore.MailboxName, kvstore.Get{Key: "x"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, v)

	require.NoError(t, genserver.Cast(ctx, kvstore.MailboxName, kvstore.Clear{}))

	v, err = genserver.Call(ctx, kvstore.MailboxName, kvstore.Get{Key: "x"}, time.Second)
	require.NoError(t, err)
	require.Nil(t, v)
}

// TestGetSetSequenceMatchesWorkedExample reproduces the kvstore message
// sequence worked through get/set/clear: get on an absent key replies nil,
// set replies with whatever value preceded it, and a call the server has no
// handler for (here, calling Clear instead of casting it) stops the server
// with ErrNotImplemented.
func TestGetSetSequenceMatchesWorkedExample(t *testing.T) {
	ctx := mailbox.WithRegistry(context.Background(), mailbox.NewRegistry())

	done := make(chan error, 1)
	go func() { done <- kvstore.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)

	v, err := genserver.Call(ctx, kvstore.MailboxName, kvstore.Get{Key: "k"}, time.Second)
	require.NoError(t, err)
	require.Nil(t, v)

	prev, err := genserver.Call(ctx, kvstore.MailboxName, kvstore.Set{Key: "k", Value: "v1"}, time.Second)
	require.NoError(t, err)
	require.Nil(t, prev)

	v, err = genserver.Call(ctx, kvstore.MailboxName, kvstore.Get{Key: "k"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	prev, err = genserver.Call(ctx, kvstore.MailboxName, kvstore.Set{Key: "k", Value: "v2"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "v1", prev)

	v, err = genserver.Call(ctx, kvstore.MailboxName, kvstore.Get{Key: "k"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "v2", v)

	_, err = genserver.Call(ctx, kvstore.MailboxName, kvstore.Clear{}, time.Second)
	require.ErrorIs(t, err, genserver.ErrNotImplemented)
}

func TestUnhandledCallStops(t *testing.T) {
	ctx := mailbox.WithRegistry(context.Background(), mailbox.NewRegistry())

	done := make(chan error, 1)
	go func() { done <- kvstore.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)

	_, err := genserver.Call(ctx, kvstore.MailboxName, "not-a-get", time.Second)
	require.ErrorIs(t, err, genserver.ErrNotImplemented)
}
