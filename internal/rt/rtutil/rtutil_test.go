package rtutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finleyrs/knot/internal/rt/genserver"
	"github.com/finleyrs/knot/internal/rt/mailbox"
	"github.com/finleyrs/knot/internal/rt/rtutil"
)

type echoState struct{ name string }

func echoCallbacks(name string) genserver.Callbacks[echoState] {
	return genserver.Callbacks[echoState]{
		Init: func(ctx context.Context, arg any) (echoState, error) {
			return echoState{name: name}, nil
		},
		HandleCall: func(ctx context.Context, payload any, from genserver.ReplyTo, state echoState) (genserver.Outcome, echoState) {
			return genserver.Reply{Payload: state.name + ":" + payload.(string)}, state
		},
	}
}

func TestCallAllFanOut(t *testing.T) {
	ctx := mailbox.WithRegistry(context.Background(), mailbox.NewRegistry())

	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, genserver.Start(
			ctx, echoCallbacks(name), nil, genserver.WithName(name),
		))
	}

	results := rtutil.CallAll(ctx, []string{"one", "two", "three"}, "ping", time.Second)
	require.True(t, rtutil.AllSucceeded(results))
	require.Equal(t, "one:ping", results[0].Payload)
	require.Equal(t, "two:ping", results[1].Payload)
	require.Equal(t, "three:ping", results[2].Payload)
}

func TestFirstSuccessReturnsFastestReply(t *testing.T) {
	ctx := mailbox.WithRegistry(context.Background(), mailbox.NewRegistry())

	slow := genserver.Callbacks[int]{
		Init: func(ctx context.Context, arg any) (int, error) { return 0, nil },
		HandleCall: func(ctx context.Context, payload any, from genserver.ReplyTo, state int) (genserver.Outcome, int) {
			time.Sleep(50 * time.Millisecond)
			return genserver.Reply{Payload: "slow"}, state
		},
	}
	fast := genserver.Callbacks[int]{
		Init: func(ctx context.Context, arg any) (int, error) { return 0, nil },
		HandleCall: func(ctx context.Context, payload any, from genserver.ReplyTo, state int) (genserver.Outcome, int) {
			return genserver.Reply{Payload: "fast"}, state
		},
	}

	require.NoError(t, genserver.Start(ctx, slow, nil, genserver.WithName("slow")))
	require.NoError(t, genserver.Start(ctx, fast, nil, genserver.WithName("fast")))

	v, err := rtutil.FirstSuccess(ctx, []string{"slow", "fast"}, "ping", time.Second)
	require.NoError(t, err)
	require.Equal(t, "fast", v)
}
