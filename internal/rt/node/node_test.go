package node_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finleyrs/knot/internal/rt/application"
	"github.com/finleyrs/knot/internal/rt/node"
)

func TestRunBlocksUntilApplicationsFinish(t *testing.T) {
	var ran atomic.Int64

	apps := []application.Spec{
		{
			Name: "a",
			Start: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		},
		{
			Name: "b",
			Start: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				ran.Add(1)
				return nil
			},
		},
	}

	err := node.Run(context.Background(), apps)
	require.NoError(t, err)
	require.Equal(t, int64(2), ran.Load())
}

func TestRunRestartsPermanentApplicationOnErrorAndReturnsCleanly(t *testing.T) {
	var attempts atomic.Int64

	apps := []application.Spec{
		{
			Name:      "flaky-app",
			Permanent: true,
			SupOpts:   nil,
			Start: func(ctx context.Context) error {
				attempts.Add(1)
				return errTest("app boom")
			},
		},
	}

	// node.Run never surfaces an individual application's termination
	// error; applications fail/restart/give up entirely within their
	// own supervised subtree, observable only via the logger.
	err := node.Run(context.Background(), apps)
	require.NoError(t, err)
	require.GreaterOrEqual(t, attempts.Load(), int64(2))
}

type errTest string

func (e errTest) Error() string { return string(e) }
