package supervisor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/finleyrs/knot/internal/rt/supervisor"
)

// TestRestartBudgetExactlyMaxPlusOne checks, for arbitrary restart budgets
// and either always-erroring or always-normal-exit permanent children,
// that the child runs exactly MaxRestarts+1 times before the supervisor
// gives up.
func TestRestartBudgetExactlyMaxPlusOne(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRestarts := rapid.IntRange(0, 8).Draw(rt, "maxRestarts")
		raises := rapid.Bool().Draw(rt, "raises")

		var runs atomic.Int64
		boom := errors.New("boom")

		children := []supervisor.ChildSpec{{
			ID:      "probe",
			Restart: supervisor.RestartPermanent,
			Task: func(ctx context.Context) error {
				runs.Add(1)
				if raises {
					return boom
				}
				return nil
			},
		}}

		err := supervisor.Start(
			context.Background(), children,
			supervisor.WithIntensity(maxRestarts, 10*time.Second),
		)

		require.Equal(rt, int64(maxRestarts+1), runs.Load())
		if raises {
			require.ErrorIs(rt, err, boom)
		} else {
			require.NoError(rt, err)
		}
	})
}
