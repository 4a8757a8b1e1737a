// Command knotd is a small demonstration daemon built on the knot runtime:
// it starts a supervised key-value store, a dynamic supervisor that can
// grow worker pools at runtime, and a deliberately crash-prone worker that
// shows restart-intensity budgets in action.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finleyrs/knot/internal/kvstore"
	"github.com/finleyrs/knot/internal/rt/application"
	"github.com/finleyrs/knot/internal/rt/dynsup"
	"github.com/finleyrs/knot/internal/rt/node"
	"github.com/finleyrs/knot/internal/rt/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		logDir   string
	)

	cmd := &cobra.Command{
		Use:   "knotd",
		Short: "Run the knot demonstration node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(logLevel, logDir)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Logging level (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for rotating log files (empty disables file logging)")

	return cmd
}

func run(logLevel, logDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apps := []application.Spec{
		{
			Name:      "kvstore",
			Permanent: true,
			Start:     kvstore.Start,
		},
		{
			Name: "worker-pool",
			Start: func(ctx context.Context) error {
				return runWorkerPool(ctx)
			},
		},
		{
			Name: "flaky-demo",
			Start: func(ctx context.Context) error {
				return runFlakyDemo(ctx)
			},
		},
	}

	opts := []node.Option{node.WithLogLevel(logLevel)}
	if logDir != "" {
		opts = append(opts, node.WithLogDir(logDir))
	}

	return node.Run(ctx, apps, opts...)
}

// runWorkerPool starts a dynamic supervisor and immediately attaches three
// long-lived workers to it, demonstrating dynsup.Broadcast.
func runWorkerPool(ctx context.Context) error {
	mid, err := dynsup.Start(ctx, dynsup.WithName("worker-pool-sup"))
	if err != nil {
		return err
	}

	err = dynsup.Broadcast(ctx, mid.String(), 3, func(idx int) supervisor.ChildSpec {
		return supervisor.ChildSpec{
			ID:      fmt.Sprintf("worker-%d", idx),
			Restart: supervisor.RestartPermanent,
			Task: func(ctx context.Context) error {
				ticker := time.NewTicker(time.Minute)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-ticker.C:
					}
				}
			},
		}
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

// runFlakyDemo supervises a child that fails every time it runs, showing
// the restart-intensity budget exhaust after a bounded number of retries.
func runFlakyDemo(ctx context.Context) error {
	children := []supervisor.ChildSpec{{
		ID:      "flaky-child",
		Restart: supervisor.RestartTransient,
		Task: func(ctx context.Context) error {
			return fmt.Errorf("flaky-child: simulated failure")
		},
	}}

	return supervisor.Start(
		ctx, children,
		supervisor.WithIntensity(3, 10*time.Second),
	)
}
