// Package node implements the top-level runtime entry point: it installs
// the mailbox and application registries, wires structured logging across
// every runtime package, starts a set of applications, and blocks until
// they have all finished.
package node

import (
	"context"
	"os"

	btclog "github.com/btcsuite/btclog/v2"

	"github.com/finleyrs/knot/internal/rt/application"
	"github.com/finleyrs/knot/internal/rt/dynsup"
	"github.com/finleyrs/knot/internal/rt/genserver"
	"github.com/finleyrs/knot/internal/rt/mailbox"
	"github.com/finleyrs/knot/internal/rt/rtlog"
	"github.com/finleyrs/knot/internal/rt/supervisor"
)

type config struct {
	logLevel string
	logDir   string
	rotator  *rtlog.RotatorConfig
}

// Option configures a node at Run time.
type Option func(*config)

// WithLogLevel sets the level (e.g. "debug", "info", "warn", "error")
// applied to every subsystem logger. The zero value is "info".
func WithLogLevel(level string) Option {
	return func(c *config) { c.logLevel = level }
}

// WithLogDir enables a rotating file logger under dir, in addition to the
// console. An empty dir (the default) disables file logging.
func WithLogDir(dir string) Option {
	return func(c *config) { c.logDir = dir }
}

// WithRotatorConfig overrides the rotating file logger's size/retention
// policy. Only meaningful alongside WithLogDir.
func WithRotatorConfig(cfg rtlog.RotatorConfig) Option {
	return func(c *config) { c.rotator = &cfg }
}

func defaultConfig() config {
	return config{logLevel: "info"}
}

// subsystem tags, one per runtime package, matching the dual-stream
// logging convention: every package gets its own prefixed view onto the
// same combined handler.
const (
	subsystemMailbox    = "MBX"
	subsystemSupervisor = "SUP"
	subsystemGenServer  = "GEN"
	subsystemDynSup     = "DSUP"
	subsystemApp        = "APP"
)

// Run installs a fresh mailbox and application registry on ctx, starts
// every application in apps, and blocks until all of them have finished
// (cleanly or by exhausting their restart budgets). Applications are
// started in slice order, but nothing is guaranteed about their relative
// progress or completion order once running.
func Run(ctx context.Context, apps []application.Spec, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	setupLogging(cfg)

	ctx = mailbox.WithRegistry(ctx, mailbox.NewRegistry())
	appReg := application.NewRegistry()
	ctx = application.WithRegistry(ctx, appReg)

	for _, spec := range apps {
		if err := application.Start(ctx, spec); err != nil {
			return err
		}
	}

	appReg.Wait()

	return nil
}

func setupLogging(cfg config) {
	level := parseLevel(cfg.logLevel)

	var handlers []btclog.Handler
	handlers = append(handlers, btclog.NewDefaultHandler(os.Stderr))

	if cfg.logDir != "" {
		rotCfg := cfg.rotator
		if rotCfg == nil {
			rotCfg = rtlog.DefaultRotatorConfig()
		}
		rotCfg.LogDir = cfg.logDir

		writer := rtlog.NewRotatingLogWriter()
		if err := writer.Init(rotCfg); err != nil {
			btclog.NewSLogger(handlers[0]).Errorf(
				"failed to init log rotator: %v", err,
			)
		} else {
			handlers = append(handlers, btclog.NewDefaultHandler(writer))
		}
	}

	combined := rtlog.NewHandlerSet(handlers...)
	combined.SetLevel(level)

	root := btclog.NewSLogger(combined)

	mailbox.UseLogger(root.WithPrefix(subsystemMailbox))
	supervisor.UseLogger(root.WithPrefix(subsystemSupervisor))
	genserver.UseLogger(root.WithPrefix(subsystemGenServer))
	dynsup.UseLogger(root.WithPrefix(subsystemDynSup))
	application.UseLogger(root.WithPrefix(subsystemApp))
}
