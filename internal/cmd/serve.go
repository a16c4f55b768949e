package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/livyctl/internal/config"
	"github.com/3leaps/livyctl/internal/observability"
	"github.com/3leaps/livyctl/internal/server"
	"github.com/3leaps/livyctl/internal/server/emulator"
	"github.com/3leaps/livyctl/internal/server/handlers"
	"github.com/3leaps/livyctl/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local Livy emulator",
	Long: `Run an HTTP server that speaks the Livy batch API.

Batches submitted to the emulator walk through starting, running and
success, producing scripted stdout and stderr. Set the batch conf
'livyctl.emulator.outcome' to 'dead' or 'error' to script a failure.

The server also exposes /health, /health/live, /health/ready, /version
and, when metrics are enabled, /metrics.

Examples:
  livyctl serve
  livyctl serve --port 8998 --step-delay 500ms
  livyctl cluster emulator add local --url http://localhost:8998`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host (default from server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from server.port)")
	serveCmd.Flags().Duration("step-delay", 0, "Time an emulated batch stays in each state (default from server.step_delay)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	logger := observability.CLILogger

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host = flagString(cmd, "host")
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	stepDelay := cfg.Server.StepDelay
	if cmd.Flags().Changed("step-delay") {
		stepDelay, _ = cmd.Flags().GetDuration("step-delay")
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
	}

	emuOpts := emulator.Options{StepDelay: stepDelay}
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return err
		}
		em := metrics.NewEmulatorMetrics(cfg.Metrics.Prefix)
		if err := em.Register(reg); err != nil {
			return err
		}
		emuOpts.Recorder = em
		gatherer = reg
		opts = append(opts, server.WithMetrics(reg))
	}
	emu := emulator.New(emuOpts)
	opts = append(opts, server.WithEmulator(emu))

	if cfg.Health.Enabled {
		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("emulator", emulatorCheck(emu))
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("metrics", gathererCheck(gatherer))
		}
		hm.RegisterChecker("identity", identityCheck(GetAppIdentity()))
	}

	srv := server.New(host, port, opts...)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Serve(sigCtx, func(addr net.Addr) {
		logger.Info("Livy emulator listening",
			zap.String("addr", addr.String()),
			zap.Duration("step_delay", stepDelay),
			zap.Bool("metrics", cfg.Metrics.Enabled))
	})
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	logger.Info("Server stopped")
	return nil
}

// healthCheck adapts a function to handlers.HealthChecker.
type healthCheck func(context.Context) error

func (f healthCheck) CheckHealth(ctx context.Context) error { return f(ctx) }

// emulatorCheck fails once the batch table can no longer be read.
func emulatorCheck(emu *emulator.Emulator) healthCheck {
	return func(context.Context) error {
		if emu == nil {
			return errors.New("emulator not started")
		}
		_ = emu.List(0, 1)
		return nil
	}
}

func gathererCheck(g prometheus.Gatherer) healthCheck {
	return func(context.Context) error {
		if g == nil {
			return errors.New("metrics registry not initialized")
		}
		if _, err := g.Gather(); err != nil {
			return fmt.Errorf("gather metrics: %w", err)
		}
		return nil
	}
}

func identityCheck(id *config.Identity) healthCheck {
	return func(context.Context) error {
		switch {
		case id == nil:
			return errors.New("app identity not set")
		case id.BinaryName == "", id.EnvPrefix == "", id.ConfigName == "":
			return fmt.Errorf("app identity incomplete: %+v", *id)
		}
		return nil
	}
}
