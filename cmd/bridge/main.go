// Command bridge runs the terminal bridge: it connects to the controller,
// serves commands against the simulated terminal and exposes an operator
// status endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Xolisakesi/metatrrade-mcp/internal/bridge"
	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/journal"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/status"
	"github.com/Xolisakesi/metatrrade-mcp/internal/telemetry"
)

const (
	meterName                   = "github.com/Xolisakesi/metatrrade-mcp/bridge"
	shutdownTimeout             = 30 * time.Second
	statusServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout    = 10 * time.Second
	telemetryShutdownTimeout    = 5 * time.Second
)

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags() string {
	cfgPath := flag.String("config", "", "Path to the bridge configuration file (default: config/app.yaml or $BRIDGE_CONFIG)")
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func run(configPath string) error {
	ctx, cancel := newSignalContext()
	defer cancel()

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zl, err := observability.NewZapLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	observability.SetLogger(zl)
	logger := zl.Named("bridge")
	logger.Info("configuration initialised",
		observability.F("env", string(cfg.Environment)),
		observability.F("transport", string(cfg.Connection.Transport)),
		observability.F("address", cfg.Connection.Address()))

	provider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	metrics, err := telemetry.NewMetrics(provider.Meter(meterName))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	j, err := journal.Open(ctx, cfg.Journal, logger.Named("journal"))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	board := status.NewBoard()
	app, err := bridge.New(cfg,
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
		bridge.WithJournal(j),
		bridge.WithBoard(board))
	if err != nil {
		_ = j.Close()
		return fmt.Errorf("build bridge: %w", err)
	}

	var lifecycle conc.WaitGroup

	server := buildStatusServer(cfg, board, j, logger)
	if server != nil {
		startStatusServer(&lifecycle, logger, server)
		logger.Info("status endpoint listening", observability.F("addr", server.Addr))
	}

	var runErr error
	scheduler := bridge.NewScheduler(app, cfg.Scheduler.TickInterval, cfg.Scheduler.TimerInterval)
	lifecycle.Go(func() {
		runErr = scheduler.Run(ctx)
		if runErr != nil {
			logger.Error("bridge stopped", observability.Err(runErr))
		}
		cancel()
	})

	logger.Info("bridge started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	started := time.Now()
	shutdownErr := performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     server,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		app:        app,
		telemetry:  provider,
	})
	logger.Info("shutdown completed", observability.F("took", time.Since(started).String()))

	if runErr != nil {
		return fmt.Errorf("bridge: %w", runErr)
	}
	return shutdownErr
}

func initTelemetry(ctx context.Context, logger observability.Logger, cfg config.AppConfig) (*telemetry.Provider, error) {
	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Enabled() {
		logger.Info("telemetry initialized",
			observability.F("endpoint", provider.Endpoint()),
			observability.F("service", cfg.Telemetry.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

func buildStatusServer(cfg config.AppConfig, board *status.Board, j journal.Journal, logger *observability.ZapLogger) *http.Server {
	if cfg.Status.Addr == "" {
		return nil
	}
	var reader status.JournalReader
	if _, noop := j.(journal.Noop); !noop {
		reader = j
	}
	return status.NewServer(cfg.Status.Addr, status.NewHandler(board, reader, logger.Named("status")))
}

func startStatusServer(lifecycle *conc.WaitGroup, logger observability.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server", observability.Err(err))
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	app        *bridge.App
	telemetry  *telemetry.Provider
}

// performGracefulShutdown runs every step even when an earlier one fails and
// returns the joined step errors.
func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) error {
	var failures []error
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("shutdown: " + name)
		if err := fn(stepCtx); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping status server", statusServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.app != nil {
		shutdownStep("releasing bridge resources", lifecycleShutdownTimeout, func(context.Context) error {
			return cfg.app.Close()
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
	return observability.JoinErrors(logger, "shutdown", failures...)
}
