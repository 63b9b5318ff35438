package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/care/oviss/internal/config"
	"github.com/care/oviss/internal/core"
	"github.com/care/oviss/internal/logger"
	"github.com/care/oviss/internal/server"
)

const defaultConfigPath = "config/oviss.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	debug := flag.Bool("debug", false, "Enable debug logging")
	runNow := flag.Bool("run-now", false, "Start a capture run immediately, then keep the schedule")
	once := flag.Bool("once", false, "Run one capture pass and exit")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	// bootstrap logger until the config picks level and format
	slog.SetDefault(logger.New(levelFor(*debug, "info"), "json"))

	svc, err := core.NewService(*configPath)
	if err != nil {
		slog.Error("failed to create oviss service", "error", err)
		os.Exit(1)
	}

	cfg := svc.Config()
	log := logger.New(levelFor(*debug, cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(log)

	slog.Info("starting oviss service",
		"config", *configPath,
		"debug", *debug,
		"once", *once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *once {
		os.Exit(runOnce(ctx, cancel, svc, sigChan))
	}

	router := server.NewRouter(svc, svc.Metrics(), svc.UpdateGauges, log)
	httpServer := server.New(cfg.HTTP.Addr, router)
	go func() {
		slog.Info("starting http server", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx)
	}()

	if *runNow {
		if err := svc.TriggerRun(); err != nil {
			slog.Warn("run-now not triggered", "error", err)
		}
	}

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("service error", "error", err)
		}
	}

	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("oviss service stopped successfully")
}

// runOnce performs a single pass; a signal cancels it between slots
func runOnce(ctx context.Context, cancel context.CancelFunc, svc *core.Service, sigChan <-chan os.Signal) int {
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal, cancelling run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := svc.RunOnce(ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), svc.ShutdownTimeout())
	defer shutdownCancel()
	svc.Shutdown(shutdownCtx)

	if err != nil {
		slog.Error("capture run failed", "error", err)
		return 1
	}
	slog.Info("capture run complete",
		"run_id", report.ID,
		"slots_archived", report.SlotsArchived,
		"frames_archived", report.FramesArchived,
		"placeholders", report.Placeholders,
		"cancelled", report.Cancelled,
	)
	if report.Cancelled {
		return 130
	}
	return 0
}

func levelFor(debug bool, level string) string {
	if debug {
		return "debug"
	}
	return level
}
