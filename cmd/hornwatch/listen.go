package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MrWong99/hornwatch/internal/app"
	"github.com/MrWong99/hornwatch/internal/observe"
)

var (
	listenAddr   string
	listenStart  bool
	reloadPeriod time.Duration
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the detector with its HTTP API",
	Long: `Run the detection service. Listening is started and stopped through the
HTTP API (POST /api/session/start, POST /api/session/stop) or right away
with --start. Status updates stream over the /status websocket.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	f := listenCmd.Flags()
	f.StringVar(&listenAddr, "addr", "", "override server.listen_addr")
	f.BoolVar(&listenStart, "start", false, "start listening immediately")
	f.DurationVar(&reloadPeriod, "reload-interval", 5*time.Second, "config file poll interval for hot reload")
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	if listenStart {
		cfg.Server.AutoStart = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel, err := observe.Setup(version, reg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	opts := []app.Option{
		app.WithMetrics(tel.Metrics),
		app.WithGatherer(reg),
		app.WithLogLevel(level),
		app.WithVersion(version),
	}
	if path != "" {
		opts = append(opts, app.WithConfigWatch(path, reloadPeriod))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg, path)
	slog.Info("hornwatch ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
