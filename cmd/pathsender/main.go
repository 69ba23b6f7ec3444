// Command pathsender runs the path transmission core as a standalone HTTP
// service: a control-plane API for starting/pausing/cancelling jobs, and a
// telemetry surface for health checks and metrics scraping.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pathsender/engine"
	"pathsender/engine/adapters/controlhttp"
	"pathsender/engine/adapters/telemetryhttp"
	"pathsender/engine/telemetry/metrics"
	"pathsender/engine/telemetry/tracing"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML configuration file (optional)")
		controlAddr = flag.String("control-addr", ":8080", "address to serve the control-plane API on")
		telemetryAddr = flag.String("telemetry-addr", ":9090", "address to serve /healthz, /readyz, and /metrics on")
		seedFile    = flag.String("seed-points", "", "optional JSON file of points to start a job with at boot")
		controllerURL = flag.String("controller-url", "", "controller URL to target when --seed-points is set")
		seedStatusURL = flag.String("seed-status-url", "", "status URL to derive a start position from, if --seed-start-x/-y are not set")
		seedStartX  = flag.Float64("seed-start-x", 0, "start position X for --seed-points, used with --seed-start-y")
		seedStartY  = flag.Float64("seed-start-y", 0, "start position Y for --seed-points, used with --seed-start-x")
		seedHasStart = flag.Bool("seed-start", false, "treat --seed-start-x/-y as an explicit start position rather than deriving one")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := engine.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	applyLogLevel(logger, cfg.LogLevel)

	provider, err := buildMetricsProvider(cfg)
	if err != nil {
		logger.Error("failed to build metrics provider", "err", err)
		os.Exit(1)
	}
	tracer := tracing.NewTracer(cfg.TracingEnabled)

	coord := engine.New(cfg, provider, tracer, logger)

	if *configPath != "" {
		if closeWatch, err := engine.Watch(*configPath, func(next engine.Config) {
			logger.Info("configuration reloaded", "path", *configPath)
		}); err != nil {
			logger.Warn("configuration hot-reload unavailable", "err", err)
		} else {
			defer closeWatch()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controlMux := http.NewServeMux()
	controlhttp.New(coord).Register(controlMux, "/api")
	controlServer := &http.Server{Addr: *controlAddr, Handler: controlMux}

	telemetryMux := http.NewServeMux()
	telemetryMux.Handle("/healthz", telemetryhttp.NewHealthHandler(telemetryhttp.HealthHandlerOptions{Source: coord, IncludeProbes: true}))
	telemetryMux.Handle("/readyz", telemetryhttp.NewReadinessHandler(telemetryhttp.HealthHandlerOptions{Source: coord}))
	telemetryMux.Handle("/metrics", telemetryhttp.NewMetricsHandler(provider))
	telemetryServer := &http.Server{Addr: *telemetryAddr, Handler: telemetryMux}

	go runServer(logger, "control", controlServer)
	go runServer(logger, "telemetry", telemetryServer)

	if *seedFile != "" {
		opts := seedJobOptions{controllerURL: *controllerURL, statusURL: *seedStatusURL}
		if *seedHasStart {
			opts.startPosition = engine.NewStartPosition(*seedStartX, *seedStartY, false)
		}
		if err := startSeedJob(ctx, coord, *seedFile, opts); err != nil {
			logger.Error("failed to start seed job", "err", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := coord.Cancel(context.Background()); err != nil && !errors.Is(err, engine.ErrInvalidInput) {
		logger.Warn("error cancelling in-flight job during shutdown", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = controlServer.Shutdown(shutdownCtx)
	_ = telemetryServer.Shutdown(shutdownCtx)
}

func runServer(logger *slog.Logger, name string, server *http.Server) {
	logger.Info("listening", "server", name, "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped unexpectedly", "server", name, "err", err)
	}
}

func buildMetricsProvider(cfg engine.Config) (metrics.Provider, error) {
	if !cfg.MetricsEnabled {
		return metrics.NewNoopProvider(), nil
	}
	switch cfg.MetricsBackend {
	case "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{}), nil
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "pathsender"}), nil
	case "", "noop":
		return metrics.NewNoopProvider(), nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", cfg.MetricsBackend)
	}
}

func applyLogLevel(logger *slog.Logger, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return
	}
	slog.SetLogLoggerLevel(lvl)
}

// seedJobOptions carries the pieces of a --seed-points invocation beyond the
// points file itself: where to send them, and how to establish a start
// position (explicit, derived from a status endpoint, or neither — which
// StartJob will reject).
type seedJobOptions struct {
	controllerURL string
	statusURL     string
	startPosition *engine.StartPosition
}

func startSeedJob(ctx context.Context, coord *engine.Coordinator, seedFile string, opts seedJobOptions) error {
	if opts.controllerURL == "" {
		return fmt.Errorf("--controller-url is required with --seed-points")
	}
	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("read seed points: %w", err)
	}
	var points []any
	if err := json.Unmarshal(data, &points); err != nil {
		return fmt.Errorf("parse seed points: %w", err)
	}
	_, err = coord.StartJob(ctx, engine.StartJobRequest{
		ControllerURL: opts.controllerURL,
		StatusURL:     opts.statusURL,
		StartPosition: opts.startPosition,
		Points:        points,
	})
	return err
}
