// Command llmrelay wires the configured core (C1-C9) behind an HTTP
// listener and runs it until SIGINT/SIGTERM, draining active streams before
// exit per spec §5's graceful-shutdown rule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/llmrelay/llmrelay/internal/config"
	"github.com/llmrelay/llmrelay/internal/ewma"
	"github.com/llmrelay/llmrelay/internal/httpserver"
	"github.com/llmrelay/llmrelay/internal/orchestrator"
	"github.com/llmrelay/llmrelay/internal/ratelimit"
	"github.com/llmrelay/llmrelay/internal/transform"
	"github.com/llmrelay/llmrelay/internal/upstream"
	"github.com/llmrelay/llmrelay/pkg/telemetry"
)

// setupTracing registers a global TracerProvider exporting spans via OTLP/
// HTTP to otlpEndpoint, and returns a shutdown func to flush on exit. If
// otlpEndpoint is empty, tracing stays disabled (telemetry.GetTracer's
// default no-op path) and the returned shutdown func is a no-op.
func setupTracing(ctx context.Context, otlpEndpoint string) (*telemetry.Settings, func(context.Context) error, error) {
	if otlpEndpoint == "" {
		return telemetry.DefaultSettings(), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otlpEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return telemetry.DefaultSettings().WithEnabled(true), provider.Shutdown, nil
}

func main() {
	configPath := flag.String("config", "config.json", "path to the router configuration file")
	maxStreams := flag.Int("max-streams", 0, "maximum concurrent inbound streams (0 = unlimited)")
	ingressRPS := flag.Float64("ingress-rps", 0, "inbound request rate limit (0 = unlimited)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "time to wait for active streams to drain on shutdown")
	otlpEndpoint := flag.String("otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP/HTTP collector endpoint; empty disables tracing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	telemetrySettings, shutdownTracing, err := setupTracing(context.Background(), *otlpEndpoint)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	ewmaTracker := ewma.New()
	rlTracker := ratelimit.New()
	registry := transform.NewRegistry()
	upstreamClient := upstream.New(nil)
	backoff := orchestrator.NewDynamicBackoff(ewmaTracker)

	orch := orchestrator.NewWithTelemetry(cfg, ewmaTracker, rlTracker, registry, upstreamClient, backoff, telemetrySettings)

	srv := httpserver.New(cfg, orch, httpserver.Settings{
		MaxStreams:               *maxStreams,
		IngressRequestsPerSecond: *ingressRPS,
		IngressBurst:             int(*ingressRPS) + 1,
		Telemetry:                telemetrySettings,
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.Router(),
	}

	go func() {
		slog.Info("listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server exited unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received, draining active streams", "timeout", *shutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("server shutdown did not complete cleanly", "error", err)
	}

	drainDeadline := time.Now().Add(*shutdownTimeout)
	for orch.ActiveStreams() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if remaining := orch.ActiveStreams(); remaining > 0 {
		slog.Warn("shutdown timeout reached with streams still active, aborting", "remaining", remaining)
	}
}
