// Command voxrelay is the realtime speech translation relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxrelay/voxrelay/internal/app"
	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/internal/server"
	pollysynth "github.com/voxrelay/voxrelay/pkg/provider/synthesize/polly"
	awstranscribe "github.com/voxrelay/voxrelay/pkg/provider/transcribe/aws"
	awstranslate "github.com/voxrelay/voxrelay/pkg/provider/translate/aws"
	oaitranslate "github.com/voxrelay/voxrelay/pkg/provider/translate/openai"
	"github.com/voxrelay/voxrelay/pkg/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxrelay: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxrelay starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"metrics_addr", cfg.Server.MetricsAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxrelay",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	hub := transport.NewHub()
	providers, err := buildProviders(ctx, cfg, hub)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	go application.RunMaintenance(ctx, time.Minute)

	// ── Metrics endpoint (optional) ───────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsHandler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	// ── Realtime server ───────────────────────────────────────────────────────
	srv := server.New(application, hub, cfg.Server.ListenAddr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("realtime server shutdown error", "err", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the external AI services named in cfg and wires
// the WebSocket hub as the broadcast transport.
func buildProviders(ctx context.Context, cfg *config.Config, hub *transport.Hub) (*app.Providers, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Providers.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	ps := &app.Providers{
		Transcriber: awstranscribe.New(awsCfg),
		Synthesizer: pollysynth.New(awsCfg),
		Broadcaster: hub,
	}

	switch cfg.Providers.Translator {
	case config.TranslatorOpenAI:
		var opts []oaitranslate.Option
		if cfg.Providers.OpenAI.Model != "" {
			opts = append(opts, oaitranslate.WithModel(cfg.Providers.OpenAI.Model))
		}
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, oaitranslate.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		p, err := oaitranslate.New(cfg.Providers.OpenAI.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai translator: %w", err)
		}
		ps.Translator = p
		slog.Info("provider created", "kind", "translate", "name", "openai",
			"model", cfg.Providers.OpenAI.Model)
	default:
		ps.Translator = awstranslate.New(awsCfg)
		slog.Info("provider created", "kind", "translate", "name", "aws",
			"region", cfg.Providers.Region)
	}

	slog.Info("provider created", "kind", "transcribe", "name", "aws", "region", cfg.Providers.Region)
	slog.Info("provider created", "kind", "synthesize", "name", "polly", "region", cfg.Providers.Region)
	return ps, nil
}

// metricsHandler serves the Prometheus scrape endpoint fed by the OTel
// Prometheus exporter registered in observe.InitProvider.
func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
