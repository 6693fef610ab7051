package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/captcha_resolver/internal/api"
	"github.com/dgnsrekt/captcha_resolver/internal/browser"
	"github.com/dgnsrekt/captcha_resolver/internal/config"
	"github.com/dgnsrekt/captcha_resolver/internal/events"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/dgnsrekt/captcha_resolver/internal/netutil"
	"github.com/dgnsrekt/captcha_resolver/internal/notify"
	"github.com/dgnsrekt/captcha_resolver/internal/resolver"
	"github.com/dgnsrekt/captcha_resolver/internal/storage"
	"github.com/dgnsrekt/captcha_resolver/internal/telemetry"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	serviceName = "captcha-resolver"
	version     = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load resolver config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("resolver config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"remote_cdp_url", cfg.RemoteCDPURL,
		"max_sessions", cfg.MaxSessions,
		"default_wait_seconds", cfg.DefaultWaitSeconds,
		"nav_timeout_ms", cfg.NavTimeoutMS,
		"results_dir", cfg.ResultsDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	markers, err := cfg.Markers()
	if err != nil {
		slog.Error("failed to load markers", "file", cfg.MarkersFile, "error", err)
		os.Exit(1)
	}

	if cfg.TraceStdout {
		tp, err := telemetry.NewTracerProvider(serviceName, version, os.Stdout)
		if err != nil {
			slog.Error("failed to start tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	launcher := browser.NewLauncher(browser.Config{
		BrowserPath:  cfg.BrowserPath,
		RemoteCDPURL: cfg.RemoteCDPURL,
		WindowSize:   cfg.WindowSize,
		IdleWindow:   cfg.NetworkIdle(),
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	engine := extract.NewEngine(launcher, extract.Options{
		NavigationTimeout: cfg.NavTimeout(),
		BodyTimeout:       cfg.BodyTimeout(),
		Markers:           markers,
	})

	opts := resolver.Options{
		MaxSessions:      cfg.MaxSessions,
		AdmissionTimeout: cfg.AdmissionTimeout(),
		DefaultWait:      cfg.DefaultWait(),
		BrowserMode:      "local",
		RemoteCDPURL:     cfg.RemoteCDPURL,
		Prober:           probeProduct,
	}
	broker := events.NewBroker()
	opts.Events = broker
	if launcher.Remote() {
		opts.BrowserMode = "remote"
	}

	var registry *storage.WriterRegistry
	if cfg.JournalEnabled {
		registry = storage.NewWriterRegistry(cfg.ResultsDir, "journal", 256, 100)
		opts.Journal = resolver.NewJournal(registry)
	}
	if cfg.ArchiveMarkup {
		opts.Archive = storage.NewResourceWriter(cfg.ResultsDir)
	}
	if cfg.WebhookURL != "" {
		opts.Notifier = notify.NewWebhook(cfg.WebhookURL, nil)
	}

	svc := resolver.NewService(engine, opts)
	h := api.NewServer(svc, api.Options{
		Version:        version,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Events:         broker,
	})

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("resolver listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("resolver server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// In-flight extractions can run for the full settle wait plus navigation.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.NavTimeout()+cfg.DefaultWait()+10*time.Second)
	defer cancel()
	// Event streams never end on their own; closing the broker ends them and
	// turns away new streams until the listener stops.
	broker.Close()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("resolver shutdown failed", "error", err)
	}
	svc.Close()
	if registry != nil {
		if err := registry.Close(); err != nil {
			slog.Error("journal close failed", "error", err)
		}
	}
}

func probeProduct(ctx context.Context, endpoint string) (string, error) {
	v, err := browser.Probe(ctx, endpoint)
	if err != nil {
		return "", err
	}
	return v.Product, nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
