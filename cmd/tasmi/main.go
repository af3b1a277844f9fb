// Command tasmi is the main entry point for the Tasmi recitation server.
//
// Usage:
//
//	tasmi [-config config.yaml]                 serve
//	tasmi seed [-config config.yaml] [-sample] files...   import fixture files
//	tasmi check [-config config.yaml] -surah 1 -ayah 1 -word 1 clip.wav
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/tasmi/internal/app"
	"github.com/MrWong99/tasmi/internal/config"
	"github.com/MrWong99/tasmi/internal/observe"
	"github.com/MrWong99/tasmi/internal/results"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "seed":
			os.Exit(runSeed(os.Args[2:]))
		case "check":
			os.Exit(runCheck(os.Args[2:]))
		}
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("tasmi starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: cfg.Server.Version,
		Environment:    cfg.Telemetry.Environment,
		StdoutTraces:   cfg.Telemetry.StdoutTraces,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithCloser(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tel.Shutdown(ctx)
		}),
	}
	if !cfg.Telemetry.DisableMetricsEndpoint {
		opts = append(opts, app.WithMetricsHandler(tel.MetricsHandler))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		closeProviders(providers)
		return 1
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
			if err := application.ApplyConfig(old, next); err != nil {
				slog.Warn("config reload rejected", "err", err)
			}
		}, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig loads path and prints a friendly message on failure.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tasmi: config file %q not found; copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "tasmi: %v\n", err)
		}
		return nil, err
	}
	return cfg, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Tasmi: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	for _, fb := range cfg.Providers.STT.Fallbacks {
		printProvider("STT fallback", fb.Name, fb.Model)
	}
	printProvider("VAD", cfg.VAD.Engine, "")
	printProvider("Words", string(cfg.Words.Backend), "")
	if cfg.Words.Cache != nil {
		printProvider("Word cache", "redis", cfg.Words.Cache.Addr)
	}
	if cfg.Results != nil {
		subject := cfg.Results.Subject
		if subject == "" {
			subject = results.DefaultSubject
		}
		printProvider("Results", "nats", subject)
	}
	attempts := "unlimited"
	if n := cfg.Session.Attempts(); n > 0 {
		attempts = fmt.Sprint(n)
	}
	fmt.Printf("║  Max attempts    : %-19s ║\n", attempts)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
