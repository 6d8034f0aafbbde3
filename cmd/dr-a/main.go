// Command dr-a streams microphone audio to a live generative tutoring
// session: speech-gated capture upload, spoken replies, and an asynchronous
// transcript of both sides of the conversation.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Predictive-Systems-Inc/dr-a/internal/app"
	"github.com/Predictive-Systems-Inc/dr-a/internal/config"
	"github.com/Predictive-Systems-Inc/dr-a/internal/health"
	"github.com/Predictive-Systems-Inc/dr-a/internal/observe"
	"github.com/Predictive-Systems-Inc/dr-a/internal/playback"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture"
	"github.com/Predictive-Systems-Inc/dr-a/pkg/capture/rawpcm"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "-", `raw 16-bit mono PCM input: a file path, or "-" for stdin`)
	playOutPath := flag.String("play-out", "", "file to append model reply PCM to (empty discards replies)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dr-a: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dr-a: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust verbosity
	// without restarting.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("dr-a starting",
		"config", *configPath,
		"input", *inputPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dr-a"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Capture source and reply output ───────────────────────────────────────
	var source capture.Source
	if *inputPath == "-" {
		source = rawpcm.Stdin(cfg.Capture.SampleRate)
	} else {
		source = rawpcm.FromFile(*inputPath, cfg.Capture.SampleRate)
	}

	var output playback.Output = playback.NopOutput{}
	if *playOutPath != "" {
		f, err := os.Create(*playOutPath)
		if err != nil {
			slog.Error("failed to open reply output", "path", *playOutPath, "err", err)
			return 1
		}
		defer f.Close()
		output = playback.WriterOutput{W: f}
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg,
		app.WithSource(source),
		app.WithOutput(output),
		app.WithLogLevelVar(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Metrics and health endpoint ───────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())

		probes := []health.Probe{health.SessionProbe(application.Session())}
		if p, ok := application.Store().(health.Pinger); ok {
			probes = append(probes, health.StoreProbe(p))
		}
		health.New(probes...).Register(mux)

		srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			slog.Info("observability endpoint listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability endpoint error", "err", err)
			}
		}()
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(closeCtx)
		}()
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.Empty() {
			return
		}
		application.ApplyDiff(d)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("streaming — press Ctrl+C to stop")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
