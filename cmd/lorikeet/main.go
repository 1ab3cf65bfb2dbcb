// Command lorikeet runs the real-time transcription server.
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

	"github.com/MrWong99/lorikeet/internal/config"
	"github.com/MrWong99/lorikeet/internal/observe"
	"github.com/MrWong99/lorikeet/internal/server"
	"github.com/MrWong99/lorikeet/internal/session"
	"github.com/MrWong99/lorikeet/pkg/asr"
	asrmock "github.com/MrWong99/lorikeet/pkg/asr/mock"
	"github.com/MrWong99/lorikeet/pkg/asr/whisper"
	"github.com/MrWong99/lorikeet/pkg/vad"
	"github.com/MrWong99/lorikeet/pkg/vad/silero"
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
			fmt.Fprintf(os.Stderr, "lorikeet: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lorikeet: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("lorikeet starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.Setup(ctx, observe.Telemetry{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg, cfg)

	// ── Session manager ───────────────────────────────────────────────────────
	manager, err := session.NewManager(cfg, reg, nil)
	if err != nil {
		slog.Error("failed to build engines", "err", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil {
			slog.Warn("manager shutdown", "err", err)
		}
	}()

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.VADChanged || d.MergerChanged {
			slog.Info("vad/merger settings updated; new sessions pick them up",
				"vad", d.VADChanged, "merger", d.MergerChanged)
		}
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Serve ─────────────────────────────────────────────────────────────────
	slog.Info("server ready — press Ctrl+C to shut down",
		"asr_engine", cfg.ASR.Engine,
		"vad_engine", cfg.VAD.Neural.Engine,
		"sample_rate", cfg.Audio.SampleRate,
	)

	if err := server.New(cfg, manager, nil).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// registerBuiltinEngines wires the engine factories that ship with lorikeet.
// The merger frame stride doubles as the whisper token-to-frame mapping, so
// the recognizer factory closes over the full config.
func registerBuiltinEngines(reg *config.Registry, cfg *config.Config) {
	reg.RegisterRecognizer("whisper", func(c config.ASRConfig) (asr.Recognizer, error) {
		opts := []whisper.Option{
			whisper.WithFrameStride(time.Duration(cfg.Merger.FrameStrideMs) * time.Millisecond),
		}
		if c.Language != "" {
			opts = append(opts, whisper.WithLanguage(c.Language))
		}
		return whisper.New(c.ModelPath, opts...)
	})

	// mock produces no tokens; useful for exercising the pipeline without a
	// model file.
	reg.RegisterRecognizer("mock", func(config.ASRConfig) (asr.Recognizer, error) {
		return &asrmock.Recognizer{}, nil
	})

	reg.RegisterClassifier("silero", func(c config.NeuralConfig, sampleRate int) (vad.ClassifierFactory, error) {
		return silero.Factory(silero.Config{
			ModelPath:  c.ModelPath,
			SampleRate: sampleRate,
			Threshold:  float32(c.Threshold),
		}), nil
	})
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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
