package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kalishhhh/wispr-flow-clone/internal/audio"
	"github.com/kalishhhh/wispr-flow-clone/internal/backend"
	"github.com/kalishhhh/wispr-flow-clone/internal/capture"
	"github.com/kalishhhh/wispr-flow-clone/internal/config"
	"github.com/kalishhhh/wispr-flow-clone/internal/metrics"
	"github.com/kalishhhh/wispr-flow-clone/internal/server"
	"github.com/kalishhhh/wispr-flow-clone/internal/session"
	"github.com/kalishhhh/wispr-flow-clone/internal/transcript"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "wispr-flow-clone"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file with secrets")
	autoStart := flag.Bool("start", false, "Start a session immediately")
	flag.Parse()

	// A missing .env is fine; the key may come from the environment.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("audio_source", cfg.Audio.Source),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize()),
		slog.Duration("frame_duration", cfg.Audio.GetFrameDuration()),
		slog.Duration("cooldown", cfg.Session.GetCooldownDuration()),
		slog.String("backend_url", cfg.Backend.URL),
		slog.Bool("api_key_set", cfg.Backend.APIKey != ""),
		slog.Bool("recording", cfg.Recording.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.Backend.APIKey == "" {
		logger.Warn("No transcription API key configured, sessions will fail to start",
			slog.String("env", config.APIKeyEnv))
	}

	if err := run(cfg, logger, *autoStart); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger, autoStart bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	dg := backend.NewDeepgram(backend.Config{
		URL:               cfg.Backend.URL,
		APIKey:            cfg.Backend.APIKey,
		SampleRate:        cfg.Audio.SampleRate,
		Model:             cfg.Backend.Model,
		Language:          cfg.Backend.Language,
		Punctuate:         cfg.Backend.Punctuate,
		InterimResults:    cfg.Backend.InterimResults,
		HandshakeTimeout:  cfg.Backend.GetStartTimeoutDuration(),
		WriteTimeout:      cfg.Backend.GetSendTimeoutDuration(),
		KeepAliveInterval: cfg.Backend.GetKeepAliveDuration(),
		CloseGrace:        cfg.Backend.GetCloseGraceDuration(),
		EventBuffer:       cfg.Backend.EventBuffer,
	}, logger.With(slog.String("component", "backend")), appMetrics)

	reconciler := transcript.NewReconciler(logger.With(slog.String("component", "transcript")), appMetrics)

	opts := []session.Option{session.WithObserver(appMetrics)}
	if cfg.Recording.Enabled {
		recorder := audio.NewRecorder(cfg.Recording.Dir, cfg.Audio.SampleRate, logger.With(slog.String("component", "recorder")))
		opts = append(opts, session.WithRecorder(recorder))
		logger.Info("Session recording enabled", slog.String("dir", recorder.Dir()))
	}

	controller := session.New(session.Config{
		FrameSize:    cfg.Audio.FrameSize(),
		QueueFrames:  cfg.Audio.QueueFrames,
		Cooldown:     cfg.Session.GetCooldownDuration(),
		StartTimeout: cfg.Backend.GetStartTimeoutDuration(),
		StopTimeout:  cfg.Backend.GetStopTimeoutDuration(),
		SendTimeout:  cfg.Backend.GetSendTimeoutDuration(),
		FlushOnStop:  cfg.Audio.FlushOnStop,
	}, source, dg, logger.With(slog.String("component", "session")), opts...)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger.With(slog.String("component", "http")),
			cfg, controller, reconciler, dg, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	reconciled := startReconciler(reconciler, dg.Events())

	g, gctx := errgroup.WithContext(ctx)

	if autoStart {
		g.Go(func() error {
			if err := controller.Start(gctx); err != nil && !errors.Is(err, session.ErrAborted) {
				logger.Error("Initial session start failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	logger.Info("Service started successfully, waiting for signals...")

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		shutdown(shutdownCtx, logger, httpServer, controller, dg, reconciled)

		status := controller.Status()
		display := reconciler.Snapshot()
		logger.Info("Final session statistics",
			slog.Uint64("sessions", status.Sessions),
			slog.Uint64("failed_starts", status.FailedStarts),
			slog.Uint64("frames_sent", status.Frames.Sent),
			slog.Int("utterances", len(display.FinalizedLog)),
		)
		if !display.Empty() {
			fmt.Println(reconciler.Text())
		}
		return nil
	})

	return g.Wait()
}

// startReconciler applies backend events until the events channel is
// closed. It does not watch the signal context: results the backend flushes
// while closing must still reach the transcript.
func startReconciler(r *transcript.Reconciler, events <-chan []byte) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background(), events)
	}()
	return done
}

// shutdown stops the HTTP server, the session controller and the backend in
// that order, then waits for the reconciler to apply the backend's final
// results. Closing the backend closes its events channel, which ends the
// reconciler.
func shutdown(ctx context.Context, logger *slog.Logger, httpServer *server.HTTPServer, controller, backend io.Closer, reconciled <-chan struct{}) {
	if httpServer != nil {
		if err := httpServer.Stop(ctx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := controller.Close(); err != nil {
		logger.Error("Error closing session controller", slog.String("error", err.Error()))
	}
	if err := backend.Close(); err != nil {
		logger.Error("Error closing backend", slog.String("error", err.Error()))
	}

	select {
	case <-reconciled:
	case <-ctx.Done():
		logger.Warn("Transcript not drained before shutdown deadline")
	}
}

// newSource builds the configured capture device.
func newSource(cfg *config.Config, logger *slog.Logger) (capture.Source, error) {
	logger = logger.With(slog.String("component", "capture"))

	switch cfg.Audio.Source {
	case "file":
		data, err := os.ReadFile(cfg.Audio.InputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		info, err := audio.GetWAVInfo(data)
		if err != nil {
			return nil, fmt.Errorf("invalid input file %s: %w", cfg.Audio.InputFile, err)
		}
		if int(info.SampleRate) != cfg.Audio.SampleRate {
			return nil, fmt.Errorf("input file is %d Hz, audio.sample_rate is %d", info.SampleRate, cfg.Audio.SampleRate)
		}
		logger.Info("Replaying audio file",
			slog.String("path", cfg.Audio.InputFile),
			slog.Float64("duration_seconds", info.Duration),
			slog.Bool("loop", cfg.Audio.Loop))
		return capture.NewFile(capture.FileConfig{
			Path:            cfg.Audio.InputFile,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
			Loop:            cfg.Audio.Loop,
		}, logger), nil
	default:
		return capture.NewPortAudio(capture.PortAudioConfig{
			SampleRate:      cfg.Audio.SampleRate,
			FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		}, logger), nil
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
