// Command voxd is the voxd dictation daemon: it captures microphone audio,
// segments speech, transcribes it, and streams ordered transcripts to
// standard output and to WebSocket feed subscribers.
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

	"github.com/voxd-io/voxd/internal/config"
	"github.com/voxd-io/voxd/internal/feed"
	"github.com/voxd-io/voxd/internal/health"
	"github.com/voxd-io/voxd/internal/observe"
	"github.com/voxd-io/voxd/internal/pipeline"
	"github.com/voxd-io/voxd/internal/schedule"
	"github.com/voxd-io/voxd/internal/segment"
	"github.com/voxd-io/voxd/pkg/capture"
	"github.com/voxd-io/voxd/pkg/transcriber"
	"github.com/voxd-io/voxd/pkg/transcriber/openaistt"
	"github.com/voxd-io/voxd/pkg/transcriber/whisper"
	"github.com/voxd-io/voxd/pkg/vad"
)

// version is stamped at build time via -ldflags.
var version = "dev"

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
			fmt.Fprintf(os.Stderr, "voxd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"vad", cfg.VAD.Backend,
		"transcriber", cfg.Transcriber.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxd",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	detector, err := reg.CreateDetector(cfg.VAD, cfg.Audio)
	if err != nil {
		slog.Error("failed to build VAD detector", "err", err)
		return 1
	}
	stt, err := reg.CreateTranscriber(cfg.Transcriber)
	if err != nil {
		slog.Error("failed to build transcriber", "err", err)
		return 1
	}

	// ── Result sinks ──────────────────────────────────────────────────────────
	fatal := make(chan error, 1)
	var hub *feed.Hub
	sink := pipeline.Sink(&consoleSink{fatal: fatal})
	var partials pipeline.PartialSink
	if cfg.Feed.Enabled {
		var hubOpts []feed.HubOption
		if cfg.Feed.Partials {
			hubOpts = append(hubOpts, feed.WithPartials())
		}
		hub = feed.NewHub(hubOpts...)
		sink = &fanoutSink{sinks: []pipeline.Sink{sink, hub}}
		if cfg.Feed.Partials {
			partials = hub
		}
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	ctrl, err := pipeline.New(pipelineConfig(cfg), pipeline.Deps{
		NewSource: func(onFrame capture.FrameFunc, onError capture.ErrorFunc) (capture.Source, error) {
			return capture.NewMicrophone(capture.Config{
				SampleRate:    cfg.Audio.SampleRate,
				FrameDuration: cfg.Audio.FrameDuration(),
				Device:        cfg.Audio.Device,
			}, onFrame, onError)
		},
		Detector:    detector,
		Transcriber: stt,
		Sink:        sink,
		Partials:    partials,
	})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}
	if err := ctrl.Start(ctx); err != nil {
		slog.Error("failed to start pipeline", "err", err)
		return 1
	}

	// ── HTTP surface (health, metrics, feed, control) ─────────────────────────
	srvErr := make(chan error, 1)
	if cfg.Server.ListenAddr != "" {
		checkers := []health.Checker{health.Pipeline(ctrl)}
		if cfg.Transcriber.Backend == "whisper-server" {
			checkers = append(checkers, health.WhisperServer(cfg.Transcriber.ServerURL, nil))
		}
		srv := feed.NewServer(cfg.Server.ListenAddr, hubOrDiscard(hub), ctrl, observe.DefaultMetrics(), checkers...)
		go func() { srvErr <- srv.Run(ctx) }()
	}

	slog.Info("voxd ready — press Ctrl+C to shut down")

	// ── Wait for shutdown ─────────────────────────────────────────────────────
	exit := 0
	select {
	case <-ctx.Done():
	case err := <-fatal:
		slog.Error("pipeline failed", "err", err)
		exit = 1
	case err := <-srvErr:
		if err != nil {
			slog.Error("http server error", "err", err)
			exit = 1
		}
	}

	slog.Info("shutting down…")
	stop()
	if err := ctrl.Stop(); err != nil {
		slog.Warn("pipeline stop error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the compiled-in VAD and transcriber factories
// into reg. Native backends (whisper-native, silero) are only functional when
// built with their respective tags; their stubs return descriptive errors.
func registerBuiltinBackends(reg *config.Registry) {
	// ── Transcribers ──────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper-server", func(entry config.TranscriberConfig) (transcriber.Transcriber, error) {
		var opts []whisper.ServerOption
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if entry.TimeoutMs > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{
				Timeout: time.Duration(entry.TimeoutMs) * time.Millisecond,
			}))
		}
		return whisper.NewServer(entry.ServerURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.TranscriberConfig) (transcriber.Transcriber, error) {
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		return whisper.NewNative(entry.ModelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.TranscriberConfig) (transcriber.Transcriber, error) {
		var opts []openaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.TimeoutMs > 0 {
			opts = append(opts, openaistt.WithTimeout(time.Duration(entry.TimeoutMs)*time.Millisecond))
		}
		return openaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── VAD detectors ─────────────────────────────────────────────────────────

	reg.RegisterDetector("energy", func(vadCfg config.VADConfig, _ config.AudioConfig) (vad.Detector, error) {
		return vad.NewEnergy(vad.EnergyConfig{
			SpeechThreshold:  vadCfg.SpeechThreshold,
			SilenceThreshold: vadCfg.SilenceThreshold,
			Window:           vadCfg.Window,
		})
	})

	reg.RegisterDetector("silero", func(vadCfg config.VADConfig, audioCfg config.AudioConfig) (vad.Detector, error) {
		return vad.NewSilero(vad.SileroConfig{
			ModelPath:  vadCfg.ModelPath,
			SampleRate: audioCfg.SampleRate,
			Threshold:  float32(vadCfg.SpeechThreshold),
		})
	})
}

// pipelineConfig maps the YAML configuration onto the controller's config.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		RingCapacity:    cfg.Audio.RingFrames(),
		ShutdownTimeout: time.Duration(cfg.Pipeline.ShutdownTimeoutMs) * time.Millisecond,
		Segmenter: segment.Config{
			SampleRate:       cfg.Audio.SampleRate,
			PreRoll:          time.Duration(cfg.Segmenter.PreRollMs) * time.Millisecond,
			Hangover:         time.Duration(cfg.Segmenter.HangoverMs) * time.Millisecond,
			MinUtterance:     time.Duration(cfg.Segmenter.MinUtteranceMs) * time.Millisecond,
			MaxUtterance:     time.Duration(cfg.Segmenter.MaxUtteranceMs) * time.Millisecond,
			TailOverlap:      time.Duration(cfg.Segmenter.TailOverlapMs) * time.Millisecond,
			ResetMaxOnResume: cfg.Segmenter.ResetMaxOnResume,
		},
		Scheduler: schedule.Config{
			Concurrency:    cfg.Scheduler.Concurrency,
			QueueDepth:     cfg.Scheduler.QueueDepth,
			ReorderTimeout: time.Duration(cfg.Scheduler.ReorderTimeoutMs) * time.Millisecond,
			LatePolicy:     schedule.LatePolicy(cfg.Scheduler.LatePolicy),
			Language:       cfg.Transcriber.Language,
		},
	}
}

// hubOrDiscard returns hub, or an empty hub when the feed is disabled so the
// HTTP surface always has a /feed handler to mount.
func hubOrDiscard(hub *feed.Hub) *feed.Hub {
	if hub != nil {
		return hub
	}
	return feed.NewHub()
}

// ── Result sinks ──────────────────────────────────────────────────────────────

// consoleSink writes final transcripts to standard output, one per line, and
// reports a pipeline-fatal stop through the fatal channel.
type consoleSink struct {
	fatal chan<- error
}

func (s *consoleSink) Deliver(r schedule.Result) {
	if r.Err != nil {
		slog.Warn("utterance failed", "utterance_id", r.UtteranceID, "err", r.Err)
		return
	}
	if r.Late {
		slog.Debug("late result", "utterance_id", r.UtteranceID, "latency", r.Latency)
	}
	fmt.Println(r.Text)
}

func (s *consoleSink) PipelineStopped(err error) {
	if err != nil {
		select {
		case s.fatal <- err:
		default:
		}
	}
}

// fanoutSink forwards every sink call to each wrapped sink, preserving the
// single-goroutine delivery contract.
type fanoutSink struct {
	sinks []pipeline.Sink
}

func (f *fanoutSink) Deliver(r schedule.Result) {
	for _, s := range f.sinks {
		s.Deliver(r)
	}
}

func (f *fanoutSink) PipelineStopped(err error) {
	for _, s := range f.sinks {
		s.PipelineStopped(err)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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
