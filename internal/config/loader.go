package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known backend names per pipeline stage. Used by
// [Validate] to reject unrecognised backends early.
var ValidBackendNames = map[string][]string{
	"vad":         {"energy", "silero"},
	"transcriber": {"whisper-server", "whisper-native", "openai"},
}

// validLatePolicies are the accepted scheduler.late_policy values.
var validLatePolicies = []string{"deliver", "drop"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}
	if cfg.Audio.RingCapacityMs < cfg.Audio.FrameMs {
		errs = append(errs, fmt.Errorf("audio.ring_capacity_ms %d must hold at least one frame of %d ms", cfg.Audio.RingCapacityMs, cfg.Audio.FrameMs))
	}

	// VAD
	if !slices.Contains(ValidBackendNames["vad"], cfg.VAD.Backend) {
		errs = append(errs, fmt.Errorf("vad.backend %q is unknown; valid values: %v", cfg.VAD.Backend, ValidBackendNames["vad"]))
	}
	if cfg.VAD.Backend == "silero" && cfg.VAD.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required for the silero backend"))
	}
	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SilenceThreshold < 0 {
		errs = append(errs, errors.New("vad thresholds must not be negative"))
	}
	if cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold && cfg.VAD.SpeechThreshold != 0 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v must not exceed vad.speech_threshold %v", cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}

	// Segmenter
	if cfg.Segmenter.HangoverMs <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.hangover_ms %d must be positive", cfg.Segmenter.HangoverMs))
	}
	if cfg.Segmenter.MaxUtteranceMs <= cfg.Segmenter.MinUtteranceMs {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance_ms %d must exceed segmenter.min_utterance_ms %d", cfg.Segmenter.MaxUtteranceMs, cfg.Segmenter.MinUtteranceMs))
	}
	if cfg.Segmenter.TailOverlapMs < 0 || cfg.Segmenter.TailOverlapMs >= cfg.Segmenter.MaxUtteranceMs {
		errs = append(errs, fmt.Errorf("segmenter.tail_overlap_ms %d must be in [0, max_utterance_ms)", cfg.Segmenter.TailOverlapMs))
	}

	// Scheduler
	if cfg.Scheduler.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("scheduler.concurrency %d must be at least 1", cfg.Scheduler.Concurrency))
	}
	if cfg.Scheduler.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("scheduler.queue_depth %d must be at least 1", cfg.Scheduler.QueueDepth))
	}
	if cfg.Scheduler.ReorderTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.reorder_timeout_ms %d must be positive", cfg.Scheduler.ReorderTimeoutMs))
	}
	if !slices.Contains(validLatePolicies, cfg.Scheduler.LatePolicy) {
		errs = append(errs, fmt.Errorf("scheduler.late_policy %q is invalid; valid values: %v", cfg.Scheduler.LatePolicy, validLatePolicies))
	}

	// Transcriber
	if !slices.Contains(ValidBackendNames["transcriber"], cfg.Transcriber.Backend) {
		errs = append(errs, fmt.Errorf("transcriber.backend %q is unknown; valid values: %v", cfg.Transcriber.Backend, ValidBackendNames["transcriber"]))
	}
	switch cfg.Transcriber.Backend {
	case "whisper-server":
		if cfg.Transcriber.ServerURL == "" {
			errs = append(errs, errors.New("transcriber.server_url is required for the whisper-server backend"))
		}
	case "whisper-native":
		if cfg.Transcriber.ModelPath == "" {
			errs = append(errs, errors.New("transcriber.model_path is required for the whisper-native backend"))
		}
	case "openai":
		if cfg.Transcriber.APIKey == "" {
			errs = append(errs, errors.New("transcriber.api_key is required for the openai backend"))
		}
	}

	// Pipeline
	if cfg.Pipeline.ShutdownTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.shutdown_timeout_ms %d must be positive", cfg.Pipeline.ShutdownTimeoutMs))
	}

	// Feed
	if cfg.Feed.Enabled && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("feed.enabled requires server.listen_addr"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %w", errors.Join(errs...))
	}
	return nil
}
