package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/voxd-io/voxd/internal/config"
	"github.com/voxd-io/voxd/pkg/transcriber"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty) error = %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameMs != 20 {
		t.Errorf("Audio.FrameMs = %d, want 20", cfg.Audio.FrameMs)
	}
	if cfg.VAD.Backend != "energy" {
		t.Errorf("VAD.Backend = %q, want energy", cfg.VAD.Backend)
	}
	if cfg.Transcriber.Backend != "whisper-server" {
		t.Errorf("Transcriber.Backend = %q, want whisper-server", cfg.Transcriber.Backend)
	}
	if cfg.Scheduler.LatePolicy != "deliver" {
		t.Errorf("Scheduler.LatePolicy = %q, want deliver", cfg.Scheduler.LatePolicy)
	}
	if got := cfg.Audio.RingFrames(); got != 150 {
		t.Errorf("Audio.RingFrames() = %d, want 150", got)
	}
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8090"
  log_level: debug
audio:
  sample_rate: 16000
  frame_ms: 20
  device: "USB Microphone"
  ring_capacity_ms: 5000
vad:
  backend: energy
  speech_threshold: 0.02
  silence_threshold: 0.01
  window: 5
segmenter:
  pre_roll_ms: 200
  hangover_ms: 400
  min_utterance_ms: 300
  max_utterance_ms: 12000
  tail_overlap_ms: 400
  reset_max_on_resume: true
scheduler:
  concurrency: 2
  queue_depth: 4
  reorder_timeout_ms: 8000
  late_policy: drop
transcriber:
  backend: whisper-server
  server_url: "http://localhost:8080"
  model: base.en
  language: en
pipeline:
  shutdown_timeout_ms: 3000
feed:
  enabled: true
  partials: true
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Audio.Device != "USB Microphone" {
		t.Errorf("Audio.Device = %q", cfg.Audio.Device)
	}
	if !cfg.Segmenter.ResetMaxOnResume {
		t.Error("Segmenter.ResetMaxOnResume = false, want true")
	}
	if cfg.Scheduler.LatePolicy != "drop" {
		t.Errorf("Scheduler.LatePolicy = %q, want drop", cfg.Scheduler.LatePolicy)
	}
	if !cfg.Feed.Partials {
		t.Error("Feed.Partials = false, want true")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  sample_rate: 16000
  bogus_knob: 7
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidateBadLatePolicy(t *testing.T) {
	t.Parallel()
	yaml := `
scheduler:
  late_policy: maybe
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for bad late policy, got nil")
	}
	if !strings.Contains(err.Error(), "late_policy") {
		t.Errorf("error should mention late_policy, got: %v", err)
	}
}

func TestValidateUnknownBackends(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  backend: crystal-ball
transcriber:
  backend: telepathy
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown backends, got nil")
	}
	if !strings.Contains(err.Error(), "crystal-ball") || !strings.Contains(err.Error(), "telepathy") {
		t.Errorf("error should mention both unknown backends, got: %v", err)
	}
}

func TestValidateSileroRequiresModelPath(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  backend: silero
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for silero without model_path, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidateOpenAIRequiresAPIKey(t *testing.T) {
	t.Parallel()
	yaml := `
transcriber:
  backend: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for openai backend without api_key, got nil")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error should mention api_key, got: %v", err)
	}
}

func TestValidateFeedRequiresListenAddr(t *testing.T) {
	t.Parallel()
	yaml := `
feed:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for feed without listen_addr, got nil")
	}
	if !strings.Contains(err.Error(), "listen_addr") {
		t.Errorf("error should mention listen_addr, got: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/voxd.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, transcriber.Request) (transcriber.Result, error) {
	return transcriber.Result{}, nil
}
func (stubTranscriber) Close() error { return nil }

func TestRegistryRoundTrip(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	_, err := r.CreateTranscriber(config.TranscriberConfig{Backend: "whisper-server"})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateTranscriber on empty registry: error = %v, want ErrBackendNotRegistered", err)
	}
	_, err = r.CreateDetector(config.VADConfig{Backend: "energy"}, config.AudioConfig{})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateDetector on empty registry: error = %v, want ErrBackendNotRegistered", err)
	}

	r.RegisterTranscriber("whisper-server", func(config.TranscriberConfig) (transcriber.Transcriber, error) {
		return stubTranscriber{}, nil
	})
	tr, err := r.CreateTranscriber(config.TranscriberConfig{Backend: "whisper-server"})
	if err != nil {
		t.Fatalf("CreateTranscriber() error = %v", err)
	}
	if tr == nil {
		t.Fatal("CreateTranscriber() returned nil transcriber")
	}
}
