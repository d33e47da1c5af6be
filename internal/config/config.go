// Package config provides the configuration schema, loader, and backend
// registry for the voxd dictation pipeline.
package config

import "time"

// LogLevel controls log verbosity for the voxd daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Feed        FeedConfig        `yaml:"feed"`
}

// ServerConfig holds network and logging settings for the voxd daemon's
// HTTP surface (metrics, health, result feed).
type ServerConfig struct {
	// ListenAddr is the TCP address the daemon listens on (e.g., ":8090").
	// Empty disables the HTTP surface entirely.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture format and buffering.
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the capture period in milliseconds. Defaults to 20.
	FrameMs int `yaml:"frame_ms"`

	// Device selects the capture device by case-insensitive name substring.
	// Empty uses the system default device.
	Device string `yaml:"device"`

	// RingCapacityMs sizes the capture ring in milliseconds of audio.
	// Defaults to 3000 (3 s), enough to tolerate segmenter scheduling
	// jitter before frames drop.
	RingCapacityMs int `yaml:"ring_capacity_ms"`
}

// FrameDuration returns the capture period as a duration.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// RingFrames returns the ring capacity in whole frames.
func (a AudioConfig) RingFrames() int {
	if a.FrameMs <= 0 {
		return 0
	}
	return a.RingCapacityMs / a.FrameMs
}

// VADConfig selects and tunes the voice-activity detector.
type VADConfig struct {
	// Backend selects the detector implementation: "energy" or "silero".
	// Defaults to "energy".
	Backend string `yaml:"backend"`

	// SpeechThreshold is the smoothed level above which a frame counts as
	// speech. For the energy backend this is normalised RMS in [0, 1].
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the level below which an in-speech run ends.
	// Must not exceed SpeechThreshold (hysteresis).
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// Window is the smoothing window length in frames.
	Window int `yaml:"window"`

	// ModelPath points to the Silero ONNX model file (silero backend only).
	ModelPath string `yaml:"model_path"`
}

// SegmenterConfig tunes the utterance state machine. All values are
// milliseconds of audio time.
type SegmenterConfig struct {
	PreRollMs      int `yaml:"pre_roll_ms"`
	HangoverMs     int `yaml:"hangover_ms"`
	MinUtteranceMs int `yaml:"min_utterance_ms"`
	MaxUtteranceMs int `yaml:"max_utterance_ms"`
	TailOverlapMs  int `yaml:"tail_overlap_ms"`

	// ResetMaxOnResume restarts the max-utterance budget of an utterance
	// left open across a pause. When false the budget spans the pause.
	ResetMaxOnResume bool `yaml:"reset_max_on_resume"`
}

// SchedulerConfig tunes inference dispatch and ordered delivery.
type SchedulerConfig struct {
	// Concurrency is the maximum number of simultaneous transcriber calls.
	Concurrency int `yaml:"concurrency"`

	// QueueDepth bounds the pending-job queue; overflow cancels the oldest
	// pending job.
	QueueDepth int `yaml:"queue_depth"`

	// ReorderTimeoutMs bounds how long one missing result may block
	// in-order delivery.
	ReorderTimeoutMs int `yaml:"reorder_timeout_ms"`

	// LatePolicy is "deliver" (hand late results on, flagged) or "drop"
	// (discard them after an error record).
	LatePolicy string `yaml:"late_policy"`
}

// TranscriberConfig selects and configures the speech-to-text backend.
type TranscriberConfig struct {
	// Backend selects the implementation: "whisper-server",
	// "whisper-native", or "openai". Defaults to "whisper-server".
	Backend string `yaml:"backend"`

	// ServerURL is the whisper-server endpoint (whisper-server backend).
	ServerURL string `yaml:"server_url"`

	// ModelPath is the GGML model file (whisper-native backend).
	ModelPath string `yaml:"model_path"`

	// Model names the remote model, e.g. "base.en" or "whisper-1".
	Model string `yaml:"model"`

	// Language is the BCP-47 language code for recognition.
	Language string `yaml:"language"`

	// APIKey authenticates against the OpenAI audio API (openai backend).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the OpenAI API endpoint.
	BaseURL string `yaml:"base_url"`

	// TimeoutMs bounds a single transcription request.
	TimeoutMs int `yaml:"timeout_ms"`
}

// PipelineConfig holds controller-level settings.
type PipelineConfig struct {
	// ShutdownTimeoutMs bounds how long Stop waits for in-flight inference
	// before abandoning it.
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
}

// FeedConfig controls the websocket result feed.
type FeedConfig struct {
	// Enabled mounts the /feed websocket endpoint on the HTTP surface.
	Enabled bool `yaml:"enabled"`

	// Partials forwards interim hypotheses to feed subscribers in addition
	// to final results.
	Partials bool `yaml:"partials"`
}

// ApplyDefaults fills zero-valued fields with working defaults. Called by
// the loader after decoding.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FrameMs == 0 {
		c.Audio.FrameMs = 20
	}
	if c.Audio.RingCapacityMs == 0 {
		c.Audio.RingCapacityMs = 3000
	}
	if c.VAD.Backend == "" {
		c.VAD.Backend = "energy"
	}
	if c.Segmenter.PreRollMs == 0 {
		c.Segmenter.PreRollMs = 200
	}
	if c.Segmenter.HangoverMs == 0 {
		c.Segmenter.HangoverMs = 500
	}
	if c.Segmenter.MinUtteranceMs == 0 {
		c.Segmenter.MinUtteranceMs = 300
	}
	if c.Segmenter.MaxUtteranceMs == 0 {
		c.Segmenter.MaxUtteranceMs = 15000
	}
	if c.Segmenter.TailOverlapMs == 0 {
		c.Segmenter.TailOverlapMs = 500
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 2
	}
	if c.Scheduler.QueueDepth == 0 {
		c.Scheduler.QueueDepth = 8
	}
	if c.Scheduler.ReorderTimeoutMs == 0 {
		c.Scheduler.ReorderTimeoutMs = 10000
	}
	if c.Scheduler.LatePolicy == "" {
		c.Scheduler.LatePolicy = "deliver"
	}
	if c.Transcriber.Backend == "" {
		c.Transcriber.Backend = "whisper-server"
	}
	if c.Transcriber.ServerURL == "" && c.Transcriber.Backend == "whisper-server" {
		c.Transcriber.ServerURL = "http://localhost:8080"
	}
	if c.Pipeline.ShutdownTimeoutMs == 0 {
		c.Pipeline.ShutdownTimeoutMs = 5000
	}
}
