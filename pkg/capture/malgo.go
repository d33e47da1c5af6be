package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voxd-io/voxd/pkg/audio"
)

// Compile-time assertion that Microphone satisfies Source.
var _ Source = (*Microphone)(nil)

// Microphone captures mono 16-bit PCM from a system input device via
// miniaudio (malgo). Frames are delivered from the device's data callback;
// the callback copies the period buffer and tags it with a sequence number
// and a stream-relative timestamp, nothing more.
type Microphone struct {
	cfg     Config
	onFrame FrameFunc
	onError ErrorFunc

	mu       sync.Mutex
	audioCtx *malgo.AllocatedContext
	device   *malgo.Device
	started  time.Time
	seq      uint64
	paused   bool
	closed   bool
	stopping bool
}

// NewMicrophone creates a microphone source. onFrame must not block;
// onError receives fatal device errors (e.g., the device vanished).
func NewMicrophone(cfg Config, onFrame FrameFunc, onError ErrorFunc) (*Microphone, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: sample rate %d must be positive", cfg.SampleRate)
	}
	if cfg.FrameDuration <= 0 {
		return nil, fmt.Errorf("capture: frame duration %v must be positive", cfg.FrameDuration)
	}
	if onFrame == nil {
		return nil, errors.New("capture: frame callback must not be nil")
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Microphone{cfg: cfg, onFrame: onFrame, onError: onError}, nil
}

// Start initialises the miniaudio context, resolves the configured device,
// and begins capture.
func (m *Microphone) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("capture: source is closed")
	}
	if m.device != nil {
		return errors.New("capture: source already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("capture: context already cancelled: %w", err)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("capture: init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = uint32(m.cfg.FrameDuration / time.Millisecond)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if m.cfg.Device != "" {
		id, name, err := findDevice(audioCtx, m.cfg.Device)
		if err != nil {
			_ = audioCtx.Uninit()
			audioCtx.Free()
			return err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
		slog.Info("capture device selected", "device", name)
	}

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: m.onData,
		Stop: m.onDeviceStop,
	})
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return fmt.Errorf("capture: init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return fmt.Errorf("capture: start capture device: %w", err)
	}

	m.audioCtx = audioCtx
	m.device = device
	m.started = time.Now()
	slog.Info("microphone capture started",
		"sample_rate", m.cfg.SampleRate,
		"frame_duration", m.cfg.FrameDuration,
	)
	return nil
}

// onData runs on the capture thread for every device period. It copies the
// PCM buffer (the device reuses its own) and hands the frame off.
func (m *Microphone) onData(_, inputSamples []byte, _ uint32) {
	pcm := make([]byte, len(inputSamples))
	copy(pcm, inputSamples)

	m.seq++
	m.onFrame(audio.AudioFrame{
		Data:       pcm,
		SampleRate: m.cfg.SampleRate,
		Seq:        m.seq,
		Timestamp:  time.Since(m.started),
	})
}

// onDeviceStop fires when the device stops. Intentional stops (Pause,
// Close) are flagged beforehand; anything else is a device failure.
func (m *Microphone) onDeviceStop() {
	m.mu.Lock()
	intentional := m.stopping || m.paused || m.closed
	m.mu.Unlock()
	if !intentional {
		m.onError(errors.New("capture: device stopped unexpectedly"))
	}
}

// Pause stops the device without releasing it.
func (m *Microphone) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.device == nil || m.paused {
		return nil
	}
	m.paused = true
	if err := m.device.Stop(); err != nil {
		return fmt.Errorf("capture: pause device: %w", err)
	}
	return nil
}

// Resume restarts a paused device.
func (m *Microphone) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.device == nil || !m.paused {
		return nil
	}
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("capture: resume device: %w", err)
	}
	m.paused = false
	return nil
}

// Close stops and releases the device and the audio context. Safe to call
// more than once.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.stopping = true
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.audioCtx != nil {
		err := m.audioCtx.Uninit()
		m.audioCtx.Free()
		m.audioCtx = nil
		if err != nil {
			return fmt.Errorf("capture: uninit audio context: %w", err)
		}
	}
	return nil
}

// findDevice resolves a capture device whose name contains the given
// substring (case-insensitive).
func findDevice(audioCtx *malgo.AllocatedContext, name string) (malgo.DeviceID, string, error) {
	infos, err := audioCtx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, "", fmt.Errorf("capture: enumerate devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), needle) {
			return info.ID, info.Name(), nil
		}
	}
	return malgo.DeviceID{}, "", fmt.Errorf("capture: no capture device matching %q", name)
}
