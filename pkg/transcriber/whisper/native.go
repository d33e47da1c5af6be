//go:build whisper

// This file contains the Native implementation backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxd-io/voxd/pkg/audio"
	"github.com/voxd-io/voxd/pkg/transcriber"
)

// Compile-time assertion that Native satisfies transcriber.Transcriber.
var _ transcriber.Transcriber = (*Native)(nil)

// Native implements transcriber.Transcriber using the whisper.cpp Go
// bindings, eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared; each Transcribe call creates its own whisper context so
// concurrent calls do not interfere.
type Native struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the default BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative creates a Native transcriber that loads the whisper.cpp model
// from the given file path. The caller must call Close when the transcriber
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Transcribe runs batch inference over the utterance.
func (n *Native) Transcribe(ctx context.Context, req transcriber.Request) (transcriber.Result, error) {
	if err := ctx.Err(); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: context cancelled: %w", err)
	}
	if len(req.PCM) == 0 {
		return transcriber.Result{}, errors.New("whisper: empty audio")
	}

	lang := req.Language
	if lang == "" {
		lang = n.language
	}
	samples := audio.PCMToFloat32(req.PCM)

	wctx, err := n.model.NewContext()
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		if req.OnPartial != nil {
			req.OnPartial(strings.Join(parts, " "))
		}
	}

	if err := ctx.Err(); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: context cancelled: %w", err)
	}
	return transcriber.Result{Text: strings.Join(parts, " "), Language: lang}, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}
