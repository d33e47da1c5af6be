//go:build !whisper

package whisper

import (
	"errors"

	"github.com/voxd-io/voxd/pkg/transcriber"
)

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(language *string)

// WithNativeLanguage sets the default BCP-47 language code for transcription.
func WithNativeLanguage(lang string) NativeOption {
	return func(language *string) { *language = lang }
}

// NewNative reports that native whisper.cpp support was not compiled in.
// Rebuild with -tags whisper and the whisper.cpp static library available to
// enable it.
func NewNative(modelPath string, opts ...NativeOption) (transcriber.Transcriber, error) {
	return nil, errors.New("whisper: native backend not compiled in, rebuild with -tags whisper")
}
