package vad

import (
	"encoding/binary"
	"testing"

	"github.com/voxd-io/voxd/pkg/audio"
)

// toneFrame builds a 20 ms 16 kHz frame of a constant-amplitude square wave.
func toneFrame(amplitude int16) audio.AudioFrame {
	const samples = 320
	data := make([]byte, samples*2)
	for i := range samples {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(v))
	}
	return audio.AudioFrame{Data: data, SampleRate: 16000}
}

func silenceFrame() audio.AudioFrame { return toneFrame(0) }
func speechFrame() audio.AudioFrame  { return toneFrame(8000) }

func TestEnergyConfigValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     EnergyConfig
		wantErr bool
	}{
		{"defaults", EnergyConfig{}, false},
		{"explicit valid", EnergyConfig{SpeechThreshold: 0.02, SilenceThreshold: 0.01, Window: 3}, false},
		{"speech threshold above 1", EnergyConfig{SpeechThreshold: 1.5, SilenceThreshold: 0.01, Window: 3}, true},
		{"silence above speech", EnergyConfig{SpeechThreshold: 0.01, SilenceThreshold: 0.02, Window: 3}, true},
		{"negative window", EnergyConfig{SpeechThreshold: 0.02, SilenceThreshold: 0.01, Window: -1}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewEnergy(tc.cfg)
			if tc.wantErr && err == nil {
				t.Fatal("want error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestEnergyWarmupIsSilence(t *testing.T) {
	t.Parallel()

	det, err := NewEnergy(EnergyConfig{Window: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Loud input during warmup must still classify as silence: the
	// smoothing window has insufficient history.
	for i := range 4 {
		dec, err := det.Classify(speechFrame())
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if dec.Speech {
			t.Fatalf("frame %d: want silence during warmup, got speech", i)
		}
	}

	dec, err := det.Classify(speechFrame())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Speech {
		t.Fatal("want speech after warmup, got silence")
	}
}

func TestEnergyHysteresis(t *testing.T) {
	t.Parallel()

	det, err := NewEnergy(EnergyConfig{
		SpeechThreshold:  0.1,
		SilenceThreshold: 0.05,
		Window:           1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Warmup.
	det.Classify(silenceFrame())

	// Well above the speech threshold: speech starts.
	dec, _ := det.Classify(toneFrame(8000))
	if !dec.Speech {
		t.Fatal("want speech for loud frame")
	}

	// Between the two thresholds: stays speech (hysteresis).
	dec, _ = det.Classify(toneFrame(2500))
	if !dec.Speech {
		t.Fatal("want speech to persist between thresholds")
	}

	// Below the silence threshold: speech ends.
	dec, _ = det.Classify(toneFrame(100))
	if dec.Speech {
		t.Fatal("want silence below silence threshold")
	}

	// Between the two thresholds again: stays silence.
	dec, _ = det.Classify(toneFrame(2500))
	if dec.Speech {
		t.Fatal("want silence to persist between thresholds")
	}
}

func TestEnergyDeterminism(t *testing.T) {
	t.Parallel()

	input := []audio.AudioFrame{
		silenceFrame(), speechFrame(), toneFrame(400), speechFrame(),
		silenceFrame(), silenceFrame(), toneFrame(12000), speechFrame(),
	}

	run := func() []Decision {
		det, err := NewEnergy(EnergyConfig{Window: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := make([]Decision, 0, len(input))
		for _, f := range input {
			dec, err := det.Classify(f)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out = append(out, dec)
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("frame %d: decisions differ between identical runs: %+v vs %+v",
				i, first[i], second[i])
		}
	}
}

func TestEnergyReset(t *testing.T) {
	t.Parallel()

	det, err := NewEnergy(EnergyConfig{Window: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range 4 {
		det.Classify(speechFrame())
	}
	det.Reset()

	// After reset the warmup rule applies again.
	dec, _ := det.Classify(speechFrame())
	if dec.Speech {
		t.Fatal("want silence during post-reset warmup, got speech")
	}
}

func TestEnergyConfidenceScale(t *testing.T) {
	t.Parallel()

	det, err := NewEnergy(EnergyConfig{Window: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	det.Classify(silenceFrame()) // warmup

	quiet, _ := det.Classify(toneFrame(50))
	loud, _ := det.Classify(toneFrame(20000))
	if quiet.Confidence >= loud.Confidence {
		t.Fatalf("want confidence to increase with energy: quiet %.3f, loud %.3f",
			quiet.Confidence, loud.Confidence)
	}
	if loud.Confidence > 1 {
		t.Fatalf("want confidence <= 1, got %.3f", loud.Confidence)
	}
}
