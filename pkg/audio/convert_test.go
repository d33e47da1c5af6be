package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

func TestPCMFloat32RoundTrip(t *testing.T) {
	t.Parallel()

	in := pcm16(0, 16384, -16384, 32767, -32768)
	f := PCMToFloat32(in)
	if len(f) != 5 {
		t.Fatalf("want 5 samples, got %d", len(f))
	}
	if f[0] != 0 {
		t.Fatalf("want 0, got %f", f[0])
	}
	if math.Abs(float64(f[1])-0.5) > 0.001 {
		t.Fatalf("want ~0.5, got %f", f[1])
	}
	if math.Abs(float64(f[4])+1.0) > 0.001 {
		t.Fatalf("want ~-1.0, got %f", f[4])
	}

	back := Float32ToPCM(f)
	for i := range f {
		orig := int16(binary.LittleEndian.Uint16(in[i*2 : i*2+2]))
		got := int16(binary.LittleEndian.Uint16(back[i*2 : i*2+2]))
		if diff := int32(orig) - int32(got); diff > 2 || diff < -2 {
			t.Fatalf("sample %d: want ~%d, got %d", i, orig, got)
		}
	}
}

func TestFloat32ToPCMClamps(t *testing.T) {
	t.Parallel()

	out := Float32ToPCM([]float32{2.0, -2.0})
	hi := int16(binary.LittleEndian.Uint16(out[0:2]))
	lo := int16(binary.LittleEndian.Uint16(out[2:4]))
	if hi != 32767 {
		t.Fatalf("want clamp to 32767, got %d", hi)
	}
	if lo != -32767 {
		t.Fatalf("want clamp to -32767, got %d", lo)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	stereo := pcm16(100, 300, -200, -400)
	mono := StereoToMono(stereo)
	if len(mono) != 4 {
		t.Fatalf("want 2 mono samples, got %d bytes", len(mono))
	}
	if got := int16(binary.LittleEndian.Uint16(mono[0:2])); got != 200 {
		t.Fatalf("want average 200, got %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(mono[2:4])); got != -300 {
		t.Fatalf("want average -300, got %d", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate returns input", func(t *testing.T) {
		t.Parallel()
		in := pcm16(1, 2, 3)
		if got := ResampleMono16(in, 16000, 16000); &got[0] != &in[0] {
			t.Fatal("want input slice to be returned unchanged")
		}
	})

	t.Run("downsample halves sample count", func(t *testing.T) {
		t.Parallel()
		in := make([]byte, 16000*2) // 1s at 16 kHz
		out := ResampleMono16(in, 16000, 8000)
		if len(out) != 8000*2 {
			t.Fatalf("want 8000 samples, got %d", len(out)/2)
		}
	})

	t.Run("constant signal stays constant", func(t *testing.T) {
		t.Parallel()
		in := pcm16(1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000)
		out := ResampleMono16(in, 48000, 16000)
		for i := 0; i < len(out); i += 2 {
			if got := int16(binary.LittleEndian.Uint16(out[i : i+2])); got != 1000 {
				t.Fatalf("sample %d: want 1000, got %d", i/2, got)
			}
		}
	})
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Fatalf("want 0 for empty buffer, got %f", got)
	}
	if got := RMS(pcm16(0, 0, 0, 0)); got != 0 {
		t.Fatalf("want 0 for silence, got %f", got)
	}

	loud := RMS(pcm16(20000, -20000, 20000, -20000))
	quiet := RMS(pcm16(100, -100, 100, -100))
	if loud <= quiet {
		t.Fatalf("want loud (%f) > quiet (%f)", loud, quiet)
	}
	if loud > 1 {
		t.Fatalf("want normalized RMS <= 1, got %f", loud)
	}
}

func TestFrameAccessors(t *testing.T) {
	t.Parallel()

	f := AudioFrame{Data: make([]byte, 640), SampleRate: 16000}
	if got := f.Samples(); got != 320 {
		t.Fatalf("want 320 samples, got %d", got)
	}
	if got := f.Duration(); got.Milliseconds() != 20 {
		t.Fatalf("want 20ms, got %v", got)
	}
	if got := (AudioFrame{Data: f.Data}).Duration(); got != 0 {
		t.Fatalf("want 0 duration without sample rate, got %v", got)
	}
}
