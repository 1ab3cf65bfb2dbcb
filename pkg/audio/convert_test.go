package audio

import (
	"math"
	"testing"
)

func TestFloat32FromPCM16(t *testing.T) {
	t.Parallel()

	// 0, max positive, min negative as little-endian int16.
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	got, err := Float32FromPCM16(pcm)
	if err != nil {
		t.Fatalf("Float32FromPCM16: %v", err)
	}
	want := []float32{0, 32767.0 / 32768, -1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFloat32FromPCM16_OddByteCount(t *testing.T) {
	t.Parallel()

	if _, err := Float32FromPCM16([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected error for odd byte count, got nil")
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 0.25, -1}
	back, err := Float32FromPCM16(PCM16FromFloat32(in))
	if err != nil {
		t.Fatalf("round trip decode: %v", err)
	}
	for i := range in {
		if diff := math.Abs(float64(back[i] - in[i])); diff > 1.0/32767 {
			t.Errorf("sample %d: round trip drift %v", i, diff)
		}
	}
}

func TestPCM16FromFloat32_Clamps(t *testing.T) {
	t.Parallel()

	pcm := PCM16FromFloat32([]float32{2, -2})
	got, err := Float32FromPCM16(pcm)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got[0] < 0.99 || got[1] > -0.99 {
		t.Errorf("out-of-range samples not clamped: %v", got)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	got := StereoToMono([]float32{1, 0, -1, -1, 0.5, 0.25, 0.7})
	want := []float32{0.5, -1, 0.375}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("same rate is identity", func(t *testing.T) {
		t.Parallel()
		in := []float32{0.1, 0.2, 0.3}
		got := Resample(in, 16000, 16000)
		if &got[0] != &in[0] {
			t.Error("same-rate resample should return the input slice")
		}
	})

	t.Run("halves sample count", func(t *testing.T) {
		t.Parallel()
		in := make([]float32, 1600)
		got := Resample(in, 16000, 8000)
		if len(got) != 800 {
			t.Errorf("len = %d, want 800", len(got))
		}
	})

	t.Run("doubles sample count", func(t *testing.T) {
		t.Parallel()
		in := make([]float32, 800)
		for i := range in {
			in[i] = float32(i) / 800
		}
		got := Resample(in, 8000, 16000)
		if len(got) != 1600 {
			t.Fatalf("len = %d, want 1600", len(got))
		}
		// Linear interpolation keeps a monotone ramp monotone.
		for i := 1; i < len(got); i++ {
			if got[i] < got[i-1] {
				t.Fatalf("output not monotone at %d: %v < %v", i, got[i], got[i-1])
			}
		}
	})
}
