package audio

import (
	"context"
	"math"
	"testing"
)

func TestS16LEToInts(t *testing.T) {
	data := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0x7F}
	got := S16LEToInts(data)
	want := []int{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoFoldEqualPower(t *testing.T) {
	const c = float32(0.25)
	n := 1000
	left := make([]float32, n)
	right := make([]float32, n)
	for i := range left {
		left[i], right[i] = c, c
	}

	mono := MonoFold(PCM{SampleRate: 16000, Channels: [][]float32{left, right}})
	if len(mono) != n {
		t.Fatalf("len(mono) = %d, want %d", len(mono), n)
	}
	want := float64(c) * math.Sqrt2
	for i, v := range mono {
		if math.Abs(float64(v)-want) > 1e-6 {
			t.Fatalf("mono[%d] = %f, want %f", i, v, want)
		}
	}
}

func TestMonoFoldPassThroughAndWide(t *testing.T) {
	mono := []float32{0.1, 0.2}
	got := MonoFold(PCM{Channels: [][]float32{mono}})
	if &got[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}

	wide := MonoFold(PCM{Channels: [][]float32{{0.3}, {0.6}, {0.9}}})
	if math.Abs(float64(wide[0])-0.6) > 1e-6 {
		t.Errorf("3-channel fold = %f, want 0.6", wide[0])
	}

	if MonoFold(PCM{}) != nil {
		t.Error("empty PCM should fold to nil")
	}
}

func TestResample(t *testing.T) {
	in := make([]float32, 22050)
	for i := range in {
		in[i] = float32(i%100) / 100
	}
	out := Resample(in, 22050, 16000)
	if len(out) != 16000 {
		t.Errorf("len(out) = %d, want 16000", len(out))
	}
	if same := Resample(in, 16000, 16000); len(same) != len(in) {
		t.Error("equal rates should not change length")
	}
}

func TestDeinterleave(t *testing.T) {
	planar := Deinterleave([]int{16384, -16384, 0, 32767}, 2, 16)
	if len(planar) != 2 || len(planar[0]) != 2 {
		t.Fatalf("unexpected shape %dx%d", len(planar), len(planar[0]))
	}
	if planar[0][0] != 0.5 || planar[1][0] != -0.5 {
		t.Errorf("frame 0 = %f/%f, want 0.5/-0.5", planar[0][0], planar[1][0])
	}
}

func TestWAVRoundTrip(t *testing.T) {
	samples := make([]int, 2*8000)
	for i := range samples {
		samples[i] = (i % 200) * 100
	}

	blob, err := EncodeWAV(samples, 16000, 2)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	dur, err := WAVDuration(blob)
	if err != nil {
		t.Fatalf("WAVDuration() error = %v", err)
	}
	if math.Abs(dur-0.5) > 0.01 {
		t.Errorf("duration = %f, want 0.5", dur)
	}

	pcm, err := NewDecoder("").Decode(context.Background(), blob, "audio/wav")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if pcm.SampleRate != 16000 || len(pcm.Channels) != 2 || pcm.Frames() != 8000 {
		t.Errorf("decoded %d Hz, %d ch, %d frames", pcm.SampleRate, len(pcm.Channels), pcm.Frames())
	}
}

func TestDecodeEmpty(t *testing.T) {
	if _, err := NewDecoder("").Decode(context.Background(), nil, "audio/wav"); err == nil {
		t.Error("Decode(nil) should fail")
	}
}

func TestIsWAV(t *testing.T) {
	for _, m := range []string{"audio/wav", "audio/x-wav", "AUDIO/WAVE; codecs=1"} {
		if !IsWAV(m) {
			t.Errorf("IsWAV(%q) = false", m)
		}
	}
	if IsWAV("audio/webm;codecs=opus") {
		t.Error("webm is not WAV")
	}
}
