// Package audio holds PCM helpers shared by the capture, transcription and
// playback paths: sample conversion, channel folding, resampling and WAV
// encode/decode.
package audio

import (
	"encoding/binary"
	"math"
)

// ModelSampleRate is the sample rate the speech-to-text model expects.
const ModelSampleRate = 16000

// PCM is planar floating point audio in [-1, 1], one slice per channel.
type PCM struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (p PCM) Frames() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

// Duration returns the length in seconds.
func (p PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Frames()) / float64(p.SampleRate)
}

// S16LEToInts converts interleaved little-endian 16-bit PCM bytes to ints.
// A trailing odd byte is ignored.
func S16LEToInts(data []byte) []int {
	out := make([]int, len(data)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}
	return out
}

// Deinterleave splits interleaved integer samples of the given bit depth into
// planar float channels.
func Deinterleave(data []int, channels, bitDepth int) [][]float32 {
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int(1) << uint(bitDepth-1))
	frames := len(data) / channels
	out := make([][]float32, channels)
	for c := range out {
		out[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = float32(data[i*channels+c]) / scale
		}
	}
	return out
}

// MonoFold reduces p to a single channel. Stereo input uses equal-power
// mixing, mono[i] = sqrt(2) * (left[i] + right[i]) / 2. Mono input is
// returned as is and wider layouts are averaged.
func MonoFold(p PCM) []float32 {
	switch len(p.Channels) {
	case 0:
		return nil
	case 1:
		return p.Channels[0]
	case 2:
		left, right := p.Channels[0], p.Channels[1]
		n := min(len(left), len(right))
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(math.Sqrt2 * float64(left[i]+right[i]) / 2)
		}
		return out
	default:
		n := p.Frames()
		out := make([]float32, n)
		for _, ch := range p.Channels {
			for i := 0; i < n && i < len(ch); i++ {
				out[i] += ch[i]
			}
		}
		k := float32(len(p.Channels))
		for i := range out {
			out[i] /= k
		}
		return out
	}
}

// Resample converts mono samples from one rate to another with linear
// interpolation. Equal rates return the input unchanged.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}

// FloatToS16 converts a float sample to a clamped 16-bit integer.
func FloatToS16(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * 32767)
}
