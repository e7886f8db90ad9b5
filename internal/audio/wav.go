package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavReadFrames = 8192

// EncodeWAV wraps interleaved 16-bit samples into a WAV container.
func EncodeWAV(samples []int, sampleRate, channels int) ([]byte, error) {
	f, err := os.CreateTemp("", "gostt-wav-*.wav")
	if err != nil {
		return nil, fmt.Errorf("audio: create temp wav: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finish wav: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("audio: rewind wav: %w", err)
	}
	return io.ReadAll(f)
}

// EncodeFloatWAV writes mono float samples as a 16-bit WAV file at path.
func EncodeFloatWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create wav: %w", err)
	}
	defer f.Close()

	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = FloatToS16(s)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finish wav: %w", err)
	}
	return f.Close()
}

// DecodeWAV decodes an in-memory WAV file.
func DecodeWAV(data []byte) (PCM, error) {
	return DecodeWAVReader(bytes.NewReader(data))
}

// DecodeWAVReader decodes a WAV stream in fixed-size blocks so that the
// integer form of the whole file is never held in memory at once.
func DecodeWAVReader(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, errors.New("audio: not a valid WAV file")
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels == 0 || bitDepth == 0 {
		return PCM{}, errors.New("audio: missing WAV format information")
	}
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return PCM{}, fmt.Errorf("audio: unsupported WAV bit depth %d", bitDepth)
	}

	out := PCM{SampleRate: int(dec.SampleRate), Channels: make([][]float32, channels)}
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: int(dec.SampleRate)},
		Data:   make([]int, wavReadFrames*channels),
	}

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return PCM{}, fmt.Errorf("audio: read WAV samples: %w", err)
		}
		if n == 0 {
			break
		}
		data := buf.Data[:n]
		if bitDepth == 8 {
			// 8-bit WAV samples are unsigned, centred on 128.
			for i := range data {
				data[i] -= 128
			}
		}
		planar := Deinterleave(data, channels, bitDepth)
		for c := range planar {
			out.Channels[c] = append(out.Channels[c], planar[c]...)
		}
	}
	return out, nil
}

// WAVDuration reports the length of an in-memory WAV file in seconds.
func WAVDuration(data []byte) (float64, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("audio: wav duration: %w", err)
	}
	return d.Seconds(), nil
}
