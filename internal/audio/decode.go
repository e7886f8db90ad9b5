package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// StreamDecodeThreshold is the blob size above which decoding goes through
// temp files instead of in-memory buffers.
const StreamDecodeThreshold = 32 << 20

// Decoder turns a recorded blob into PCM. WAV is decoded in-process; other
// containers (webm/opus, mp4/aac, ogg) are converted by ffmpeg.
type Decoder struct {
	FFmpegBin string
	TempDir   string

	// command builds the ffmpeg invocation; tests replace it.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewDecoder creates a decoder using the given ffmpeg binary.
func NewDecoder(ffmpegBin string) *Decoder {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Decoder{FFmpegBin: ffmpegBin, command: exec.CommandContext}
}

// IsWAV reports whether mime names a WAV container.
func IsWAV(mime string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	switch base {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}

// Decode converts blob to PCM, preserving the channel layout.
func (d *Decoder) Decode(ctx context.Context, blob []byte, mime string) (PCM, error) {
	if len(blob) == 0 {
		return PCM{}, fmt.Errorf("audio: decode: empty input")
	}
	if IsWAV(mime) {
		if len(blob) <= StreamDecodeThreshold {
			return DecodeWAV(blob)
		}
		return d.decodeViaFile(blob, func(path string) (PCM, error) { return decodeWAVFile(path) })
	}
	return d.decodeViaFile(blob, func(path string) (PCM, error) { return d.ffmpegDecode(ctx, path) })
}

func (d *Decoder) decodeViaFile(blob []byte, fn func(path string) (PCM, error)) (PCM, error) {
	dir, err := os.MkdirTemp(d.TempDir, "gostt-decode-*")
	if err != nil {
		return PCM{}, fmt.Errorf("audio: create decode dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input")
	if err := os.WriteFile(in, blob, 0o600); err != nil {
		return PCM{}, fmt.Errorf("audio: write decode input: %w", err)
	}
	return fn(in)
}

// ffmpegDecode converts the file at in to 16-bit WAV at the model rate and
// decodes it from disk.
func (d *Decoder) ffmpegDecode(ctx context.Context, in string) (PCM, error) {
	out := filepath.Join(filepath.Dir(in), "decoded.wav")
	cmd := d.command(ctx, d.FFmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", in,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(ModelSampleRate),
		"-f", "wav",
		out,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return PCM{}, fmt.Errorf("audio: ffmpeg decode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return decodeWAVFile(out)
}

func decodeWAVFile(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: open wav: %w", err)
	}
	defer f.Close()
	return DecodeWAVReader(f)
}
