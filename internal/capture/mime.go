package capture

import "strings"

// Recording MIME types the legacy engine can produce.
const (
	MimeWebmOpus = "audio/webm;codecs=opus"
	MimeOggOpus  = "audio/ogg;codecs=opus"
	MimeMP4      = "audio/mp4"
	MimeAAC      = "audio/aac"
	MimeWAV      = "audio/wav"
)

var (
	defaultOrder = []string{MimeWebmOpus, MimeOggOpus, MimeMP4, MimeAAC, MimeWAV}
	appleOrder   = []string{MimeMP4, MimeAAC, MimeWebmOpus, MimeOggOpus, MimeWAV}
)

// FallbackOrder returns the declared MIME preference for the platform.
// Apple platforms prefer AAC; everything else prefers opus.
func FallbackOrder(apple bool) []string {
	if apple {
		return append([]string(nil), appleOrder...)
	}
	return append([]string(nil), defaultOrder...)
}

// NegotiateMimeType picks the first type from preference (or the platform
// fallback order when preference is empty) that appears in supported.
// WAV is the last resort when nothing matches.
func NegotiateMimeType(supported []string, apple bool, preference []string) string {
	order := preference
	if len(order) == 0 {
		order = FallbackOrder(apple)
	}
	have := make(map[string]bool, len(supported))
	for _, s := range supported {
		have[normalizeMime(s)] = true
	}
	for _, m := range order {
		if have[normalizeMime(m)] {
			return m
		}
	}
	return MimeWAV
}

// Extension returns the file extension for a recording MIME type.
func Extension(mime string) string {
	switch baseMime(mime) {
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/x-m4a":
		return "m4a"
	case "audio/aac":
		return "aac"
	case "audio/mpeg":
		return "mp3"
	default:
		return "wav"
	}
}

// ffmpegOutput returns the encoder and muxer arguments for mime.
func ffmpegOutput(mime string) []string {
	switch normalizeMime(mime) {
	case normalizeMime(MimeWebmOpus):
		return []string{"-c:a", "libopus", "-b:a", "32k", "-f", "webm"}
	case normalizeMime(MimeOggOpus):
		return []string{"-c:a", "libopus", "-b:a", "32k", "-f", "ogg"}
	case MimeMP4:
		return []string{"-c:a", "aac", "-b:a", "64k", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"}
	case MimeAAC:
		return []string{"-c:a", "aac", "-b:a", "64k", "-f", "adts"}
	default:
		return []string{"-c:a", "pcm_s16le", "-f", "wav"}
	}
}

func baseMime(mime string) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
}

func normalizeMime(mime string) string {
	return strings.ToLower(strings.ReplaceAll(mime, " ", ""))
}
