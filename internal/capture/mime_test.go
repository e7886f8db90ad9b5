package capture

import "testing"

func TestNegotiateMimeType(t *testing.T) {
	all := []string{MimeWebmOpus, MimeOggOpus, MimeMP4, MimeAAC, MimeWAV}

	tests := []struct {
		name       string
		supported  []string
		apple      bool
		preference []string
		want       string
	}{
		{"chromium-like prefers opus", all, false, nil, MimeWebmOpus},
		{"apple prefers mp4", all, true, nil, MimeMP4},
		{"apple without aac falls to opus", []string{MimeWebmOpus, MimeWAV}, true, nil, MimeWebmOpus},
		{"no opus falls to mp4", []string{MimeMP4, MimeWAV}, false, nil, MimeMP4},
		{"nothing supported is wav", nil, false, nil, MimeWAV},
		{"explicit preference wins", all, false, []string{MimeAAC}, MimeAAC},
		{"whitespace insensitive", []string{"audio/webm; codecs=opus"}, false, nil, MimeWebmOpus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NegotiateMimeType(tt.supported, tt.apple, tt.preference)
			if got != tt.want {
				t.Errorf("NegotiateMimeType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		MimeWebmOpus: "webm",
		MimeOggOpus:  "ogg",
		MimeMP4:      "m4a",
		MimeAAC:      "aac",
		MimeWAV:      "wav",
		"audio/mpeg": "mp3",
		"":           "wav",
	}
	for mime, want := range tests {
		if got := Extension(mime); got != want {
			t.Errorf("Extension(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestFallbackOrderIsCopy(t *testing.T) {
	order := FallbackOrder(false)
	order[0] = "mutated"
	if FallbackOrder(false)[0] != MimeWebmOpus {
		t.Error("FallbackOrder should return a copy")
	}
}
