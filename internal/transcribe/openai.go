package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/chaz8081/gostt-notes/internal/audio"
	"github.com/chaz8081/gostt-notes/internal/models"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAI transcribes through the OpenAI audio API. It has no local model
// files, so Load reports nothing.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Compile-time interface satisfaction check.
var _ Backend = (*OpenAI)(nil)

// NewOpenAI returns the OpenAI backend.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAI{
		apiKey:  apiKey,
		model:   model,
		baseURL: openAIBaseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

type openAISegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type openAIResp struct {
	Text     string          `json:"text"`
	Segments []openAISegment `json:"segments"`
}

func (o *OpenAI) Load(context.Context, Settings, func(models.Event)) error { return nil }

func (o *OpenAI) Close() error { return nil }

// Transcribe uploads samples as WAV and returns the verbose segments.
func (o *OpenAI) Transcribe(ctx context.Context, samples []float32, s Settings, onSegment func(Chunk)) ([]Chunk, error) {
	ints := make([]int, len(samples))
	for i, v := range samples {
		ints[i] = audio.FloatToS16(v)
	}
	wavData, err := audio.EncodeWAV(ints, audio.ModelSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("transcribe: encoding upload: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", o.model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	endpoint := "/audio/transcriptions"
	if s.Subtask == "translate" {
		endpoint = "/audio/translations"
	} else if s.Language != "" && s.Language != "auto" {
		if err := mw.WriteField("language", s.Language); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(wavData); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("transcribe: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: openai request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcribe: openai http %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var or openAIResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("transcribe: decoding openai response: %w", err)
	}

	var chunks []Chunk
	for _, seg := range or.Segments {
		c := Chunk{Timestamp: [2]float64{seg.Start, seg.End}, Text: seg.Text}
		chunks = append(chunks, c)
		if onSegment != nil {
			onSegment(c)
		}
	}
	if len(chunks) == 0 && or.Text != "" {
		chunks = []Chunk{{Text: or.Text}}
	}
	return chunks, nil
}
