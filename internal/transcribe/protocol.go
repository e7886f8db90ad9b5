// Package transcribe turns decoded recordings into note text. A single
// long-lived worker runs the speech-to-text backend and reports progress
// as job-tagged messages; the Coordinator applies them to notes.
package transcribe

// Status discriminates worker messages.
type Status string

const (
	StatusInitiate Status = "initiate" // a model file starts downloading
	StatusProgress Status = "progress" // one file's download percent
	StatusDone     Status = "done"     // a model file finished
	StatusReady    Status = "ready"    // model loaded
	StatusUpdate   Status = "update"   // partial transcript
	StatusComplete Status = "complete" // final transcript, job terminal
	StatusError    Status = "error"    // failure, job terminal
)

// Chunk is a timestamped piece of transcript. Timestamp holds start and
// end in seconds.
type Chunk struct {
	Timestamp [2]float64 `json:"timestamp"`
	Text      string     `json:"text"`
}

// Message is sent by the worker. Every message carries the job id of the
// request that produced it.
type Message struct {
	JobID    string
	Status   Status
	File     string
	Progress float64
	Loaded   int64
	Total    int64
	Text     string
	Chunks   []Chunk
	Error    string
}

// Terminal reports whether the message ends its job.
func (m Message) Terminal() bool {
	return m.Status == StatusComplete || m.Status == StatusError
}

// Settings are the transcription parameters, read once per job.
type Settings struct {
	Model        string
	Multilingual bool
	Quantized    bool
	Subtask      string // "transcribe" or "translate"
	Language     string // "auto" or an ISO code
}

// Request asks the worker to transcribe mono 16 kHz samples.
type Request struct {
	JobID    string
	Audio    []float32
	Settings Settings
}
