package transcribe

import "strings"

// cpuHint is shown when the local model cannot run on this CPU.
const cpuHint = "The local speech model cannot run on this CPU. Set transcribe.backend to \"openai\" or install a whisper-cli build for this machine."

// incompatibleMarkers identify the known CPU/instruction-set failure class.
var incompatibleMarkers = []string{
	"illegal instruction",
	"sigill",
	"unsupported cpu",
	"not supported on this cpu",
	"invalid opcode",
}

// WorkerError is a failure reported by the transcription worker.
type WorkerError struct {
	JobID   string
	Message string
	hint    string
}

// NewWorkerError builds the error for a worker message, attaching the CPU
// hint for the known incompatibility.
func NewWorkerError(jobID, msg string) *WorkerError {
	e := &WorkerError{JobID: jobID, Message: msg}
	lower := strings.ToLower(msg)
	for _, m := range incompatibleMarkers {
		if strings.Contains(lower, m) {
			e.hint = cpuHint
			break
		}
	}
	return e
}

func (e *WorkerError) Error() string {
	return "transcription failed: " + e.Message
}

// Hint returns actionable text for the user, or "".
func (e *WorkerError) Hint() string { return e.hint }
