// Package beam provides an HTTP client for a faster-whisper transcription
// worker deployed on a Beam.cloud task queue.
package beam

// Status represents the status of a Beam task.
type Status string

// Beam task statuses aligned with the Beam API.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusComplete  Status = "COMPLETE" // Beam sometimes returns "COMPLETE" instead of "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusError     Status = "ERROR"
	StatusCanceled  Status = "CANCELED"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusComplete, StatusFailed, StatusError, StatusCanceled:
		return true
	default:
		return false
	}
}

// Tasks understood by the worker.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// SubmitOptions are the decoding parameters forwarded to faster-whisper.
// Nil pointers and empty strings leave the worker's defaults in place.
type SubmitOptions struct {
	Model         string
	Task          string
	Language      string
	InitialPrompt string
	Temperature   *float64
	BeamSize      *int
	BestOf        *int
}

// DefaultSubmitOptions returns options for a plain transcription.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{Task: TaskTranscribe}
}

type taskRequest struct {
	AudioBase64   string   `json:"audio_base64"`
	Model         string   `json:"model,omitempty"`
	Task          string   `json:"task"`
	Language      string   `json:"language,omitempty"`
	InitialPrompt string   `json:"initial_prompt,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	BeamSize      *int     `json:"beam_size,omitempty"`
	BestOf        *int     `json:"best_of,omitempty"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	TaskID  string       `json:"task_id"`
	Status  string       `json:"status"`
	Outputs []taskOutput `json:"outputs,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type taskOutput struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// PollResult contains the result of polling a task's status.
type PollResult struct {
	Status    Status
	OutputURL string // URL of the transcript JSON
	Error     string // set when Status is StatusFailed
}
