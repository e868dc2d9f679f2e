// Package runpod provides an HTTP client for a RunPod serverless speaker
// diarization endpoint.
package runpod

// Status is the state of a RunPod job.
type Status string

// RunPod job statuses.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal reports whether the job can no longer change state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// DefaultModelID is the pyannote pipeline requested when none is set.
const DefaultModelID = "pyannote/speaker-diarization-3.1"

// SubmitOptions tunes a diarization job. Zero speaker counts let the
// worker decide.
type SubmitOptions struct {
	ModelID     string
	NumSpeakers int
	MinSpeakers int
	MaxSpeakers int
}

// DefaultSubmitOptions returns the options used when the caller sets none.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{ModelID: DefaultModelID}
}

// Turn is one speaker turn reported by the worker, in seconds.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

type runRequest struct {
	Input runInput `json:"input"`
}

type runInput struct {
	AudioBase64 string `json:"audio_base64"`
	ModelID     string `json:"model_id"`
	NumSpeakers int    `json:"num_speakers,omitempty"`
	MinSpeakers int    `json:"min_speakers,omitempty"`
	MaxSpeakers int    `json:"max_speakers,omitempty"`
}

type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output statusOutput `json:"output,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type statusOutput struct {
	Segments []Turn `json:"segments,omitempty"`
}

// PollResult is the outcome of one status check.
type PollResult struct {
	Status Status
	Turns  []Turn // set when Status is StatusCompleted
	Error  string // set when Status is StatusFailed
}
