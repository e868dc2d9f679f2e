// Package job provides the asynchronous moderation job: its state machine,
// a repository port with an in-memory adapter and the service that runs the
// moderation pipeline for each submitted job.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/speechguard-api/internal/job/id"
	"github.com/maauso/speechguard-api/internal/pipeline"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job was accepted and waits to run.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the pipeline is running.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the pipeline produced a result.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates a fatal pipeline or delivery error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by a client.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the run exceeded its deadline.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job is one moderation request.
type Job struct {
	mu sync.RWMutex

	// ID is a UUID.
	ID string
	// Status is the current job state.
	Status Status
	// Error contains the failure message for FAILED, CANCELLED and TIMED_OUT jobs.
	Error string
	// Filename is the client-supplied name of the uploaded audio.
	Filename string
	// InputAudioPath is the temporary copy of the uploaded audio.
	InputAudioPath string
	// Options configure the pipeline run.
	Options pipeline.Options
	// PushToS3 requests upload of the sanitized audio.
	PushToS3 bool
	// Result is set when the job completes. It is never modified afterwards.
	Result *pipeline.Result
	// SanitizedAudioURL is the S3 URL when PushToS3 was true and audio was redacted.
	SanitizedAudioURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Options:   pipeline.DefaultOptions(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete stores the result and transitions the job to COMPLETED.
// The job is left untouched when the transition is not allowed.
func (j *Job) Complete(result *pipeline.Result, sanitizedURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Result = result
	j.SanitizedAudioURL = sanitizedURL
	return nil
}

// Fail transitions the job to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	return j.finish(StatusFailed, errMsg)
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel(reason string) error {
	return j.finish(StatusCancelled, reason)
}

// Timeout transitions the job to TIMED_OUT.
func (j *Job) Timeout(reason string) error {
	return j.finish(StatusTimedOut, reason)
}

func (j *Job) finish(status Status, msg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.Error = msg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// ClearInput forgets the temporary input path once the file is removed.
func (j *Job) ClearInput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.InputAudioPath = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted ||
		s == StatusFailed ||
		s == StatusCancelled ||
		s == StatusTimedOut
}

// Clone creates a copy of the job for safe reads. Result is shared since it
// is immutable once set.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	opts := j.Options
	if j.Options.RemovalLabels != nil {
		opts.RemovalLabels = append(opts.RemovalLabels[:0:0], j.Options.RemovalLabels...)
	}

	return &Job{
		ID:                j.ID,
		Status:            j.Status,
		Error:             j.Error,
		Filename:          j.Filename,
		InputAudioPath:    j.InputAudioPath,
		Options:           opts,
		PushToS3:          j.PushToS3,
		Result:            j.Result,
		SanitizedAudioURL: j.SanitizedAudioURL,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
	}
}
