// Package server provides the HTTP server for the moderation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"encoding/base64"
	"time"

	"github.com/maauso/speechguard-api/internal/classify"
	"github.com/maauso/speechguard-api/internal/job"
	"github.com/maauso/speechguard-api/internal/pipeline"
	"github.com/maauso/speechguard-api/internal/redact"
)

// CreateModerationForm holds the optional multipart fields of POST /moderations.
type CreateModerationForm struct {
	// Language is an ISO-639-1 hint for the ASR provider.
	Language string `validate:"omitempty,min=2,max=8"`
	// Translate transcribes into English.
	Translate bool
	// Temperature is the ASR sampling temperature.
	Temperature *float64 `validate:"omitempty,gte=0,lte=1"`
	// InitialPrompt biases the ASR vocabulary.
	InitialPrompt string `validate:"max=2000"`
	// Diarize overrides the server default when set.
	Diarize *bool
	// PushToS3 uploads the sanitized audio instead of returning it inline.
	PushToS3 bool
}

// CreateModerationResponse is the HTTP response after accepting a moderation.
type CreateModerationResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ModerationResponse is the HTTP response for getting a moderation job.
type ModerationResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Filename    string     `json:"filename,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result is present once the job completed.
	Result *ResultResponse `json:"result,omitempty"`
}

// ListModerationsResponse is the HTTP response for listing jobs. Results are
// omitted; fetch a single job to get them.
type ListModerationsResponse struct {
	Moderations []ModerationResponse `json:"moderations"`
}

// SegmentResponse is one classified segment. Speaker is null when no
// speaker could be attributed.
type SegmentResponse struct {
	Index          int             `json:"index"`
	Start          float64         `json:"start"`
	End            float64         `json:"end"`
	Text           string          `json:"text"`
	Speaker        *string         `json:"speaker"`
	Confidence     *float64        `json:"confidence,omitempty"`
	Classification classify.Output `json:"classification"`
}

// ResultResponse is the serialized moderation result.
type ResultResponse struct {
	Transcript       string                     `json:"transcript"`
	Language         string                     `json:"language"`
	Duration         float64                    `json:"duration"`
	Model            string                     `json:"model"`
	Segments         []SegmentResponse          `json:"segments"`
	RemovedIntervals []redact.Interval          `json:"removed_intervals"`
	Summary          pipeline.Summary           `json:"summary"`
	Diarization      pipeline.DiarizationReport `json:"diarization"`
	Stages           []pipeline.Stage           `json:"stages"`
	Redacted         bool                       `json:"redacted"`
	ContentType      string                     `json:"content_type,omitempty"`
	// SanitizedAudioBase64 is set when audio was redacted and not pushed to S3.
	SanitizedAudioBase64 *string `json:"sanitized_audio_base64"`
	// SanitizedAudioURL is set when the sanitized audio was uploaded to S3.
	SanitizedAudioURL string `json:"sanitized_audio_url,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// toModerationResponse maps a job to its DTO. includeResult controls whether
// the (possibly large) result is embedded.
func toModerationResponse(j *job.Job, includeResult bool) ModerationResponse {
	resp := ModerationResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Filename:  j.Filename,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	if includeResult && j.Status == job.StatusCompleted && j.Result != nil {
		resp.Result = toResultResponse(j.Result, j.SanitizedAudioURL)
	}
	return resp
}

// toResultResponse serializes a result. When sanitizedURL is set the audio
// is referenced by URL instead of being inlined.
func toResultResponse(r *pipeline.Result, sanitizedURL string) *ResultResponse {
	segments := make([]SegmentResponse, len(r.Segments))
	for i, seg := range r.Segments {
		segments[i] = SegmentResponse{
			Index:          seg.Index,
			Start:          seg.Start,
			End:            seg.End,
			Text:           seg.Text,
			Confidence:     seg.Confidence,
			Classification: seg.Classification,
		}
		if seg.Speaker != "" {
			speaker := seg.Speaker
			segments[i].Speaker = &speaker
		}
	}

	removed := r.RemovedIntervals
	if removed == nil {
		removed = []redact.Interval{}
	}

	resp := &ResultResponse{
		Transcript:       r.Transcript,
		Language:         r.Language,
		Duration:         r.Duration,
		Model:            r.Model,
		Segments:         segments,
		RemovedIntervals: removed,
		Summary:          r.Summary,
		Diarization:      r.Diarization,
		Stages:           r.Stages,
		Redacted:         r.Redacted(),
		ContentType:      r.ContentType,
	}
	switch {
	case sanitizedURL != "":
		resp.SanitizedAudioURL = sanitizedURL
	case r.Redacted():
		encoded := base64.StdEncoding.EncodeToString(r.SanitizedAudio)
		resp.SanitizedAudioBase64 = &encoded
	}
	return resp
}
