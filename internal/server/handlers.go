package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/speechguard-api/internal/job"
	"github.com/maauso/speechguard-api/internal/media"
	"github.com/maauso/speechguard-api/internal/pipeline"
)

// DefaultMaxUploadBytes caps the size of an uploaded audio file.
const DefaultMaxUploadBytes int64 = 200 << 20

// sniffLen is how much of an upload is read to detect its content type.
const sniffLen = 3072

// allowedSuffixes are the accepted upload extensions.
var allowedSuffixes = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
	".webm": true,
}

// ModerationService is the job API used by the handlers.
type ModerationService interface {
	Submit(ctx context.Context, input job.SubmitInput) (*job.Job, error)
	Get(ctx context.Context, jobID string) (*job.Job, error)
	List(ctx context.Context) ([]*job.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// Compile-time check that job.Service satisfies ModerationService.
var _ ModerationService = (*job.Service)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        ModerationService
	validator      *validator.Validate
	logger         *slog.Logger
	defaults       pipeline.Options
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithDefaultOptions sets the pipeline options a request starts from.
func WithDefaultOptions(opts pipeline.Options) HandlerOption {
	return func(h *Handlers) {
		h.defaults = opts
	}
}

// WithMaxUploadBytes caps the request body size.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service ModerationService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		defaults:       pipeline.DefaultOptions(),
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateModeration handles POST /moderations requests.
func (h *Handlers) CreateModeration(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to parse multipart form", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", "MISSING_FILE")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedSuffixes[ext] {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported file type %q", ext), "UNSUPPORTED_MEDIA_TYPE")
		return
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "failed to read upload", "INVALID_FORM")
		return
	}
	head = head[:n]
	if n == 0 {
		writeError(w, http.StatusBadRequest, "empty payload", "EMPTY_FILE")
		return
	}
	if ct := media.DetectContentType(head); !media.IsAudio(ct) {
		h.logger.Warn("rejected non-audio upload",
			slog.String("filename", header.Filename),
			slog.String("content_type", ct),
		)
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("payload is not audio (%s)", ct), "UNSUPPORTED_MEDIA_TYPE")
		return
	}

	form, err := parseModerationForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	opts := h.runOptions(form)
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	created, err := h.service.Submit(r.Context(), job.SubmitInput{
		Filename: header.Filename,
		Audio:    io.MultiReader(bytes.NewReader(head), file),
		Options:  opts,
		PushToS3: form.PushToS3,
	})
	if err != nil {
		h.logger.Error("failed to create job", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	h.logger.Info("moderation accepted",
		slog.String("job_id", created.ID),
		slog.String("filename", header.Filename),
		slog.Int64("size", header.Size),
	)

	writeJSON(w, http.StatusAccepted, CreateModerationResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetModeration handles GET /moderations/{id} requests.
func (h *Handlers) GetModeration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toModerationResponse(found, true))
}

// ListModerations handles GET /moderations requests.
func (h *Handlers) ListModerations(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListModerationsResponse{Moderations: make([]ModerationResponse, len(jobs))}
	for i, j := range jobs {
		resp.Moderations[i] = toModerationResponse(j, false)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelModeration handles DELETE /moderations/{id} requests.
func (h *Handlers) CancelModeration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrJobFinished) {
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
			return
		}
		h.writeJobError(w, jobID, err, "failed to cancel job", "JOB_CANCEL_FAILED")
		return
	}

	h.logger.Info("moderation cancel requested", slog.String("job_id", jobID))
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) writeJobError(w http.ResponseWriter, jobID string, err error, msg, code string) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error(msg,
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, msg, code)
}

// runOptions applies the request form on top of the server defaults.
func (h *Handlers) runOptions(form CreateModerationForm) pipeline.Options {
	opts := h.defaults
	if opts.RemovalLabels != nil {
		opts.RemovalLabels = append(opts.RemovalLabels[:0:0], opts.RemovalLabels...)
	}
	opts.Transcription.Language = form.Language
	opts.Transcription.Translate = form.Translate
	opts.Transcription.Temperature = form.Temperature
	opts.Transcription.InitialPrompt = form.InitialPrompt
	if form.Diarize != nil {
		opts.DiarizationEnabled = *form.Diarize
	}
	return opts
}

func parseModerationForm(r *http.Request) (CreateModerationForm, error) {
	form := CreateModerationForm{
		Language:      strings.TrimSpace(r.FormValue("language")),
		InitialPrompt: r.FormValue("initial_prompt"),
	}

	var err error
	if form.Translate, err = formBool(r, "translate"); err != nil {
		return form, err
	}
	if form.PushToS3, err = formBool(r, "push_to_s3"); err != nil {
		return form, err
	}
	if v := r.FormValue("diarize"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return form, fmt.Errorf("diarize: invalid boolean %q", v)
		}
		form.Diarize = &b
	}
	if v := r.FormValue("temperature"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return form, fmt.Errorf("temperature: invalid number %q", v)
		}
		form.Temperature = &f
	}
	return form, nil
}

func formBool(r *http.Request, key string) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
