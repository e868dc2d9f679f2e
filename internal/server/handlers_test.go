package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/speechguard-api/internal/classify"
	"github.com/maauso/speechguard-api/internal/job"
	"github.com/maauso/speechguard-api/internal/pipeline"
	"github.com/maauso/speechguard-api/internal/redact"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// mockService implements ModerationService for testing.
type mockService struct {
	mock.Mock
}

func (m *mockService) Submit(ctx context.Context, input job.SubmitInput) (*job.Job, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockService) Get(ctx context.Context, jobID string) (*job.Job, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Job), args.Error(1)
}

func (m *mockService) List(ctx context.Context) ([]*job.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*job.Job), args.Error(1)
}

func (m *mockService) Cancel(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T, opts ...HandlerOption) (*Handlers, *mockService) {
	t.Helper()
	svc := &mockService{}
	t.Cleanup(func() { svc.AssertExpectations(t) })
	return NewHandlers(svc, testLogger(), opts...), svc
}

// wavBytes returns a minimal PCM WAV file with n silent samples.
func wavBytes(n int) []byte {
	var buf bytes.Buffer
	dataLen := uint32(n * 2)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))     // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000)) // sample rate
	_ = binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, filename string, payload []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/moderations", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateModeration_Success(t *testing.T) {
	h, svc := newTestHandlers(t)
	audio := wavBytes(8000)

	var submitted job.SubmitInput
	var uploaded []byte
	svc.On("Submit", mock.Anything, mock.AnythingOfType("job.SubmitInput")).
		Run(func(args mock.Arguments) {
			submitted = args.Get(1).(job.SubmitInput)
			uploaded, _ = io.ReadAll(submitted.Audio)
		}).
		Return(job.NewWithID("job-1"), nil)

	req := multipartRequest(t, "call.wav", audio, map[string]string{
		"language":       "es",
		"translate":      "true",
		"temperature":    "0.2",
		"initial_prompt": "names: Ana",
		"diarize":        "true",
		"push_to_s3":     "true",
	})
	rec := httptest.NewRecorder()

	h.CreateModeration(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CreateModerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, string(job.StatusInQueue), resp.Status)

	assert.Equal(t, "call.wav", submitted.Filename)
	assert.Equal(t, audio, uploaded, "sniffed bytes must be replayed")
	assert.True(t, submitted.PushToS3)
	assert.True(t, submitted.Options.DiarizationEnabled)
	assert.Equal(t, "es", submitted.Options.Transcription.Language)
	assert.True(t, submitted.Options.Transcription.Translate)
	require.NotNil(t, submitted.Options.Transcription.Temperature)
	assert.InDelta(t, 0.2, *submitted.Options.Transcription.Temperature, 1e-9)
	assert.Equal(t, "names: Ana", submitted.Options.Transcription.InitialPrompt)
	assert.Equal(t, pipeline.DefaultConfidenceThreshold, submitted.Options.ConfidenceThreshold)
}

func TestCreateModeration_UsesServerDefaults(t *testing.T) {
	defaults := pipeline.DefaultOptions()
	defaults.DiarizationEnabled = true
	defaults.RemovalLabels = []classify.Label{classify.LabelProfanity}
	h, svc := newTestHandlers(t, WithDefaultOptions(defaults))

	var submitted job.SubmitInput
	svc.On("Submit", mock.Anything, mock.AnythingOfType("job.SubmitInput")).
		Run(func(args mock.Arguments) { submitted = args.Get(1).(job.SubmitInput) }).
		Return(job.NewWithID("job-2"), nil).Once()

	rec := httptest.NewRecorder()
	h.CreateModeration(rec, multipartRequest(t, "call.wav", wavBytes(10), nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, submitted.Options.DiarizationEnabled)
	assert.Equal(t, []classify.Label{classify.LabelProfanity}, submitted.Options.RemovalLabels)
	assert.False(t, submitted.PushToS3)

	// diarize=false overrides the default
	svc.On("Submit", mock.Anything, mock.AnythingOfType("job.SubmitInput")).
		Run(func(args mock.Arguments) { submitted = args.Get(1).(job.SubmitInput) }).
		Return(job.NewWithID("job-3"), nil)
	rec = httptest.NewRecorder()
	h.CreateModeration(rec, multipartRequest(t, "call.wav", wavBytes(10), map[string]string{"diarize": "false"}))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, submitted.Options.DiarizationEnabled)
}

func TestCreateModeration_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		payload  []byte
		fields   map[string]string
		status   int
		code     string
	}{
		{"missing file", "", nil, nil, http.StatusBadRequest, "MISSING_FILE"},
		{"unsupported suffix", "notes.txt", []byte("hello"), nil, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{"no suffix", "audio", wavBytes(10), nil, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{"empty payload", "call.wav", []byte{}, nil, http.StatusBadRequest, "EMPTY_FILE"},
		{"not audio", "call.mp3", []byte("just some plain text pretending to be audio"), nil, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE"},
		{"bad boolean", "call.wav", wavBytes(10), map[string]string{"translate": "maybe"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad temperature", "call.wav", wavBytes(10), map[string]string{"temperature": "hot"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"temperature out of range", "call.wav", wavBytes(10), map[string]string{"temperature": "1.5"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"language too long", "call.wav", wavBytes(10), map[string]string{"language": "not-a-language"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandlers(t)
			rec := httptest.NewRecorder()

			h.CreateModeration(rec, multipartRequest(t, tt.filename, tt.payload, tt.fields))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestCreateModeration_UppercaseSuffix(t *testing.T) {
	h, svc := newTestHandlers(t)
	svc.On("Submit", mock.Anything, mock.AnythingOfType("job.SubmitInput")).Return(job.NewWithID("job-4"), nil)

	rec := httptest.NewRecorder()
	h.CreateModeration(rec, multipartRequest(t, "CALL.WAV", wavBytes(10), nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCreateModeration_TooLarge(t *testing.T) {
	h, _ := newTestHandlers(t, WithMaxUploadBytes(1024))

	rec := httptest.NewRecorder()
	h.CreateModeration(rec, multipartRequest(t, "call.wav", wavBytes(4096), nil))

	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
}

func TestCreateModeration_NotMultipart(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/moderations", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.CreateModeration(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_FORM", decodeError(t, rec).Code)
}

func TestCreateModeration_ServiceError(t *testing.T) {
	h, svc := newTestHandlers(t)
	svc.On("Submit", mock.Anything, mock.AnythingOfType("job.SubmitInput")).Return(nil, assert.AnError)

	rec := httptest.NewRecorder()
	h.CreateModeration(rec, multipartRequest(t, "call.wav", wavBytes(10), nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "JOB_CREATION_FAILED", decodeError(t, rec).Code)
}

func completedJob(pushed bool) *job.Job {
	j := job.NewWithID("job-done")
	j.Filename = "call.wav"
	speaker := "SPEAKER_00"
	result := &pipeline.Result{
		Transcript: "hello there you idiot",
		Language:   "en",
		Duration:   4,
		Model:      "whisper-1",
		Segments: []pipeline.ClassifiedSegment{
			{
				Segment:        transcript.Segment{Index: 0, Start: 0, End: 2, Text: "hello there", Speaker: speaker},
				Classification: classify.Output{Label: classify.LabelNone, Spans: []classify.EvidenceSpan{}},
			},
			{
				Segment:        transcript.Segment{Index: 1, Start: 2, End: 4, Text: "you idiot"},
				Classification: classify.Output{Label: classify.LabelHate, Rationale: "insult", Spans: []classify.EvidenceSpan{}},
			},
		},
		SanitizedAudio:   []byte("RIFFclean"),
		ContentType:      "audio/wav",
		RemovedIntervals: []redact.Interval{{Start: 2, End: 4}},
		Summary:          pipeline.Summary{TotalSegments: 2, FlaggedSegments: 1, FlaggedIndexes: []int{1}},
		Diarization:      pipeline.DiarizationReport{Status: pipeline.DiarizationCompleted, Provider: "runpod", Turns: 1},
	}
	url := ""
	if pushed {
		url = "https://bucket.s3.eu-west-1.amazonaws.com/sanitized/job-done.wav"
	}
	_ = j.Start()
	_ = j.Complete(result, url)
	return j
}

func TestGetModeration_Completed(t *testing.T) {
	h, svc := newTestHandlers(t)
	svc.On("Get", mock.Anything, "job-done").Return(completedJob(false), nil)

	req := httptest.NewRequest(http.MethodGet, "/moderations/job-done", nil)
	req.SetPathValue("id", "job-done")
	rec := httptest.NewRecorder()

	h.GetModeration(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	result := raw["result"].(map[string]any)
	segments := result["segments"].([]any)
	assert.Equal(t, "SPEAKER_00", segments[0].(map[string]any)["speaker"])
	assert.Contains(t, segments[1].(map[string]any), "speaker")
	assert.Nil(t, segments[1].(map[string]any)["speaker"], "unset speaker must be null")
	assert.Equal(t, []any{[]any{2.0, 4.0}}, result["removed_intervals"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("RIFFclean")), result["sanitized_audio_base64"])
	assert.NotContains(t, result, "sanitized_audio_url")
	assert.Equal(t, true, result["redacted"])
	assert.Equal(t, "completed", result["diarization"].(map[string]any)["status"])
}

func TestGetModeration_PushedToS3(t *testing.T) {
	h, svc := newTestHandlers(t)
	svc.On("Get", mock.Anything, "job-done").Return(completedJob(true), nil)

	req := httptest.NewRequest(http.MethodGet, "/moderations/job-done", nil)
	req.SetPathValue("id", "job-done")
	rec := httptest.NewRecorder()

	h.GetModeration(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, "https://bucket.s3.eu-west-1.amazonaws.com/sanitized/job-done.wav", resp.Result.SanitizedAudioURL)
	assert.Nil(t, resp.Result.SanitizedAudioBase64)
	assert.NotNil(t, resp.CompletedAt)
}

func TestGetModeration_NothingRedacted(t *testing.T) {
	j := job.NewWithID("clean")
	_ = j.Start()
	_ = j.Complete(&pipeline.Result{Transcript: "hi", Segments: []pipeline.ClassifiedSegment{}}, "")

	h, svc := newTestHandlers(t)
	svc.On("Get", mock.Anything, "clean").Return(j, nil)

	req := httptest.NewRequest(http.MethodGet, "/moderations/clean", nil)
	req.SetPathValue("id", "clean")
	rec := httptest.NewRecorder()
	h.GetModeration(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	result := raw["result"].(map[string]any)
	assert.Nil(t, result["sanitized_audio_base64"])
	assert.Equal(t, []any{}, result["removed_intervals"])
	assert.Equal(t, false, result["redacted"])
}

func TestGetModeration_Running(t *testing.T) {
	j := job.NewWithID("running")
	_ = j.Start()

	h, svc := newTestHandlers(t)
	svc.On("Get", mock.Anything, "running").Return(j, nil)

	req := httptest.NewRequest(http.MethodGet, "/moderations/running", nil)
	req.SetPathValue("id", "running")
	rec := httptest.NewRecorder()
	h.GetModeration(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(job.StatusRunning), resp.Status)
	assert.Nil(t, resp.Result)
	assert.Nil(t, resp.CompletedAt)
}

func TestGetModeration_NotFound(t *testing.T) {
	h, svc := newTestHandlers(t)
	svc.On("Get", mock.Anything, "missing").Return(nil, job.ErrJobNotFound)

	req := httptest.NewRequest(http.MethodGet, "/moderations/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.GetModeration(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)
}

func TestGetModeration_MissingID(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/moderations/", nil)
	rec := httptest.NewRecorder()

	h.GetModeration(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_JOB_ID", decodeError(t, rec).Code)
}

func TestListModerations(t *testing.T) {
	h, svc := newTestHandlers(t)
	svc.On("List", mock.Anything).Return([]*job.Job{completedJob(false), job.NewWithID("queued")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/moderations", nil)
	rec := httptest.NewRecorder()
	h.ListModerations(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListModerationsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Moderations, 2)
	assert.Nil(t, resp.Moderations[0].Result, "list omits results")
	assert.Equal(t, string(job.StatusInQueue), resp.Moderations[1].Status)
}

func TestCancelModeration(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"already finished", job.ErrJobFinished, http.StatusConflict},
		{"not found", job.ErrJobNotFound, http.StatusNotFound},
		{"other error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, svc := newTestHandlers(t)
			svc.On("Cancel", mock.Anything, "job-1").Return(tt.err)

			req := httptest.NewRequest(http.MethodDelete, "/moderations/job-1", nil)
			req.SetPathValue("id", "job-1")
			rec := httptest.NewRecorder()
			h.CancelModeration(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRouter_Integration(t *testing.T) {
	h, svc := newTestHandlers(t)
	svc.On("Submit", mock.Anything, mock.AnythingOfType("job.SubmitInput")).Return(job.NewWithID("job-r"), nil)
	svc.On("Get", mock.Anything, "job-r").Return(job.NewWithID("job-r"), nil)
	svc.On("Cancel", mock.Anything, "job-r").Return(nil)

	router := NewRouter(h, testLogger(), DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "call.wav", wavBytes(100), nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var createResp CreateModerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&createResp))

	req = httptest.NewRequest(http.MethodGet, "/moderations/"+createResp.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/moderations/"+createResp.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// metrics are not mounted by default
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestHandlers(t)
	cfg := DefaultConfig()
	cfg.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics")
	})
	router := NewRouter(h, testLogger(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	h, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/moderations", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestTelemetryMiddleware_NilMetrics(t *testing.T) {
	var seen time.Time
	handler := TelemetryMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = time.Now()
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.False(t, seen.IsZero())
}
