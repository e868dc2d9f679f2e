package classify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Static errors for response parsing.
var (
	// ErrEmptyResponse is returned when the backend returns no content.
	ErrEmptyResponse = errors.New("classify: empty response")
	// ErrTrailingData is returned when the response holds more than one JSON value.
	ErrTrailingData = errors.New("classify: trailing data after JSON object")
	// ErrSchemaViolation is returned when the response does not match the output schema.
	ErrSchemaViolation = errors.New("classify: response does not match schema")
	// ErrSpanMismatch is returned when an evidence quote does not match the segment text.
	ErrSpanMismatch = errors.New("classify: evidence span does not match segment text")
)

// fencedJSON finds a JSON object inside a markdown code fence.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// wireOutput is the response as decoded off the wire. Pointers distinguish
// missing fields from zero values.
type wireOutput struct {
	Label     *string    `json:"label" validate:"required,oneof=NONE PROFANITY HATE EXTREMIST BOTH UNCLEAR UNCLEAR_ASR"`
	Rationale *string    `json:"rationale" validate:"required,max=500"`
	Spans     []wireSpan `json:"spans" validate:"required,dive"`
	Safety    *struct {
		UsedASRConfidenceRule *bool   `json:"used_asr_confidence_rule" validate:"required"`
		Notes                 *string `json:"notes" validate:"required"`
	} `json:"safety" validate:"required"`
}

type wireSpan struct {
	Quote     *string `json:"quote" validate:"required"`
	CharStart *int    `json:"char_start" validate:"required,min=0"`
	CharEnd   *int    `json:"char_end" validate:"required,min=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func outputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ParseOutput decodes a backend response into an Output. The response must
// be a single JSON object; when it is not, a JSON object inside a fenced
// code block is tried before giving up. The decoded object is validated
// against the output schema.
func ParseOutput(text string) (Output, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Output{}, ErrEmptyResponse
	}

	wire, err := decodeObject(text)
	if err != nil {
		m := fencedJSON.FindStringSubmatch(text)
		if m == nil {
			return Output{}, fmt.Errorf("classify: invalid JSON response: %w", err)
		}
		if wire, err = decodeObject(m[1]); err != nil {
			return Output{}, fmt.Errorf("classify: invalid JSON in fenced block: %w", err)
		}
	}

	return wire.toOutput()
}

// decodeObject decodes exactly one JSON value from s.
func decodeObject(s string) (*wireOutput, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var w wireOutput
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return &w, nil
}

// toOutput validates the decoded response and converts it.
func (w *wireOutput) toOutput() (Output, error) {
	if err := outputValidator().Struct(w); err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}

	spans := make([]EvidenceSpan, len(w.Spans))
	for i, s := range w.Spans {
		if *s.CharStart > *s.CharEnd {
			return Output{}, fmt.Errorf("%w: spans[%d] char_start %d > char_end %d",
				ErrSchemaViolation, i, *s.CharStart, *s.CharEnd)
		}
		spans[i] = EvidenceSpan{Quote: *s.Quote, CharStart: *s.CharStart, CharEnd: *s.CharEnd}
	}

	return Output{
		Label:     Label(*w.Label),
		Rationale: *w.Rationale,
		Spans:     spans,
		Safety: Safety{
			UsedASRConfidenceRule: *w.Safety.UsedASRConfidenceRule,
			Notes:                 *w.Safety.Notes,
		},
	}, nil
}

// VerifySpans checks that every quote equals the segment text between its
// character offsets.
func VerifySpans(text string, spans []EvidenceSpan) error {
	runes := []rune(text)
	for i, s := range spans {
		if s.CharStart < 0 || s.CharEnd > len(runes) || s.CharStart > s.CharEnd {
			return fmt.Errorf("%w: spans[%d] [%d:%d) out of range for %d characters",
				ErrSpanMismatch, i, s.CharStart, s.CharEnd, len(runes))
		}
		if got := string(runes[s.CharStart:s.CharEnd]); got != s.Quote {
			return fmt.Errorf("%w: spans[%d] quote %q, text has %q", ErrSpanMismatch, i, s.Quote, got)
		}
	}
	return nil
}

// OutputSchema returns the JSON schema of a classifier response.
func OutputSchema() map[string]any {
	labels := make([]string, len(Labels))
	for i, l := range Labels {
		labels[i] = string(l)
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"label", "rationale", "spans", "safety"},
		"properties": map[string]any{
			"label": map[string]any{
				"type": "string",
				"enum": labels,
			},
			"rationale": map[string]any{
				"type":      "string",
				"maxLength": MaxRationaleLen,
			},
			"spans": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"quote", "char_start", "char_end"},
					"properties": map[string]any{
						"quote":      map[string]any{"type": "string"},
						"char_start": map[string]any{"type": "integer", "minimum": 0},
						"char_end":   map[string]any{"type": "integer", "minimum": 0},
					},
				},
			},
			"safety": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"used_asr_confidence_rule", "notes"},
				"properties": map[string]any{
					"used_asr_confidence_rule": map[string]any{"type": "boolean"},
					"notes":                    map[string]any{"type": "string"},
				},
			},
		},
	}
}

// schemaJSON renders OutputSchema as indented JSON.
func schemaJSON() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(OutputSchema()); err != nil {
		panic(err)
	}
	return strings.TrimSpace(buf.String())
}
