package asr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/maauso/speechguard-api/internal/transcript"
)

// verboseResponse is Whisper's verbose_json document. The OpenAI API and the
// faster-whisper worker both produce it.
type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	ID         int      `json:"id"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	AvgLogprob *float64 `json:"avg_logprob"`
}

// parseVerbose decodes a verbose_json document into a normalized transcript.
// A language the backend did not report falls back to the requested one.
func parseVerbose(data []byte, model, requestedLanguage string) (*transcript.Transcript, error) {
	var resp verboseResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("asr: decode verbose response: %w", err)
	}

	segments := make([]transcript.Segment, len(resp.Segments))
	for i, s := range resp.Segments {
		segments[i] = transcript.Segment{
			Index:      i,
			Start:      s.Start,
			End:        s.End,
			Text:       strings.TrimSpace(s.Text),
			Confidence: confidence(s.AvgLogprob),
		}
	}

	language := resp.Language
	if language == "" {
		language = requestedLanguage
	}

	t := &transcript.Transcript{
		Text:     resp.Text,
		Language: normalizeLanguage(language),
		Segments: segments,
		Duration: resp.Duration,
		Model:    model,
	}
	t.Normalize()
	return t, nil
}

// confidence maps an average token log-probability to [0, 1].
func confidence(avgLogprob *float64) *float64 {
	if avgLogprob == nil || math.IsNaN(*avgLogprob) {
		return nil
	}
	c := math.Exp(min(*avgLogprob, 0))
	return &c
}

// Whisper reports full language names ("english") on the OpenAI API and
// ISO codes ("en") elsewhere.
var languageNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"catalan":    "ca",
	"russian":    "ru",
	"japanese":   "ja",
	"chinese":    "zh",
	"korean":     "ko",
	"arabic":     "ar",
	"hindi":      "hi",
	"turkish":    "tr",
	"polish":     "pl",
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageNames[lang]; ok {
		return code
	}
	return lang
}
