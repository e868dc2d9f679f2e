package asr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/maauso/speechguard-api/internal/audio"
	"github.com/maauso/speechguard-api/internal/transcript"
)

// DefaultMaxUploadBytes stays under the 25 MB request limit of the OpenAI
// audio endpoints.
const DefaultMaxUploadBytes int64 = 24 << 20

// ChunkedConfig configures a Chunked provider.
type ChunkedConfig struct {
	Splitter  audio.Splitter
	SplitOpts audio.SplitOpts
	// MaxBytes is the largest file passed to the wrapped provider as is.
	MaxBytes int64
	// TempDir holds chunk files for the duration of one call.
	TempDir string
	Logger  *slog.Logger
}

var _ Provider = (*Chunked)(nil)

// Chunked transcribes files over MaxBytes piecewise: the audio is split at
// silences, each chunk is transcribed in order and the segments are shifted
// back onto the timeline of the original file.
type Chunked struct {
	inner    Provider
	splitter audio.Splitter
	opts     audio.SplitOpts
	maxBytes int64
	tempDir  string
	logger   *slog.Logger
}

// NewChunked wraps inner.
func NewChunked(inner Provider, cfg ChunkedConfig) *Chunked {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxUploadBytes
	}
	if cfg.SplitOpts.ChunkTargetSec <= 0 {
		cfg.SplitOpts = audio.DefaultSplitOpts()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chunked{
		inner:    inner,
		splitter: cfg.Splitter,
		opts:     cfg.SplitOpts,
		maxBytes: cfg.MaxBytes,
		tempDir:  cfg.TempDir,
		logger:   cfg.Logger,
	}
}

// Name implements Provider.
func (c *Chunked) Name() string { return c.inner.Name() }

// Transcribe implements Provider. The language detected on the first chunk
// is pinned for the rest so one recording is not split across languages.
func (c *Chunked) Transcribe(ctx context.Context, req Request) (*transcript.Transcript, error) {
	if req.AudioPath == "" {
		return nil, ErrAudioPathRequired
	}
	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("asr: stat audio: %w", err)
	}
	if info.Size() <= c.maxBytes {
		return c.inner.Transcribe(ctx, req)
	}

	if c.tempDir != "" {
		if err := os.MkdirAll(c.tempDir, 0o750); err != nil {
			return nil, fmt.Errorf("asr: create temp dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(c.tempDir, "asr-chunks-*")
	if err != nil {
		return nil, fmt.Errorf("asr: create chunk dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	chunks, err := c.splitter.Split(ctx, req.AudioPath, dir, c.opts)
	if err != nil {
		return nil, fmt.Errorf("asr: split audio: %w", err)
	}
	c.logger.Info("transcribing in chunks",
		slog.String("provider", c.inner.Name()),
		slog.Int64("bytes", info.Size()),
		slog.Int("chunks", len(chunks)),
	)

	out := &transcript.Transcript{}
	texts := make([]string, 0, len(chunks))
	chunkReq := req
	for i, chunk := range chunks {
		chunkReq.AudioPath = chunk.Path
		part, err := c.inner.Transcribe(ctx, chunkReq)
		if err != nil {
			return nil, fmt.Errorf("asr: chunk %d at %.1fs: %w", i, chunk.Start, err)
		}

		if i == 0 {
			out.Model = part.Model
			out.Language = part.Language
			if chunkReq.Language == "" && !chunkReq.Translate {
				chunkReq.Language = part.Language
			}
		}
		for _, seg := range part.Segments {
			seg.Start += chunk.Start
			seg.End += chunk.Start
			out.Segments = append(out.Segments, seg)
		}
		if text := strings.TrimSpace(part.Text); text != "" {
			texts = append(texts, text)
		}
		out.Duration = chunk.End
	}

	out.Text = strings.Join(texts, " ")
	out.Normalize()
	return out, nil
}
