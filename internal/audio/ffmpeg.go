package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/maauso/speechguard-api/internal/media"
)

// Verify interface implementation at compile time.
var _ Splitter = (*FFmpegSplitter)(nil)

// Prober reads the duration of a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

// FFmpegSplitter implements Splitter with ffmpeg silencedetect. Chunks are
// re-encoded as mono 16 kHz FLAC.
type FFmpegSplitter struct {
	ffmpegPath string
	prober     Prober
}

// NewFFmpegSplitter creates a new FFmpegSplitter.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegSplitter(ffmpegPath string, prober Prober) *FFmpegSplitter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegSplitter{ffmpegPath: ffmpegPath, prober: prober}
}

// silence is a detected quiet interval in seconds.
type silence struct {
	Start float64
	End   float64
}

func (s silence) mid() float64 { return (s.Start + s.End) / 2 }

// Split implements Splitter.
func (s *FFmpegSplitter) Split(ctx context.Context, input, outputDir string, opts SplitOpts) ([]Chunk, error) {
	if _, err := os.Stat(input); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, input)
	}
	if opts.ChunkTargetSec <= 0 {
		opts.ChunkTargetSec = DefaultSplitOpts().ChunkTargetSec
	}

	info, err := s.prober.Probe(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("audio: probe: %w", err)
	}
	if info.Duration <= float64(opts.ChunkTargetSec) {
		return []Chunk{{Path: input, Start: 0, End: info.Duration}}, nil
	}

	silences, err := s.detectSilences(ctx, input, opts)
	if err != nil {
		return nil, fmt.Errorf("audio: detect silences: %w", err)
	}

	points := splitPoints(silences, info.Duration, float64(opts.ChunkTargetSec))
	return s.extractChunks(ctx, input, outputDir, boundaries(points, info.Duration))
}

// detectSilences runs silencedetect over the whole file. The filter
// reports on stderr.
func (s *FFmpegSplitter) detectSilences(ctx context.Context, input string, opts SplitOpts) ([]silence, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%.3f",
		opts.SilenceThreshDB,
		float64(opts.MinSilenceMs)/1000.0,
	)

	stderr, err := s.run(ctx, "-i", input, "-af", filter, "-f", "null", "-")
	if err != nil {
		return nil, err
	}
	return parseSilenceOutput(stderr), nil
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)
)

// parseSilenceOutput pairs silence_start and silence_end lines. A trailing
// start without an end (silence running to EOF) is dropped.
func parseSilenceOutput(output string) []silence {
	var (
		intervals []silence
		start     float64
		open      bool
	)
	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				start = math.Max(v, 0)
				open = true
			}
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && open {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				intervals = append(intervals, silence{Start: start, End: v})
				open = false
			}
		}
	}
	return intervals
}

// splitPoints walks the file in steps of target seconds, cutting at the
// silence midpoint nearest each step within a third of target, or at the
// step itself when there is none. A cut closer than one second to the end
// is skipped.
func splitPoints(silences []silence, total, target float64) []float64 {
	var points []float64
	tolerance := target / 3
	last := 0.0

	for total-last > target {
		ideal := last + target
		point := ideal
		if best, ok := nearestSilence(silences, ideal, tolerance); ok && best.mid() > last+1 {
			point = best.mid()
		}
		if point >= total-1 {
			break
		}
		points = append(points, point)
		last = point
	}
	return points
}

// nearestSilence returns the silence whose midpoint is closest to ideal,
// within tolerance. silences must be sorted by start.
func nearestSilence(silences []silence, ideal, tolerance float64) (silence, bool) {
	var (
		best     silence
		found    bool
		bestDist = tolerance
	)
	for _, sil := range silences {
		m := sil.mid()
		if m < ideal-tolerance {
			continue
		}
		if m > ideal+tolerance {
			break
		}
		if d := math.Abs(m - ideal); d <= bestDist {
			best, bestDist, found = sil, d, true
		}
	}
	return best, found
}

// boundaries turns cut points into contiguous [start, end) spans.
func boundaries(points []float64, total float64) []Chunk {
	spans := make([]Chunk, 0, len(points)+1)
	start := 0.0
	for _, p := range points {
		spans = append(spans, Chunk{Start: start, End: p})
		start = p
	}
	return append(spans, Chunk{Start: start, End: total})
}

func (s *FFmpegSplitter) extractChunks(ctx context.Context, input, outputDir string, spans []Chunk) ([]Chunk, error) {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("audio: create output directory: %w", err)
	}

	chunks := make([]Chunk, 0, len(spans))
	for i, span := range spans {
		span.Path = filepath.Join(outputDir, chunkName(i))
		_, err := s.run(ctx,
			"-y",
			"-ss", formatSeconds(span.Start),
			"-t", formatSeconds(span.Duration()),
			"-i", input,
			"-vn", "-ac", "1", "-ar", "16000",
			"-c:a", "flac",
			span.Path,
		)
		if err != nil {
			return nil, fmt.Errorf("audio: extract chunk %d: %w", i, err)
		}
		chunks = append(chunks, span)
	}
	return chunks, nil
}

// run executes ffmpeg and returns its stderr.
func (s *FFmpegSplitter) run(ctx context.Context, args ...string) (string, error) {
	args = append([]string{"-hide_banner", "-nostdin"}, args...)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return "", &media.FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stderr.String(), nil
}

func chunkName(i int) string {
	return fmt.Sprintf("chunk_%03d.flac", i)
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}
