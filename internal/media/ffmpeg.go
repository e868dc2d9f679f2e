package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrNoKeepRanges is returned when Splice is called without any range.
	ErrNoKeepRanges = errors.New("media: no sample ranges to splice")
	// ErrInvalidRange is returned when a sample range is empty or negative.
	ErrInvalidRange = errors.New("media: invalid sample range")
	// ErrInvalidSampleRate is returned when the sample rate is not positive.
	ErrInvalidSampleRate = errors.New("media: sample rate must be positive")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("media: ffprobe execution failed")
	// ErrNoAudioStream is returned when the probed file has no audio stream.
	ErrNoAudioStream = errors.New("media: no audio stream found")
)

// Compile-time check that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)

// FFmpegProcessor implements Processor using the ffmpeg and ffprobe CLIs.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" found via PATH.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// probeOutput mirrors the parts of `ffprobe -print_format json` we read.
type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe returns duration and audio stream parameters of the file at path.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (Info, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,sample_rate,channels:format=format_name,duration",
		"-print_format", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput decodes ffprobe JSON output into an Info.
func parseProbeOutput(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("media: parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return Info{}, ErrNoAudioStream
	}

	stream := out.Streams[0]
	info := Info{
		Channels: stream.Channels,
		Codec:    stream.CodecName,
		Format:   out.Format.FormatName,
	}

	if stream.SampleRate != "" {
		rate, err := strconv.Atoi(stream.SampleRate)
		if err != nil {
			return Info{}, fmt.Errorf("media: parse sample rate %q: %w", stream.SampleRate, err)
		}
		info.SampleRate = rate
	}

	if d := strings.TrimSpace(out.Format.Duration); d != "" && d != "N/A" {
		dur, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return Info{}, fmt.Errorf("media: parse duration %q: %w", d, err)
		}
		info.Duration = dur
	}

	return info, nil
}

// ConvertToMono16k resamples src to a mono 16 kHz 16-bit PCM WAV at dst.
func (p *FFmpegProcessor) ConvertToMono16k(ctx context.Context, src, dst string) error {
	args := []string{
		"-y",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// Splice keeps only the given sample ranges of src and writes them back to
// back as PCM WAV at dst. Ranges are trimmed on exact sample boundaries so
// the output length is the sum of the range lengths.
func (p *FFmpegProcessor) Splice(ctx context.Context, src, dst string, keep []SampleRange, sampleRate int) error {
	if len(keep) == 0 {
		return ErrNoKeepRanges
	}
	if sampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}

	filter, err := spliceFilter(keep)
	if err != nil {
		return err
	}

	args := []string{
		"-y",
		"-i", src,
		"-filter_complex", filter,
		"-map", "[out]",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// spliceFilter builds an atrim/concat filter graph for the keep ranges.
func spliceFilter(keep []SampleRange) (string, error) {
	var b strings.Builder
	for i, r := range keep {
		if r.Start < 0 || r.End <= r.Start {
			return "", fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, r.Start, r.End)
		}
		fmt.Fprintf(&b, "[0:a]atrim=start_sample=%d:end_sample=%d,asetpts=N/SR/TB[k%d];", r.Start, r.End, i)
	}
	for i := range keep {
		fmt.Fprintf(&b, "[k%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", len(keep))
	return b.String(), nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, append([]string{"-hide_banner", "-nostdin"}, args...)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
