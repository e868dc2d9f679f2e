// Package media provides audio probing, conversion and splicing on top of
// the ffmpeg and ffprobe CLIs.
package media

import "context"

// Info describes the first audio stream of a media file.
type Info struct {
	// Duration is the container duration in seconds.
	Duration float64
	// SampleRate is the audio sample rate in Hz.
	SampleRate int
	// Channels is the number of audio channels.
	Channels int
	// Codec is the ffprobe codec name, e.g. "pcm_s16le" or "mp3".
	Codec string
	// Format is the ffprobe container format name, e.g. "wav".
	Format string
}

// SampleRange is a half-open [Start, End) range of audio samples.
type SampleRange struct {
	Start int64
	End   int64
}

// Processor defines the audio operations used by the moderation pipeline.
type Processor interface {
	// Probe reads duration and stream parameters of the file at path.
	Probe(ctx context.Context, path string) (Info, error)

	// ConvertToMono16k resamples src to a mono 16 kHz PCM WAV at dst.
	ConvertToMono16k(ctx context.Context, src, dst string) error

	// Splice concatenates the given sample ranges of src, in order, into a
	// PCM WAV file at dst with the source sample rate.
	Splice(ctx context.Context, src, dst string, keep []SampleRange, sampleRate int) error
}
