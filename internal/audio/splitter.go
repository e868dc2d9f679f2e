// Package audio cuts long recordings into time-offset chunks at silence
// boundaries so each piece fits the upload limit of an ASR backend.
package audio

import (
	"context"
	"errors"
)

// ErrInputNotFound is returned when the file to split does not exist.
var ErrInputNotFound = errors.New("audio: input file does not exist")

// SplitOpts configures the behavior of audio splitting.
type SplitOpts struct {
	// ChunkTargetSec is the target duration for each audio chunk in seconds.
	// Audio will be split at silence boundaries close to this duration.
	ChunkTargetSec int

	// MinSilenceMs is the minimum silence duration in milliseconds
	// to consider for a split point.
	MinSilenceMs int

	// SilenceThreshDB is the volume threshold in dBFS below which
	// audio is considered silence.
	SilenceThreshDB float64
}

// DefaultSplitOpts returns ten-minute chunks cut at pauses of at least
// 400ms below -35 dBFS.
func DefaultSplitOpts() SplitOpts {
	return SplitOpts{
		ChunkTargetSec:  600,
		MinSilenceMs:    400,
		SilenceThreshDB: -35,
	}
}

// Chunk is one piece of a split recording. Start and End are offsets in
// seconds into the original file.
type Chunk struct {
	Path  string
	Start float64
	End   float64
}

// Duration returns the chunk length in seconds.
func (c Chunk) Duration() float64 {
	return c.End - c.Start
}

// Splitter divides an audio file into contiguous chunks.
type Splitter interface {
	// Split cuts input into chunks written under outputDir. Chunks cover
	// the whole file in order with no gaps. Audio no longer than
	// ChunkTargetSec yields a single chunk pointing at input itself.
	//
	// The caller owns outputDir and removes it when done.
	Split(ctx context.Context, input, outputDir string, opts SplitOpts) ([]Chunk, error)
}
