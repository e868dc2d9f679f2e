// Command moderate runs the moderation pipeline once on a local audio file
// and prints the result as JSON. Configuration is read from the same
// environment variables as the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/speechguard-api/internal/bootstrap"
	"github.com/maauso/speechguard-api/internal/config"
	"github.com/maauso/speechguard-api/internal/media"
	"github.com/maauso/speechguard-api/internal/pipeline"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var perr *pipeline.Error
		if errors.As(err, &perr) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("moderate", flag.ContinueOnError)
	var (
		inPath        string
		outPath       string
		language      string
		initialPrompt string
		translate     bool
		diarize       bool
		pretty        bool
		timeout       time.Duration
	)
	fs.StringVar(&inPath, "input", "", "Input audio file (-i)")
	fs.StringVar(&inPath, "i", "", "Input audio file")
	fs.StringVar(&outPath, "output", "", "Where to write sanitized audio (default <input>.sanitized.wav)")
	fs.StringVar(&outPath, "o", "", "Where to write sanitized audio")
	fs.StringVar(&language, "language", "", "Language hint, e.g. en")
	fs.StringVar(&initialPrompt, "prompt", "", "Initial prompt for the ASR model")
	fs.BoolVar(&translate, "translate", false, "Transcribe into English")
	fs.BoolVar(&diarize, "diarize", false, "Attribute speakers (requires RunPod settings)")
	fs.BoolVar(&pretty, "pretty", true, "Indent JSON output")
	fs.DurationVar(&timeout, "timeout", 0, "Run deadline (default RUN_TIMEOUT)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if inPath == "" && fs.NArg() > 0 {
		inPath = fs.Arg(0)
	}
	if inPath == "" {
		return errors.New("missing --input/-i audio path")
	}
	if _, err := os.Stat(inPath); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	contentType, err := media.DetectFileContentType(inPath)
	if err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if !media.IsAudio(contentType) {
		return fmt.Errorf("input: %s is not an audio file (%s)", inPath, contentType)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	moderation, err := bootstrap.NewPipeline(cfg, logger, nil)
	if err != nil {
		return err
	}
	opts, err := bootstrap.DefaultOptions(cfg)
	if err != nil {
		return err
	}
	opts.Transcription.Language = language
	opts.Transcription.Translate = translate
	opts.Transcription.InitialPrompt = initialPrompt
	opts.DiarizationEnabled = opts.DiarizationEnabled || diarize

	if timeout <= 0 {
		timeout = cfg.RunTimeout
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := moderation.Run(ctx, inPath, opts)
	if err != nil {
		return err
	}

	if result.Redacted() {
		if outPath == "" {
			outPath = strings.TrimSuffix(inPath, filepath.Ext(inPath)) + ".sanitized.wav"
		}
		if err := os.WriteFile(outPath, result.SanitizedAudio, 0o644); err != nil {
			return fmt.Errorf("write sanitized audio: %w", err)
		}
		fmt.Fprintf(os.Stderr, "sanitized audio written to %s\n", outPath)
	}

	enc := json.NewEncoder(stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
