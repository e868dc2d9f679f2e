// Package storage keeps uploaded and intermediate audio on local disk and
// optionally publishes sanitized audio to S3.
package storage

import (
	"context"
	"io"
)

// Storage handles temporary audio files and optional S3 delivery.
type Storage interface {
	// SaveTemp writes data to a new temporary file and returns its path.
	// name is a filename hint; its extension is kept so that downstream
	// steps can recognize the container.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a temporary file. The caller closes the reader.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the given files, continuing past failures.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 stores data under key and returns its URL.
	// Returns ErrS3NotConfigured when S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
