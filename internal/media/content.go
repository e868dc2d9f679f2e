package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is used when the payload cannot be identified.
const DefaultContentType = "application/octet-stream"

// DetectContentType sniffs the MIME type of an audio payload.
func DetectContentType(data []byte) string {
	if len(data) == 0 {
		return DefaultContentType
	}
	return mimetype.Detect(data).String()
}

// DetectFileContentType sniffs the MIME type of the file at path.
func DetectFileContentType(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// IsAudio reports whether a detected MIME type is an audio (or audio-bearing
// video container) type.
func IsAudio(contentType string) bool {
	m := mimetype.Lookup(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
