// Package id generates job identifiers.
package id

import "github.com/google/uuid"

// Generate returns a new random (version 4) UUID string.
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s is a well-formed UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
