// Package uuid generates the identifiers used for request ids, staging
// artifact names and generated etags.
package uuid

import (
	"github.com/google/uuid"
)

// NewString returns a new time-ordered (V7) UUID string. It panics if the
// random source fails, like uuid.NewString.
func NewString() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewRandom returns a random (V4) UUID string. Staging names use it so that
// concurrent uploads never share a prefix-ordered name.
func NewRandom() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
