// Package uuid provides job and entity identifiers.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates time-ordered job IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string, so recent jobs sort last.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// EntityID derives a stable identifier from an entity's source-of-record URL.
// The same detail page always maps to the same ID across runs.
func EntityID(sourceURL string) string {
	key := strings.TrimRight(strings.TrimSpace(sourceURL), "/")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}
