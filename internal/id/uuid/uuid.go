// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// ModelPrefix is prepended to every model id.
const ModelPrefix = "mobo_"

// Generator creates prefixed UUID v7 strings.
type Generator struct {
	prefix string
}

// New creates a Generator whose ids start with prefix.
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns prefix followed by a UUID7.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
