// Package embedding provides the text embedding boundary, provider clients, and caching.
package embedding

import (
	"context"
	"errors"

	"github.com/hyperjump/mistri/internal/vector"
)

// ErrUnavailable is returned when an embedding cannot be produced
// (credentials, network, quota, or a malformed provider response).
var ErrUnavailable = errors.New("embedding unavailable")

// ErrDimensionMismatch is returned when a provider answers with a vector whose length
// differs from the configured or previously observed dimension.
var ErrDimensionMismatch = vector.ErrDimensionMismatch

// Embedder produces fixed-length vector embeddings for text.
// Dimensions returns 0 until the length is known (configured or learned from a first call).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}
