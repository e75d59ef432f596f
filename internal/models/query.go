package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyQuery is returned when a search query has no text.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrInvalidTopK is returned when top_k is negative or zero after defaults.
	ErrInvalidTopK = errors.New("top_k must be a positive integer")
)

// SearchQuery is a retrieval request. Category "" means no restriction.
// Image is consumed only by intent routing and is never serialized.
type SearchQuery struct {
	Query    string   `json:"query"`
	Category Category `json:"category,omitempty"`
	TopK     int      `json:"top_k,omitempty"`
	HasImage bool     `json:"has_image,omitempty"`
	Image    []byte   `json:"-"`
}

// Validate normalizes the query: trims text, applies defaultTopK when TopK is unset,
// and caps TopK at maxTopK when maxTopK > 0. Returns an error for empty text, a
// negative TopK, or an unknown category.
func (q *SearchQuery) Validate(defaultTopK, maxTopK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	if q.Category != "" {
		c, err := ParseCategory(string(q.Category))
		if err != nil {
			return err
		}
		q.Category = c
	}
	if q.TopK < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTopK, q.TopK)
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}
