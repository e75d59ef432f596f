// Package retrieval runs category-scoped, thresholded nearest-neighbour search over the live store.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/mistri/internal/config"
	"github.com/hyperjump/mistri/internal/embedding"
	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/store"
	"github.com/hyperjump/mistri/internal/vector"
	"github.com/hyperjump/mistri/pkg/utils"
)

var (
	// ErrInvalidTopK is returned when top_k is not positive.
	ErrInvalidTopK = models.ErrInvalidTopK
	// ErrQueryEmbedding wraps a failure to embed the query text.
	ErrQueryEmbedding = errors.New("query embedding failed")
	// ErrDimensionMismatch is returned when the embedder and the store disagree on vector length.
	ErrDimensionMismatch = vector.ErrDimensionMismatch
)

// StoreProvider yields the store to search. *store.Live satisfies it.
type StoreProvider interface {
	Current() (*store.Store, error)
}

// Retriever embeds queries and searches the current store.
type Retriever struct {
	stores    StoreProvider
	embedder  embedding.Embedder
	threshold float64
	logger    *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for per-query debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New creates a Retriever. The similarity threshold must lie strictly between 0 and 1.
func New(stores StoreProvider, embedder embedding.Embedder, cfg config.RetrievalConfig, opts ...Option) (*Retriever, error) {
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold >= 1 {
		return nil, fmt.Errorf("%w: similarity threshold %v must be in (0, 1)", config.ErrInvalid, cfg.SimilarityThreshold)
	}
	r := &Retriever{
		stores:    stores,
		embedder:  embedder,
		threshold: cfg.SimilarityThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Threshold returns the configured similarity threshold.
func (r *Retriever) Threshold() float64 { return r.threshold }

// Search returns up to q.TopK matches for q.Query, best first. An empty q.Category
// searches every record; otherwise only that category's partition is searched.
// Candidates whose similarity is below the threshold are dropped, so the result may be
// empty. That is not an error.
func (r *Retriever) Search(ctx context.Context, q models.SearchQuery) ([]models.Match, error) {
	if q.TopK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, q.TopK)
	}
	if q.Category != "" && !q.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, q.Category)
	}
	s, err := r.stores.Current()
	if err != nil {
		return nil, err
	}
	if s.Size() == 0 {
		return nil, fmt.Errorf("%w: store has no records", store.ErrUnavailable)
	}

	vec, err := r.embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryEmbedding, err)
	}
	if !utils.AllFinite(vec) {
		return nil, fmt.Errorf("%w: embedding contains NaN or Inf", ErrQueryEmbedding)
	}
	if len(vec) != s.Dimensions() {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, store has %d", ErrDimensionMismatch, len(vec), s.Dimensions())
	}

	var candidates []int
	if q.Category != "" {
		candidates = s.Partition(q.Category)
	}
	hits, err := s.Index.Search(vec, candidates, 0)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	matches := make([]models.Match, 0, q.TopK)
	for _, h := range hits {
		sim := vector.Similarity(h.Distance)
		if sim < r.threshold {
			continue
		}
		rec := s.Records[h.ID]
		matches = append(matches, models.Match{
			ID:              rec.ID,
			Code:            rec.Code,
			Name:            rec.Name,
			Description:     rec.Description,
			SimilarityScore: sim,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].SimilarityScore != matches[j].SimilarityScore {
			return matches[i].SimilarityScore > matches[j].SimilarityScore
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}

	r.logger.Debug("retrieval",
		zap.String("category", string(q.Category)),
		zap.Int("candidates", len(hits)),
		zap.Int("matches", len(matches)),
		zap.Int("top_k", q.TopK),
	)
	return matches, nil
}
