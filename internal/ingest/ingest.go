// Package ingest builds a category index store from source records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/mistri/internal/embedding"
	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/source"
	"github.com/hyperjump/mistri/internal/store"
	"github.com/hyperjump/mistri/internal/vector"
	"github.com/hyperjump/mistri/pkg/utils"
)

var (
	// ErrEmptyInput is returned when there are no source records to ingest.
	ErrEmptyInput = errors.New("no source records to ingest")
	// ErrNoEmbeddings is returned when every record failed to embed.
	ErrNoEmbeddings = errors.New("no record could be embedded")
	// ErrDimensionMismatch is returned when embeddings in one build differ in length.
	ErrDimensionMismatch = vector.ErrDimensionMismatch

	errNonFinite = errors.New("embedding contains NaN or Inf")
)

// Failure records one skipped source record.
type Failure struct {
	Position int    `json:"position"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// Report summarizes one build.
type Report struct {
	BuildID    string                  `json:"build_id"`
	Dir        string                  `json:"dir"`
	Total      int                     `json:"total"`
	Ingested   int                     `json:"ingested"`
	Skipped    int                     `json:"skipped"`
	Categories map[models.Category]int `json:"categories"`
	Dimensions int                     `json:"dimensions"`
	Failures   []Failure               `json:"failures,omitempty"`
	Duration   time.Duration           `json:"duration"`
}

// Ingestor embeds source records and publishes them as a new store build.
type Ingestor struct {
	embedder    embedding.Embedder
	root        string
	retain      int
	model       string
	dimensions  int
	concurrency int
	loader      *source.Loader
	logger      *zap.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets a logger for progress and failures.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingestor) { in.logger = l }
}

// WithConcurrency bounds the number of in-flight embedding calls.
func WithConcurrency(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.concurrency = n
		}
	}
}

// WithRetainedBuilds sets how many builds are kept on disk, the new one included.
func WithRetainedBuilds(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.retain = n
		}
	}
}

// WithModel records the embedding model name in the build manifest.
func WithModel(model string) Option {
	return func(in *Ingestor) { in.model = model }
}

// WithDimensions fails the build when any embedding is not n long. 0 accepts the
// length of the first embedding.
func WithDimensions(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.dimensions = n
		}
	}
}

// New creates an Ingestor writing builds under root.
func New(embedder embedding.Embedder, root string, opts ...Option) *Ingestor {
	in := &Ingestor{
		embedder:    embedder,
		root:        root,
		retain:      2,
		concurrency: 1,
		loader:      source.NewLoader(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestFile loads a CSV or XLSX table and ingests its rows.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (*Report, error) {
	recs, err := in.loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", path, err)
	}
	in.logger.Info("loaded source records", zap.String("path", path), zap.Int("count", len(recs)))
	return in.Ingest(ctx, recs)
}

// Ingest builds a store from recs and publishes it. Nothing is written when the
// build fails; a previously published store stays live.
func (in *Ingestor) Ingest(ctx context.Context, recs []models.SourceRecord) (*Report, error) {
	start := time.Now()
	s, report, err := in.Build(ctx, recs)
	if err != nil {
		return nil, err
	}
	dir, err := store.Save(in.root, s, in.retain)
	if err != nil {
		return nil, fmt.Errorf("save store: %w", err)
	}
	report.Dir = dir
	report.Duration = time.Since(start)
	in.logger.Info("ingestion complete",
		zap.String("build_id", report.BuildID),
		zap.Int("total", report.Total),
		zap.Int("ingested", report.Ingested),
		zap.Int("skipped", report.Skipped),
		zap.Any("categories", report.Categories),
		zap.Int("dimensions", report.Dimensions),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// Build embeds recs and assembles an in-memory store without touching disk.
// Records that fail to embed are skipped; ids are assigned densely in input order
// over the records that succeeded.
func (in *Ingestor) Build(ctx context.Context, recs []models.SourceRecord) (*store.Store, *Report, error) {
	if len(recs) == 0 {
		return nil, nil, ErrEmptyInput
	}

	cleaned := make([]models.SourceRecord, len(recs))
	texts := make([]string, len(recs))
	for i, r := range recs {
		cleaned[i] = models.SourceRecord{Code: normalize(r.Code), Name: normalize(r.Name), Description: normalize(r.Description)}
		texts[i] = cleaned[i].SearchText()
	}
	recs = cleaned

	vecs := make([][]float32, len(recs))
	errs := make([]error, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for i := range recs {
		g.Go(func() error {
			vec, err := in.embedder.Embed(gctx, texts[i])
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, ErrDimensionMismatch) {
					return fmt.Errorf("record %d (%s): %w", i, recs[i].Code, err)
				}
				errs[i] = err
				return nil
			}
			if in.dimensions > 0 && len(vec) != in.dimensions {
				return fmt.Errorf("record %d (%s): %w: embedding has %d dimensions, configured %d",
					i, recs[i].Code, ErrDimensionMismatch, len(vec), in.dimensions)
			}
			if !utils.AllFinite(vec) {
				errs[i] = errNonFinite
				return nil
			}
			vecs[i] = vec
			in.logger.Debug("embedded record", zap.Int("position", i), zap.String("code", recs[i].Code))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("ingestion cancelled: %w", err)
		}
		return nil, nil, err
	}

	report := &Report{Total: len(recs)}
	var index *vector.FlatIndex
	records := make([]models.Record, 0, len(recs))
	for i, r := range recs {
		if errs[i] != nil || len(vecs[i]) == 0 {
			err := errs[i]
			if err == nil {
				err = errors.New("empty embedding")
			}
			in.logger.Warn("skipping record", zap.Int("position", i), zap.String("code", r.Code), zap.Error(err))
			report.Failures = append(report.Failures, Failure{Position: i, Code: r.Code, Error: err.Error()})
			continue
		}
		if index == nil {
			var err error
			if index, err = vector.NewFlatIndex(len(vecs[i])); err != nil {
				return nil, nil, err
			}
		}
		id, err := index.Add(vecs[i])
		if err != nil {
			return nil, nil, fmt.Errorf("record %d (%s): %w", i, r.Code, err)
		}
		records = append(records, models.Record{
			ID:          id,
			Category:    models.CategoryErrorCodes,
			ContentType: models.ContentTypeText,
			Code:        r.Code,
			Name:        r.Name,
			Description: r.Description,
			SearchText:  texts[i],
		})
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: %d of %d records failed", ErrNoEmbeddings, len(recs), len(recs))
	}

	s, err := store.New(index, records, in.model)
	if err != nil {
		return nil, nil, err
	}
	report.BuildID = s.Manifest.BuildID
	report.Ingested = len(records)
	report.Skipped = len(report.Failures)
	report.Categories = s.CategoryCounts()
	report.Dimensions = index.Dimensions()
	return s, report, nil
}
