package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/mistri/internal/embedding"
	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/store"
)

// flakyEmbedder delegates to a mock but fails for texts containing any of fail.
type flakyEmbedder struct {
	inner *embedding.MockEmbedder
	fail  []string
	dims  map[string]int

	mu    sync.Mutex
	calls int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, s := range f.fail {
		if strings.Contains(text, s) {
			return nil, embedding.ErrUnavailable
		}
	}
	for s, d := range f.dims {
		if strings.Contains(text, s) {
			return make([]float32, d), nil
		}
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) Dimensions() int { return f.inner.Dimensions() }
func (f *flakyEmbedder) Close() error    { return nil }

func sampleRecords() []models.SourceRecord {
	return []models.SourceRecord{
		{Code: "IE", Name: "Inlet Error", Description: "Water inlet takes too long"},
		{Code: "UE", Name: "Unbalanced Load", Description: "Laundry bunched"},
		{Code: "DE", Name: "Door Error", Description: "Door not latched"},
		{Code: "FE", Name: "Fill Error", Description: "Too much water"},
		{Code: "dE", Name: "Door  Lock", Description: "  Lock\tfailure "},
	}
}

func TestIngestSkipsFailedRecords(t *testing.T) {
	root := t.TempDir()
	emb := &flakyEmbedder{inner: embedding.NewMockEmbedder(8), fail: []string{"Error DE:"}}
	in := New(emb, root, WithConcurrency(3), WithModel("mock"))

	report, err := in.Ingest(context.Background(), sampleRecords())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Total != 5 || report.Ingested != 4 || report.Skipped != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].Code != "DE" || report.Failures[0].Position != 2 {
		t.Fatalf("failures = %+v", report.Failures)
	}
	if report.Categories[models.CategoryErrorCodes] != 4 || report.Dimensions != 8 {
		t.Fatalf("report = %+v", report)
	}

	s, err := store.Load(root)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if s.Size() != 4 {
		t.Fatalf("store size = %d, want 4", s.Size())
	}
	wantCodes := []string{"IE", "UE", "FE", "dE"}
	for i, code := range wantCodes {
		if s.Records[i].ID != i || s.Records[i].Code != code {
			t.Errorf("record %d = %+v, want code %s", i, s.Records[i], code)
		}
	}
	last := s.Records[3]
	if last.Name != "Door Lock" || last.Description != "Lock failure" {
		t.Errorf("fields not normalized: %+v", last)
	}
	if last.SearchText != "Error dE: Door Lock - Lock failure" {
		t.Errorf("search text = %q", last.SearchText)
	}
	if s.Manifest.Model != "mock" || s.Manifest.BuildID != report.BuildID {
		t.Errorf("manifest = %+v", s.Manifest)
	}
	if len(s.Partition(models.CategorySchematics)) != 0 || len(s.Partition(models.CategoryGeneral)) != 0 {
		t.Error("only ERROR_CODES should be populated")
	}
}

func TestIngestEmptyInputWritesNothing(t *testing.T) {
	root := t.TempDir()
	in := New(embedding.NewMockEmbedder(4), root)
	if _, err := in.Ingest(context.Background(), nil); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no artifacts, found %d entries", len(entries))
	}
}

func TestIngestAllFailKeepsPreviousStore(t *testing.T) {
	root := t.TempDir()
	good := New(embedding.NewMockEmbedder(4), root)
	first, err := good.Ingest(context.Background(), sampleRecords()[:2])
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	bad := New(&flakyEmbedder{inner: embedding.NewMockEmbedder(4), fail: []string{"Error"}}, root)
	if _, err := bad.Ingest(context.Background(), sampleRecords()); !errors.Is(err, ErrNoEmbeddings) {
		t.Fatalf("expected ErrNoEmbeddings, got %v", err)
	}

	s, err := store.Load(root)
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if s.Manifest.BuildID != first.BuildID || s.Size() != 2 {
		t.Fatalf("previous store replaced: %+v", s.Manifest)
	}
	builds, err := os.ReadDir(filepath.Join(root, store.BuildsDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(builds) != 1 {
		t.Fatalf("expected 1 build on disk, got %d", len(builds))
	}
}

func TestIngestDimensionMismatch(t *testing.T) {
	root := t.TempDir()
	emb := &flakyEmbedder{inner: embedding.NewMockEmbedder(4), dims: map[string]int{"Error FE:": 6}}
	in := New(emb, root)
	if _, err := in.Ingest(context.Background(), sampleRecords()); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := store.Load(root); !errors.Is(err, store.ErrNotBuilt) {
		t.Fatalf("no store should be published, got %v", err)
	}
}

// wrongLengthEmbedder fails the way a provider returning the wrong vector length does.
type wrongLengthEmbedder struct{ *embedding.MockEmbedder }

func (wrongLengthEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: %w: returned 3 dimensions, expected 4", embedding.ErrUnavailable, embedding.ErrDimensionMismatch)
}

func TestIngestRejectsConfiguredDimensionMismatch(t *testing.T) {
	tests := []struct {
		name string
		emb  embedding.Embedder
		opts []Option
	}{
		{"first embedding differs from configured", embedding.NewMockEmbedder(8), []Option{WithDimensions(16)}},
		{"provider reports wrong length", wrongLengthEmbedder{embedding.NewMockEmbedder(4)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			in := New(tt.emb, root, tt.opts...)
			_, err := in.Ingest(context.Background(), sampleRecords())
			if !errors.Is(err, ErrDimensionMismatch) {
				t.Fatalf("expected ErrDimensionMismatch, got %v", err)
			}
			if strings.Contains(err.Error(), "cancelled") {
				t.Errorf("mismatch reported as cancellation: %v", err)
			}
			if _, err := store.Load(root); !errors.Is(err, store.ErrNotBuilt) {
				t.Fatalf("no store should be published, got %v", err)
			}
		})
	}

	s, _, err := New(embedding.NewMockEmbedder(8), t.TempDir(), WithDimensions(8)).Build(context.Background(), sampleRecords())
	if err != nil {
		t.Fatalf("matching dimensions: %v", err)
	}
	if s.Dimensions() != 8 {
		t.Errorf("dimensions = %d, want 8", s.Dimensions())
	}
}

func TestIngestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emb := &flakyEmbedder{inner: embedding.NewMockEmbedder(4), fail: []string{"Error"}}
	in := New(emb, t.TempDir())
	if _, err := in.Ingest(ctx, sampleRecords()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codes.csv")
	csv := "Error_Code,Error_Name,Description_Cause\nIE,Inlet Error,No water\nUE,Unbalanced,Load off\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	root := filepath.Join(dir, "store")
	report, err := New(embedding.NewMockEmbedder(4), root).IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if report.Ingested != 2 || report.Dir == "" {
		t.Fatalf("report = %+v", report)
	}
	if _, err := New(embedding.NewMockEmbedder(4), root).IngestFile(context.Background(), filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatal("expected error for missing source file")
	}
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	recs := []models.SourceRecord{{Code: " IE ", Name: "Inlet", Description: "x"}}
	if _, _, err := New(embedding.NewMockEmbedder(4), t.TempDir()).Build(context.Background(), recs); err != nil {
		t.Fatal(err)
	}
	if recs[0].Code != " IE " {
		t.Fatalf("input mutated: %q", recs[0].Code)
	}
}

type nanEmbedder struct {
	*embedding.MockEmbedder
	poison string
}

func (n nanEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := n.MockEmbedder.Embed(ctx, text)
	if err == nil && strings.Contains(text, n.poison) {
		vec[0] = float32(math.NaN())
	}
	return vec, err
}

func TestIngestSkipsNonFiniteEmbeddings(t *testing.T) {
	emb := nanEmbedder{MockEmbedder: embedding.NewMockEmbedder(8), poison: "Error UE:"}
	s, report, err := New(emb, t.TempDir()).Build(context.Background(), sampleRecords())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.Size() != 4 || report.Skipped != 1 || report.Failures[0].Code != "UE" {
		t.Fatalf("report = %+v", report)
	}
}
