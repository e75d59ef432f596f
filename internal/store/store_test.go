package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/vector"
)

func testStore(t *testing.T, cats ...models.Category) *Store {
	t.Helper()
	idx, err := vector.NewFlatIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	records := make([]models.Record, len(cats))
	for i, c := range cats {
		if _, err := idx.Add([]float32{float32(i), 1}); err != nil {
			t.Fatal(err)
		}
		records[i] = models.Record{
			ID:          i,
			Category:    c,
			ContentType: models.ContentTypeText,
			Code:        string(rune('A' + i)),
			Name:        "name",
			Description: "desc",
			SearchText:  "text",
		}
	}
	s, err := New(idx, records, "test-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewBuildsPartitions(t *testing.T) {
	s := testStore(t, models.CategoryErrorCodes, models.CategoryErrorCodes, models.CategorySchematics)
	if got := s.Partition(models.CategoryErrorCodes); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("ERROR_CODES partition = %v", got)
	}
	if got := s.Partition(models.CategorySchematics); len(got) != 1 || got[0] != 2 {
		t.Errorf("SCHEMATICS partition = %v", got)
	}
	if got := s.Partition(models.CategoryGeneral); got == nil || len(got) != 0 {
		t.Errorf("GENERAL partition = %#v, want empty non-nil", got)
	}
	counts := s.CategoryCounts()
	if counts[models.CategoryErrorCodes] != 2 || counts[models.CategorySchematics] != 1 || counts[models.CategoryGeneral] != 0 {
		t.Errorf("counts = %v", counts)
	}
	if s.Manifest.BuildID == "" || s.Manifest.Records != 3 || s.Manifest.Dimensions != 2 {
		t.Errorf("manifest = %+v", s.Manifest)
	}
}

func TestValidatePartitionInvariant(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Store)
	}{
		{"overlap", func(s *Store) {
			s.Partitions[models.CategoryErrorCodes] = []int{0, 1, 1}
		}},
		{"gap", func(s *Store) {
			s.Partitions[models.CategoryErrorCodes] = []int{0}
		}},
		{"out of range", func(s *Store) {
			s.Partitions[models.CategoryErrorCodes] = []int{0, 1, 7}
		}},
		{"wrong category", func(s *Store) {
			s.Partitions[models.CategoryErrorCodes] = []int{0}
			s.Partitions[models.CategoryGeneral] = []int{1}
		}},
		{"unknown label", func(s *Store) {
			s.Partitions["WIRING"] = []int{}
		}},
		{"sparse ids", func(s *Store) {
			s.Records[1].ID = 5
		}},
		{"size mismatch", func(s *Store) {
			s.Records = s.Records[:1]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore(t, models.CategoryErrorCodes, models.CategoryErrorCodes)
			tt.mutate(s)
			if err := s.Validate(); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := testStore(t, models.CategoryErrorCodes, models.CategorySchematics, models.CategoryErrorCodes)
	dir, err := Save(root, s, 2)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, name := range []string{IndexFile, MetadataFile, CategoryFile, ManifestFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	id, err := CurrentBuild(root)
	if err != nil || id != s.Manifest.BuildID {
		t.Fatalf("CurrentBuild = %q, %v; want %q", id, err, s.Manifest.BuildID)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != 3 || loaded.Dimensions() != 2 {
		t.Fatalf("loaded size=%d dims=%d", loaded.Size(), loaded.Dimensions())
	}
	if loaded.Records[1].Category != models.CategorySchematics || loaded.Records[1].Code != "B" {
		t.Errorf("record 1 = %+v", loaded.Records[1])
	}
	if got := loaded.Partition(models.CategoryErrorCodes); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("ERROR_CODES partition = %v", got)
	}
	if loaded.Manifest.Model != "test-model" || loaded.Manifest.BuildID != s.Manifest.BuildID {
		t.Errorf("manifest = %+v", loaded.Manifest)
	}
}

func TestLoadNotBuilt(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, ErrNotBuilt) || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrNotBuilt under ErrUnavailable, got %v", err)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	for _, name := range []string{IndexFile, MetadataFile, CategoryFile} {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			dir, err := Save(root, testStore(t, models.CategoryErrorCodes), 2)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(root); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestLoadInconsistentArtifacts(t *testing.T) {
	root := t.TempDir()
	dir, err := Save(root, testStore(t, models.CategoryErrorCodes, models.CategoryErrorCodes), 2)
	if err != nil {
		t.Fatal(err)
	}
	// Category index drops id 1.
	bad := []byte(`{"ERROR_CODES":[0],"SCHEMATICS":[],"GENERAL":[]}`)
	if err := os.WriteFile(filepath.Join(dir, CategoryFile), bad, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestCurrentPointsNowhere(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, CurrentFile), []byte("missing-build\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, CurrentFile), []byte("../escape"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CurrentBuild(root); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for traversal, got %v", err)
	}
}

func TestSavePrunesOldBuilds(t *testing.T) {
	root := t.TempDir()
	var last string
	for i := 0; i < 4; i++ {
		s := testStore(t, models.CategoryErrorCodes)
		if _, err := Save(root, s, 2); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
		last = s.Manifest.BuildID
	}
	entries, err := os.ReadDir(filepath.Join(root, BuildsDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d builds, want 2", len(entries))
	}
	if _, err := os.Stat(filepath.Join(root, BuildsDir, last)); err != nil {
		t.Fatalf("latest build pruned: %v", err)
	}
}

func TestSaveRejectsInvalidStore(t *testing.T) {
	root := t.TempDir()
	s := testStore(t, models.CategoryErrorCodes)
	s.Partitions[models.CategoryErrorCodes] = nil
	if _, err := Save(root, s, 2); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, CurrentFile)); !os.IsNotExist(err) {
		t.Fatalf("CURRENT should not exist, stat err = %v", err)
	}
}

func TestLiveReloadAndSwap(t *testing.T) {
	root := t.TempDir()
	live := NewLive(root)
	if _, err := live.Current(); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt, got %v", err)
	}
	if _, err := live.Reload(); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt from Reload, got %v", err)
	}

	first := testStore(t, models.CategoryErrorCodes)
	if _, err := Save(root, first, 2); err != nil {
		t.Fatal(err)
	}
	got, err := live.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got.Manifest.BuildID != first.Manifest.BuildID {
		t.Fatalf("loaded build %s, want %s", got.Manifest.BuildID, first.Manifest.BuildID)
	}
	again, err := live.Reload()
	if err != nil || again != got {
		t.Fatalf("reloading same build should return the served store")
	}

	// A broken new build keeps the old store live.
	second := testStore(t, models.CategoryErrorCodes, models.CategoryGeneral)
	dir, err := Save(root, second, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, MetadataFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := live.Reload(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	cur, err := live.Current()
	if err != nil || cur.Manifest.BuildID != first.Manifest.BuildID {
		t.Fatalf("previous store should remain live, got %v, %v", cur, err)
	}

	prev := live.Swap(second)
	if prev != got {
		t.Fatal("Swap should return the previous store")
	}
	if cur, _ := live.Current(); cur != second {
		t.Fatal("Swap should install the new store")
	}
}

func TestLiveReloadRejectsIncompatibleBuild(t *testing.T) {
	root := t.TempDir()
	dims := 2
	live := NewLive(root, WithDimensions(func() int { return dims }), WithModel("test-model"))

	first := testStore(t, models.CategoryErrorCodes)
	if _, err := Save(root, first, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := live.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	wide, err := vector.NewFlatIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wide.Add([]float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	wideStore, err := New(wide, []models.Record{{
		ID: 0, Category: models.CategoryErrorCodes, ContentType: models.ContentTypeText,
		Code: "A", Name: "name", Description: "desc", SearchText: "text",
	}}, "test-model")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Save(root, wideStore, 5); err != nil {
		t.Fatal(err)
	}
	_, err = live.Reload()
	if !errors.Is(err, ErrIncompatible) || !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected dimension incompatibility, got %v", err)
	}
	if cur, _ := live.Current(); cur.Manifest.BuildID != first.Manifest.BuildID {
		t.Fatalf("served build = %s, want previous %s", cur.Manifest.BuildID, first.Manifest.BuildID)
	}

	other := testStore(t, models.CategoryErrorCodes)
	other.Manifest.Model = "other-model"
	if _, err := Save(root, other, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := live.Reload(); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("expected model incompatibility, got %v", err)
	}
	if cur, _ := live.Current(); cur.Manifest.BuildID != first.Manifest.BuildID {
		t.Fatalf("served build = %s after model mismatch", cur.Manifest.BuildID)
	}

	// With nothing served yet an incompatible build leaves the holder empty.
	dims = 3
	fresh := NewLive(root, WithDimensions(func() int { return dims }), WithModel("other-model"))
	if _, err := fresh.Reload(); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
	if _, err := fresh.Current(); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected empty holder, got %v", err)
	}
}

func TestLiveReloadLoadsResolvedBuild(t *testing.T) {
	root := t.TempDir()
	first := testStore(t, models.CategoryErrorCodes)
	if _, err := Save(root, first, 5); err != nil {
		t.Fatal(err)
	}
	second := testStore(t, models.CategoryErrorCodes, models.CategoryGeneral)

	live := NewLive(root)
	live.resolved = func(id string) {
		// Publish between reading CURRENT and loading the build.
		live.resolved = nil
		if _, err := Save(root, second, 5); err != nil {
			t.Error(err)
		}
	}
	got, err := live.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got.Manifest.BuildID != first.Manifest.BuildID || got.Size() != 1 {
		t.Fatalf("loaded build %s with %d records, want %s", got.Manifest.BuildID, got.Size(), first.Manifest.BuildID)
	}
	got, err = live.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got.Manifest.BuildID != second.Manifest.BuildID {
		t.Fatalf("loaded build %s, want %s", got.Manifest.BuildID, second.Manifest.BuildID)
	}
}

func TestDiskUsage(t *testing.T) {
	root := t.TempDir()
	if n, err := DiskUsage(filepath.Join(root, "missing")); err != nil || n != 0 {
		t.Fatalf("missing root: %d, %v", n, err)
	}
	if err := os.WriteFile(filepath.Join(root, "a"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := DiskUsage(root)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("DiskUsage = %d, want 8", n)
	}
}

func TestDescribe(t *testing.T) {
	root := t.TempDir()
	st := Describe(root, nil, ErrNotBuilt)
	if st.Loaded || st.Error == "" || st.StorePath != root {
		t.Fatalf("unloaded status = %+v", st)
	}
	s := testStore(t, models.CategoryErrorCodes, models.CategorySchematics)
	if _, err := Save(root, s, 2); err != nil {
		t.Fatal(err)
	}
	st = Describe(root, s, nil)
	if !st.Loaded || st.Records != 2 || st.BuildID != s.Manifest.BuildID || st.CreatedAt == nil || st.DiskUsageBytes == 0 {
		t.Fatalf("loaded status = %+v", st)
	}
	if st.Categories[models.CategorySchematics] != 1 || st.Categories[models.CategoryGeneral] != 0 {
		t.Fatalf("categories = %v", st.Categories)
	}
}
