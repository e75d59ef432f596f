package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/vector"
)

// On-disk layout:
//
//	<root>/CURRENT                      build id of the live build
//	<root>/builds/<id>/index.bin
//	<root>/builds/<id>/metadata.json
//	<root>/builds/<id>/category_index.json
//	<root>/builds/<id>/manifest.json
const (
	CurrentFile  = "CURRENT"
	BuildsDir    = "builds"
	IndexFile    = "index.bin"
	MetadataFile = "metadata.json"
	CategoryFile = "category_index.json"
	ManifestFile = "manifest.json"

	stagingPrefix = ".staging-"
)

// Save writes s as a new build under root and publishes it by replacing CURRENT.
// The build directory is complete before it becomes visible, and CURRENT is swapped
// with a rename, so readers see either the previous build or the new one.
// Builds beyond retain (always keeping the new one) are pruned afterwards.
func Save(root string, s *Store, retain int) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	builds := filepath.Join(root, BuildsDir)
	if err := os.MkdirAll(builds, 0o755); err != nil {
		return "", fmt.Errorf("create builds directory: %w", err)
	}
	staging, err := os.MkdirTemp(builds, stagingPrefix)
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	if err := writeBuild(staging, s); err != nil {
		_ = os.RemoveAll(staging)
		return "", err
	}
	final := filepath.Join(builds, s.Manifest.BuildID)
	if err := os.Rename(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return "", fmt.Errorf("publish build directory: %w", err)
	}
	if err := writeCurrent(root, s.Manifest.BuildID); err != nil {
		_ = os.RemoveAll(final)
		return "", err
	}
	if retain > 0 {
		// Pruning failures leave extra builds behind but never affect the live one.
		_ = prune(builds, s.Manifest.BuildID, retain)
	}
	return final, nil
}

func writeBuild(dir string, s *Store) error {
	if err := s.Index.Save(filepath.Join(dir, IndexFile)); err != nil {
		return fmt.Errorf("write vector index: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, MetadataFile), s.Records); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, CategoryFile), s.Partitions); err != nil {
		return fmt.Errorf("write category index: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, ManifestFile), s.Manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeCurrent(root, buildID string) error {
	tmp, err := os.CreateTemp(root, CurrentFile+".tmp-")
	if err != nil {
		return fmt.Errorf("create pointer file: %w", err)
	}
	if _, err := tmp.WriteString(buildID + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write pointer file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("sync pointer file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close pointer file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(root, CurrentFile)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish pointer file: %w", err)
	}
	return nil
}

func prune(builds, keep string, retain int) error {
	entries, err := os.ReadDir(builds)
	if err != nil {
		return err
	}
	type build struct {
		name string
		mod  int64
	}
	var others []build
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep || strings.HasPrefix(e.Name(), stagingPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		others = append(others, build{name: e.Name(), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(others, func(i, j int) bool { return others[i].mod > others[j].mod })
	for i, b := range others {
		if i+1 < retain {
			continue
		}
		if err := os.RemoveAll(filepath.Join(builds, b.name)); err != nil {
			return err
		}
	}
	return nil
}

// CurrentBuild returns the build id CURRENT points at.
func CurrentBuild(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, CurrentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotBuilt
		}
		return "", fmt.Errorf("%w: read pointer file: %v", ErrUnavailable, err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: invalid build id %q", ErrCorrupt, id)
	}
	return id, nil
}

// Load resolves CURRENT under root and loads that build.
func Load(root string) (*Store, error) {
	id, err := CurrentBuild(root)
	if err != nil {
		return nil, err
	}
	return LoadBuild(filepath.Join(root, BuildsDir, id))
}

// LoadBuild loads and validates one build directory. Missing or inconsistent
// artifacts yield an error wrapping ErrCorrupt.
func LoadBuild(dir string) (*Store, error) {
	index, err := vector.Load(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s := &Store{Index: index}
	if err := readJSON(filepath.Join(dir, MetadataFile), &s.Records); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
	}
	if err := readJSON(filepath.Join(dir, CategoryFile), &s.Partitions); err != nil {
		return nil, fmt.Errorf("%w: category index: %v", ErrCorrupt, err)
	}
	if s.Partitions == nil {
		s.Partitions = map[models.Category][]int{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, ManifestFile), &s.Manifest); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
		}
		s.Manifest = Manifest{BuildID: filepath.Base(dir)}
	}
	s.Manifest.Dimensions = index.Dimensions()
	s.Manifest.Records = len(s.Records)
	s.Manifest.Categories = s.CategoryCounts()
	return s, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
