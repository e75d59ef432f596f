// Package store holds the category-partitioned index: the vector index, the record
// metadata table, and the category → ids partition map, plus their on-disk layout.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/vector"
)

var (
	// ErrUnavailable is the parent of every "cannot serve from the store" error.
	ErrUnavailable = errors.New("index unavailable")
	// ErrNotBuilt means no build has ever been published under the store root.
	ErrNotBuilt = fmt.Errorf("%w: no store has been built", ErrUnavailable)
	// ErrCorrupt means a build is missing artifacts or they disagree with each other.
	ErrCorrupt = fmt.Errorf("%w: corrupt or incomplete store", ErrUnavailable)
)

// Manifest describes one build.
type Manifest struct {
	BuildID    string                  `json:"build_id"`
	CreatedAt  time.Time               `json:"created_at"`
	Model      string                  `json:"model"`
	Dimensions int                     `json:"dimensions"`
	Records    int                     `json:"records"`
	Categories map[models.Category]int `json:"categories"`
}

// Store is an immutable, fully built category index. Record i is row i of Index.
type Store struct {
	Index      *vector.FlatIndex
	Records    []models.Record
	Partitions map[models.Category][]int
	Manifest   Manifest
}

// New assembles a store from an index and its records, deriving partitions from each
// record's category and stamping a fresh build id.
func New(index *vector.FlatIndex, records []models.Record, model string) (*Store, error) {
	partitions := make(map[models.Category][]int, len(models.Categories()))
	for _, c := range models.Categories() {
		partitions[c] = []int{}
	}
	for _, r := range records {
		partitions[r.Category] = append(partitions[r.Category], r.ID)
	}
	s := &Store{Index: index, Records: records, Partitions: partitions}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.Manifest = Manifest{
		BuildID:    uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Model:      model,
		Dimensions: index.Dimensions(),
		Records:    len(records),
		Categories: s.CategoryCounts(),
	}
	return s, nil
}

// Validate checks that the three parts agree: one index row per record, dense ids,
// every category known, and partitions covering every id exactly once, each under
// its record's own category.
func (s *Store) Validate() error {
	if s.Index == nil {
		return fmt.Errorf("%w: missing vector index", ErrCorrupt)
	}
	if s.Index.Size() != len(s.Records) {
		return fmt.Errorf("%w: index has %d vectors, metadata has %d records", ErrCorrupt, s.Index.Size(), len(s.Records))
	}
	for i, r := range s.Records {
		if r.ID != i {
			return fmt.Errorf("%w: record at position %d has id %d", ErrCorrupt, i, r.ID)
		}
		if !r.Category.Valid() {
			return fmt.Errorf("%w: record %d has unknown category %q", ErrCorrupt, i, r.Category)
		}
	}
	seen := make([]bool, len(s.Records))
	for c, ids := range s.Partitions {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown partition %q", ErrCorrupt, c)
		}
		for _, id := range ids {
			if id < 0 || id >= len(s.Records) {
				return fmt.Errorf("%w: partition %s references id %d outside [0,%d)", ErrCorrupt, c, id, len(s.Records))
			}
			if seen[id] {
				return fmt.Errorf("%w: id %d appears in more than one partition slot", ErrCorrupt, id)
			}
			if s.Records[id].Category != c {
				return fmt.Errorf("%w: id %d is %s but listed under %s", ErrCorrupt, id, s.Records[id].Category, c)
			}
			seen[id] = true
		}
	}
	for id, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: id %d is in no partition", ErrCorrupt, id)
		}
	}
	return nil
}

// Partition returns the ids in category c. Unknown or empty categories yield an empty slice.
func (s *Store) Partition(c models.Category) []int {
	ids := s.Partitions[c]
	if ids == nil {
		return []int{}
	}
	return ids
}

// Size returns the number of records.
func (s *Store) Size() int { return len(s.Records) }

// Dimensions returns the vector length fixed at build time.
func (s *Store) Dimensions() int { return s.Index.Dimensions() }

// CategoryCounts returns the partition sizes, including zero for empty categories.
func (s *Store) CategoryCounts() map[models.Category]int {
	counts := make(map[models.Category]int, len(models.Categories()))
	for _, c := range models.Categories() {
		counts[c] = len(s.Partitions[c])
	}
	return counts
}

// SortedCategories returns the categories present in counts in canonical order.
func SortedCategories(counts map[models.Category]int) []models.Category {
	out := make([]models.Category, 0, len(counts))
	for c := range counts {
		out = append(out, c)
	}
	order := make(map[models.Category]int)
	for i, c := range models.Categories() {
		order[c] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
