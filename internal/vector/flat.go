// Package vector provides a flat (exhaustive) squared-L2 vector index and its on-disk codec.
package vector

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// FlatIndex stores vectors row-major; row i is the vector with ID i.
// It is built once and then only read, so it carries no lock: Add must not run
// concurrently with Search.
type FlatIndex struct {
	dimensions int
	data       []float32
}

// Result is a single search hit. Distance is the squared Euclidean distance.
type Result struct {
	ID       int
	Distance float64
}

// NewFlatIndex creates an empty index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Add appends vec and returns its row ID.
func (f *FlatIndex) Add(vec []float32) (int, error) {
	if len(vec) != f.dimensions {
		return 0, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	id := f.Size()
	f.data = append(f.data, vec...)
	return id, nil
}

// Vector returns row id. The slice aliases index storage and must not be modified.
func (f *FlatIndex) Vector(id int) []float32 {
	return f.data[id*f.dimensions : (id+1)*f.dimensions]
}

// Search computes the squared L2 distance from query to every candidate row and returns
// hits ordered by ascending distance, ties broken by ascending ID. A nil candidates slice
// means every row. k > 0 truncates the result to the k nearest.
func (f *FlatIndex) Search(query []float32, candidates []int, k int) ([]Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	n := f.Size()
	var results []Result
	if candidates == nil {
		results = make([]Result, n)
		for id := 0; id < n; id++ {
			results[id] = Result{ID: id, Distance: SquaredL2(query, f.Vector(id))}
		}
	} else {
		results = make([]Result, 0, len(candidates))
		for _, id := range candidates {
			if id < 0 || id >= n {
				return nil, fmt.Errorf("candidate id %d out of range [0,%d)", id, n)
			}
			results = append(results, Result{ID: id, Distance: SquaredL2(query, f.Vector(id))})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	return len(f.data) / f.dimensions
}

// Dimensions returns the vector length.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}
