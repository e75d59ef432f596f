package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/mistri/internal/vector"
)

// ErrIncompatible means a build was produced by a different embedding model or
// dimension than the one queries are embedded with.
var ErrIncompatible = errors.New("store incompatible with embedder")

// Live holds the store currently served. Readers take the pointer without locking;
// Reload and Swap are the only writers.
type Live struct {
	root       string
	logger     *zap.Logger
	dimensions func() int
	model      string

	// resolved is called with the build id Reload is about to load.
	resolved func(id string)

	current atomic.Pointer[Store]
	mu      sync.Mutex
}

// LiveOption configures a Live holder.
type LiveOption func(*Live)

// WithLogger sets the logger used for reload events.
func WithLogger(l *zap.Logger) LiveOption {
	return func(lv *Live) { lv.logger = l }
}

// WithDimensions makes Reload reject builds whose vector length differs from dims().
// A result of 0 disables the check.
func WithDimensions(dims func() int) LiveOption {
	return func(lv *Live) { lv.dimensions = dims }
}

// WithModel makes Reload reject builds that record a different embedding model.
func WithModel(model string) LiveOption {
	return func(lv *Live) { lv.model = model }
}

// NewLive creates an empty holder for the store rooted at root. Call Reload to load it.
func NewLive(root string, opts ...LiveOption) *Live {
	l := &Live{root: root, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Root returns the store root directory.
func (l *Live) Root() string { return l.root }

// Current returns the served store, or ErrNotBuilt when nothing has been loaded.
func (l *Live) Current() (*Store, error) {
	s := l.current.Load()
	if s == nil {
		return nil, ErrNotBuilt
	}
	return s, nil
}

// Swap installs s and returns the previous store.
func (l *Live) Swap(s *Store) *Store {
	return l.current.Swap(s)
}

// Reload loads the build CURRENT points at and installs it. On failure the
// previously served store stays in place. Reloading the build already served is a no-op.
func (l *Live) Reload() (*Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := CurrentBuild(l.root)
	if err != nil {
		return nil, err
	}
	if cur := l.current.Load(); cur != nil && cur.Manifest.BuildID == id {
		return cur, nil
	}
	if l.resolved != nil {
		l.resolved(id)
	}
	s, err := LoadBuild(filepath.Join(l.root, BuildsDir, id))
	if err == nil {
		err = l.compatible(s)
	}
	if err != nil {
		l.logger.Warn("store reload failed, keeping previous store", zap.String("root", l.root), zap.Error(err))
		return nil, err
	}
	l.current.Store(s)
	l.logger.Info("store loaded",
		zap.String("build_id", s.Manifest.BuildID),
		zap.Int("records", s.Size()),
		zap.Int("dimensions", s.Dimensions()),
	)
	return s, nil
}

func (l *Live) compatible(s *Store) error {
	if l.dimensions != nil {
		if want := l.dimensions(); want > 0 && s.Dimensions() != want {
			return fmt.Errorf("%w: %w: build %s has %d dimensions, embedder produces %d",
				ErrIncompatible, vector.ErrDimensionMismatch, s.Manifest.BuildID, s.Dimensions(), want)
		}
	}
	if l.model != "" && s.Manifest.Model != "" && s.Manifest.Model != l.model {
		return fmt.Errorf("%w: build %s was embedded with %q, embedder uses %q",
			ErrIncompatible, s.Manifest.BuildID, s.Manifest.Model, l.model)
	}
	return nil
}
