package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Validate checks required settings. It must run once at startup before any component
// is constructed; the returned error is a *ValidationError.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Store.Path == "" {
		add("store.path is required")
	}
	if c.Store.RetainedBuilds < 1 {
		add("store.retained_builds must be at least 1, got %d", c.Store.RetainedBuilds)
	}
	if t := c.Retrieval.SimilarityThreshold; t <= 0 || t >= 1 {
		add("retrieval.similarity_threshold must be strictly between 0 and 1, got %g", t)
	}
	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MaxTopK < c.Retrieval.TopK {
		add("retrieval.max_top_k (%d) must be >= top_k (%d)", c.Retrieval.MaxTopK, c.Retrieval.TopK)
	}
	if c.Ingest.Concurrency <= 0 {
		add("ingest.concurrency must be positive, got %d", c.Ingest.Concurrency)
	}
	if c.Embedding.Dimensions < 0 {
		add("embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions)
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKeyEnv == "" {
			add("embedding.api_key_env is required for provider %q", c.Embedding.Provider)
		} else if os.Getenv(c.Embedding.APIKeyEnv) == "" {
			add("environment variable %s is not set", c.Embedding.APIKeyEnv)
		}
		fallthrough
	case ProviderOllama:
		if c.Embedding.Model == "" {
			add("embedding.model is required")
		}
		if c.Embedding.BaseURL == "" {
			add("embedding.base_url is required")
		}
	case ProviderMock:
	default:
		add("embedding.provider %q is not one of openai, ollama, mock", c.Embedding.Provider)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
