// Package config provides configuration loading and structs for the Mistri service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	MaxImageBytes int64  `yaml:"max_image_bytes"`
	CORSOrigin    string `yaml:"cors_origin"`
	WatchStore    *bool  `yaml:"watch_store"`
}

// WatchStoreOrDefault reports whether the server hot-reloads the store; defaults to true.
func (s *ServerConfig) WatchStoreOrDefault() bool {
	if s.WatchStore != nil {
		return *s.WatchStore
	}
	return true
}

// StoreConfig holds the location of the category index store.
type StoreConfig struct {
	Path           string `yaml:"path"`
	RetainedBuilds int    `yaml:"retained_builds"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider is one of "openai" (any OpenAI-compatible /embeddings API), "ollama", or "mock".
	Provider          string  `yaml:"provider"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Dimensions        int     `yaml:"dimensions"` // 0 = learned from the first successful call
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	CacheSize         int     `yaml:"cache_size"`
}

// RetrievalConfig holds search budget and threshold settings.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	MaxTopK             int     `yaml:"max_top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	SourcePath  string `yaml:"source_path"`
	Concurrency int    `yaml:"concurrency"`
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, and expands paths. A missing file is not an error: defaults and the
// environment are used instead. Validation is left to the caller (see Validate).
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Store.Path = expandPath(cfg.Store.Path, configDir)
	if cfg.Ingest.SourcePath != "" {
		cfg.Ingest.SourcePath = expandPath(cfg.Ingest.SourcePath, configDir)
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Environment variables that override file settings.
const (
	EnvEmbedBaseURL        = "MISTRI_EMBED_BASE_URL"
	EnvEmbedModel          = "MISTRI_EMBED_MODEL"
	EnvStorePath           = "MISTRI_STORE_PATH"
	EnvTopK                = "MISTRI_TOP_K"
	EnvSimilarityThreshold = "MISTRI_SIMILARITY_THRESHOLD"
	EnvDebug               = "MISTRI_DEBUG"
)

// ApplyEnv overrides cfg fields from the environment. Unparseable numeric values are errors.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvEmbedBaseURL); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv(EnvEmbedModel); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv(EnvTopK); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTopK, err)
		}
		cfg.Retrieval.TopK = n
	}
	if v := os.Getenv(EnvSimilarityThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSimilarityThreshold, err)
		}
		cfg.Retrieval.SimilarityThreshold = f
	}
	if v := os.Getenv(EnvDebug); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		cfg.Debug = b
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
