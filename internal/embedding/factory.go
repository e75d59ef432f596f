package embedding

import (
	"fmt"
	"os"
	"time"

	"github.com/hyperjump/mistri/internal/config"
	"go.uber.org/zap"
)

// New creates the embedder selected by cfg.Provider.
// Supported providers: "openai" (default), "ollama", "mock".
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.ProviderMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	case config.ProviderOpenAI, config.ProviderOllama, "":
		var apiKey string
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
			if apiKey == "" && cfg.Provider != config.ProviderOllama {
				return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
			}
		}
		return NewHTTPEmbedder(HTTPConfig{
			Provider:          cfg.Provider,
			BaseURL:           cfg.BaseURL,
			APIKey:            apiKey,
			Model:             cfg.Model,
			Timeout:           time.Duration(cfg.TimeoutSecs) * time.Second,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Dimensions:        cfg.Dimensions,
		}, WithLogger(logger.Named("embedding")))
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, ollama, mock)", cfg.Provider)
	}
}
