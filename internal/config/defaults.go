package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.MaxImageBytes == 0 {
		cfg.Server.MaxImageBytes = 10 << 20
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = "*"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/vector_store"
	}
	if cfg.Store.RetainedBuilds == 0 {
		cfg.Store.RetainedBuilds = 2
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.BaseURL == "" {
		switch cfg.Embedding.Provider {
		case ProviderOllama:
			cfg.Embedding.BaseURL = "http://localhost:11434"
		default:
			cfg.Embedding.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case ProviderOllama:
			cfg.Embedding.Model = "nomic-embed-text"
		default:
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.APIKeyEnv == "" && cfg.Embedding.Provider == ProviderOpenAI {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 30
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 5
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 10
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 20
	}
	if cfg.Retrieval.SimilarityThreshold == 0 {
		cfg.Retrieval.SimilarityThreshold = 0.6
	}
	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}
}
