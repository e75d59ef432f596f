package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	// Provider selects the wire format: "openai" posts {input, model} to /embeddings,
	// "ollama" posts {model, prompt} to /api/embeddings.
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Dimensions        int
}

// HTTPEmbedder calls a remote embedding API. Requests are rate limited and retried
// with exponential backoff on transport errors, 429, and 5xx responses.
type HTTPEmbedder struct {
	provider   string
	endpoint   string
	apiKey     string
	model      string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger

	mu         sync.Mutex
	dimensions int
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithLogger sets a logger for retry and failure events.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) { e.logger = l }
}

// WithBackoff sets the initial and maximum retry delays.
func WithBackoff(initial, max time.Duration) HTTPOption {
	return func(e *HTTPEmbedder) {
		e.backoff = initial
		e.maxBackoff = max
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) { e.client = c }
}

// NewHTTPEmbedder creates a client for an OpenAI-compatible or Ollama embedding API.
func NewHTTPEmbedder(cfg HTTPConfig, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	var endpoint string
	switch cfg.Provider {
	case "openai", "":
		endpoint = base + "/embeddings"
	case "ollama":
		endpoint = base + "/api/embeddings"
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, ollama)", cfg.Provider)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	e := &HTTPEmbedder{
		provider:   cfg.Provider,
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: cfg.MaxRetries,
		backoff:    500 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		logger:     zap.NewNop(),
		dimensions: cfg.Dimensions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type embedRequest struct {
	Input  string `json:"input,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model"`
}

// embedResponse accepts both the OpenAI shape {data:[{embedding}]} and the
// Ollama shape {embedding}.
type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding for text. Every failure wraps ErrUnavailable.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embedRequest{Model: e.model}
	if e.provider == "ollama" {
		body.Prompt = text
	} else {
		body.Input = text
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	wait := e.backoff
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			wait *= 2
			if wait > e.maxBackoff {
				wait = e.maxBackoff
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
		}
		vec, retryAfter, retryable, err := e.do(ctx, payload)
		if err == nil {
			if err := e.checkDimensions(len(vec)); err != nil {
				return nil, err
			}
			return vec, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
		if retryAfter > 0 {
			wait = retryAfter
		}
		e.logger.Debug("embedding request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// do performs one request. It reports whether the failure is worth retrying and
// any server-provided Retry-After delay.
func (e *HTTPEmbedder) do(ctx context.Context, payload []byte) (vec []float32, retryAfter time.Duration, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, convErr := strconv.Atoi(ra); convErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, retryAfter, true, fmt.Errorf("provider returned %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, false, fmt.Errorf("provider returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, true, fmt.Errorf("decode response: %w", err)
	}
	raw := out.Embedding
	if len(out.Data) > 0 {
		raw = out.Data[0].Embedding
	}
	if len(raw) == 0 {
		return nil, 0, false, fmt.Errorf("provider returned an empty embedding")
	}
	vec = make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, 0, false, nil
}

// checkDimensions records n as the embedding length when none is known yet, and
// otherwise rejects a vector of any other length.
func (e *HTTPEmbedder) checkDimensions(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dimensions == 0 {
		e.dimensions = n
		return nil
	}
	if n != e.dimensions {
		return fmt.Errorf("%w: %w: model %s returned %d dimensions, expected %d",
			ErrUnavailable, ErrDimensionMismatch, e.model, n, e.dimensions)
	}
	return nil
}

// Dimensions returns the configured dimension, or the length of the first
// successful embedding, or 0 when neither is known yet.
func (e *HTTPEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
