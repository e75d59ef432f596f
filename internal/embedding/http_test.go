package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/mistri/internal/config"
)

func newTestEmbedder(t *testing.T, provider, url string, retries int) *HTTPEmbedder {
	t.Helper()
	e, err := NewHTTPEmbedder(HTTPConfig{
		Provider:   provider,
		BaseURL:    url,
		APIKey:     "test-key",
		Model:      "test-model",
		MaxRetries: retries,
	}, WithBackoff(time.Millisecond, 5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestHTTPEmbedder_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Input != "IE error" || req.Model != "test-model" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := newTestEmbedder(t, "openai", srv.URL, 0)
	if e.Dimensions() != 0 {
		t.Errorf("dimensions before first call = %d", e.Dimensions())
	}
	vec, err := e.Embed(context.Background(), "IE error")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[1] != float32(0.2) {
		t.Errorf("vec = %v", vec)
	}
	if e.Dimensions() != 3 {
		t.Errorf("dimensions after first call = %d, want 3", e.Dimensions())
	}
}

func TestHTTPEmbedder_Ollama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "door lock" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		_, _ = w.Write([]byte(`{"embedding":[1,2]}`))
	}))
	defer srv.Close()

	e := newTestEmbedder(t, "ollama", srv.URL, 0)
	vec, err := e.Embed(context.Background(), "door lock")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Errorf("vec = %v", vec)
	}
}

func TestHTTPEmbedder_RejectsWrongDimensions(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{
		BaseURL:    srv.URL,
		Model:      "test-model",
		MaxRetries: 3,
		Dimensions: 4,
	}, WithBackoff(time.Millisecond, 5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Embed(context.Background(), "IE error")
	if !errors.Is(err, ErrDimensionMismatch) || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want dimension mismatch", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, a wrong length must not be retried", calls.Load())
	}
	if e.Dimensions() != 4 {
		t.Errorf("dimensions = %d, want the configured 4", e.Dimensions())
	}

	// A learned length is enforced the same way.
	var n atomic.Int32
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2]}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2,3]}]}`))
	}))
	defer srv2.Close()
	learned := newTestEmbedder(t, "openai", srv2.URL, 0)
	if _, err := learned.Embed(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := learned.Embed(context.Background(), "b"); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("second call err = %v, want dimension mismatch", err)
	}
}

func TestHTTPEmbedder_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1]}]}`))
	}))
	defer srv.Close()

	e := newTestEmbedder(t, "openai", srv.URL, 3)
	if _, err := e.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPEmbedder_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retries   int
		wantCalls int32
	}{
		{"client error is not retried", http.StatusUnauthorized, `{"error":"bad key"}`, 3, 1},
		{"server error exhausts retries", http.StatusInternalServerError, "", 2, 3},
		{"empty embedding", http.StatusOK, `{"data":[]}`, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e := newTestEmbedder(t, "openai", srv.URL, tt.retries)
			_, err := e.Embed(context.Background(), "x")
			if !errors.Is(err, ErrUnavailable) {
				t.Fatalf("error = %v, want ErrUnavailable", err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestHTTPEmbedder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := newTestEmbedder(t, "openai", url, 1)
	if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestNewHTTPEmbedder_Invalid(t *testing.T) {
	if _, err := NewHTTPEmbedder(HTTPConfig{Model: "m"}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := NewHTTPEmbedder(HTTPConfig{BaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing model")
	}
	if _, err := NewHTTPEmbedder(HTTPConfig{BaseURL: "http://x", Model: "m", Provider: "bedrock"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 16}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 16 {
		t.Errorf("mock dimensions = %d", e.Dimensions())
	}

	_, err = New(config.EmbeddingConfig{
		Provider:  config.ProviderOpenAI,
		BaseURL:   "http://localhost",
		Model:     "m",
		APIKeyEnv: "MISTRI_TEST_MISSING_EMBED_KEY",
	}, nil)
	if err == nil {
		t.Error("expected error when the API key env var is unset")
	}

	if _, err := New(config.EmbeddingConfig{Provider: "bedrock"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
