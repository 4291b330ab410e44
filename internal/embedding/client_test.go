package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) *Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "test-key"
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://api.cohere.com", cfg.BaseURL)
	assert.Equal(t, "embed-english-v3.0", cfg.Model)
	assert.Equal(t, 1024, cfg.Dimension)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty base_url", func(c *Config) { c.BaseURL = "" }},
		{"empty model", func(c *Config) { c.Model = "" }},
		{"zero dimension", func(c *Config) { c.Dimension = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEmbedSendsInputType(t *testing.T) {
	var gotInputType string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotInputType = req.InputType
		gotAuth = r.Header.Get("Authorization")

		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), nil)
	require.NoError(t, err)

	vector, err := client.EmbedQuery(context.Background(), "what is a dandelion")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, "search_query", gotInputType)
	assert.Equal(t, "Bearer test-key", gotAuth)

	_, err = client.EmbedDocument(context.Background(), "Taraxacum officinale is a plant")
	require.NoError(t, err)
	assert.Equal(t, "search_document", gotInputType)
}

func TestEmbedEmptyInput(t *testing.T) {
	client, err := NewClient(testConfig("http://localhost:1"), nil)
	require.NoError(t, err)

	_, err = client.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEmbedRetriesOnThrottle(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{1}},
		})
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), nil)
	require.NoError(t, err)

	vector, err := client.EmbedQuery(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vector)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbedRateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.EmbedQuery(context.Background(), "query")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestEmbedErrorClasses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"unprocessable", http.StatusUnprocessableEntity, ErrBadRequest},
		{"server error", http.StatusInternalServerError, ErrUpstream},
		{"unauthorized", http.StatusUnauthorized, ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, err := NewClient(testConfig(server.URL), nil)
			require.NoError(t, err)

			_, err = client.EmbedDocument(context.Background(), "text")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
