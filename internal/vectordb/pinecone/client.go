// Package pinecone provides a client for the managed Pinecone vector store.
// One logical index exists per knowledge domain; vectors are keyed by
// ASCII-safe chunk IDs and queried by cosine similarity.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Vector is a single point to upsert into an index.
type Vector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Match is a single query result, ordered by descending score.
type Match struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Client provides an interface to interact with Pinecone.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger

	mu    sync.RWMutex
	hosts map[string]string // index name -> data plane host
}

// NewClient creates a new Pinecone client.
func NewClient(config *Config, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
		hosts:  make(map[string]string),
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, body interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Api-Key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
}

// EnsureIndex creates the named index if it does not exist. It is
// idempotent; an existing index is left untouched.
func (c *Client) EnsureIndex(ctx context.Context, name string, dimension int) error {
	url := fmt.Sprintf("%s/indexes/%s", c.config.ControllerURL, name)
	respBody, status, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to describe index %s: %w", name, err)
	}

	if status == http.StatusOK {
		var desc indexDescription
		if err := json.Unmarshal(respBody, &desc); err != nil {
			return fmt.Errorf("failed to parse index description: %w", err)
		}
		c.cacheHost(name, desc.Host)
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("failed to describe index %s: status %d: %s", name, status, string(respBody))
	}

	reqBody := map[string]interface{}{
		"name":      name,
		"dimension": dimension,
		"metric":    "cosine",
		"spec": map[string]interface{}{
			"serverless": map[string]interface{}{
				"cloud":  c.config.Cloud,
				"region": c.config.Region,
			},
		},
	}

	respBody, status, err = c.doRequest(ctx, http.MethodPost, c.config.ControllerURL+"/indexes", reqBody)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	if status >= 400 {
		return fmt.Errorf("failed to create index %s: status %d: %s", name, status, string(respBody))
	}

	var desc indexDescription
	if err := json.Unmarshal(respBody, &desc); err == nil && desc.Host != "" {
		c.cacheHost(name, desc.Host)
	}

	c.logger.WithFields(logrus.Fields{
		"index":     name,
		"dimension": dimension,
	}).Info("Vector index created")
	return nil
}

func (c *Client) cacheHost(name, host string) {
	if host == "" {
		return
	}
	c.mu.Lock()
	c.hosts[name] = host
	c.mu.Unlock()
}

// indexURL resolves the data plane base URL for an index, describing the
// index on first use.
func (c *Client) indexURL(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	host, ok := c.hosts[name]
	c.mu.RUnlock()

	if !ok {
		url := fmt.Sprintf("%s/indexes/%s", c.config.ControllerURL, name)
		respBody, status, err := c.doRequest(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("failed to describe index %s: %w", name, err)
		}
		if status >= 400 {
			return "", fmt.Errorf("index %s not available: status %d: %s", name, status, string(respBody))
		}

		var desc indexDescription
		if err := json.Unmarshal(respBody, &desc); err != nil {
			return "", fmt.Errorf("failed to parse index description: %w", err)
		}
		if desc.Host == "" {
			return "", fmt.Errorf("index %s has no host", name)
		}
		c.cacheHost(name, desc.Host)
		host = desc.Host
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host, nil
	}
	return "https://" + host, nil
}

// Upsert inserts or updates vectors in an index, splitting the input into
// batches of the configured size. Re-upserting the same IDs is idempotent.
func (c *Client) Upsert(ctx context.Context, index string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	baseURL, err := c.indexURL(ctx, index)
	if err != nil {
		return err
	}

	batchSize := c.config.UpsertBatchSize
	for start := 0; start < len(vectors); start += batchSize {
		end := start + batchSize
		if end > len(vectors) {
			end = len(vectors)
		}

		reqBody := map[string]interface{}{
			"vectors": vectors[start:end],
		}
		respBody, status, err := c.doRequest(ctx, http.MethodPost, baseURL+"/vectors/upsert", reqBody)
		if err != nil {
			return fmt.Errorf("failed to upsert vectors: %w", err)
		}
		if status >= 400 {
			return fmt.Errorf("failed to upsert vectors: status %d: %s", status, string(respBody))
		}

		c.logger.WithFields(logrus.Fields{
			"index": index,
			"count": end - start,
		}).Debug("Vectors upserted")
	}

	return nil
}

// Query performs a top-k cosine similarity search against an index. Results
// are ordered by descending score.
func (c *Client) Query(ctx context.Context, index string, vector []float32, topK int, includeMetadata bool) ([]Match, error) {
	baseURL, err := c.indexURL(ctx, index)
	if err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": includeMetadata,
	}

	respBody, status, err := c.doRequest(ctx, http.MethodPost, baseURL+"/query", reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", index, err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("failed to query index %s: status %d: %s", index, status, string(respBody))
	}

	var response struct {
		Matches []Match `json:"matches"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse query response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"index":   index,
		"top_k":   topK,
		"matches": len(response.Matches),
	}).Debug("Vector query completed")

	return response.Matches, nil
}
