// Package embedding wraps the managed embedding service. Queries and
// documents use different embedding modes; callers must pass the correct
// input type or retrieval quality degrades.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// InputType selects the embedding mode.
type InputType string

const (
	InputTypeQuery    InputType = "search_query"
	InputTypeDocument InputType = "search_document"
)

var (
	// ErrInvalidInput is returned for empty or whitespace-only text.
	ErrInvalidInput = errors.New("embedding: invalid input")
	// ErrBadRequest is returned when the upstream rejects the request.
	ErrBadRequest = errors.New("embedding: bad request")
	// ErrRateLimited is returned after throttling persists past retry.
	ErrRateLimited = errors.New("embedding: rate limited")
	// ErrUpstream is returned for any other upstream failure.
	ErrUpstream = errors.New("embedding: upstream failure")
)

// Client provides an interface to the managed embedding service.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new embedding client.
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
	}, nil
}

// Dimension returns the vector width produced by the configured model.
func (c *Client) Dimension() int {
	return c.config.Dimension
}

type embedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for text in the given mode. A single retry
// with backoff is attempted when the upstream throttles.
func (c *Client) Embed(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	var lastErr error
	delay := c.config.RetryDelay
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		vector, err := c.embedOnce(ctx, text, inputType)
		if err == nil {
			return vector, nil
		}
		lastErr = err
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		c.logger.WithFields(logrus.Fields{
			"attempt":    attempt + 1,
			"input_type": inputType,
		}).Warn("Embedding request throttled, retrying")
	}

	return nil, lastErr
}

// EmbedQuery embeds text in query mode.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.Embed(ctx, text, InputTypeQuery)
}

// EmbedDocument embeds text in document mode.
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.Embed(ctx, text, InputTypeDocument)
}

func (c *Client) embedOnce(ctx context.Context, text string, inputType InputType) ([]float32, error) {
	reqBody := embedRequest{
		Model:     c.config.Model,
		Texts:     []string{text},
		InputType: string(inputType),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.BaseURL + "/v1/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, string(respBody))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}

	var embedResp embedResponse
	if err := json.Unmarshal(respBody, &embedResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUpstream, err)
	}
	if len(embedResp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: empty embeddings in response", ErrUpstream)
	}

	vector := embedResp.Embeddings[0]
	c.logger.WithFields(logrus.Fields{
		"input_type": inputType,
		"dimension":  len(vector),
	}).Debug("Embedding generated")

	return vector, nil
}
