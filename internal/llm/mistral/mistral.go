// Package mistral implements the Mistral chat completions API as an
// alternative text and vision backend for the wildlife bot.
package mistral

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MistralAPIURL is the chat completions endpoint.
	MistralAPIURL = "https://api.mistral.ai/v1/chat/completions"

	// MistralModel is the default text model.
	MistralModel = "mistral-small-latest"

	// MistralVisionModel handles image inputs.
	MistralVisionModel = "pixtral-12b-latest"
)

// RetryConfig holds retry behavior for transient API failures.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns conservative retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Request and response wire types.

type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Client calls the Mistral chat completions API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	visionModel string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *logrus.Logger
}

// NewClient creates a Mistral client. Empty baseURL and model fall back
// to the public endpoint and default models.
func NewClient(apiKey, baseURL, model string, timeout time.Duration, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = MistralAPIURL
	}
	if model == "" {
		model = MistralModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		visionModel: MistralVisionModel,
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: DefaultRetryConfig(),
		logger:      logger,
	}
}

// GenerateText produces a completion for a text prompt.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	request := ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   1024,
	}
	return c.complete(ctx, request)
}

// GenerateVision produces a completion for a prompt plus an image.
func (c *Client) GenerateVision(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("image data is empty")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(imageData))
	request := ChatRequest{
		Model: c.visionModel,
		Messages: []Message{
			{Role: "user", Content: []ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: dataURI},
			}},
		},
		Temperature: 0.4,
		MaxTokens:   1024,
	}
	return c.complete(ctx, request)
}

func (c *Client) complete(ctx context.Context, request ChatRequest) (string, error) {
	body, status, err := c.makeAPICall(ctx, request)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("mistral API error: status %d: %s", status, string(body))
	}

	var parsed ChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) makeAPICall(ctx context.Context, request ChatRequest) ([]byte, int, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	delay := c.retryConfig.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying Mistral request")
			if err := c.waitWithJitter(ctx, delay); err != nil {
				return nil, 0, err
			}
			delay = c.nextDelay(delay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < c.retryConfig.MaxRetries {
			lastErr = fmt.Errorf("mistral API error: status %d", resp.StatusCode)
			continue
		}
		return body, resp.StatusCode, nil
	}

	return nil, 0, fmt.Errorf("mistral request failed after %d attempts: %w", c.retryConfig.MaxRetries+1, lastErr)
}

func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

func (c *Client) waitWithJitter(ctx context.Context, delay time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	select {
	case <-time.After(delay + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.retryConfig.Multiplier)
	if next > c.retryConfig.MaxDelay {
		next = c.retryConfig.MaxDelay
	}
	return next
}
