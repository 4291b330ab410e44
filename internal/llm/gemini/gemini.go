// Package gemini implements the generation backend used for bot replies,
// query intent classification and image species identification.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// GeminiAPIURL is a format string taking the model name.
	GeminiAPIURL = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
	GeminiModel  = "gemini-2.5-flash"
)

// RetryConfig defines retry behavior for API calls.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns sensible defaults for Gemini API retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

type GeminiRequest struct {
	Contents         []GeminiContent        `json:"contents"`
	GenerationConfig GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

type GeminiContent struct {
	Parts []GeminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inlineData,omitempty"`
}

type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type GeminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type GeminiResponse struct {
	Candidates     []GeminiCandidate     `json:"candidates"`
	PromptFeedback *GeminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type GeminiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// Client calls the Gemini generateContent endpoint for text and vision
// prompts.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *logrus.Logger
}

// NewClient creates a Gemini client. baseURL must contain a %s placeholder
// for the model name; empty values fall back to the public endpoint and
// default model.
func NewClient(apiKey, baseURL, model string, timeout time.Duration, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = GeminiAPIURL
	}
	if model == "" {
		model = GeminiModel
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
		httpClient:  &http.Client{Timeout: timeout},
		retryConfig: DefaultRetryConfig(),
		logger:      logger,
	}
}

// GenerateText generates a completion for a text-only prompt.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	req := GeminiRequest{
		Contents: []GeminiContent{{
			Parts: []GeminiPart{{Text: prompt}},
			Role:  "user",
		}},
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     0.7,
			MaxOutputTokens: 1024,
		},
	}
	return c.generate(ctx, req)
}

// GenerateVision generates a completion for a prompt plus an inline image.
func (c *Client) GenerateVision(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("image data is empty")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	req := GeminiRequest{
		Contents: []GeminiContent{{
			Parts: []GeminiPart{
				{Text: prompt},
				{InlineData: &GeminiInlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(imageData),
				}},
			},
			Role: "user",
		}},
		GenerationConfig: GeminiGenerationConfig{
			Temperature:     0.4,
			MaxOutputTokens: 1024,
		},
	}
	return c.generate(ctx, req)
}

func (c *Client) generate(ctx context.Context, req GeminiRequest) (string, error) {
	resp, err := c.makeAPICall(ctx, req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini API error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var geminiResp GeminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if geminiResp.PromptFeedback != nil && geminiResp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", geminiResp.PromptFeedback.BlockReason)
	}
	if len(geminiResp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var b strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	text := b.String()
	if text == "" {
		return "", fmt.Errorf("empty candidate content, finish reason: %s", geminiResp.Candidates[0].FinishReason)
	}

	c.logger.WithFields(logrus.Fields{
		"model":         c.model,
		"finish_reason": geminiResp.Candidates[0].FinishReason,
	}).Debug("Generation completed")

	return text, nil
}

func (c *Client) makeAPICall(ctx context.Context, req GeminiRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf(c.baseURL, c.model)

	var lastErr error
	delay := c.retryConfig.InitialDelay

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			if attempt < c.retryConfig.MaxRetries {
				c.waitWithJitter(ctx, delay)
				delay = c.nextDelay(delay)
				continue
			}
			return nil, lastErr
		}

		if isRetryableStatus(resp.StatusCode) && attempt < c.retryConfig.MaxRetries {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: retryable error", resp.StatusCode)
			c.logger.WithFields(logrus.Fields{
				"status":  resp.StatusCode,
				"attempt": attempt + 1,
			}).Warn("Retrying Gemini request")
			c.waitWithJitter(ctx, delay)
			delay = c.nextDelay(delay)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("all %d retry attempts failed: %w", c.retryConfig.MaxRetries+1, lastErr)
}

// isRetryableStatus returns true for HTTP status codes that warrant a retry.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// waitWithJitter waits for the specified duration plus random jitter.
func (c *Client) waitWithJitter(ctx context.Context, delay time.Duration) {
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay)) // #nosec G404 - jitter doesn't require cryptographic randomness
	select {
	case <-ctx.Done():
	case <-time.After(delay + jitter):
	}
}

// nextDelay calculates the next delay using exponential backoff.
func (c *Client) nextDelay(currentDelay time.Duration) time.Duration {
	next := time.Duration(float64(currentDelay) * c.retryConfig.Multiplier)
	if next > c.retryConfig.MaxDelay {
		next = c.retryConfig.MaxDelay
	}
	return next
}
