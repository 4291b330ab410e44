package mistral

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	client := NewClient("test-key", server.URL, "", 5*time.Second, logger)
	client.retryConfig.InitialDelay = time.Millisecond
	return client
}

func completionResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{
				"message":       map[string]interface{}{"content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func TestGenerateText(t *testing.T) {
	var captured ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(completionResponse("Oaks are deciduous trees."))
	})

	text, err := client.GenerateText(context.Background(), "Tell me about oaks")
	require.NoError(t, err)
	assert.Equal(t, "Oaks are deciduous trees.", text)

	assert.Equal(t, MistralModel, captured.Model)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "Tell me about oaks", captured.Messages[0].Content)
}

func TestGenerateVisionSendsDataURI(t *testing.T) {
	var captured map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(completionResponse("A red fox."))
	})

	text, err := client.GenerateVision(context.Background(), "What animal is this?", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "A red fox.", text)

	assert.Equal(t, MistralVisionModel, captured["model"])
	messages := captured["messages"].([]interface{})
	content := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 2)
	imagePart := content[1].(map[string]interface{})
	assert.Equal(t, "image_url", imagePart["type"])
	assert.True(t, strings.HasPrefix(imagePart["image_url"].(string), "data:image/png;base64,"))
}

func TestGenerateVisionRejectsEmptyImage(t *testing.T) {
	client := NewClient("key", "", "", 0, nil)
	_, err := client.GenerateVision(context.Background(), "prompt", nil, "image/png")
	assert.Error(t, err)
}

func TestRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(completionResponse("recovered"))
	})

	text, err := client.GenerateText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestErrorIncludesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "model not found"}`))
	})

	_, err := client.GenerateText(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNoChoicesIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	})

	_, err := client.GenerateText(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion choices")
}
