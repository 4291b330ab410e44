package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intothewild/wildchat/internal/hub"
	"github.com/intothewild/wildchat/internal/models"
	"github.com/intothewild/wildchat/internal/store"
)

type fakeImageStore struct {
	mu      sync.Mutex
	uploads [][]byte
	url     string
	err     error
}

func (f *fakeImageStore) UploadImage(_ context.Context, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, data)
	return f.url, nil
}

type apiHarness struct {
	router *gin.Engine
	store  *store.MemoryStore
	images *fakeImageStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	memStore := store.NewMemoryStore()
	wsHub := hub.NewHub(memStore, time.Minute, logger)
	t.Cleanup(wsHub.Close)

	images := &fakeImageStore{url: "http://media.local/chat-images/images/up.png"}
	handler := NewHandler(memStore, wsHub, images, logger)

	router := gin.New()
	handler.RegisterRoutes(router)

	return &apiHarness{router: router, store: memStore, images: images}
}

func (h *apiHarness) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func (h *apiHarness) addConversation(t *testing.T, convType string, hasBot bool, participants ...string) *models.Conversation {
	t.Helper()
	conversation := &models.Conversation{
		ID:           uuid.NewString(),
		Type:         convType,
		Participants: participants,
		CreatedAt:    models.Now(),
		HasBot:       hasBot,
	}
	require.NoError(t, h.store.SaveConversation(context.Background(), conversation))
	return conversation
}

func TestRootAndHealth(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.doJSON(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "running", decodeBody(t, recorder)["status"])

	recorder = h.doJSON(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "healthy", decodeBody(t, recorder)["status"])
}

func TestRegisterAndGetUser(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.doJSON(t, http.MethodPost, "/api/users/register", gin.H{
		"username": "alice",
		"email":    "alice@example.com",
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	created := decodeBody(t, recorder)
	assert.Equal(t, "alice", created["username"])
	assert.NotEmpty(t, created["id"])
	assert.NotEmpty(t, created["createdAt"])

	recorder = h.doJSON(t, http.MethodGet, "/api/users/"+created["id"].(string), nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "alice", decodeBody(t, recorder)["username"])
}

func TestRegisterUserRequiresUsername(t *testing.T) {
	h := newAPIHarness(t)
	recorder := h.doJSON(t, http.MethodPost, "/api/users/register", gin.H{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetUserNotFound(t *testing.T) {
	h := newAPIHarness(t)
	recorder := h.doJSON(t, http.MethodGet, "/api/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestCreateDirectConversationDeduplicates(t *testing.T) {
	h := newAPIHarness(t)

	first := h.doJSON(t, http.MethodPost, "/api/conversations", gin.H{
		"type":           models.ConversationDirect,
		"participantIds": []string{"alice", "bob"},
	})
	require.Equal(t, http.StatusOK, first.Code)
	firstID := decodeBody(t, first)["id"].(string)

	// Reversed participant order resolves to the same conversation.
	second := h.doJSON(t, http.MethodPost, "/api/conversations", gin.H{
		"type":           models.ConversationDirect,
		"participantIds": []string{"bob", "alice"},
	})
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, firstID, decodeBody(t, second)["id"])

	conversations, err := h.store.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Len(t, conversations, 1)
}

func TestCreateDirectConversationValidatesParticipants(t *testing.T) {
	h := newAPIHarness(t)
	recorder := h.doJSON(t, http.MethodPost, "/api/conversations", gin.H{
		"type":           models.ConversationDirect,
		"participantIds": []string{"alice"},
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCreateGroupConversation(t *testing.T) {
	h := newAPIHarness(t)

	recorder := h.doJSON(t, http.MethodPost, "/api/conversations", gin.H{
		"name":           "wildlife talk",
		"type":           models.ConversationGroup,
		"participantIds": []string{"alice", "bob", "carol"},
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	assert.Equal(t, "wildlife talk", body["name"])
	assert.Equal(t, models.ConversationGroup, body["type"])

	// Groups are not subject to direct dedupe.
	again := h.doJSON(t, http.MethodPost, "/api/conversations", gin.H{
		"name":           "wildlife talk",
		"type":           models.ConversationGroup,
		"participantIds": []string{"alice", "bob", "carol"},
	})
	require.Equal(t, http.StatusOK, again.Code)
	assert.NotEqual(t, body["id"], decodeBody(t, again)["id"])
}

func TestCreateConversationRejectsUnknownType(t *testing.T) {
	h := newAPIHarness(t)
	recorder := h.doJSON(t, http.MethodPost, "/api/conversations", gin.H{
		"type":           "broadcast",
		"participantIds": []string{"alice"},
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetConversation(t *testing.T) {
	h := newAPIHarness(t)
	conversation := h.addConversation(t, models.ConversationGroup, false, "alice", "bob")

	recorder := h.doJSON(t, http.MethodGet, "/api/conversations/"+conversation.ID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, conversation.ID, decodeBody(t, recorder)["id"])

	recorder = h.doJSON(t, http.MethodGet, "/api/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetMessagesHonorsLimit(t *testing.T) {
	h := newAPIHarness(t)
	conversation := h.addConversation(t, models.ConversationDirect, false, "alice", "bob")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		message := &models.Message{
			ID:             uuid.NewString(),
			Text:           fmt.Sprintf("message %d", i),
			UserID:         "alice",
			ConversationID: conversation.ID,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute).UTC().Format(time.RFC3339Nano),
			Type:           models.MessageTypeText,
		}
		require.NoError(t, h.store.SaveMessage(context.Background(), message))
	}

	recorder := h.doJSON(t, http.MethodGet, "/api/conversations/"+conversation.ID+"/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	messages := decodeBody(t, recorder)["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "message 4", messages[0].(map[string]interface{})["text"])

	recorder = h.doJSON(t, http.MethodGet, "/api/conversations/"+conversation.ID+"/messages?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestAddBotTransitionsOnce(t *testing.T) {
	h := newAPIHarness(t)
	conversation := h.addConversation(t, models.ConversationDirect, false, "alice", "bob")

	recorder := h.doJSON(t, http.MethodPost, "/api/conversations/"+conversation.ID+"/add-bot", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	assert.Equal(t, "Bot added successfully", body["message"])
	assert.Equal(t, true, body["hasBot"])

	updated, err := h.store.GetConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.True(t, updated.HasBot)

	recorder = h.doJSON(t, http.MethodPost, "/api/conversations/"+conversation.ID+"/add-bot", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Bot already in conversation", decodeBody(t, recorder)["message"])
}

func TestRemoveBot(t *testing.T) {
	h := newAPIHarness(t)
	conversation := h.addConversation(t, models.ConversationDirect, true, "alice", "bob")

	recorder := h.doJSON(t, http.MethodPost, "/api/conversations/"+conversation.ID+"/remove-bot", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, false, decodeBody(t, recorder)["hasBot"])

	updated, err := h.store.GetConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.False(t, updated.HasBot)
}

func TestJoinAndLeaveGroup(t *testing.T) {
	h := newAPIHarness(t)
	group := h.addConversation(t, models.ConversationGroup, false, "alice", "bob")

	recorder := h.doJSON(t, http.MethodPost, "/api/conversations/"+group.ID+"/join", gin.H{"userId": "carol"})
	require.Equal(t, http.StatusOK, recorder.Code)

	updated, err := h.store.GetConversation(context.Background(), group.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsParticipant("carol"))

	// Joining again is a no-op.
	recorder = h.doJSON(t, http.MethodPost, "/api/conversations/"+group.ID+"/join", gin.H{"userId": "carol"})
	require.Equal(t, http.StatusOK, recorder.Code)
	updated, err = h.store.GetConversation(context.Background(), group.ID)
	require.NoError(t, err)
	assert.Len(t, updated.Participants, 3)

	recorder = h.doJSON(t, http.MethodPost, "/api/conversations/"+group.ID+"/leave", gin.H{"userId": "carol"})
	require.Equal(t, http.StatusOK, recorder.Code)
	updated, err = h.store.GetConversation(context.Background(), group.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsParticipant("carol"))
	assert.Len(t, updated.Participants, 2)
}

func TestJoinRejectsDirectConversation(t *testing.T) {
	h := newAPIHarness(t)
	direct := h.addConversation(t, models.ConversationDirect, false, "alice", "bob")

	recorder := h.doJSON(t, http.MethodPost, "/api/conversations/"+direct.ID+"/join", gin.H{"userId": "carol"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUploadImage(t *testing.T) {
	h := newAPIHarness(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/images", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, h.images.url, decodeBody(t, recorder)["imageUrl"])
	require.Len(t, h.images.uploads, 1)
}

func TestUploadImageRequiresFile(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/images", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	recorder := httptest.NewRecorder()
	h.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

// wrappingStore simulates a backend that annotates the not-found
// sentinel before returning it.
type wrappingStore struct {
	*store.MemoryStore
}

func (s *wrappingStore) FindDirectByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	conversation, err := s.MemoryStore.FindDirectByParticipants(ctx, participantIDs)
	if err != nil {
		return nil, fmt.Errorf("direct lookup: %w", err)
	}
	return conversation, nil
}

func TestCreateDirectConversationWithWrappedNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	wrapped := &wrappingStore{MemoryStore: store.NewMemoryStore()}
	wsHub := hub.NewHub(wrapped, time.Minute, logger)
	t.Cleanup(wsHub.Close)

	handler := NewHandler(wrapped, wsHub, nil, logger)
	router := gin.New()
	handler.RegisterRoutes(router)

	body, err := json.Marshal(gin.H{
		"type":           models.ConversationDirect,
		"participantIds": []string{"alice", "bob"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &created))
	assert.NotEmpty(t, created["id"])
}

func TestConcurrentDirectCreationYieldsOneConversation(t *testing.T) {
	h := newAPIHarness(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, _ := json.Marshal(gin.H{
				"type":           models.ConversationDirect,
				"participantIds": []string{"alice", "bob"},
			})
			req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			recorder := httptest.NewRecorder()
			h.router.ServeHTTP(recorder, req)

			var created map[string]interface{}
			if recorder.Code == http.StatusOK && json.Unmarshal(recorder.Body.Bytes(), &created) == nil {
				ids[i], _ = created["id"].(string)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.Equal(t, ids[0], id)
	}
}
