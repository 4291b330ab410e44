// Package chat implements the WebSocket session protocol: frame dispatch,
// bot command handling, message persistence and fan-out, and the bridge to
// the RAG bot.
package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/intothewild/wildchat/internal/hub"
	"github.com/intothewild/wildchat/internal/metrics"
	"github.com/intothewild/wildchat/internal/models"
	"github.com/intothewild/wildchat/internal/rag"
	"github.com/intothewild/wildchat/internal/store"
)

const (
	botAddedMessage   = "AI Bot has been added to the conversation"
	botRemovedMessage = "AI Bot has been removed from the conversation"

	historyLimit        = 10
	conversationHistory = 50

	imageFetchTimeout = 10 * time.Second
)

// Responder produces bot replies. Implementations never fail; degraded
// replies are still replies.
type Responder interface {
	AnswerText(ctx context.Context, userMessage string, history []rag.HistoryEntry) string
	AnswerImage(ctx context.Context, imageData []byte, mimeType, userMessage string, history []rag.HistoryEntry) string
}

// ImageStore persists uploaded image bytes and returns a public URL.
type ImageStore interface {
	UploadImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Handler owns the WebSocket endpoint and the per-connection read loop.
type Handler struct {
	store      store.Store
	hub        *hub.Hub
	responder  Responder
	images     ImageStore
	metrics    *metrics.Metrics
	logger     *logrus.Logger
	upgrader   websocket.Upgrader
	httpClient *http.Client
}

// NewHandler creates the session protocol handler. images and metrics may
// be nil; inline image uploads are then rejected and instrumentation is
// skipped.
func NewHandler(s store.Store, h *hub.Hub, responder Responder, images ImageStore, m *metrics.Metrics, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		store:     s,
		hub:       h,
		responder: responder,
		images:    images,
		metrics:   m,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		httpClient: &http.Client{Timeout: imageFetchTimeout},
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/:userID", h.ServeWS)
}

type inboundFrame struct {
	Type            string `json:"type"`
	ConversationID  string `json:"conversationId"`
	Text            string `json:"text"`
	UserName        string `json:"userName"`
	ClientMessageID string `json:"clientMessageId"`
	ImageURL        string `json:"imageUrl"`
	ImageBase64     string `json:"imageBase64"`
	ImageMimeType   string `json:"imageMimeType"`
	Timestamp       string `json:"timestamp"`
}

// ServeWS upgrades the connection and runs the read loop until the client
// disconnects.
func (h *Handler) ServeWS(c *gin.Context) {
	userID := c.Param("userID")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user ID is required"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	conn := h.hub.Register(userID, ws)
	h.metrics.ConnOpened()
	defer func() {
		h.hub.Unregister(conn)
		h.metrics.ConnClosed()
	}()

	ctx := c.Request.Context()
	for {
		var frame inboundFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("user_id", userID).Debug("Read loop ended")
			}
			return
		}

		switch frame.Type {
		case "send_message":
			h.handleSendMessage(ctx, conn, frame)
		case "send_image":
			h.handleSendImage(ctx, conn, frame)
		case "join_conversation":
			h.handleJoinConversation(ctx, conn, frame)
		case "get_all_groups":
			h.handleGetAllGroups(ctx, conn)
		case "ping":
			h.hub.Send(conn.UserID, gin.H{"type": "pong", "timestamp": models.Now()})
		case "pong":
			conn.TouchPong()
			h.hub.Send(conn.UserID, gin.H{"type": "pong_ack", "timestamp": models.Now()})
		default:
			h.sendError(conn.UserID, fmt.Sprintf("unknown frame type: %s", frame.Type))
		}
	}
}

func (h *Handler) sendError(userID, message string) {
	h.hub.Send(userID, gin.H{"type": "error", "message": message})
}

// resolveMembership loads the conversation and verifies the sender is a
// participant, emitting error frames on failure.
func (h *Handler) resolveMembership(ctx context.Context, userID, conversationID string) *models.Conversation {
	if conversationID == "" {
		h.sendError(userID, "conversationId is required")
		return nil
	}

	conversation, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		h.sendError(userID, "Conversation not found")
		return nil
	}
	if !conversation.IsParticipant(userID) {
		h.sendError(userID, "You are not a participant of this conversation")
		return nil
	}
	return conversation
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *hub.Connection, frame inboundFrame) {
	text := strings.TrimSpace(frame.Text)
	if text == "" {
		h.sendError(conn.UserID, "Message text is required")
		return
	}

	conversation := h.resolveMembership(ctx, conn.UserID, frame.ConversationID)
	if conversation == nil {
		return
	}

	// Bot commands. Plain /bot and /chat toggle and stop; the inline form
	// enables the bot and then sends the remainder as a regular message.
	switch {
	case text == "/bot":
		h.setBot(ctx, conversation, true)
		return
	case text == "/chat":
		h.setBot(ctx, conversation, false)
		return
	case strings.HasPrefix(text, "/bot "):
		query := strings.TrimSpace(strings.TrimPrefix(text, "/bot "))
		if query == "" {
			h.setBot(ctx, conversation, true)
			return
		}
		conversation = h.setBot(ctx, conversation, true)
		text = query
	}

	message := &models.Message{
		ID:              uuid.NewString(),
		Text:            text,
		UserID:          conn.UserID,
		UserName:        displayName(frame.UserName),
		ConversationID:  conversation.ID,
		CreatedAt:       models.Now(),
		IsBot:           false,
		Type:            models.MessageTypeText,
		ClientMessageID: frame.ClientMessageID,
	}

	if err := h.store.SaveMessage(ctx, message); err != nil {
		h.logger.WithError(err).Error("Failed to save message")
		h.sendError(conn.UserID, "Failed to send message")
		return
	}
	h.metrics.MessageHandled(models.MessageTypeText)

	h.hub.Broadcast(ctx, conversation.ID, gin.H{"type": "new_message", "message": message}, conn.UserID)
	// The ack goes out before any bot reply on the same socket.
	h.hub.Send(conn.UserID, gin.H{"type": "message_sent", "message": message})

	if conversation.HasBot {
		h.botTextReply(ctx, conversation, message)
	}
}

// setBot flips the conversation's bot flag, broadcasting only on an actual
// transition. The updated conversation is returned.
func (h *Handler) setBot(ctx context.Context, conversation *models.Conversation, enabled bool) *models.Conversation {
	if conversation.HasBot == enabled {
		return conversation
	}

	updated, err := h.store.UpdateConversation(ctx, conversation.ID, store.ConversationUpdate{HasBot: &enabled})
	if err != nil {
		h.logger.WithError(err).Error("Failed to update bot flag")
		return conversation
	}

	frameType := "bot_added"
	text := botAddedMessage
	if !enabled {
		frameType = "bot_removed"
		text = botRemovedMessage
	}
	h.hub.Broadcast(ctx, conversation.ID, gin.H{
		"type":           frameType,
		"conversationId": conversation.ID,
		"message":        text,
		"timestamp":      models.Now(),
	}, "")

	return updated
}

// recentHistory returns the conversation's latest messages in
// chronological order, excluding the message that triggered the bot.
func (h *Handler) recentHistory(ctx context.Context, conversationID, excludeMessageID string) []rag.HistoryEntry {
	messages, err := h.store.GetMessages(ctx, conversationID, historyLimit)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to load history for bot reply")
		return nil
	}

	history := make([]rag.HistoryEntry, 0, len(messages))
	// Newest first in storage; walk backwards for chronological order.
	for i := len(messages) - 1; i >= 0; i-- {
		message := messages[i]
		if message.ID == excludeMessageID {
			continue
		}
		history = append(history, rag.HistoryEntry{
			AuthorName: displayName(message.UserName),
			IsBot:      message.IsBot,
			Text:       message.Text,
		})
	}
	return history
}

func (h *Handler) botTextReply(ctx context.Context, conversation *models.Conversation, trigger *models.Message) {
	start := time.Now()
	history := h.recentHistory(ctx, conversation.ID, trigger.ID)
	reply := h.responder.AnswerText(ctx, trigger.Text, history)
	h.metrics.ObserveBotReply(time.Since(start).Seconds())

	h.saveAndBroadcastBotReply(ctx, conversation, reply)
}

func (h *Handler) saveAndBroadcastBotReply(ctx context.Context, conversation *models.Conversation, reply string) {
	botMessage := &models.Message{
		ID:             uuid.NewString(),
		Text:           reply,
		UserID:         models.BotUserID,
		UserName:       models.BotUserName,
		ConversationID: conversation.ID,
		CreatedAt:      models.Now(),
		IsBot:          true,
		Type:           models.MessageTypeText,
	}

	if err := h.store.SaveMessage(ctx, botMessage); err != nil {
		h.logger.WithError(err).Error("Failed to save bot reply")
		return
	}

	h.hub.Broadcast(ctx, conversation.ID, gin.H{"type": "new_message", "message": botMessage}, "")
}

func (h *Handler) handleSendImage(ctx context.Context, conn *hub.Connection, frame inboundFrame) {
	conversation := h.resolveMembership(ctx, conn.UserID, frame.ConversationID)
	if conversation == nil {
		return
	}

	imageURL := frame.ImageURL
	mimeType := frame.ImageMimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	var imageData []byte
	if imageURL == "" {
		if frame.ImageBase64 == "" {
			h.sendError(conn.UserID, "imageUrl or imageBase64 is required")
			return
		}
		if h.images == nil {
			h.sendError(conn.UserID, "Image uploads are not available")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(frame.ImageBase64)
		if err != nil {
			h.sendError(conn.UserID, "Invalid image encoding")
			return
		}
		imageData = decoded

		imageURL, err = h.images.UploadImage(ctx, decoded, mimeType)
		if err != nil {
			h.logger.WithError(err).Error("Image upload failed")
			h.sendError(conn.UserID, "Failed to store image")
			return
		}
	}

	message := &models.Message{
		ID:              uuid.NewString(),
		Text:            strings.TrimSpace(frame.Text),
		UserID:          conn.UserID,
		UserName:        displayName(frame.UserName),
		ConversationID:  conversation.ID,
		CreatedAt:       models.Now(),
		IsBot:           false,
		ImageURL:        imageURL,
		Type:            models.MessageTypeImage,
		ClientMessageID: frame.ClientMessageID,
	}

	if err := h.store.SaveMessage(ctx, message); err != nil {
		h.logger.WithError(err).Error("Failed to save image message")
		h.sendError(conn.UserID, "Failed to send image")
		return
	}
	h.metrics.MessageHandled(models.MessageTypeImage)

	h.hub.Broadcast(ctx, conversation.ID, gin.H{"type": "new_message", "message": message}, conn.UserID)
	h.hub.Send(conn.UserID, gin.H{"type": "message_sent", "message": message})

	if conversation.HasBot {
		h.botImageReply(ctx, conversation, message, imageData, mimeType)
	}
}

func (h *Handler) botImageReply(ctx context.Context, conversation *models.Conversation, trigger *models.Message, imageData []byte, mimeType string) {
	if imageData == nil {
		fetched, fetchedMime, err := h.fetchImage(ctx, trigger.ImageURL)
		if err != nil {
			h.logger.WithError(err).Warn("Could not fetch image for bot reply")
			return
		}
		imageData = fetched
		if fetchedMime != "" {
			mimeType = fetchedMime
		}
	}

	start := time.Now()
	history := h.recentHistory(ctx, conversation.ID, trigger.ID)
	reply := h.responder.AnswerImage(ctx, imageData, mimeType, trigger.Text, history)
	h.metrics.ObserveBotReply(time.Since(start).Seconds())

	h.saveAndBroadcastBotReply(ctx, conversation, reply)
}

func (h *Handler) fetchImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (h *Handler) handleJoinConversation(ctx context.Context, conn *hub.Connection, frame inboundFrame) {
	conversation := h.resolveMembership(ctx, conn.UserID, frame.ConversationID)
	if conversation == nil {
		return
	}

	messages, err := h.store.GetMessages(ctx, conversation.ID, conversationHistory)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load conversation history")
		h.sendError(conn.UserID, "Failed to load history")
		return
	}

	h.hub.Send(conn.UserID, gin.H{
		"type":           "conversation_history",
		"conversationId": conversation.ID,
		"messages":       messages,
	})
}

// handleGetAllGroups replies with every group conversation plus the direct
// conversations the user participates in.
func (h *Handler) handleGetAllGroups(ctx context.Context, conn *hub.Connection) {
	conversations, err := h.store.ListConversations(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list conversations")
		h.sendError(conn.UserID, "Failed to list conversations")
		return
	}

	visible := make([]*models.Conversation, 0, len(conversations))
	for _, conversation := range conversations {
		if conversation.Type == models.ConversationGroup || conversation.IsParticipant(conn.UserID) {
			visible = append(visible, conversation)
		}
	}

	h.hub.Send(conn.UserID, gin.H{"type": "all_groups", "conversations": visible})
}

func displayName(userName string) string {
	if userName == "" {
		return "User"
	}
	return userName
}
