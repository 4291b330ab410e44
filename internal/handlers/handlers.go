// Package handlers implements the REST surface: users, conversations,
// message history, bot toggling and image upload. Real-time traffic goes
// through the WebSocket endpoint; these routes exist for clients that need
// a plain HTTP side channel.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/intothewild/wildchat/internal/hub"
	"github.com/intothewild/wildchat/internal/models"
	"github.com/intothewild/wildchat/internal/store"
)

const (
	defaultMessageLimit = 50
	maxUploadBytes      = 10 * 1024 * 1024

	botAddedMessage   = "AI Bot has been added to the conversation"
	botRemovedMessage = "AI Bot has been removed from the conversation"
)

// ImageStore persists uploaded image bytes and returns a public URL.
type ImageStore interface {
	UploadImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Handler serves the REST API.
type Handler struct {
	store  store.Store
	hub    *hub.Hub
	images ImageStore
	logger *logrus.Logger

	// directMu serializes direct-conversation creation so concurrent
	// requests for the same pair cannot race past the dedupe lookup.
	directMu sync.Mutex
}

// NewHandler creates the REST handler. images may be nil; the upload
// endpoint then responds with 503.
func NewHandler(s store.Store, h *hub.Hub, images ImageStore, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		store:  s,
		hub:    h,
		images: images,
		logger: logger,
	}
}

// RegisterRoutes registers all REST endpoints on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.POST("/users/register", h.RegisterUser)
		api.GET("/users/:userID", h.GetUser)

		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations/:conversationID", h.GetConversation)
		api.GET("/conversations/:conversationID/messages", h.GetMessages)
		api.POST("/conversations/:conversationID/add-bot", h.AddBot)
		api.POST("/conversations/:conversationID/remove-bot", h.RemoveBot)
		api.POST("/conversations/:conversationID/join", h.JoinGroup)
		api.POST("/conversations/:conversationID/leave", h.LeaveGroup)

		api.POST("/images", h.UploadImage)
	}
}

// Root reports the service identity.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "IntoTheWild Chat API",
		"status":  "running",
	})
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type registerUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
}

// RegisterUser creates a user record and returns it.
func (h *Handler) RegisterUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Username:  req.Username,
		Email:     req.Email,
		CreatedAt: models.Now(),
	}
	if err := h.store.SaveUser(c.Request.Context(), user); err != nil {
		h.logger.WithError(err).Error("Failed to save user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// GetUser returns a user by ID.
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

type createConversationRequest struct {
	Name           string   `json:"name"`
	Type           string   `json:"type" binding:"required"`
	ParticipantIDs []string `json:"participantIds" binding:"required"`
}

// CreateConversation creates a conversation. Direct conversations are
// unique per unordered participant pair; an existing one is returned
// instead of creating a duplicate.
func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and participantIds are required"})
		return
	}

	ctx := c.Request.Context()

	switch req.Type {
	case models.ConversationDirect:
		if len(req.ParticipantIDs) != 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "one_to_one conversations need exactly two participants"})
			return
		}
		conversation, err := h.createDirect(ctx, req.ParticipantIDs)
		if err != nil {
			h.logger.WithError(err).Error("Failed to create direct conversation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
			return
		}
		c.JSON(http.StatusOK, conversation)

	case models.ConversationGroup:
		if len(req.ParticipantIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "participantIds must not be empty"})
			return
		}
		conversation := &models.Conversation{
			ID:           uuid.NewString(),
			Name:         req.Name,
			Type:         models.ConversationGroup,
			Participants: req.ParticipantIDs,
			CreatedAt:    models.Now(),
		}
		if err := h.store.SaveConversation(ctx, conversation); err != nil {
			h.logger.WithError(err).Error("Failed to create group conversation")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
			return
		}

		h.hub.Broadcast(ctx, conversation.ID, gin.H{
			"type":         "group_created",
			"conversation": conversation,
		}, "")
		c.JSON(http.StatusOK, conversation)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be one_to_one or group"})
	}
}

func (h *Handler) createDirect(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	h.directMu.Lock()
	defer h.directMu.Unlock()

	existing, err := h.store.FindDirectByParticipants(ctx, participantIDs)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	participants := append([]string(nil), participantIDs...)
	sort.Strings(participants)

	conversation := &models.Conversation{
		ID:           uuid.NewString(),
		Type:         models.ConversationDirect,
		Participants: participants,
		CreatedAt:    models.Now(),
	}
	if err := h.store.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

// GetConversation returns conversation details.
func (h *Handler) GetConversation(c *gin.Context) {
	conversation, err := h.store.GetConversation(c.Request.Context(), c.Param("conversationID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conversation)
}

// GetMessages returns a conversation's latest messages, newest first.
func (h *Handler) GetMessages(c *gin.Context) {
	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	messages, err := h.store.GetMessages(c.Request.Context(), c.Param("conversationID"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// AddBot enables the AI bot in a conversation. Idempotent; participants
// are notified only on the transition.
func (h *Handler) AddBot(c *gin.Context) {
	h.toggleBot(c, true)
}

// RemoveBot disables the AI bot in a conversation.
func (h *Handler) RemoveBot(c *gin.Context) {
	h.toggleBot(c, false)
}

func (h *Handler) toggleBot(c *gin.Context, enabled bool) {
	ctx := c.Request.Context()
	conversationID := c.Param("conversationID")

	conversation, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	if conversation.HasBot == enabled {
		message := "Bot already in conversation"
		if !enabled {
			message = "Bot not in conversation"
		}
		c.JSON(http.StatusOK, gin.H{"message": message, "hasBot": enabled})
		return
	}

	if _, err := h.store.UpdateConversation(ctx, conversationID, store.ConversationUpdate{HasBot: &enabled}); err != nil {
		h.logger.WithError(err).Error("Failed to update bot flag")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update conversation"})
		return
	}

	frameType := "bot_added"
	text := botAddedMessage
	response := "Bot added successfully"
	if !enabled {
		frameType = "bot_removed"
		text = botRemovedMessage
		response = "Bot removed successfully"
	}
	h.hub.Broadcast(ctx, conversationID, gin.H{
		"type":           frameType,
		"conversationId": conversationID,
		"message":        text,
		"timestamp":      models.Now(),
	}, "")

	c.JSON(http.StatusOK, gin.H{"message": response, "hasBot": enabled})
}

type membershipRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// JoinGroup adds a user to a group conversation and notifies the members.
func (h *Handler) JoinGroup(c *gin.Context) {
	var req membershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	ctx := c.Request.Context()
	conversationID := c.Param("conversationID")

	conversation, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if conversation.Type != models.ConversationGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only group conversations can be joined"})
		return
	}
	if conversation.IsParticipant(req.UserID) {
		c.JSON(http.StatusOK, conversation)
		return
	}

	participants := append(append([]string(nil), conversation.Participants...), req.UserID)
	updated, err := h.store.UpdateConversation(ctx, conversationID, store.ConversationUpdate{Participants: &participants})
	if err != nil {
		h.logger.WithError(err).Error("Failed to join group")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join group"})
		return
	}

	h.hub.Broadcast(ctx, conversationID, gin.H{
		"type":           "user_joined_group",
		"conversationId": conversationID,
		"userId":         req.UserID,
		"timestamp":      models.Now(),
	}, "")

	c.JSON(http.StatusOK, updated)
}

// LeaveGroup removes a user from a group conversation and notifies the
// remaining members.
func (h *Handler) LeaveGroup(c *gin.Context) {
	var req membershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	ctx := c.Request.Context()
	conversationID := c.Param("conversationID")

	conversation, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if conversation.Type != models.ConversationGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only group conversations can be left"})
		return
	}
	if !conversation.IsParticipant(req.UserID) {
		c.JSON(http.StatusOK, conversation)
		return
	}

	participants := make([]string, 0, len(conversation.Participants)-1)
	for _, p := range conversation.Participants {
		if p != req.UserID {
			participants = append(participants, p)
		}
	}
	updated, err := h.store.UpdateConversation(ctx, conversationID, store.ConversationUpdate{Participants: &participants})
	if err != nil {
		h.logger.WithError(err).Error("Failed to leave group")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave group"})
		return
	}

	h.hub.Broadcast(ctx, conversationID, gin.H{
		"type":           "user_left_group",
		"conversationId": conversationID,
		"userId":         req.UserID,
		"timestamp":      models.Now(),
	}, "")

	c.JSON(http.StatusOK, updated)
}

// UploadImage accepts a multipart image upload and returns its public URL.
func (h *Handler) UploadImage(c *gin.Context) {
	if h.images == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Image storage is not available"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read image"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image is too large"})
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	url, err := h.images.UploadImage(c.Request.Context(), data, mimeType)
	if err != nil {
		h.logger.WithError(err).Error("Image upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store image"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"imageUrl": url})
}
