// Package store persists conversations, messages and users. Two backends
// exist: an in-memory store for development and tests, and a Redis-backed
// durable store. Both guarantee read-your-writes within a process.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/intothewild/wildchat/internal/models"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ConversationUpdate is a partial conversation write. Nil fields are left
// unchanged.
type ConversationUpdate struct {
	Name         *string
	HasBot       *bool
	Participants *[]string
}

// Store is the persistence surface of the chat core.
type Store interface {
	SaveConversation(ctx context.Context, conversation *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, id string, update ConversationUpdate) (*models.Conversation, error)
	// FindDirectByParticipants matches a direct conversation by its exact
	// participant set, regardless of order.
	FindDirectByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error)
	// ListConversations returns every conversation; callers filter by
	// membership and type.
	ListConversations(ctx context.Context) ([]*models.Conversation, error)

	SaveMessage(ctx context.Context, message *models.Message) error
	// GetMessages returns the newest messages first, truncated to limit.
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)

	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// participantKey normalizes a participant set into a canonical string so
// that direct conversations dedupe on the unordered pair.
func participantKey(participantIDs []string) string {
	ids := make([]string, len(participantIDs))
	copy(ids, participantIDs)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
