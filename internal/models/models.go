// Package models defines the shared data structures for conversations,
// messages, users and species records. Persisted shapes use camelCase JSON
// field names and ISO-8601 string timestamps.
package models

import (
	"time"
)

// Conversation kinds.
const (
	ConversationDirect = "one_to_one"
	ConversationGroup  = "group"
)

// Message kinds.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// BotUserID is the sentinel author ID used for AI-generated messages.
const BotUserID = "bot"

// BotUserName is the display name attached to AI-generated messages.
const BotUserName = "AI Bot"

// User represents a chat user. Users are created by the auth layer and are
// opaque to the messaging core.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	ProviderID  string `json:"providerId,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	CreatedAt   string `json:"createdAt"`
	LastLoginAt string `json:"lastLoginAt,omitempty"`
}

// Conversation is a direct or group chat. Direct conversations always have
// exactly two participants and are unique per unordered participant pair.
type Conversation struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"createdAt"`
	HasBot       bool     `json:"hasBot"`
}

// IsParticipant reports whether userID is a member of the conversation.
func (c *Conversation) IsParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a single chat message. Messages are immutable after write.
// ClientMessageID, when present, is echoed back so clients can reconcile
// optimistic UI entries.
type Message struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	UserID          string `json:"userId"`
	UserName        string `json:"userName"`
	ConversationID  string `json:"conversationId"`
	CreatedAt       string `json:"createdAt"`
	IsBot           bool   `json:"isBot"`
	ImageURL        string `json:"imageUrl,omitempty"`
	Type            string `json:"type"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// CreatedAtTime parses the message timestamp. The zero time is returned for
// malformed values so ordering degrades gracefully instead of failing.
func (m *Message) CreatedAtTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Now returns the canonical timestamp string used for CreatedAt fields.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// SpeciesRecord is one scraped encyclopedia entry, the input unit of the
// ingestion pipeline. Records with a non-empty Error are skipped by the
// indexer.
type SpeciesRecord struct {
	ScientificName string `json:"scientific_name"`
	CommonName     string `json:"common_name"`
	Family         string `json:"family"`
	Genus          string `json:"genus"`
	Order          string `json:"order,omitempty"`
	Class          string `json:"class,omitempty"`
	Phylum         string `json:"phylum,omitempty"`
	Kingdom        string `json:"kingdom,omitempty"`
	Summary        string `json:"summary"`
	Content        string `json:"content"`
	WikipediaURL   string `json:"wikipedia_url"`
	Error          string `json:"error,omitempty"`
}
