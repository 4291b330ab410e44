package store

import (
	"context"
	"sort"
	"sync"

	"github.com/intothewild/wildchat/internal/models"
)

// MemoryStore is the in-process backend. It is safe for concurrent use and
// returns copies, so callers can mutate results freely.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // conversation ID -> append order
	users         map[string]*models.User
	directIndex   map[string]string // participant key -> conversation ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		users:         make(map[string]*models.User),
		directIndex:   make(map[string]string),
	}
}

func copyConversation(c *models.Conversation) *models.Conversation {
	copied := *c
	copied.Participants = append([]string(nil), c.Participants...)
	return &copied
}

func (s *MemoryStore) SaveConversation(_ context.Context, conversation *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyConversation(conversation)
	s.conversations[stored.ID] = stored
	if stored.Type == models.ConversationDirect {
		s.directIndex[participantKey(stored.Participants)] = stored.ID
	}
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conversation), nil
}

func (s *MemoryStore) UpdateConversation(_ context.Context, id string, update ConversationUpdate) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	if update.Name != nil {
		conversation.Name = *update.Name
	}
	if update.HasBot != nil {
		conversation.HasBot = *update.HasBot
	}
	if update.Participants != nil {
		conversation.Participants = append([]string(nil), (*update.Participants)...)
		if conversation.Type == models.ConversationDirect {
			s.directIndex[participantKey(conversation.Participants)] = conversation.ID
		}
	}
	return copyConversation(conversation), nil
}

func (s *MemoryStore) FindDirectByParticipants(_ context.Context, participantIDs []string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.directIndex[participantKey(participantIDs)]
	if !ok {
		return nil, ErrNotFound
	}
	conversation, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conversation), nil
}

func (s *MemoryStore) ListConversations(_ context.Context) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversations := make([]*models.Conversation, 0, len(s.conversations))
	for _, conversation := range s.conversations {
		conversations = append(conversations, copyConversation(conversation))
	}
	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].CreatedAt < conversations[j].CreatedAt
	})
	return conversations, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *message
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], &copied)
	return nil
}

func (s *MemoryStore) GetMessages(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[conversationID]
	messages := make([]*models.Message, 0, len(stored))
	for _, message := range stored {
		copied := *message
		messages = append(messages, &copied)
	}

	// Newest first; append order breaks timestamp ties.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAtTime().After(messages[j].CreatedAtTime())
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (s *MemoryStore) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}
