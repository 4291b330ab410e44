package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/intothewild/wildchat/internal/models"
)

// Redis key layout.
const (
	keyConversationPrefix = "chat:conversation:"
	keyConversationSet    = "chat:conversations"
	keyDirectIndex        = "chat:direct_index"
	keyMessagesPrefix     = "chat:messages:"
	keyUserPrefix         = "chat:user:"
)

// RedisStore is the durable backend. Messages live in sorted sets scored by
// creation time; conversations and users are JSON documents.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client. The caller owns the client
// lifecycle.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) SaveConversation(ctx context.Context, conversation *models.Conversation) error {
	data, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyConversationPrefix+conversation.ID, data, 0)
	pipe.SAdd(ctx, keyConversationSet, conversation.ID)
	if conversation.Type == models.ConversationDirect {
		pipe.HSet(ctx, keyDirectIndex, participantKey(conversation.Participants), conversation.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	data, err := s.client.Get(ctx, keyConversationPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	var conversation models.Conversation
	if err := json.Unmarshal([]byte(data), &conversation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conversation, nil
}

func (s *RedisStore) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) (*models.Conversation, error) {
	conversation, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		conversation.Name = *update.Name
	}
	if update.HasBot != nil {
		conversation.HasBot = *update.HasBot
	}
	if update.Participants != nil {
		conversation.Participants = append([]string(nil), (*update.Participants)...)
	}

	if err := s.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *RedisStore) FindDirectByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	id, err := s.client.HGet(ctx, keyDirectIndex, participantKey(participantIDs)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up direct conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

func (s *RedisStore) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	ids, err := s.client.SMembers(ctx, keyConversationSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	conversations := make([]*models.Conversation, 0, len(ids))
	for _, id := range ids {
		conversation, err := s.GetConversation(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

func (s *RedisStore) SaveMessage(ctx context.Context, message *models.Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// Score by creation time so range queries return chronological order
	// without parsing timestamps.
	score := float64(message.CreatedAtTime().UnixNano())
	err = s.client.ZAdd(ctx, keyMessagesPrefix+message.ConversationID, redis.Z{
		Score:  score,
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *RedisStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	entries, err := s.client.ZRevRange(ctx, keyMessagesPrefix+conversationID, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]*models.Message, 0, len(entries))
	for _, entry := range entries {
		var message models.Message
		if err := json.Unmarshal([]byte(entry), &message); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, &message)
	}
	return messages, nil
}

func (s *RedisStore) SaveUser(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := s.client.Set(ctx, keyUserPrefix+user.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *RedisStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	data, err := s.client.Get(ctx, keyUserPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}
