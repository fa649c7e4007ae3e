package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/convocart/convocart/convo"
	"github.com/convocart/convocart/core"
)

const sessionKeyPrefix = "convocart:session:"

// RedisManager stores conversations as JSON with a Redis-side TTL. Unlike
// the in-memory manager every Get returns a fresh copy, so callers must Save
// after mutating.
type RedisManager struct {
	client *redis.Client
	ttl    time.Duration
	logger core.Logger
}

// NewRedisManager connects to Redis and verifies the connection.
func NewRedisManager(redisURL string, ttl time.Duration, logger core.Logger) (*RedisManager, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w: %v", core.ErrConnectionFailed, err)
	}

	return &RedisManager{client: client, ttl: ttl, logger: logger}, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Create starts and persists a new conversation.
func (r *RedisManager) Create(ctx context.Context, user *core.UserRecord) (*convo.Conversation, error) {
	conv := convo.NewConversation(user)
	if err := r.Save(ctx, conv); err != nil {
		return nil, err
	}
	r.logger.Info("Session created", map[string]interface{}{
		"operation":  "session_create",
		"session_id": conv.ID,
	})
	return conv, nil
}

// Get loads a conversation.
func (r *RedisManager) Get(ctx context.Context, id string) (*convo.Conversation, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %q: %w", id, core.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w: %v", core.ErrConnectionFailed, err)
	}

	var conv convo.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", id, err)
	}
	conv.RestoreSeq()
	return &conv, nil
}

// Save persists the conversation and refreshes its TTL.
func (r *RedisManager) Save(ctx context.Context, conv *convo.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", conv.ID, err)
	}
	if err := r.client.Set(ctx, sessionKey(conv.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w: %v", core.ErrConnectionFailed, err)
	}
	return nil
}

// Delete removes the session.
func (r *RedisManager) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w: %v", core.ErrConnectionFailed, err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisManager) Close() error {
	return r.client.Close()
}
