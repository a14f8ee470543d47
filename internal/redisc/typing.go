package redisc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Typing states live in a hash per room with a TTL, so a crashed
// process leaves nothing stale behind.
const typingTTL = 60 * time.Second

// TypingStore implements store.TypingStore on Redis.
type TypingStore struct {
	client *redis.Client
}

func NewTypingStore(client *redis.Client) *TypingStore {
	return &TypingStore{client: client}
}

func typingKey(roomID string) string {
	return "typing:" + roomID
}

func (t *TypingStore) Upsert(ctx context.Context, roomID, userID string, isTyping bool) error {
	key := typingKey(roomID)
	pipe := t.client.Pipeline()
	if isTyping {
		pipe.HSet(ctx, key, userID, time.Now().UTC().Format(time.RFC3339))
	} else {
		pipe.HDel(ctx, key, userID)
	}
	pipe.Expire(ctx, key, typingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert typing state: %w", err)
	}
	return nil
}

func (t *TypingStore) Clear(ctx context.Context, roomID, userID string) error {
	return t.Upsert(ctx, roomID, userID, false)
}

func (t *TypingStore) ListTyping(ctx context.Context, roomID string) ([]string, error) {
	fields, err := t.client.HKeys(ctx, typingKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list typing users: %w", err)
	}
	return fields, nil
}
