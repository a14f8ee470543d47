package redisc

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 120 * time.Second

// Presence tracks which users currently hold at least one live
// connection. Connection counts are kept per user so a user with two
// sessions stays online until the last one closes.
type Presence struct {
	client *redis.Client
}

func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client}
}

func (p *Presence) Connected(ctx context.Context, userID string) error {
	pipe := p.client.Pipeline()
	pipe.Incr(ctx, "presence:"+userID)
	pipe.Expire(ctx, "presence:"+userID, presenceTTL)
	pipe.SAdd(ctx, "online_users", userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Presence) Disconnected(ctx context.Context, userID string) error {
	n, err := p.client.Decr(ctx, "presence:"+userID).Result()
	if err != nil {
		return err
	}
	if n <= 0 {
		pipe := p.client.Pipeline()
		pipe.Del(ctx, "presence:"+userID)
		pipe.SRem(ctx, "online_users", userID)
		_, err = pipe.Exec(ctx)
	}
	return err
}

func (p *Presence) OnlineUsers(ctx context.Context) ([]string, error) {
	return p.client.SMembers(ctx, "online_users").Result()
}

func (p *Presence) Refresh(ctx context.Context, userID string) error {
	return p.client.Expire(ctx, "presence:"+userID, presenceTTL).Err()
}
