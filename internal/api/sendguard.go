package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"gearhead-backend/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const defaultSendGuardTTL = 5 * time.Second

// SendGuard rejects a second identical send while the first is recent.
// A key is held for the TTL after a successful send and released early
// when the send fails, so the caller can retry.
type SendGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

// sendKey identifies a submission by sender and conversation. A client
// ref names the submission itself, so the same text sent again under a new
// ref goes through. Without a ref the content stands in for it.
func sendKey(userID, conversationID, ref, content string) string {
	kind, id := "c", strings.TrimSpace(content)
	if r := strings.TrimSpace(ref); r != "" {
		kind, id = "r", r
	}
	sum := sha256.Sum256([]byte(id))
	return "send_guard:" + userID + ":" + conversationID + ":" + kind + ":" + hex.EncodeToString(sum[:12])
}

type redisSetter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSendGuard shares held keys between gateway instances.
type RedisSendGuard struct {
	client redisSetter
	ttl    time.Duration
}

func NewRedisSendGuard(client redisSetter, ttl time.Duration) *RedisSendGuard {
	if ttl <= 0 {
		ttl = defaultSendGuardTTL
	}
	return &RedisSendGuard{client: client, ttl: ttl}
}

func (g *RedisSendGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (g *RedisSendGuard) Release(ctx context.Context, key string) {
	if err := g.client.Del(ctx, key).Err(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("send guard release failed")
	}
}

// MemorySendGuard holds keys in process.
type MemorySendGuard struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemorySendGuard(ttl time.Duration) *MemorySendGuard {
	if ttl <= 0 {
		ttl = defaultSendGuardTTL
	}
	return &MemorySendGuard{ttl: ttl, now: time.Now, held: make(map[string]time.Time)}
}

func (g *MemorySendGuard) Acquire(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.held {
		if !now.Before(exp) {
			delete(g.held, k)
		}
	}
	if _, ok := g.held[key]; ok {
		return false, nil
	}
	g.held[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemorySendGuard) Release(ctx context.Context, key string) {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
}
