package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crtlab/crtchat/internal/session"
)

// HistoryCache keeps each session's recent turns in Redis so history
// loading does not replay the external store on every message. It is a
// cache only: misses and outages fall back to Store.Replay, and a Redis
// failure must degrade a request, never fail it.
type HistoryCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// HistoryCacheConfig holds Redis connection configuration.
type HistoryCacheConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix (default "crtchat:history:").
	Prefix string
	// TTL is the per-session expiry (0 = never expire).
	TTL time.Duration
}

// NewHistoryCache connects to Redis and verifies the connection.
func NewHistoryCache(cfg HistoryCacheConfig) (*HistoryCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newHistoryCache(client, cfg.Prefix, cfg.TTL), nil
}

// NewHistoryCacheFromClient wraps an existing client. Useful for testing
// with miniredis.
func NewHistoryCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *HistoryCache {
	return newHistoryCache(client, prefix, ttl)
}

func newHistoryCache(client *redis.Client, prefix string, ttl time.Duration) *HistoryCache {
	if prefix == "" {
		prefix = "crtchat:history:"
	}
	return &HistoryCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *HistoryCache) key(sessionID string) string {
	return c.prefix + sessionID
}

type cachedTurn struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Load returns the cached turns for a session in order. A missing key
// returns (nil, nil); callers treat that as a miss and replay the store.
func (c *HistoryCache) Load(ctx context.Context, sessionID string) ([]session.Turn, error) {
	items, err := c.client.LRange(ctx, c.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history cache load: %w", err)
	}

	turns := make([]session.Turn, 0, len(items))
	for _, item := range items {
		var ct cachedTurn
		if err := json.Unmarshal([]byte(item), &ct); err != nil {
			return nil, fmt.Errorf("history cache decode: %w", err)
		}
		turns = append(turns, session.Turn{
			SessionID: sessionID,
			Seq:       ct.Seq,
			Role:      session.Role(ct.Role),
			Content:   ct.Content,
			Timestamp: ct.Timestamp,
		})
	}
	return turns, nil
}

// Append pushes turns onto the session's list and refreshes the TTL.
func (c *HistoryCache) Append(ctx context.Context, sessionID string, turns ...session.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]interface{}, len(turns))
	for i, t := range turns {
		b, err := json.Marshal(cachedTurn{
			Seq:       t.Seq,
			Role:      string(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("history cache encode: %w", err)
		}
		values[i] = b
	}

	key := c.key(sessionID)
	if err := c.client.RPush(ctx, key, values...).Err(); err != nil {
		return fmt.Errorf("history cache append: %w", err)
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
			return fmt.Errorf("history cache expire: %w", err)
		}
	}
	return nil
}

// Replace overwrites the session's cached history, used after replaying
// the store.
func (c *HistoryCache) Replace(ctx context.Context, sessionID string, turns []session.Turn) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("history cache replace: %w", err)
	}
	return c.Append(ctx, sessionID, turns...)
}

// Close closes the Redis client.
func (c *HistoryCache) Close() error {
	return c.client.Close()
}
