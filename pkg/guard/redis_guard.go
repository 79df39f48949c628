package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"paper2slides/internal/util"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares pending marks between processes through Redis.
// Each mark carries an owner token and expires after ttl, so a crashed
// holder cannot block a session forever.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	owners map[string]string
}

// NewRedisGuard creates a Redis-backed guard.
func NewRedisGuard(addr, password, prefix string, ttl time.Duration) (*RedisGuard, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("fetch guard redis addr is required")
	}
	if ttl <= 0 {
		return nil, errors.New("fetch guard requires positive ttl")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "paper2slides:fetch"
	}
	return &RedisGuard{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		ttl:    ttl,
		logger: slog.Default(),
		owners: make(map[string]string),
	}, nil
}

// TryAcquire never grants the mark when Redis is unreachable; the error is
// returned so callers can tell an outage from a session that is already pending.
func (g *RedisGuard) TryAcquire(sessionID string) (bool, error) {
	token := util.NewID()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := g.client.SetNX(ctx, g.key(sessionID), token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("fetch guard acquire %s: %w", sessionID, err)
	}
	if !ok {
		return false, nil
	}
	g.mu.Lock()
	g.owners[sessionID] = token
	g.mu.Unlock()
	return true, nil
}

// Release deletes the mark only if this guard still owns it.
func (g *RedisGuard) Release(sessionID string) {
	g.mu.Lock()
	token, ok := g.owners[sessionID]
	delete(g.owners, sessionID)
	g.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, g.client, []string{g.key(sessionID)}, token).Err(); err != nil {
		g.logger.Warn("fetch guard release failed", "session_id", sessionID, "err", err)
	}
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

func (g *RedisGuard) key(sessionID string) string {
	return fmt.Sprintf("%s:%s", g.prefix, sessionID)
}
