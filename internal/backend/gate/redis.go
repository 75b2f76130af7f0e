package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL       = 30 * time.Second
	defaultKeyPrefix = "gallerystore:gate:"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired holder cannot release a gate that was taken over by someone else.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGate shares the gate between server replicas. The TTL bounds how long
// a crashed holder can keep a parent locked.
type RedisGate struct {
	rdb       goredis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	owned     bool
}

// NewRedisGate connects to addr and verifies the connection.
func NewRedisGate(addr string, ttl time.Duration, keyPrefix string) (*RedisGate, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	g := NewRedisGateFromClient(rdb, ttl, keyPrefix)
	g.owned = true
	return g, nil
}

// NewRedisGateFromClient wraps an existing client; Close leaves it open.
func NewRedisGateFromClient(rdb goredis.UniversalClient, ttl time.Duration, keyPrefix string) *RedisGate {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisGate{rdb: rdb, ttl: ttl, keyPrefix: keyPrefix}
}

func (g *RedisGate) key(parentID int64) string {
	return g.keyPrefix + strconv.FormatInt(parentID, 10)
}

func (g *RedisGate) TryAcquire(ctx context.Context, parentID int64) (Release, error) {
	key := g.key(parentID)
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis gate acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, g.rdb, []string{key}, token).Err(); err != nil {
				slog.Warn("failed to release redis gate", "key", key, "error", err)
			}
		})
	}, nil
}

func (g *RedisGate) Close() error {
	if g.owned && g.rdb != nil {
		return g.rdb.Close()
	}
	return nil
}
