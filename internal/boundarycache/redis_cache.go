// Package boundarycache keeps each matter's first/last transition timestamps
// in Redis so detail reads can skip the history aggregate.
package boundarycache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rpattn/matters/internal/domain"
)

// DefaultTTL bounds how long an entry survives without a write.
const DefaultTTL = 24 * time.Hour

// Cache stores phase boundaries by matter id. Transition history only
// grows, so Set never replaces an entry whose Last is later than the new one.
type Cache interface {
	Get(ctx context.Context, matterID uuid.UUID) (domain.PhaseBoundaries, bool, error)
	Set(ctx context.Context, matterID uuid.UUID, boundaries domain.PhaseBoundaries) error
	Delete(ctx context.Context, matterID uuid.UUID) error
	Close() error
}

// Entries are hashes of the JSON payload and Last in unix milliseconds
// (-1 when unset). The script compares and writes atomically.
var setScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'last_ms')
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'payload', ARGV[1], 'last_ms', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisCache implements Cache using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and checks it is reachable.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse redis url")
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis")
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: client,
		prefix: "matter:boundaries:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(matterID uuid.UUID) string {
	return c.prefix + matterID.String()
}

// Get returns the cached boundaries. A miss is not an error.
func (c *RedisCache) Get(ctx context.Context, matterID uuid.UUID) (domain.PhaseBoundaries, bool, error) {
	payload, err := c.client.HGet(ctx, c.key(matterID), "payload").Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PhaseBoundaries{}, false, nil
	}
	if err != nil {
		return domain.PhaseBoundaries{}, false, goerr.Wrap(err, "failed to read boundaries", goerr.V("matter_id", matterID))
	}

	var boundaries domain.PhaseBoundaries
	if err := json.Unmarshal(payload, &boundaries); err != nil {
		return domain.PhaseBoundaries{}, false, goerr.Wrap(err, "failed to decode boundaries", goerr.V("matter_id", matterID))
	}
	return boundaries, true, nil
}

// Set stores boundaries unless the cached entry is newer. A skipped write
// is not an error.
func (c *RedisCache) Set(ctx context.Context, matterID uuid.UUID, boundaries domain.PhaseBoundaries) error {
	payload, err := json.Marshal(boundaries)
	if err != nil {
		return goerr.Wrap(err, "failed to encode boundaries", goerr.V("matter_id", matterID))
	}

	lastMs := int64(-1)
	if boundaries.Last != nil {
		lastMs = boundaries.Last.UnixMilli()
	}

	keys := []string{c.key(matterID)}
	if err := setScript.Run(ctx, c.client, keys, payload, lastMs, c.ttl.Milliseconds()).Err(); err != nil {
		return goerr.Wrap(err, "failed to write boundaries", goerr.V("matter_id", matterID))
	}
	return nil
}

// Delete evicts the entry for matterID. Deleting a missing entry succeeds.
func (c *RedisCache) Delete(ctx context.Context, matterID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(matterID)).Err(); err != nil {
		return goerr.Wrap(err, "failed to delete boundaries", goerr.V("matter_id", matterID))
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Noop is used when no Redis URL is configured. Every read misses.
type Noop struct{}

func (Noop) Get(context.Context, uuid.UUID) (domain.PhaseBoundaries, bool, error) {
	return domain.PhaseBoundaries{}, false, nil
}

func (Noop) Set(context.Context, uuid.UUID, domain.PhaseBoundaries) error { return nil }

func (Noop) Delete(context.Context, uuid.UUID) error { return nil }

func (Noop) Close() error { return nil }
