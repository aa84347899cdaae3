package nonce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisConsumeScript atomically consumes a nonce.
// KEYS[1] = nonce hash key
// KEYS[2] = pending sorted set (score = expires_at, unix micros)
// KEYS[3] = used counter
// ARGV[1] = token
// ARGV[2] = current unix time (micros)
// Returns 1 consumed, 0 not found, 2 expired.
var redisConsumeScript = redis.NewScript(`
local key = KEYS[1]
local pending = KEYS[2]
local used = KEYS[3]
local token = ARGV[1]
local now = tonumber(ARGV[2])

local state = redis.call("HMGET", key, "state", "expires_at")
if state[1] ~= "pending" then
    return 0
end

redis.call("ZREM", pending, token)
if now > tonumber(state[2]) then
    redis.call("HSET", key, "state", "expired")
    return 2
end

redis.call("HSET", key, "state", "used")
redis.call("INCR", used)
return 1
`)

// RedisManager shares nonce state across processes through Redis.
// Nonce keys live for TTL plus the retention window; after that any
// presentation reports ErrNotFound.
type RedisManager struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	retention time.Duration
	clock     func() time.Time
}

// NewRedisManager creates a manager backed by the Redis server at addr.
func NewRedisManager(addr, password string, db int, ttl time.Duration) *RedisManager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisManagerWithClient(rdb, ttl)
}

// NewRedisManagerWithClient wraps an existing client.
func NewRedisManagerWithClient(client *redis.Client, ttl time.Duration) *RedisManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisManager{
		client:    client,
		prefix:    "nyaya:nonce:",
		ttl:       ttl,
		retention: ttl,
		clock:     time.Now,
	}
}

// WithPrefix namespaces all keys (used by tests to isolate runs).
func (m *RedisManager) WithPrefix(prefix string) *RedisManager {
	m.prefix = prefix
	return m
}

// WithClock overrides the time source.
func (m *RedisManager) WithClock(clock func() time.Time) *RedisManager {
	m.clock = clock
	return m
}

// Ping checks connectivity.
func (m *RedisManager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (m *RedisManager) Close() error {
	return m.client.Close()
}

func (m *RedisManager) tokenKey(token string) string { return m.prefix + "t:" + token }
func (m *RedisManager) pendingKey() string           { return m.prefix + "pending" }
func (m *RedisManager) usedKey() string              { return m.prefix + "used" }

func (m *RedisManager) Issue(ctx context.Context) (Nonce, error) {
	token, err := newToken()
	if err != nil {
		return Nonce{}, fmt.Errorf("nonce: generate token: %w", err)
	}

	now := m.clock().UTC()
	expires := now.Add(m.ttl)
	key := m.tokenKey(token)

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"state", string(StatePending),
			"issued_at", now.UnixMicro(),
			"expires_at", expires.UnixMicro(),
		)
		pipe.PExpire(ctx, key, m.ttl+m.retention)
		pipe.ZAdd(ctx, m.pendingKey(), redis.Z{Score: float64(expires.UnixMicro()), Member: token})
		// prune set members whose hash keys have already been evicted
		pipe.ZRemRangeByScore(ctx, m.pendingKey(), "-inf", "("+strconv.FormatInt(now.Add(-m.retention).UnixMicro(), 10))
		return nil
	})
	if err != nil {
		return Nonce{}, fmt.Errorf("redis nonce issue: %w", err)
	}

	return Nonce{Value: token, IssuedAt: now, ExpiresAt: expires, State: StatePending}, nil
}

func (m *RedisManager) Consume(ctx context.Context, token string) error {
	keys := []string{m.tokenKey(token), m.pendingKey(), m.usedKey()}
	res, err := redisConsumeScript.Run(ctx, m.client, keys, token, m.clock().UnixMicro()).Int64()
	if err != nil {
		return fmt.Errorf("redis nonce consume: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 2:
		return ErrExpired
	default:
		return ErrNotFound
	}
}

func (m *RedisManager) Inspect(ctx context.Context) (Stats, error) {
	now := strconv.FormatInt(m.clock().UnixMicro(), 10)

	pipe := m.client.Pipeline()
	pendingCmd := pipe.ZCount(ctx, m.pendingKey(), now, "+inf")
	usedCmd := pipe.Get(ctx, m.usedKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("redis nonce inspect: %w", err)
	}

	used, err := usedCmd.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("redis nonce inspect: %w", err)
	}
	return Stats{Pending: int(pendingCmd.Val()), Used: used}, nil
}
