package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
// Keep it config-driven; defaults should be safe and conservative.
type RedisConfig struct {
	Addr string

	// Basic timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pool tuning
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 20
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var mutexReleaseScript = redis.NewScript(`
-- KEYS[1] = mutex key
-- ARGV[1] = owner token
-- Delete only if we still own the mutex.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisMutex is a TTL-backed mutual exclusion primitive, used to keep
// periodic work single-flight across process replicas.
//
// Safety properties:
// - Atomic acquire via SET NX PX.
// - TTL prevents a crashed holder from wedging the mutex.
// - Release is owner-checked via Lua, so an expired holder cannot free a
//   mutex someone else has since acquired.
type RedisMutex struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	token string
}

func NewRedisMutex(rdb *redis.Client, key string, ttl time.Duration) *RedisMutex {
	return &RedisMutex{rdb: rdb, key: key, ttl: ttl}
}

// Acquire attempts to take the mutex. A false return means another holder
// owns it.
func (m *RedisMutex) Acquire(ctx context.Context) (bool, error) {
	if m.rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if m.key == "" {
		return false, fmt.Errorf("key is required")
	}
	if m.ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, m.key, token, m.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		m.token = token
	}
	return ok, nil
}

// Release frees the mutex if this instance still owns it.
func (m *RedisMutex) Release(ctx context.Context) error {
	if m.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}
	if m.token == "" {
		return nil
	}
	_, err := mutexReleaseScript.Run(ctx, m.rdb, []string{m.key}, m.token).Result()
	m.token = ""
	return err
}
