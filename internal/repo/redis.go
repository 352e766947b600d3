package repo

import (
	"Go_Drop/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// NewRedis connects to Redis and pings it.
func NewRedis(ctx context.Context, host, port, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}
	log.Info().Str("addr", client.Options().Addr).Msg("init redis success")
	return client, nil
}

// OwnerCache keeps per-owner listings in Redis. A nil cache is a no-op.
type OwnerCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOwnerCache(rdb *redis.Client, ttl time.Duration) *OwnerCache {
	return &OwnerCache{rdb: rdb, ttl: ttl}
}

func ownerKey(ownerID string) string {
	return "objects:owner:" + ownerID
}

// Get returns the cached listing, if any.
func (c *OwnerCache) Get(ctx context.Context, ownerID string) ([]model.ObjectRecord, bool) {
	if c == nil {
		return nil, false
	}
	val, err := c.rdb.Get(ctx, ownerKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("owner", ownerID).Msg("owner cache read failed")
		return nil, false
	}
	records := []model.ObjectRecord{}
	if err := json.Unmarshal(val, &records); err != nil {
		log.Warn().Err(err).Str("owner", ownerID).Msg("owner cache entry corrupt")
		return nil, false
	}
	return records, true
}

func (c *OwnerCache) Set(ctx context.Context, ownerID string, records []model.ObjectRecord) {
	if c == nil || c.ttl <= 0 {
		return
	}
	value, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, ownerKey(ownerID), value, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("owner", ownerID).Msg("owner cache write failed")
	}
}

func (c *OwnerCache) Invalidate(ctx context.Context, ownerID string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, ownerKey(ownerID)).Err(); err != nil {
		log.Warn().Err(err).Str("owner", ownerID).Msg("owner cache invalidate failed")
	}
}

type RedisLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// ErrLockBusy is returned when another holder owns the lock.
var ErrLockBusy = errors.New("lock is busy")

// NewRedisLock creates a Redis lock helper.
func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		rdb: rdb,
		key: key,
		ttl: ttl,
	}
}

// Lock acquires a Redis-based lock.
func (l *RedisLock) Lock(ctx context.Context) error {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockBusy
	}
	l.token = token
	return nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Unlock releases a Redis-based lock.
func (l *RedisLock) Unlock(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	_, err := unlockScript.Run(
		ctx,
		l.rdb,
		[]string{l.key},
		l.token,
	).Result()
	l.token = ""
	return err
}
