package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix  = "tourbook:session:"
	throttlePrefix = "tourbook:throttle:"
)

var errNoRedis = errors.New("redis is not configured")

// NewRedisClient returns nil when no address is configured.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Address == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisSessionRepository shares sessions and login throttling between API
// instances. Keys expire together with the session they hold.
type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{client: client, ttl: ttl}
}

func (r *RedisSessionRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if r.client == nil {
		return nil, errNoRedis
	}
	raw, err := r.client.Get(ctx, sessionPrefix+id).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if session.Expired(time.Now()) {
		return nil, nil
	}
	return &session, nil
}

// SaveSession stores session until its ExpiresAt, or for the repository TTL
// when it has none. An already expired session is not stored.
func (r *RedisSessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	if r.client == nil {
		return errNoRedis
	}

	ttl := r.ttl
	if !session.ExpiresAt.IsZero() {
		if ttl = time.Until(session.ExpiresAt); ttl <= 0 {
			return nil
		}
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionPrefix+session.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) DeleteSession(ctx context.Context, id string) error {
	if r.client == nil {
		return errNoRedis
	}
	if err := r.client.Del(ctx, sessionPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CheckRateLimit counts an attempt in a fixed window. The counter and its
// remaining lifetime are read in one round trip; a counter left without an
// expiry (a crash between INCR and PEXPIRE) gets a fresh window.
func (r *RedisSessionRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNoRedis
	}
	redisKey := throttlePrefix + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("count attempt: %w", err)
	}

	if ttl.Val() < 0 {
		if err := r.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return false, fmt.Errorf("start throttle window: %w", err)
		}
	}
	return incr.Val() <= int64(limit), nil
}
