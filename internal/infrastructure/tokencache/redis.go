package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/configs"
	"github.com/accelfs/license-broker/internal/core/domain/license"
)

// Redis is the shared token store used as the second cache level when
// several broker replicas should reuse each other's tokens.
type Redis struct {
	client redis.Cmdable
	closer func() error
	prefix string
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(cfg configs.RedisConfig, prefix string, ttl time.Duration, logger *logrus.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client, closer: client.Close, prefix: prefix, ttl: ttl, logger: logger}, nil
}

// NewRedisWithClient wraps an existing client; used by tests.
func NewRedisWithClient(client redis.Cmdable, prefix string, ttl time.Duration, logger *logrus.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *Redis) key(cacheKey string) string {
	return r.prefix + ":" + cacheKey
}

// Get returns the stored token for key, ok=false on miss. Read failures are
// reported as misses so the caller can fall through to the platform.
func (r *Redis) Get(ctx context.Context, cacheKey string) (*license.TokenResponse, bool) {
	data, err := r.client.Get(ctx, r.key(cacheKey)).Bytes()
	if err == redis.Nil {
		cacheReadsTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if err != nil {
		if r.logger != nil {
			r.logger.WithField("key", cacheKey).WithError(err).Warn("redis token read failed")
		}
		cacheReadsTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	var token license.TokenResponse
	if err := json.Unmarshal(data, &token); err != nil {
		if r.logger != nil {
			r.logger.WithField("key", cacheKey).WithError(err).Warn("discarding undecodable redis token entry")
		}
		_ = r.client.Del(ctx, r.key(cacheKey)).Err()
		cacheReadsTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	cacheReadsTotal.WithLabelValues("redis", "hit").Inc()
	return &token, true
}

// Set stores the token with a TTL clamped to the issuer expiry, so redis can
// never resurrect a token past its validity window. Already-expired tokens
// are not stored at all.
func (r *Redis) Set(ctx context.Context, cacheKey string, token *license.TokenResponse) error {
	untilExpiry := time.Until(token.EffectiveExpiry())
	if untilExpiry <= 0 {
		return nil
	}
	ttl := r.ttl
	if untilExpiry < ttl {
		ttl = untilExpiry
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token for redis: %w", err)
	}
	if err := r.client.Set(ctx, r.key(cacheKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in redis: %w", err)
	}
	return nil
}

// Delete removes the entry; absence is not an error.
func (r *Redis) Delete(ctx context.Context, cacheKey string) error {
	return r.client.Del(ctx, r.key(cacheKey)).Err()
}

// Ping probes the connection for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool when this instance owns it.
func (r *Redis) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
