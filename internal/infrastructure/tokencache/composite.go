package tokencache

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/internal/core/domain/license"
	"github.com/accelfs/license-broker/internal/core/ports"
)

// Composite layers the in-process cache over the shared redis store. Reads
// try memory, then redis, then the platform; only the platform leg counts as
// a fetch for the orchestrator's bounded-refresh accounting. The memory
// layer's single-flight guarantee covers the combined redis+platform load.
type Composite struct {
	memory *Memory
	redis  *Redis
	logger *logrus.Logger
}

// NewComposite builds the two-level cache.
func NewComposite(memory *Memory, redis *Redis, logger *logrus.Logger) *Composite {
	return &Composite{memory: memory, redis: redis, logger: logger}
}

// GetOrFetch implements ports.TokenCache.
func (c *Composite) GetOrFetch(ctx context.Context, key string, fetch ports.TokenFetchFunc) (*license.TokenResponse, bool, error) {
	return c.memory.getOrLoad(ctx, key, func(ctx context.Context) (*license.TokenResponse, bool, error) {
		if token, ok := c.redis.Get(ctx, key); ok {
			return token, false, nil
		}
		token, err := fetch(ctx)
		if err != nil {
			return nil, false, err
		}
		if err := c.redis.Set(ctx, key, token); err != nil && c.logger != nil {
			// redis going away must not fail the fetch
			c.logger.WithField("key", key).WithError(err).Warn("failed to share token via redis")
		}
		return token, true, nil
	})
}

// Invalidate implements ports.TokenCache; both layers are purged so a stale
// token cannot be re-adopted from redis.
func (c *Composite) Invalidate(ctx context.Context, key string) error {
	if err := c.memory.Invalidate(ctx, key); err != nil {
		return err
	}
	if err := c.redis.Delete(ctx, key); err != nil && c.logger != nil {
		c.logger.WithField("key", key).WithError(err).Warn("failed to purge token from redis")
	}
	return nil
}
