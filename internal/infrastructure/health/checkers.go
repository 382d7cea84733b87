package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/accelfs/license-broker/internal/core/ports"
	infraDB "github.com/accelfs/license-broker/internal/infrastructure/db"
	"github.com/accelfs/license-broker/internal/infrastructure/tokencache"
)

// dbHealthChecker wraps the audit database for health checks.
type dbHealthChecker struct{ db *infraDB.Database }

func (d *dbHealthChecker) Name() string                    { return "audit_db" }
func (d *dbHealthChecker) Check(ctx context.Context) error { return d.db.DB.PingContext(ctx) }

// redisHealthChecker wraps the shared token store for health checks.
type redisHealthChecker struct{ cache *tokencache.Redis }

func (r *redisHealthChecker) Name() string                    { return "redis" }
func (r *redisHealthChecker) Check(ctx context.Context) error { return r.cache.Ping(ctx) }

// platformHealthChecker probes TCP reachability of the licensing endpoint.
// It deliberately avoids hitting the token route, which would burn the
// caller's rate budget on every probe.
type platformHealthChecker struct{ endpoint string }

func (p *platformHealthChecker) Name() string { return "platform" }

func (p *platformHealthChecker) Check(ctx context.Context) error {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return fmt.Errorf("invalid platform endpoint: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return err
	}
	return conn.Close()
}

// NewDBHealthChecker creates a health checker for the audit database.
func NewDBHealthChecker(db *infraDB.Database) ports.HealthChecker { return &dbHealthChecker{db: db} }

// NewRedisHealthChecker creates a health checker for the redis token store.
func NewRedisHealthChecker(cache *tokencache.Redis) ports.HealthChecker {
	return &redisHealthChecker{cache: cache}
}

// NewPlatformHealthChecker creates a reachability checker for the licensing
// endpoint.
func NewPlatformHealthChecker(endpoint string) ports.HealthChecker {
	return &platformHealthChecker{endpoint: endpoint}
}
