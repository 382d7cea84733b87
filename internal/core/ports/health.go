package ports

import "context"

// HealthChecker probes one of the broker's dependencies: the audit database,
// the redis token store, or the platform endpoint. Check returns an error
// when the dependency cannot serve.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}
