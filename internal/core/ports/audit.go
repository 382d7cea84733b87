package ports

import (
	"context"

	"github.com/accelfs/license-broker/internal/core/domain/audit"
)

// FetchLogRepository persists the audit trail of platform token fetches.
type FetchLogRepository interface {
	Create(ctx context.Context, record *audit.FetchRecord) error
	List(ctx context.Context, filter *audit.FetchRecordFilter) ([]*audit.FetchRecord, error)
	Count(ctx context.Context, filter *audit.FetchRecordFilter) (int, error)
}
