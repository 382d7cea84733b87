package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/internal/core/domain/audit"
	"github.com/accelfs/license-broker/internal/core/ports"
)

// FetchAuditService exposes the token fetch log for operators.
type FetchAuditService struct {
	repo   ports.FetchLogRepository
	logger *logrus.Logger
}

func NewFetchAuditService(repo ports.FetchLogRepository, logger *logrus.Logger) *FetchAuditService {
	return &FetchAuditService{repo: repo, logger: logger}
}

// GetFetchRecords returns a page of fetch records plus the total count for
// the filter.
func (s *FetchAuditService) GetFetchRecords(ctx context.Context, filter *audit.FetchRecordFilter) ([]*audit.FetchRecord, int, error) {
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}
