package repositories

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/internal/core/domain/audit"
	"github.com/accelfs/license-broker/internal/core/ports"
	"github.com/accelfs/license-broker/internal/infrastructure/db"
)

type fetchLogRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewFetchLogRepository creates the Postgres-backed fetch log.
func NewFetchLogRepository(database *db.Database, logger *logrus.Logger) ports.FetchLogRepository {
	return &fetchLogRepository{
		db:     database,
		logger: logger,
	}
}

// Create inserts one fetch record. Durations are stored as milliseconds.
func (r *fetchLogRepository) Create(ctx context.Context, record *audit.FetchRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	query := `
		INSERT INTO token_fetch_log (
			id, product, version, outcome, status_code, attempts, duration_ms, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := r.db.DB.ExecContext(ctx, query,
		record.ID,
		record.Product,
		record.Version,
		record.Outcome,
		record.StatusCode,
		record.Attempts,
		record.Duration.Milliseconds(),
		record.Timestamp,
	)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"product": record.Product, "outcome": record.Outcome}).WithError(err).Error("db: failed to insert fetch record")
		}
		return err
	}
	return nil
}

// List returns records matching the filter, newest first.
func (r *fetchLogRepository) List(ctx context.Context, filter *audit.FetchRecordFilter) ([]*audit.FetchRecord, error) {
	where, args := buildFetchLogWhere(filter)

	query := `
		SELECT id, product, version, outcome, status_code, attempts, duration_ms, timestamp
		FROM token_fetch_log` + where + `
		ORDER BY timestamp DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT " + strconv.Itoa(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(filter.Offset)
	}

	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch log: %w", err)
	}
	defer rows.Close()

	var records []*audit.FetchRecord
	for rows.Next() {
		var (
			rec        audit.FetchRecord
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &rec.Product, &rec.Version, &rec.Outcome, &rec.StatusCode, &rec.Attempts, &durationMS, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan fetch record: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Count returns the number of records matching the filter.
func (r *fetchLogRepository) Count(ctx context.Context, filter *audit.FetchRecordFilter) (int, error) {
	where, args := buildFetchLogWhere(filter)

	var count int
	if err := r.db.DB.GetContext(ctx, &count, "SELECT COUNT(*) FROM token_fetch_log"+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count fetch records: %w", err)
	}
	return count, nil
}

func buildFetchLogWhere(filter *audit.FetchRecordFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.Product != nil {
		add("product = $%d", *filter.Product)
	}
	if filter.Outcome != nil {
		add("outcome = $%d", *filter.Outcome)
	}
	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
