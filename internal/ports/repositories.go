package ports

import (
	"context"
	"time"

	"nexusradar/internal/domain"
)

// ReportRepository persists report runs, their rows and the transactions
// that were counted.
type ReportRepository interface {
	// CreateRun stores a queued run and its job.
	CreateRun(ctx context.Context, run domain.ReportRun) error
	GetRun(ctx context.Context, runID string) (domain.ReportRun, error)
	SaveResult(ctx context.Context, runID string, report domain.RiskReport, counted []domain.Transaction) error
	CountedTransactions(ctx context.Context, runID string) ([]domain.Transaction, error)
}

// ReportCache remembers the latest completed run for an identical request.
type ReportCache interface {
	Get(ctx context.Context, key string) (runID string, found bool, err error)
	Set(ctx context.Context, key string, runID string, ttl time.Duration) error
}
