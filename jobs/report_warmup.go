package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/ledger/internal/budget"
	"github.com/odyssey-erp/ledger/internal/observability"
	"github.com/odyssey-erp/ledger/internal/subledger"
)

// AgingSource builds the receivable/payable aging report.
type AgingSource interface {
	AgingReport(ctx context.Context, asOf time.Time) (subledger.AgingReport, error)
}

// ComparisonSource builds budget versus actual comparisons.
type ComparisonSource interface {
	Comparison(ctx context.Context, filter budget.ComparisonFilter) (budget.Comparison, error)
}

// ReportWarmupJob fills the report cache ahead of the first reader.
type ReportWarmupJob struct {
	Aging   AgingSource
	Budgets ComparisonSource
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(aging AgingSource, budgets ComparisonSource, logger *slog.Logger, metrics *observability.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{Aging: aging, Budgets: budgets, Logger: logger, Metrics: metrics, Now: time.Now}
}

// Handle processes TaskReportWarmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload ReportWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskReportWarmup)
	return tracker.End(j.Warm(ctx, payload.Year))
}

// Warm computes today's aging report and the budget comparison of year,
// both for the whole year and for every month elapsed so far.
func (j *ReportWarmupJob) Warm(ctx context.Context, year int) error {
	now := j.now().UTC()
	asOf := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if year == 0 {
		year = now.Year()
	}
	if j.Aging != nil {
		if _, err := j.Aging.AgingReport(ctx, asOf); err != nil {
			return fmt.Errorf("warm aging: %w", err)
		}
	}
	warmed := 0
	if j.Budgets != nil {
		if _, err := j.Budgets.Comparison(ctx, budget.ComparisonFilter{Year: year}); err != nil {
			return fmt.Errorf("warm comparison %d: %w", year, err)
		}
		warmed++
		last := 12
		if year == now.Year() {
			last = int(now.Month())
		} else if year > now.Year() {
			last = 0
		}
		for month := 1; month <= last; month++ {
			m := month
			if _, err := j.Budgets.Comparison(ctx, budget.ComparisonFilter{Year: year, Month: &m}); err != nil {
				return fmt.Errorf("warm comparison %d-%02d: %w", year, month, err)
			}
			warmed++
		}
	}
	j.logger().Info("report cache warmed",
		slog.Time("as_of", asOf),
		slog.Int("year", year),
		slog.Int("comparisons", warmed))
	return nil
}

func (j *ReportWarmupJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
