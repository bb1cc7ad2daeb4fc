package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/observability"
)

// PeriodSource exposes periods and their trial balances.
type PeriodSource interface {
	ListPeriods(ctx context.Context) ([]accounting.Period, error)
	TrialBalance(ctx context.Context, periodID int64) (accounting.TrialBalance, error)
}

// EntrySource lists journal entries and loads them with lines.
type EntrySource interface {
	ListEntries(ctx context.Context, filter accounting.JournalFilter) ([]accounting.JournalEntry, error)
	GetEntry(ctx context.Context, entryID int64) (accounting.JournalEntry, error)
}

// Violation is one integrity finding.
type Violation struct {
	Check    string `json:"check"`
	PeriodID int64  `json:"period_id"`
	EntryID  int64  `json:"entry_id,omitempty"`
	Detail   string `json:"detail"`
}

// IntegrityReport summarises a scan.
type IntegrityReport struct {
	Periods    int         `json:"periods"`
	Entries    int         `json:"entries"`
	Violations []Violation `json:"violations"`
}

// Integrity checks names.
const (
	CheckEntryBalance   = "entry_balance"
	CheckEntryLines     = "entry_lines"
	CheckTrialBalance   = "trial_balance"
	CheckClosedResidual = "closed_residual"
)

// GLIntegrityJob re-derives ledger totals and reports any drift.
type GLIntegrityJob struct {
	Periods PeriodSource
	Entries EntrySource
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Epsilon decimal.Decimal
}

// NewGLIntegrityJob wires dependencies for the integrity handler.
func NewGLIntegrityJob(periods PeriodSource, entries EntrySource, logger *slog.Logger, metrics *observability.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Periods: periods, Entries: entries, Logger: logger, Metrics: metrics, Epsilon: shared.DefaultEpsilon}
}

// Handle processes TaskGLIntegrity tasks. Violations are logged and counted;
// the task itself only fails when the scan cannot run.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	if _, err := j.Scan(ctx, payload.PeriodID); err != nil {
		j.logger().Error("gl integrity scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}

// Scan checks every posted entry and trial balance of the selected periods.
func (j *GLIntegrityJob) Scan(ctx context.Context, periodID int64) (IntegrityReport, error) {
	periods, err := j.Periods.ListPeriods(ctx)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("list periods: %w", err)
	}
	var report IntegrityReport
	for _, period := range periods {
		if periodID != 0 && period.ID != periodID {
			continue
		}
		report.Periods++
		if err := j.scanPeriod(ctx, period, &report); err != nil {
			return IntegrityReport{}, err
		}
	}
	counts := make(map[string]int)
	for _, v := range report.Violations {
		counts[v.Check]++
		j.logger().Warn("gl integrity violation",
			slog.String("check", v.Check),
			slog.Int64("period_id", v.PeriodID),
			slog.Int64("entry_id", v.EntryID),
			slog.String("detail", v.Detail))
	}
	for check, n := range counts {
		j.Metrics.AddViolations(check, n)
	}
	j.logger().Info("gl integrity scan completed",
		slog.Int("periods", report.Periods),
		slog.Int("entries", report.Entries),
		slog.Int("violations", len(report.Violations)))
	return report, nil
}

func (j *GLIntegrityJob) scanPeriod(ctx context.Context, period accounting.Period, report *IntegrityReport) error {
	filter := accounting.JournalFilter{PeriodID: period.ID, Status: accounting.EntryStatusPosted, Limit: 500}
	for {
		page, err := j.Entries.ListEntries(ctx, filter)
		if err != nil {
			return fmt.Errorf("list entries of period %d: %w", period.ID, err)
		}
		for _, header := range page {
			report.Entries++
			entry, err := j.Entries.GetEntry(ctx, header.ID)
			if err != nil {
				return fmt.Errorf("load entry %d: %w", header.ID, err)
			}
			report.Violations = append(report.Violations, j.checkEntry(entry)...)
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += len(page)
	}

	tb, err := j.Periods.TrialBalance(ctx, period.ID)
	if err != nil {
		return fmt.Errorf("trial balance of period %d: %w", period.ID, err)
	}
	if !shared.Balanced(tb.TotalDebit, tb.TotalCredit, j.epsilon()) {
		report.Violations = append(report.Violations, Violation{
			Check:    CheckTrialBalance,
			PeriodID: period.ID,
			Detail:   fmt.Sprintf("debit %s credit %s", tb.TotalDebit.StringFixed(2), tb.TotalCredit.StringFixed(2)),
		})
	}
	if period.Status == accounting.PeriodStatusClosed {
		for _, row := range tb.Rows {
			if row.Type.Temporary() && !row.Debit.Sub(row.Credit).Round(2).IsZero() {
				report.Violations = append(report.Violations, Violation{
					Check:    CheckClosedResidual,
					PeriodID: period.ID,
					Detail:   fmt.Sprintf("account %s keeps %s after close", row.AccountCode, row.Debit.Sub(row.Credit).StringFixed(2)),
				})
			}
		}
	}
	return nil
}

func (j *GLIntegrityJob) checkEntry(entry accounting.JournalEntry) []Violation {
	var out []Violation
	if !shared.Balanced(entry.TotalDebit, entry.TotalCredit, j.epsilon()) {
		out = append(out, Violation{
			Check:    CheckEntryBalance,
			PeriodID: entry.PeriodID,
			EntryID:  entry.ID,
			Detail:   fmt.Sprintf("%s header debit %s credit %s", entry.Number, entry.TotalDebit.StringFixed(2), entry.TotalCredit.StringFixed(2)),
		})
	}
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range entry.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(entry.TotalDebit) || !credit.Equal(entry.TotalCredit) {
		out = append(out, Violation{
			Check:    CheckEntryLines,
			PeriodID: entry.PeriodID,
			EntryID:  entry.ID,
			Detail:   fmt.Sprintf("%s lines debit %s credit %s differ from header", entry.Number, debit.StringFixed(2), credit.StringFixed(2)),
		})
	}
	return out
}

func (j *GLIntegrityJob) epsilon() decimal.Decimal {
	if j.Epsilon.IsPositive() {
		return j.Epsilon
	}
	return shared.DefaultEpsilon
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
