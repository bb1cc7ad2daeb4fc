package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// LockMode selects the row lock taken when reading a period inside a transaction.
type LockMode int

const (
	// LockNone reads the period without locking.
	LockNone LockMode = iota
	// LockShare blocks concurrent closes while an entry is written.
	LockShare
	// LockUpdate serialises closes and excludes entry writers.
	LockUpdate
)

// PeriodCloseSource is the source module stamped on closing entries.
const PeriodCloseSource = "PERIOD_CLOSE"

// PeriodManager owns the open/closed lifecycle of accounting periods.
type PeriodManager struct {
	repo RepositoryPort
	fx   effects
}

// NewPeriodManager constructs the period manager.
func NewPeriodManager(repo RepositoryPort, opts Options) *PeriodManager {
	return &PeriodManager{repo: repo, fx: effects{opts: opts.withDefaults()}}
}

// OpenPeriod creates an open period for year/month.
func (m *PeriodManager) OpenPeriod(ctx context.Context, year, month int, actor string) (Period, error) {
	if err := ValidatePeriodKey(year, month); err != nil {
		return Period{}, err
	}
	var period Period
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if existing, err := tx.FindPeriod(ctx, year, month); err == nil {
			return fmt.Errorf("%w: %s", shared.ErrDuplicatePeriod, existing.Code())
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		var err error
		period, err = tx.InsertPeriod(ctx, year, month)
		return err
	})
	m.fx.observe("period.open", err)
	if err != nil {
		return Period{}, err
	}
	m.fx.opts.Logger.Info("period opened", slog.Int64("period_id", period.ID), slog.String("period", period.Code()))
	m.fx.audit(ctx, actor, "period.open", "accounting_period", period.ID, map[string]any{"period": period.Code()})
	return period, nil
}

// RequireOpen fails with ErrPeriodClosed when the period is closed or date falls
// outside its calendar month.
func (m *PeriodManager) RequireOpen(ctx context.Context, periodID int64, date time.Time) error {
	return m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriod(ctx, periodID, LockNone)
		if err != nil {
			return err
		}
		return checkOpen(period, date)
	})
}

// requireOpenTx re-validates the period under a share lock immediately before a write.
func requireOpenTx(ctx context.Context, tx TxRepository, periodID int64, date time.Time) (Period, error) {
	period, err := tx.GetPeriod(ctx, periodID, LockShare)
	if err != nil {
		return Period{}, err
	}
	if err := checkOpen(period, date); err != nil {
		return Period{}, err
	}
	return period, nil
}

func checkOpen(period Period, date time.Time) error {
	if period.Status != PeriodStatusOpen {
		return fmt.Errorf("%w: period %s is %s", shared.ErrPeriodClosed, period.Code(), strings.ToLower(string(period.Status)))
	}
	if !period.Contains(date) {
		return fmt.Errorf("%w: date %s outside period %s", shared.ErrPeriodClosed, date.Format(time.DateOnly), period.Code())
	}
	return nil
}

// GetPeriod loads a period by id.
func (m *PeriodManager) GetPeriod(ctx context.Context, periodID int64) (Period, error) {
	var period Period
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.GetPeriod(ctx, periodID, LockNone)
		return err
	})
	return period, err
}

// PeriodForDate resolves the regular monthly period covering date.
func (m *PeriodManager) PeriodForDate(ctx context.Context, date time.Time) (Period, error) {
	var period Period
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.FindPeriod(ctx, date.Year(), int(date.Month()))
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: no period registered for %s", shared.ErrPeriodClosed, date.Format("2006-01"))
		}
		return err
	})
	return period, err
}

// ListPeriods returns every period, oldest first.
func (m *PeriodManager) ListPeriods(ctx context.Context) ([]Period, error) {
	var periods []Period
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		periods, err = tx.ListPeriods(ctx)
		return err
	})
	return periods, err
}

// TrialBalance aggregates posted movements of a period.
func (m *PeriodManager) TrialBalance(ctx context.Context, periodID int64) (TrialBalance, error) {
	var tb TrialBalance
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetPeriod(ctx, periodID, LockNone); err != nil {
			return err
		}
		rows, err := tx.PeriodTrialBalance(ctx, periodID)
		if err != nil {
			return err
		}
		tb = NewTrialBalance(periodID, rows)
		return nil
	})
	return tb, err
}

// ClosePeriod nets temporary accounts into the result account with one posted
// closing entry, then flips the period to closed. The status change is a
// compare-and-set so only one concurrent close can succeed.
func (m *PeriodManager) ClosePeriod(ctx context.Context, periodID int64, closedBy string) (CloseResult, error) {
	if periodID == 0 {
		return CloseResult{}, shared.Validationf("period required")
	}
	if strings.TrimSpace(closedBy) == "" {
		return CloseResult{}, shared.Validationf("closed_by required")
	}
	var result CloseResult
	err := m.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriod(ctx, periodID, LockUpdate)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusClosed {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyClosed, period.Code())
		}
		rows, err := tx.PeriodTrialBalance(ctx, period.ID)
		if err != nil {
			return err
		}
		tb := NewTrialBalance(period.ID, rows)
		if !shared.Balanced(tb.TotalDebit, tb.TotalCredit, m.fx.opts.Epsilon) {
			return &shared.UnbalancedError{Debit: tb.TotalDebit, Credit: tb.TotalCredit}
		}
		resultAccount, err := resolvePostable(ctx, tx, m.fx.opts.ResultAccountCode, LockShare)
		if err != nil {
			return err
		}
		if resultAccount.Type != AccountTypeEquity {
			return shared.Validationf("result account %s must be equity, got %s", resultAccount.Code, resultAccount.Type)
		}
		lines := ClosingLines(rows, resultAccount)
		debit, credit := decimal.Zero, decimal.Zero
		for _, line := range lines {
			debit = debit.Add(line.Debit)
			credit = credit.Add(line.Credit)
		}
		now := m.fx.opts.Now().UTC()
		_, end := period.Bounds()
		entry, err := insertEntryTx(ctx, tx, period, JournalEntry{
			Date:         end,
			PeriodID:     period.ID,
			Description:  "Closing entry " + period.Code(),
			Type:         EntryTypeClosing,
			Status:       EntryStatusPosted,
			SourceModule: PeriodCloseSource,
			SourceID:     strconv.FormatInt(period.ID, 10),
			CreatedBy:    closedBy,
			ApprovedBy:   closedBy,
			PostedAt:     &now,
			TotalDebit:   debit,
			TotalCredit:  credit,
		}, lines)
		if err != nil {
			return err
		}
		ok, err := tx.MarkPeriodClosed(ctx, period.ID, closedBy, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyClosed, period.Code())
		}
		period.Status = PeriodStatusClosed
		period.ClosedBy = closedBy
		period.ClosedAt = &now
		result = CloseResult{Period: period, ClosingEntry: entry, TrialBalance: tb}
		return nil
	})
	m.fx.observe("period.close", err)
	if err != nil {
		return CloseResult{}, err
	}
	m.fx.opts.Logger.Info("period closed",
		slog.Int64("period_id", result.Period.ID),
		slog.String("period", result.Period.Code()),
		slog.Int64("entry_id", result.ClosingEntry.ID),
		slog.String("entry_number", result.ClosingEntry.Number))
	m.fx.audit(ctx, closedBy, "period.close", "accounting_period", result.Period.ID, map[string]any{
		"closing_entry": result.ClosingEntry.Number,
		"total_debit":   result.TrialBalance.TotalDebit.StringFixed(2),
		"total_credit":  result.TrialBalance.TotalCredit.StringFixed(2),
	})
	event := m.fx.entryEvent(appshared.EventPeriodClosed, result.ClosingEntry, closedBy)
	m.fx.publish(ctx, event)
	m.fx.invalidate(ctx)
	return result, nil
}

// ClosingLines builds the lines that zero every temporary account against the
// result account. Accounts without a net balance are skipped.
func ClosingLines(rows []TrialBalanceRow, result Account) []JournalLine {
	sorted := append([]TrialBalanceRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountCode < sorted[j].AccountCode })
	var lines []JournalLine
	debit, credit := decimal.Zero, decimal.Zero
	for _, row := range sorted {
		if !row.Type.Temporary() || row.AccountID == result.ID {
			continue
		}
		net := shared.Round2(row.Debit.Sub(row.Credit))
		if net.IsZero() {
			continue
		}
		line := JournalLine{AccountID: row.AccountID, AccountCode: row.AccountCode, Debit: decimal.Zero, Credit: decimal.Zero, Description: "Close " + row.AccountName}
		if net.IsPositive() {
			line.Credit = net
			credit = credit.Add(net)
		} else {
			line.Debit = net.Neg()
			debit = debit.Add(line.Debit)
		}
		lines = append(lines, line)
	}
	if diff := debit.Sub(credit); !diff.IsZero() {
		line := JournalLine{AccountID: result.ID, AccountCode: result.Code, Debit: decimal.Zero, Credit: decimal.Zero, Description: "Period result"}
		if diff.IsPositive() {
			line.Credit = diff
		} else {
			line.Debit = diff.Neg()
		}
		lines = append(lines, line)
	}
	for i := range lines {
		lines[i].LineNo = i + 1
	}
	return lines
}
