package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger/internal/accounting"
)

// PeriodSource loads periods and their trial balances.
type PeriodSource interface {
	GetPeriod(ctx context.Context, periodID int64) (accounting.Period, error)
	TrialBalance(ctx context.Context, periodID int64) (accounting.TrialBalance, error)
}

// EntrySource lists journal entries and loads them with lines.
type EntrySource interface {
	ListEntries(ctx context.Context, filter accounting.JournalFilter) ([]accounting.JournalEntry, error)
	GetEntry(ctx context.Context, entryID int64) (accounting.JournalEntry, error)
}

// Cache stores rendered statements between ledger changes.
type Cache interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Statements bundles the financial statements of one period.
type Statements struct {
	Period        accounting.Period `json:"period"`
	Closed        bool              `json:"closed"`
	TrialBalance  TrialBalance      `json:"trial_balance"`
	ProfitAndLoss ProfitAndLoss     `json:"profit_and_loss"`
	BalanceSheet  BalanceSheet      `json:"balance_sheet"`
}

// Service builds financial statements from posted movements.
type Service struct {
	periods PeriodSource
	entries EntrySource
	cache   Cache
	logger  *slog.Logger
}

// NewService constructs a statements service. cache may be nil.
func NewService(periods PeriodSource, entries EntrySource, cache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{periods: periods, entries: entries, cache: cache, logger: logger}
}

// Statements returns the grouped trial balance, profit and loss, and balance
// sheet of a period. The profit and loss excludes the closing entry so a
// closed period still reports its result.
func (s *Service) Statements(ctx context.Context, periodID int64) (Statements, error) {
	period, err := s.periods.GetPeriod(ctx, periodID)
	if err != nil {
		return Statements{}, err
	}
	if s.cache == nil {
		return s.build(ctx, period)
	}
	key, err := s.cache.Key(ctx, "statements", strconv.FormatInt(period.ID, 10), string(period.Status))
	if err != nil {
		s.logger.Warn("statements cache key failed", slog.Any("error", err))
		return s.build(ctx, period)
	}
	var out Statements
	loader := func(ctx context.Context) (any, error) {
		return s.build(ctx, period)
	}
	if err := s.cache.FetchJSON(ctx, key, &out, loader); err != nil {
		return Statements{}, err
	}
	return out, nil
}

func (s *Service) build(ctx context.Context, period accounting.Period) (Statements, error) {
	var (
		tb      accounting.TrialBalance
		closing []accounting.JournalLine
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tb, err = s.periods.TrialBalance(gctx, period.ID)
		return err
	})
	g.Go(func() error {
		var err error
		closing, err = s.closingLines(gctx, period.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Statements{}, err
	}

	balances := BalancesFrom(tb.Rows)
	preClose := withoutLines(balances, closing)
	pl := BuildProfitAndLoss(preClose)

	return Statements{
		Period:        period,
		Closed:        period.Status == accounting.PeriodStatusClosed,
		TrialBalance:  BuildTrialBalance(balances),
		ProfitAndLoss: pl,
		BalanceSheet:  BuildBalanceSheet(balances, BuildProfitAndLoss(balances).NetIncome),
	}, nil
}

func (s *Service) closingLines(ctx context.Context, periodID int64) ([]accounting.JournalLine, error) {
	headers, err := s.entries.ListEntries(ctx, accounting.JournalFilter{
		PeriodID: periodID,
		Type:     accounting.EntryTypeClosing,
		Status:   accounting.EntryStatusPosted,
	})
	if err != nil {
		return nil, fmt.Errorf("list closing entries: %w", err)
	}
	var lines []accounting.JournalLine
	for _, header := range headers {
		entry, err := s.entries.GetEntry(ctx, header.ID)
		if err != nil {
			return nil, fmt.Errorf("load closing entry %d: %w", header.ID, err)
		}
		lines = append(lines, entry.Lines...)
	}
	return lines, nil
}

// withoutLines removes the movements of lines from balances.
func withoutLines(balances []AccountBalance, lines []accounting.JournalLine) []AccountBalance {
	if len(lines) == 0 {
		return balances
	}
	debit := make(map[string]decimal.Decimal)
	credit := make(map[string]decimal.Decimal)
	for _, line := range lines {
		debit[line.AccountCode] = debit[line.AccountCode].Add(line.Debit)
		credit[line.AccountCode] = credit[line.AccountCode].Add(line.Credit)
	}
	out := make([]AccountBalance, len(balances))
	for i, acc := range balances {
		acc.Debit = acc.Debit.Sub(debit[acc.Code])
		acc.Credit = acc.Credit.Sub(credit[acc.Code])
		out[i] = acc
	}
	return out
}
