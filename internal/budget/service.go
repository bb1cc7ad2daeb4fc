package budget

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Repository persists budget declarations.
type Repository interface {
	InsertBudget(ctx context.Context, b Budget) (Budget, error)
	GetBudget(ctx context.Context, id int64) (Budget, error)
	// ListBudgets returns budgets of year. A nil month returns every budget of the year.
	ListBudgets(ctx context.Context, year int, month *int) ([]Budget, error)
}

// ChartReader resolves accounts and their descendants.
type ChartReader interface {
	GetAccount(ctx context.Context, code string) (accounting.Account, error)
	Subtree(ctx context.Context, code string) (iter.Seq[accounting.Account], error)
}

// MovementReader aggregates posted journal lines.
type MovementReader interface {
	Movements(ctx context.Context, filter accounting.MovementFilter) (accounting.Movement, error)
}

// CostCenterReader validates cost center references.
type CostCenterReader interface {
	ListCostCenters(ctx context.Context) ([]accounting.CostCenter, error)
}

// ReportCache caches comparisons between ledger changes.
type ReportCache interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Engine computes budget execution from the journal.
type Engine struct {
	repo      Repository
	chart     ChartReader
	movements MovementReader
	centers   CostCenterReader
	cache     ReportCache
	logger    *slog.Logger
}

// NewEngine constructs the engine. cache may be nil.
func NewEngine(repo Repository, chart ChartReader, movements MovementReader, centers CostCenterReader, cache ReportCache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{repo: repo, chart: chart, movements: movements, centers: centers, cache: cache, logger: logger}
}

// CreateBudget declares a budget for an account.
func (e *Engine) CreateBudget(ctx context.Context, in CreateInput) (Budget, error) {
	if err := in.Validate(); err != nil {
		return Budget{}, err
	}
	account, err := e.chart.GetAccount(ctx, in.AccountCode)
	if err != nil {
		return Budget{}, err
	}
	if in.CostCenterID != nil && e.centers != nil {
		if err := e.requireCostCenter(ctx, *in.CostCenterID); err != nil {
			return Budget{}, err
		}
	}
	typ := in.Type
	if typ == "" {
		typ = "OPERATING"
	}
	b, err := e.repo.InsertBudget(ctx, Budget{
		Year:           in.Year,
		Month:          in.Month,
		Type:           typ,
		CostCenterID:   in.CostCenterID,
		ProjectID:      in.ProjectID,
		AccountID:      account.ID,
		AccountCode:    account.Code,
		BudgetedAmount: shared.Round2(in.BudgetedAmount),
		CreatedBy:      in.CreatedBy,
	})
	if err != nil {
		return Budget{}, err
	}
	e.logger.Info("budget created", slog.Int64("budget_id", b.ID), slog.String("account", b.AccountCode), slog.Int("year", b.Year))
	return b, nil
}

func (e *Engine) requireCostCenter(ctx context.Context, id int64) error {
	centers, err := e.centers.ListCostCenters(ctx)
	if err != nil {
		return err
	}
	for _, cc := range centers {
		if cc.ID == id {
			return nil
		}
	}
	return shared.Validationf("unknown cost center %d", id)
}

// Actual returns the actual amount of b signed by the account's nature, with
// variance and execution percent.
func (e *Engine) Actual(ctx context.Context, b Budget) (Line, error) {
	account, err := e.chart.GetAccount(ctx, b.AccountCode)
	if err != nil {
		return Line{}, err
	}
	ids := []int64{account.ID}
	descendants, err := e.chart.Subtree(ctx, account.Code)
	if err != nil {
		return Line{}, err
	}
	for child := range descendants {
		ids = append(ids, child.ID)
	}
	filter := accounting.MovementFilter{
		AccountIDs:     ids,
		Year:           b.Year,
		CostCenterID:   b.CostCenterID,
		ProjectID:      b.ProjectID,
		ExcludeClosing: true,
	}
	if b.Month != nil {
		filter.Month = *b.Month
	}
	movement, err := e.movements.Movements(ctx, filter)
	if err != nil {
		return Line{}, err
	}
	actual := shared.Round2(account.Nature.Signed(movement.Debit, movement.Credit))
	return Line{
		Budget:           b,
		AccountName:      account.Name,
		Nature:           account.Nature,
		ActualAmount:     actual,
		Variance:         Variance(b.BudgetedAmount, actual),
		ExecutionPercent: ExecutionPercent(b.BudgetedAmount, actual),
		Movement:         movement,
	}, nil
}

// BudgetLine loads one budget with its derived fields.
func (e *Engine) BudgetLine(ctx context.Context, id int64) (Line, error) {
	b, err := e.repo.GetBudget(ctx, id)
	if err != nil {
		return Line{}, err
	}
	return e.Actual(ctx, b)
}

// Comparison reports every budget of the scope against its actual.
func (e *Engine) Comparison(ctx context.Context, filter ComparisonFilter) (Comparison, error) {
	if filter.Year < 1900 || filter.Year > 9999 {
		return Comparison{}, shared.Validationf("year %d out of range", filter.Year)
	}
	if filter.Month != nil && (*filter.Month < 1 || *filter.Month > 12) {
		return Comparison{}, shared.Validationf("month %d out of range", *filter.Month)
	}
	if e.cache == nil {
		return e.buildComparison(ctx, filter)
	}
	key, err := e.cache.Key(ctx, "budget", cacheToken(filter))
	if err != nil {
		e.logger.Warn("budget cache key failed", slog.Any("error", err))
		return e.buildComparison(ctx, filter)
	}
	var out Comparison
	err = e.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return e.buildComparison(ctx, filter)
	})
	return out, err
}

func (e *Engine) buildComparison(ctx context.Context, filter ComparisonFilter) (Comparison, error) {
	budgets, err := e.repo.ListBudgets(ctx, filter.Year, filter.Month)
	if err != nil {
		return Comparison{}, err
	}
	out := Comparison{Year: filter.Year, Month: filter.Month, Lines: []Line{}, TotalBudgeted: decimal.Zero, TotalActual: decimal.Zero}
	for _, b := range budgets {
		if filter.CostCenterID != nil && (b.CostCenterID == nil || *b.CostCenterID != *filter.CostCenterID) {
			continue
		}
		if filter.ProjectID != nil && (b.ProjectID == nil || *b.ProjectID != *filter.ProjectID) {
			continue
		}
		line, err := e.Actual(ctx, b)
		if err != nil {
			return Comparison{}, fmt.Errorf("budget %d: %w", b.ID, err)
		}
		out.Lines = append(out.Lines, line)
		out.TotalBudgeted = out.TotalBudgeted.Add(line.BudgetedAmount)
		out.TotalActual = out.TotalActual.Add(line.ActualAmount)
	}
	out.TotalVariance = Variance(out.TotalBudgeted, out.TotalActual)
	out.ExecutionPercent = ExecutionPercent(out.TotalBudgeted, out.TotalActual)
	return out, nil
}

func cacheToken(f ComparisonFilter) string {
	token := strconv.Itoa(f.Year)
	if f.Month != nil {
		token += "-" + strconv.Itoa(*f.Month)
	}
	if f.CostCenterID != nil {
		token += ":cc" + strconv.FormatInt(*f.CostCenterID, 10)
	}
	if f.ProjectID != nil {
		token += ":p" + strconv.FormatInt(*f.ProjectID, 10)
	}
	return token
}
