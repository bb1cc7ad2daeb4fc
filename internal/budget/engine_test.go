package budget_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/accountingtest"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/budget"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func intPtr(v int) *int { return &v }

type harness struct {
	*accountingtest.Fixture
	engine *budget.Engine
	period accounting.Period
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := accountingtest.NewFixture(t, accounting.Options{})
	h := &harness{
		Fixture: f,
		engine:  budget.NewEngine(budget.NewMemoryRepository(), f.Registry, f.Ledger, f.Registry, nil, nil),
	}
	h.period = f.OpenPeriod(t, 2026, 2)
	return h
}

func (h *harness) post(t *testing.T, post bool, debitCode, creditCode, amount string, cc *int64) accounting.JournalEntry {
	t.Helper()
	entry, err := h.Ledger.CreateEntry(context.Background(), accounting.CreateEntryInput{
		PeriodID:    h.period.ID,
		Date:        accountingtest.Date(2026, 2, 14),
		Description: "budget test",
		Type:        accounting.EntryTypeOperation,
		CreatedBy:   "tester",
		Post:        post,
		Lines: []accounting.LineInput{
			{AccountCode: debitCode, Debit: dec(amount), Credit: decimal.Zero, CostCenterID: cc},
			{AccountCode: creditCode, Debit: decimal.Zero, Credit: dec(amount)},
		},
	})
	require.NoError(t, err)
	return entry
}

// recompute derives the actual from raw journal lines without the engine.
func recompute(entries []accounting.JournalEntry, periodID int64, codes ...string) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		if entry.Status != accounting.EntryStatusPosted || entry.Type == accounting.EntryTypeClosing || entry.PeriodID != periodID {
			continue
		}
		for _, line := range entry.Lines {
			for _, code := range codes {
				if line.AccountCode == code {
					total = total.Add(line.Debit).Sub(line.Credit)
				}
			}
		}
	}
	return total
}

func TestComparisonOverBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	b, err := h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, Month: intPtr(2), AccountCode: "6311", BudgetedAmount: dec("10000"), CreatedBy: "cfo"})
	require.NoError(t, err)

	h.post(t, true, "6311", "4212", "7000", nil)
	h.post(t, true, "6311", "4212", "5000", nil)
	h.post(t, false, "6311", "4212", "999", nil)
	voided := h.post(t, true, "6311", "4212", "450", nil)
	_, err = h.Ledger.VoidEntry(ctx, accounting.VoidInput{EntryID: voided.ID, ActorID: "cfo", Reason: "duplicate"})
	require.NoError(t, err)
	h.post(t, true, "1212", "7011", "12000", nil)

	_, err = h.Periods.ClosePeriod(ctx, h.period.ID, "controller")
	require.NoError(t, err)

	line, err := h.engine.BudgetLine(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "12000.00", line.ActualAmount.StringFixed(2))
	assert.Equal(t, "-2000.00", line.Variance.StringFixed(2))
	assert.Equal(t, "120.00", line.ExecutionPercent.StringFixed(2))

	raw := recompute(h.Store.Entries(), h.period.ID, "6311")
	independent := raw.Mul(decimal.NewFromInt(100)).DivRound(b.BudgetedAmount, 2)
	assert.True(t, independent.Equal(line.ExecutionPercent), "engine %s raw %s", line.ExecutionPercent, independent)

	report, err := h.engine.Comparison(ctx, budget.ComparisonFilter{Year: 2026, Month: intPtr(2)})
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, "-2000.00", report.TotalVariance.StringFixed(2))
	assert.Equal(t, "120.00", report.ExecutionPercent.StringFixed(2))
}

func TestSummaryBudgetRollsUpDescendants(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, AccountCode: "63", BudgetedAmount: dec("4000"), CreatedBy: "cfo"})
	require.NoError(t, err)
	_, err = h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, AccountCode: "7011", BudgetedAmount: dec("0"), CreatedBy: "cfo"})
	require.NoError(t, err)

	h.post(t, true, "6311", "1041", "1500", nil)
	h.post(t, true, "6361", "1041", "500", nil)
	h.post(t, true, "1212", "7011", "3000", nil)

	report, err := h.engine.Comparison(ctx, budget.ComparisonFilter{Year: 2026})
	require.NoError(t, err)
	require.Len(t, report.Lines, 2)

	services := report.Lines[0]
	assert.Equal(t, "63", services.AccountCode)
	assert.Equal(t, "2000.00", services.ActualAmount.StringFixed(2))
	assert.True(t, services.ActualAmount.Equal(recompute(h.Store.Entries(), h.period.ID, "6311", "6361")))
	assert.Equal(t, "50.00", services.ExecutionPercent.StringFixed(2))

	revenue := report.Lines[1]
	assert.Equal(t, "3000.00", revenue.ActualAmount.StringFixed(2), "credit-normal accounts sum credits")
	assert.True(t, revenue.ExecutionPercent.IsZero(), "nothing budgeted")
}

func TestCostCenterScopedBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	project := int64(31)
	cc, err := h.Registry.CreateCostCenter(ctx, accounting.CreateCostCenterInput{Code: "SW", Name: "Custom software", Type: "UNIT", ProjectID: &project})
	require.NoError(t, err)

	_, err = h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, Month: intPtr(2), AccountCode: "6911", CostCenterID: &cc.ID, BudgetedAmount: dec("800"), CreatedBy: "cfo"})
	require.NoError(t, err)
	_, err = h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, Month: intPtr(2), AccountCode: "6911", ProjectID: &project, BudgetedAmount: dec("800"), CreatedBy: "cfo"})
	require.NoError(t, err)
	missing := int64(999)
	_, err = h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, AccountCode: "6911", CostCenterID: &missing, BudgetedAmount: dec("1"), CreatedBy: "cfo"})
	require.ErrorIs(t, err, shared.ErrValidation)

	h.post(t, true, "6911", "4212", "600", &cc.ID)
	h.post(t, true, "6911", "4212", "900", nil)

	report, err := h.engine.Comparison(ctx, budget.ComparisonFilter{Year: 2026, Month: intPtr(2), CostCenterID: &cc.ID})
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, "600.00", report.Lines[0].ActualAmount.StringFixed(2))
	assert.Equal(t, "75.00", report.Lines[0].ExecutionPercent.StringFixed(2))

	report, err = h.engine.Comparison(ctx, budget.ComparisonFilter{Year: 2026, Month: intPtr(2), ProjectID: &project})
	require.NoError(t, err)
	require.Len(t, report.Lines, 1)
	assert.Equal(t, "600.00", report.Lines[0].ActualAmount.StringFixed(2))
}

func TestBudgetValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, AccountCode: "6311", BudgetedAmount: dec("-1"), CreatedBy: "cfo"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, Month: intPtr(13), AccountCode: "6311", BudgetedAmount: dec("1"), CreatedBy: "cfo"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.engine.CreateBudget(ctx, budget.CreateInput{Year: 2026, AccountCode: "9999", BudgetedAmount: dec("1"), CreatedBy: "cfo"})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = h.engine.Comparison(ctx, budget.ComparisonFilter{Year: 12})
	require.ErrorIs(t, err, shared.ErrValidation)

	assert.True(t, budget.ExecutionPercent(decimal.Zero, dec("50")).IsZero())
	assert.Equal(t, "33.33", budget.ExecutionPercent(dec("300"), dec("100")).StringFixed(2))
}
