package accounting_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/accountingtest"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

func TestRegistryLeafUnderSummary(t *testing.T) {
	ctx := context.Background()
	store := accountingtest.NewStore()
	reg := accounting.NewRegistry(store, accounting.Options{})

	parent, err := reg.CreateAccount(ctx, accounting.CreateAccountInput{
		Code: "70", Name: "Revenue", Type: accounting.AccountTypeIncome, Nature: accounting.NatureCredit,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, parent.Level)

	leaf, err := reg.CreateAccount(ctx, accounting.CreateAccountInput{
		Code: "7011", Name: "One-time services", Type: accounting.AccountTypeIncome, Nature: accounting.NatureCredit,
		ParentCode: "70", AcceptsMovements: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, leaf.Level)
	assert.Equal(t, "70", leaf.ParentCode)

	_, err = reg.ResolvePostable(ctx, "70")
	require.ErrorIs(t, err, shared.ErrAccountNotPostable)

	resolved, err := reg.ResolvePostable(ctx, "7011")
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, resolved.ID)
}

func TestRegistryRejectsBadHierarchy(t *testing.T) {
	ctx := context.Background()
	f, _ := newFixture(t)

	_, err := f.Registry.CreateAccount(ctx, accounting.CreateAccountInput{
		Code: "8011", Name: "Orphan", Type: accounting.AccountTypeExpense, Nature: accounting.NatureDebit, ParentCode: "80",
	})
	require.ErrorIs(t, err, shared.ErrInvalidHierarchy)

	_, err = f.Registry.CreateAccount(ctx, accounting.CreateAccountInput{
		Code: "7011", Name: "Again", Type: accounting.AccountTypeIncome, Nature: accounting.NatureCredit, ParentCode: "70",
	})
	require.ErrorIs(t, err, shared.ErrDuplicateCode)

	_, err = f.Registry.CreateAccount(ctx, accounting.CreateAccountInput{
		Code: "x", Name: "Bad", Type: "REVENUE", Nature: accounting.NatureCredit,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRegistryDemotesUnusedLeafParent(t *testing.T) {
	ctx := context.Background()
	f, _ := newFixture(t)

	child, err := f.Registry.CreateAccount(ctx, accounting.CreateAccountInput{
		Code: "101101", Name: "Petty cash Lima", Type: accounting.AccountTypeAsset, Nature: accounting.NatureDebit,
		ParentCode: "1011", AcceptsMovements: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, child.Level)

	_, err = f.Registry.ResolvePostable(ctx, "1011")
	require.ErrorIs(t, err, shared.ErrAccountNotPostable)
}

func TestRegistryRejectsChildUnderUsedLeaf(t *testing.T) {
	ctx := context.Background()
	f, _ := newFixture(t)
	feb := f.OpenPeriod(t, 2026, 2)
	_, err := f.Ledger.CreateEntry(ctx, entryInput(feb, dr("1041", "10"), cr("7721", "10")))
	require.NoError(t, err)

	_, err = f.Registry.CreateAccount(ctx, accounting.CreateAccountInput{
		Code: "104101", Name: "Sub account", Type: accounting.AccountTypeAsset, Nature: accounting.NatureDebit,
		ParentCode: "1041", AcceptsMovements: true,
	})
	require.ErrorIs(t, err, shared.ErrInvalidHierarchy)

	still, err := f.Registry.ResolvePostable(ctx, "1041")
	require.NoError(t, err)
	assert.True(t, still.AcceptsMovements)
}

func TestRegistrySubtreeAndChart(t *testing.T) {
	ctx := context.Background()
	f, _ := newFixture(t)

	seq, err := f.Registry.Subtree(ctx, "70")
	require.NoError(t, err)
	var codes []string
	for account := range seq {
		codes = append(codes, account.Code)
	}
	assert.Equal(t, []string{"7011", "7012", "7013"}, codes)

	_, err = f.Registry.Subtree(ctx, "99")
	require.ErrorIs(t, err, shared.ErrNotFound)

	chart, err := f.Registry.Chart(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(accountingtest.StandardChart()), chart.Len())
	roots := chart.Tree()
	rootCodes := make([]string, 0, len(roots))
	for _, node := range roots {
		rootCodes = append(rootCodes, node.Code)
	}
	assert.True(t, slices.IsSorted(rootCodes))
	assert.Contains(t, rootCodes, "59")
}

func TestRegistryDeactivateParentWithActiveChildren(t *testing.T) {
	ctx := context.Background()
	f, rec := newFixture(t)

	_, err := f.Registry.DeactivateAccount(ctx, "70", "ana")
	require.ErrorIs(t, err, shared.ErrInvalidHierarchy)

	account, err := f.Registry.DeactivateAccount(ctx, "7012", "ana")
	require.NoError(t, err)
	assert.False(t, account.IsActive)
	require.NotEmpty(t, rec.audits)
	assert.Equal(t, "account.deactivate", rec.audits[len(rec.audits)-1].Action)
}

func TestRegistryCostCenters(t *testing.T) {
	ctx := context.Background()
	f, _ := newFixture(t)
	project := int64(7)
	cc, err := f.Registry.CreateCostCenter(ctx, accounting.CreateCostCenterInput{Code: "MKT", Name: "Digital marketing", Type: "UNIT", ProjectID: &project})
	require.NoError(t, err)

	_, err = f.Registry.CreateCostCenter(ctx, accounting.CreateCostCenterInput{Code: "MKT", Name: "Dup", Type: "UNIT"})
	require.ErrorIs(t, err, shared.ErrDuplicateCode)

	feb := f.OpenPeriod(t, 2026, 2)
	line := dr("6311", "80")
	line.CostCenterID = &cc.ID
	entry, err := f.Ledger.CreateEntry(ctx, entryInput(feb, line, cr("1041", "80")))
	require.NoError(t, err)
	assert.Equal(t, cc.ID, *entry.Lines[0].CostCenterID)

	missing := int64(4040)
	line.CostCenterID = &missing
	_, err = f.Ledger.CreateEntry(ctx, entryInput(feb, line, cr("1041", "80")))
	require.ErrorIs(t, err, shared.ErrValidation)

	centers, err := f.Registry.ListCostCenters(ctx)
	require.NoError(t, err)
	assert.Len(t, centers, 1)
}
