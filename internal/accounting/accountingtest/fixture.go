package accountingtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/mappings"
)

// Fixture bundles a store with the three accounting services.
type Fixture struct {
	Store    *Store
	Registry *accounting.Registry
	Periods  *accounting.PeriodManager
	Ledger   *accounting.Ledger
}

// NewFixture builds services over a fresh store seeded with StandardChart and
// StandardMappings.
func NewFixture(t testing.TB, opts accounting.Options) *Fixture {
	t.Helper()
	store := NewStore()
	f := &Fixture{
		Store:    store,
		Registry: accounting.NewRegistry(store, opts),
		Periods:  accounting.NewPeriodManager(store, opts),
		Ledger:   accounting.NewLedger(store, opts),
	}
	ctx := context.Background()
	for _, in := range StandardChart() {
		_, err := f.Registry.CreateAccount(ctx, in)
		require.NoError(t, err, "seed account %s", in.Code)
	}
	for _, m := range StandardMappings() {
		require.NoError(t, store.Mappings().Upsert(ctx, m))
	}
	return f
}

// OpenPeriod opens year/month and fails the test on error.
func (f *Fixture) OpenPeriod(t testing.TB, year, month int) accounting.Period {
	t.Helper()
	p, err := f.Periods.OpenPeriod(context.Background(), year, month, "tester")
	require.NoError(t, err)
	return p
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func account(code, name string, typ accounting.AccountType, nature accounting.Nature, parent string, leaf bool) accounting.CreateAccountInput {
	return accounting.CreateAccountInput{Code: code, Name: name, Type: typ, Nature: nature, ParentCode: parent, AcceptsMovements: leaf}
}

// StandardChart is a small hierarchical chart, parents first.
func StandardChart() []accounting.CreateAccountInput {
	const (
		debit  = accounting.NatureDebit
		credit = accounting.NatureCredit
	)
	return []accounting.CreateAccountInput{
		account("10", "Cash and equivalents", accounting.AccountTypeAsset, debit, "", false),
		account("1011", "Petty cash", accounting.AccountTypeAsset, debit, "10", true),
		account("1041", "Bank current account", accounting.AccountTypeAsset, debit, "10", true),
		account("12", "Trade receivables", accounting.AccountTypeAsset, debit, "", false),
		account("1212", "Invoices receivable", accounting.AccountTypeAsset, debit, "12", true),
		account("40", "Taxes payable", accounting.AccountTypeLiability, credit, "", false),
		account("40111", "Sales tax payable", accounting.AccountTypeLiability, credit, "40", true),
		account("40112", "Purchase tax credit", accounting.AccountTypeAsset, debit, "40", true),
		account("4017", "Income tax withheld", accounting.AccountTypeLiability, credit, "40", true),
		account("4031", "Pension contributions", accounting.AccountTypeLiability, credit, "40", true),
		account("41", "Salaries payable", accounting.AccountTypeLiability, credit, "", false),
		account("4111", "Net pay payable", accounting.AccountTypeLiability, credit, "41", true),
		account("42", "Trade payables", accounting.AccountTypeLiability, credit, "", false),
		account("4212", "Invoices payable", accounting.AccountTypeLiability, credit, "42", true),
		account("59", "Retained earnings", accounting.AccountTypeEquity, credit, "", false),
		account("5911", "Accumulated result", accounting.AccountTypeEquity, credit, "59", true),
		account("62", "Personnel expenses", accounting.AccountTypeExpense, debit, "", false),
		account("6211", "Salaries", accounting.AccountTypeExpense, debit, "62", true),
		account("63", "Third party services", accounting.AccountTypeExpense, debit, "", false),
		account("6311", "Professional services", accounting.AccountTypeExpense, debit, "63", true),
		account("6361", "Utilities", accounting.AccountTypeExpense, debit, "63", true),
		account("6391", "Bank fees", accounting.AccountTypeExpense, debit, "63", true),
		account("69", "Cost of services", accounting.AccountTypeCost, debit, "", false),
		account("6911", "Project delivery cost", accounting.AccountTypeCost, debit, "69", true),
		account("70", "Revenue", accounting.AccountTypeIncome, credit, "", false),
		account("7011", "One-time services", accounting.AccountTypeIncome, credit, "70", true),
		account("7012", "Recurring services", accounting.AccountTypeIncome, credit, "70", true),
		account("7013", "Project milestones", accounting.AccountTypeIncome, credit, "70", true),
		account("77", "Financial income", accounting.AccountTypeIncome, credit, "", false),
		account("7721", "Interest earned", accounting.AccountTypeIncome, credit, "77", true),
	}
}

// StandardMappings links posting rule keys to StandardChart accounts.
func StandardMappings() []mappings.AccountMapping {
	m := func(module, key, code string) mappings.AccountMapping {
		return mappings.AccountMapping{Module: module, Key: key, AccountCode: code}
	}
	return []mappings.AccountMapping{
		m("INVOICE", "receivable", "1212"),
		m("INVOICE", "tax", "40111"),
		m("INVOICE", "revenue.ONE_TIME", "7011"),
		m("INVOICE", "revenue.RECURRING", "7012"),
		m("INVOICE", "revenue.PROJECT", "7013"),
		m("EXPENSE", "payable", "4212"),
		m("EXPENSE", "cash", "1041"),
		m("EXPENSE", "tax_credit", "40112"),
		m("EXPENSE", "expense.SERVICES", "6311"),
		m("EXPENSE", "expense.UTILITIES", "6361"),
		m("EXPENSE", "cost.PROJECT", "6911"),
		m("PAYROLL", "gross", "6211"),
		m("PAYROLL", "net_payable", "4111"),
		m("PAYROLL", "withholding.INCOME_TAX", "4017"),
		m("PAYROLL", "withholding.PENSION", "4031"),
		m("BANK", "bank", "1041"),
		m("BANK", "counterpart.FEE", "6391"),
		m("BANK", "counterpart.INTEREST", "7721"),
		m("BANK", "counterpart.CUSTOMER_PAYMENT", "1212"),
		m("BANK", "counterpart.SUPPLIER_PAYMENT", "4212"),
	}
}
