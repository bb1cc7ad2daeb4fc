package posting_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/accountingtest"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/subledger"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var march = accountingtest.Date(2026, time.March, 15)

type env struct {
	f       *accountingtest.Fixture
	items   *subledger.Service
	rates   *fx.Service
	gateway *posting.Gateway
	metrics *opCounter
}

type opCounter struct {
	ok, failed map[string]int
}

func (c *opCounter) ObserveLedgerOp(op string, err error) {
	if err != nil {
		c.failed[op]++
		return
	}
	c.ok[op]++
}

func newEnv(t *testing.T) *env {
	t.Helper()
	f := accountingtest.NewFixture(t, accounting.Options{})
	f.OpenPeriod(t, 2026, 3)
	items := subledger.NewService(subledger.NewMemoryRepository(), nil,
		subledger.WithClock(func() time.Time { return accountingtest.Date(2026, time.March, 20) }))
	rates := fx.NewService(fx.NewMemoryRepository(), fx.SideSell, nil)
	_, err := rates.Record(context.Background(), fx.RecordInput{From: "USD", To: "PEN", Buy: dec("3.72"), Sell: dec("3.76"), Date: accountingtest.Date(2026, time.March, 1)})
	require.NoError(t, err)
	metrics := &opCounter{ok: map[string]int{}, failed: map[string]int{}}
	gateway := posting.NewGateway(f.Ledger, f.Periods, f.Store.Mappings(), rates, nil,
		posting.WithSubledger(items), posting.WithMetrics(metrics), posting.WithFunctionalCurrency("PEN"))
	return &env{f: f, items: items, rates: rates, gateway: gateway, metrics: metrics}
}

func invoice(sourceID, amount string) posting.Document {
	return posting.Document{
		Module:      posting.ModuleInvoice,
		SourceID:    sourceID,
		Date:        march,
		Description: "Invoice " + sourceID,
		Invoice: &posting.Invoice{
			Number:      "F001-" + sourceID,
			ClientID:    "CLI-001",
			ClientName:  "Acme SAC",
			BillingType: posting.BillingOneTime,
			Subtotal:    dec(amount),
			Tax:         decimal.Zero,
			DueDate:     march.AddDate(0, 0, 30),
		},
	}
}

type movement struct {
	Code   string
	Debit  string
	Credit string
}

func movements(entry accounting.JournalEntry) []movement {
	out := make([]movement, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		out = append(out, movement{Code: line.AccountCode, Debit: line.Debit.StringFixed(2), Credit: line.Credit.StringFixed(2)})
	}
	return out
}

func TestInvoicePostsReceivableAgainstRevenue(t *testing.T) {
	e := newEnv(t)
	result, err := e.gateway.PostSourceDocument(context.Background(), invoice("1001", "1000"))
	require.NoError(t, err)

	entry := result.Entry
	assert.Equal(t, accounting.EntryStatusPosted, entry.Status)
	assert.Equal(t, accounting.EntryTypeOperation, entry.Type)
	assert.Equal(t, "INVOICE", entry.SourceModule)
	assert.Equal(t, "ASIENTO-2026-000001", entry.Number)
	assert.Equal(t, []movement{
		{Code: "1212", Debit: "1000.00", Credit: "0.00"},
		{Code: "7011", Debit: "0.00", Credit: "1000.00"},
	}, movements(entry))
	assert.False(t, result.Duplicate)
	assert.Nil(t, result.Rate)

	require.NotNil(t, result.Item)
	assert.Equal(t, subledger.KindReceivable, result.Item.Kind)
	assert.True(t, result.Item.PendingAmount.Equal(dec("1000")))
	require.NotNil(t, result.Item.JournalEntryID)
	assert.Equal(t, entry.ID, *result.Item.JournalEntryID)
	assert.Equal(t, 1, e.metrics.ok["posting.INVOICE"])
}

func TestForeignInvoiceIsConvertedAtConfiguredSide(t *testing.T) {
	e := newEnv(t)
	doc := invoice("1002", "100")
	doc.Currency = "usd"
	doc.Invoice.Tax = dec("18")

	result, err := e.gateway.PostSourceDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, []movement{
		{Code: "1212", Debit: "443.68", Credit: "0.00"},
		{Code: "7011", Debit: "0.00", Credit: "376.00"},
		{Code: "40111", Debit: "0.00", Credit: "67.68"},
	}, movements(result.Entry))
	require.NotNil(t, result.Rate)
	assert.True(t, result.Rate.Sell.Equal(dec("3.76")))

	require.NotNil(t, result.Item)
	assert.Equal(t, "USD", result.Item.Currency)
	assert.True(t, result.Item.OriginalAmount.Equal(dec("118")))
}

func TestMissingRateRejectsForeignDocument(t *testing.T) {
	e := newEnv(t)
	doc := invoice("1003", "100")
	doc.Currency = "EUR"

	_, err := e.gateway.PostSourceDocument(context.Background(), doc)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.Empty(t, e.f.Store.Entries())
	assert.Equal(t, 1, e.metrics.failed["posting.INVOICE"])
}

func TestReplayedDocumentReturnsExistingEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.gateway.PostSourceDocument(ctx, invoice("1004", "250"))
	require.NoError(t, err)

	second, err := e.gateway.PostSourceDocument(ctx, invoice("1004", "250"))
	require.ErrorIs(t, err, shared.ErrDuplicateSource)
	var dup *shared.DuplicateSourceError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.Entry.ID, dup.EntryID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	require.NotNil(t, second.Item)
	assert.Equal(t, first.Item.ID, second.Item.ID)

	assert.Len(t, e.f.Store.Entries(), 1)
	items, err := e.items.ListItems(ctx, subledger.ItemFilter{Kind: subledger.KindReceivable})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 2, e.metrics.ok["posting.INVOICE"])
}

func TestClosedPeriodRejectsPosting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.gateway.PostSourceDocument(ctx, invoice("1005", "1000"))
	require.NoError(t, err)
	_, err = e.f.Periods.ClosePeriod(ctx, first.Entry.PeriodID, "controller")
	require.NoError(t, err)
	before := len(e.f.Store.Entries())

	_, err = e.gateway.PostSourceDocument(ctx, invoice("1006", "500"))
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	assert.Len(t, e.f.Store.Entries(), before)

	items, err := e.items.ListItems(ctx, subledger.ItemFilter{Kind: subledger.KindReceivable})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	late := invoice("1007", "500")
	late.Date = accountingtest.Date(2026, time.May, 2)
	_, err = e.gateway.PostSourceDocument(ctx, late)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
}

func TestExpenseRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	unpaid, err := e.gateway.PostSourceDocument(ctx, posting.Document{
		Module:      posting.ModuleExpense,
		SourceID:    "E-1",
		Date:        march,
		Description: "Consulting",
		Expense: &posting.Expense{
			Number: "E001-77", ProviderID: "PRV-9", ProviderName: "Advisors",
			Category: "SERVICES", Subtotal: dec("500"), Tax: dec("90"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []movement{
		{Code: "6311", Debit: "500.00", Credit: "0.00"},
		{Code: "40112", Debit: "90.00", Credit: "0.00"},
		{Code: "4212", Debit: "0.00", Credit: "590.00"},
	}, movements(unpaid.Entry))
	require.NotNil(t, unpaid.Item)
	assert.Equal(t, subledger.KindPayable, unpaid.Item.Kind)
	assert.True(t, unpaid.Item.PendingAmount.Equal(dec("590")))
	assert.Equal(t, march, unpaid.Item.DueDate)

	paid, err := e.gateway.PostSourceDocument(ctx, posting.Document{
		Module:      posting.ModuleExpense,
		SourceID:    "E-2",
		Date:        march,
		Description: "Delivery subcontractor",
		Expense: &posting.Expense{
			Number: "E001-78", ProviderID: "PRV-3", Category: "PROJECT", Project: true,
			Subtotal: dec("1200"), Paid: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []movement{
		{Code: "6911", Debit: "1200.00", Credit: "0.00"},
		{Code: "1041", Debit: "0.00", Credit: "1200.00"},
	}, movements(paid.Entry))
	assert.Nil(t, paid.Item)
}

func TestUnmappedCategoryIsValidationError(t *testing.T) {
	e := newEnv(t)
	_, err := e.gateway.PostSourceDocument(context.Background(), posting.Document{
		Module:      posting.ModuleExpense,
		SourceID:    "E-3",
		Date:        march,
		Description: "Travel",
		Expense:     &posting.Expense{Number: "E-3", ProviderID: "PRV-1", Category: "TRAVEL", Subtotal: dec("80")},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, e.f.Store.Entries())
}

func TestPayrollCreditsWithholdingsAndNetPay(t *testing.T) {
	e := newEnv(t)
	result, err := e.gateway.PostSourceDocument(context.Background(), posting.Document{
		Module:      posting.ModulePayroll,
		SourceID:    "PR-2026-03",
		Date:        accountingtest.Date(2026, time.March, 31),
		Description: "March payroll",
		Payroll: &posting.Payroll{
			Reference: "PR-2026-03",
			Gross:     dec("5000"),
			Withholdings: map[string]decimal.Decimal{
				"PENSION":    dec("650"),
				"INCOME_TAX": dec("400"),
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []movement{
		{Code: "6211", Debit: "5000.00", Credit: "0.00"},
		{Code: "4017", Debit: "0.00", Credit: "400.00"},
		{Code: "4031", Debit: "0.00", Credit: "650.00"},
		{Code: "4111", Debit: "0.00", Credit: "3950.00"},
	}, movements(result.Entry))
	assert.Nil(t, result.Item)
}

func TestBankPaymentSettlesReceivable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inv, err := e.gateway.PostSourceDocument(ctx, invoice("1008", "1000"))
	require.NoError(t, err)
	itemID := inv.Item.ID

	deposit := func(sourceID, amount string) posting.Document {
		return posting.Document{
			Module:      posting.ModuleBank,
			SourceID:    sourceID,
			Date:        accountingtest.Date(2026, time.March, 18),
			Description: "Customer payment",
			Bank: &posting.BankTransaction{
				Reference: sourceID, Direction: posting.DirectionIn, Counterpart: "CUSTOMER_PAYMENT",
				Amount: dec(amount), SettlesItem: &itemID,
			},
		}
	}

	result, err := e.gateway.PostSourceDocument(ctx, deposit("BNK-1", "400"))
	require.NoError(t, err)
	assert.Equal(t, []movement{
		{Code: "1041", Debit: "400.00", Credit: "0.00"},
		{Code: "1212", Debit: "0.00", Credit: "400.00"},
	}, movements(result.Entry))
	require.NotNil(t, result.Item)
	assert.Equal(t, subledger.StatusPartial, result.Item.Status)
	assert.True(t, result.Item.PendingAmount.Equal(dec("600")))

	before := len(e.f.Store.Entries())
	_, err = e.gateway.PostSourceDocument(ctx, deposit("BNK-2", "700"))
	require.ErrorIs(t, err, shared.ErrOverpayment)
	assert.Len(t, e.f.Store.Entries(), before)

	payments, err := e.items.Payments(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, result.Entry.Number, payments[0].Reference)
}

type flakySettlement struct {
	*subledger.Service
	failures int
}

func (s *flakySettlement) ApplyPayment(ctx context.Context, in subledger.PaymentInput) (subledger.Item, error) {
	if s.failures > 0 {
		s.failures--
		return subledger.Item{}, errors.New("connection reset")
	}
	return s.Service.ApplyPayment(ctx, in)
}

func TestReplayCompletesFailedSettlement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	items := &flakySettlement{Service: e.items, failures: 1}
	gateway := posting.NewGateway(e.f.Ledger, e.f.Periods, e.f.Store.Mappings(), e.rates, nil,
		posting.WithSubledger(items), posting.WithFunctionalCurrency("PEN"))

	inv, err := gateway.PostSourceDocument(ctx, invoice("1010", "400"))
	require.NoError(t, err)
	itemID := inv.Item.ID
	deposit := posting.Document{
		Module:      posting.ModuleBank,
		SourceID:    "BNK-7",
		Date:        accountingtest.Date(2026, time.March, 18),
		Description: "Customer payment",
		Bank: &posting.BankTransaction{
			Reference: "BNK-7", Direction: posting.DirectionIn, Counterpart: "CUSTOMER_PAYMENT",
			Amount: dec("400"), SettlesItem: &itemID,
		},
	}

	first, err := gateway.PostSourceDocument(ctx, deposit)
	require.Error(t, err)
	require.NotZero(t, first.Entry.ID, "the entry is booked before settlement")
	pending, err := e.items.GetItem(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, pending.PendingAmount.Equal(dec("400")))

	replay, err := gateway.PostSourceDocument(ctx, deposit)
	require.ErrorIs(t, err, shared.ErrDuplicateSource)
	assert.Equal(t, first.Entry.ID, replay.Entry.ID)
	require.NotNil(t, replay.Item)
	assert.Equal(t, subledger.StatusSettled, replay.Item.Status)

	again, err := gateway.PostSourceDocument(ctx, deposit)
	require.ErrorIs(t, err, shared.ErrDuplicateSource)
	require.NotNil(t, again.Item)
	assert.True(t, again.Item.PendingAmount.IsZero())

	payments, err := e.items.Payments(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, payments, 1, "replays never pay twice")
	assert.Equal(t, first.Entry.Number, payments[0].Reference)
}

func TestBankFeeWithdrawal(t *testing.T) {
	e := newEnv(t)
	result, err := e.gateway.PostSourceDocument(context.Background(), posting.Document{
		Module:      posting.ModuleBank,
		SourceID:    "BNK-FEE-1",
		Date:        march,
		Description: "Maintenance fee",
		Bank:        &posting.BankTransaction{Reference: "FEE-03", Direction: posting.DirectionOut, Counterpart: "FEE", Amount: dec("15.50")},
	})
	require.NoError(t, err)
	assert.Equal(t, []movement{
		{Code: "6391", Debit: "15.50", Credit: "0.00"},
		{Code: "1041", Debit: "0.00", Credit: "15.50"},
	}, movements(result.Entry))
}

func TestManualDocumentStaysDraft(t *testing.T) {
	e := newEnv(t)
	result, err := e.gateway.PostSourceDocument(context.Background(), posting.Document{
		Module:      posting.ModuleManual,
		SourceID:    "ADJ-1",
		Date:        march,
		Description: "Reclass petty cash",
		CreatedBy:   "accountant",
		Lines: []accounting.LineInput{
			{AccountCode: "1011", Debit: dec("50"), Credit: decimal.Zero},
			{AccountCode: "1041", Debit: decimal.Zero, Credit: dec("50")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, accounting.EntryStatusDraft, result.Entry.Status)
	assert.Equal(t, accounting.EntryTypeAdjustment, result.Entry.Type)
	assert.Equal(t, "accountant", result.Entry.CreatedBy)
}

func TestForeignManualDocumentOffByOneCentIsRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := posting.Document{
		Module:      posting.ModuleManual,
		SourceID:    "ADJ-USD-1",
		Date:        march,
		Description: "Consulting accrual",
		Currency:    "USD",
		Lines: []accounting.LineInput{
			{AccountCode: "6311", Debit: dec("300.00"), Credit: decimal.Zero},
			{AccountCode: "4212", Debit: decimal.Zero, Credit: dec("299.99")},
		},
	}
	before := len(e.f.Store.Entries())
	_, err := e.gateway.PostSourceDocument(ctx, doc)
	require.ErrorIs(t, err, shared.ErrUnbalanced)
	assert.Len(t, e.f.Store.Entries(), before)
}

func TestManualLineOnSummaryAccountIsRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.gateway.PostSourceDocument(context.Background(), posting.Document{
		Module:      posting.ModuleManual,
		SourceID:    "ADJ-2",
		Date:        march,
		Description: "Bad adjustment",
		Lines: []accounting.LineInput{
			{AccountCode: "70", Debit: dec("50"), Credit: decimal.Zero},
			{AccountCode: "1041", Debit: decimal.Zero, Credit: dec("50")},
		},
	})
	require.ErrorIs(t, err, shared.ErrAccountNotPostable)
}

func TestDocumentValidation(t *testing.T) {
	e := newEnv(t)
	base := invoice("V-1", "10")
	cases := map[string]func(d *posting.Document){
		"unknown module":   func(d *posting.Document) { d.Module = "LOAN" },
		"missing source":   func(d *posting.Document) { d.SourceID = " " },
		"missing date":     func(d *posting.Document) { d.Date = time.Time{} },
		"closing type":     func(d *posting.Document) { d.Type = accounting.EntryTypeClosing },
		"bad currency":     func(d *posting.Document) { d.Currency = "US" },
		"missing payload":  func(d *posting.Document) { d.Invoice = nil },
		"two payloads":     func(d *posting.Document) { d.Bank = &posting.BankTransaction{} },
		"bad billing type": func(d *posting.Document) { d.Invoice.BillingType = "BARTER" },
		"zero subtotal":    func(d *posting.Document) { d.Invoice.Subtotal = decimal.Zero },
		"payroll overdrawn": func(d *posting.Document) {
			d.Module, d.Invoice = posting.ModulePayroll, nil
			d.Payroll = &posting.Payroll{Reference: "PR", Gross: dec("100"), Withholdings: map[string]decimal.Decimal{"PENSION": dec("120")}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := base
			inv := *base.Invoice
			doc.Invoice = &inv
			mutate(&doc)
			_, err := e.gateway.PostSourceDocument(context.Background(), doc)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	assert.Empty(t, e.f.Store.Entries())
}
