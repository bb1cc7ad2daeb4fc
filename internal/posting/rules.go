package posting

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Accounts resolves posting rule keys to ledger account codes.
type Accounts interface {
	Get(ctx context.Context, module, key string) (mappings.AccountMapping, error)
}

// rule maps a normalised document into balanced journal lines.
type rule func(ctx context.Context, r resolver, doc Document) ([]accounting.LineInput, error)

var rules = map[Module]rule{
	ModuleInvoice: invoiceLines,
	ModuleExpense: expenseLines,
	ModulePayroll: payrollLines,
	ModuleBank:    bankLines,
	ModuleManual:  manualLines,
}

type resolver struct {
	accounts Accounts
	module   Module
}

func (r resolver) account(ctx context.Context, key string) (string, error) {
	mapping, err := r.accounts.Get(ctx, string(r.module), key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", shared.Validationf("no account mapped for %s/%s", r.module, key)
		}
		return "", fmt.Errorf("resolve mapping %s/%s: %w", r.module, key, err)
	}
	return mapping.AccountCode, nil
}

// builder accumulates lines and skips zero amounts.
type builder struct {
	lines []accounting.LineInput
	ref   string
}

func (b *builder) debit(code string, amount decimal.Decimal, costCenter *int64, desc string) {
	if amount.IsZero() {
		return
	}
	b.lines = append(b.lines, accounting.LineInput{AccountCode: code, Debit: amount, Credit: decimal.Zero, CostCenterID: costCenter, DocumentReference: b.ref, Description: desc})
}

func (b *builder) credit(code string, amount decimal.Decimal, costCenter *int64, desc string) {
	if amount.IsZero() {
		return
	}
	b.lines = append(b.lines, accounting.LineInput{AccountCode: code, Debit: decimal.Zero, Credit: amount, CostCenterID: costCenter, DocumentReference: b.ref, Description: desc})
}

// invoiceLines debits receivables for the total and credits revenue for the
// billing type plus sales tax payable.
func invoiceLines(ctx context.Context, r resolver, doc Document) ([]accounting.LineInput, error) {
	inv := doc.Invoice
	receivable, err := r.account(ctx, "receivable")
	if err != nil {
		return nil, err
	}
	revenue, err := r.account(ctx, "revenue."+inv.BillingType)
	if err != nil {
		return nil, err
	}
	b := builder{ref: inv.Number}
	b.debit(receivable, inv.Total(), nil, "Invoice "+inv.Number+" "+inv.ClientName)
	b.credit(revenue, inv.Subtotal, doc.CostCenterID, "Revenue "+inv.Number)
	if inv.Tax.IsPositive() {
		tax, err := r.account(ctx, "tax")
		if err != nil {
			return nil, err
		}
		b.credit(tax, inv.Tax, nil, "Sales tax "+inv.Number)
	}
	return b.lines, nil
}

// expenseLines debits the expense or project cost account and tax credit, and
// credits payables, or cash when the bill is already paid.
func expenseLines(ctx context.Context, r resolver, doc Document) ([]accounting.LineInput, error) {
	exp := doc.Expense
	key := "expense." + exp.Category
	if exp.Project {
		key = "cost." + exp.Category
	}
	target, err := r.account(ctx, key)
	if err != nil {
		return nil, err
	}
	settle := "payable"
	if exp.Paid {
		settle = "cash"
	}
	counter, err := r.account(ctx, settle)
	if err != nil {
		return nil, err
	}
	b := builder{ref: exp.Number}
	b.debit(target, exp.Subtotal, doc.CostCenterID, "Expense "+exp.Number+" "+exp.ProviderName)
	if exp.Tax.IsPositive() {
		credit, err := r.account(ctx, "tax_credit")
		if err != nil {
			return nil, err
		}
		b.debit(credit, exp.Tax, nil, "Tax credit "+exp.Number)
	}
	b.credit(counter, exp.Total(), nil, "Bill "+exp.Number)
	return b.lines, nil
}

// payrollLines debits gross salaries and credits each withholding liability
// plus the net pay payable.
func payrollLines(ctx context.Context, r resolver, doc Document) ([]accounting.LineInput, error) {
	run := doc.Payroll
	gross, err := r.account(ctx, "gross")
	if err != nil {
		return nil, err
	}
	net, err := r.account(ctx, "net_payable")
	if err != nil {
		return nil, err
	}
	b := builder{ref: run.Reference}
	b.debit(gross, run.Gross, doc.CostCenterID, "Payroll "+run.Reference)
	kinds := slices.Sorted(maps.Keys(run.Withholdings))
	for _, kind := range kinds {
		amount := run.Withholdings[kind]
		if amount.IsZero() {
			continue
		}
		code, err := r.account(ctx, "withholding."+kind)
		if err != nil {
			return nil, err
		}
		b.credit(code, amount, nil, "Withholding "+kind)
	}
	b.credit(net, run.Net(), nil, "Net pay "+run.Reference)
	return b.lines, nil
}

// bankLines moves the amount between the bank account and the counterpart.
func bankLines(ctx context.Context, r resolver, doc Document) ([]accounting.LineInput, error) {
	tx := doc.Bank
	bank, err := r.account(ctx, "bank")
	if err != nil {
		return nil, err
	}
	counter, err := r.account(ctx, "counterpart."+tx.Counterpart)
	if err != nil {
		return nil, err
	}
	b := builder{ref: tx.Reference}
	if tx.Direction == DirectionIn {
		b.debit(bank, tx.Amount, nil, "Bank deposit "+tx.Reference)
		b.credit(counter, tx.Amount, doc.CostCenterID, doc.Description)
	} else {
		b.debit(counter, tx.Amount, doc.CostCenterID, doc.Description)
		b.credit(bank, tx.Amount, nil, "Bank withdrawal "+tx.Reference)
	}
	return b.lines, nil
}

// manualLines passes explicit lines through unchanged.
func manualLines(_ context.Context, _ resolver, doc Document) ([]accounting.LineInput, error) {
	return slices.Clone(doc.Lines), nil
}
