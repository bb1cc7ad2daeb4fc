package posting

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/subledger"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// Module identifies the business module that produced a source document.
type Module string

const (
	ModuleInvoice Module = "INVOICE"
	ModuleExpense Module = "EXPENSE"
	ModulePayroll Module = "PAYROLL"
	ModuleBank    Module = "BANK"
	ModuleManual  Module = "MANUAL"
)

// Valid reports whether a posting rule exists for m.
func (m Module) Valid() bool {
	_, ok := rules[m]
	return ok
}

// Billing types select the revenue account of an invoice.
const (
	BillingOneTime   = "ONE_TIME"
	BillingRecurring = "RECURRING"
	BillingProject   = "PROJECT"
)

// Bank transaction directions.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// Document is a source business record submitted for posting. Exactly one of
// the module payloads is set, matching Module; MANUAL documents carry Lines.
type Document struct {
	Module       Module
	SourceID     string
	Date         time.Time
	Description  string
	Type         accounting.EntryType
	Currency     string
	CostCenterID *int64
	CreatedBy    string

	Invoice *Invoice
	Expense *Expense
	Payroll *Payroll
	Bank    *BankTransaction
	Lines   []accounting.LineInput
}

// Invoice is a customer invoice. Subtotal is revenue; Tax is sales tax payable.
type Invoice struct {
	Number      string
	ClientID    string
	ClientName  string
	BillingType string
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	DueDate     time.Time
}

// Total is the amount receivable from the client.
func (i Invoice) Total() decimal.Decimal { return i.Subtotal.Add(i.Tax) }

// Expense is a provider bill. Project expenses are booked as cost of
// services; the rest as operating expense by category.
type Expense struct {
	Number       string
	ProviderID   string
	ProviderName string
	Category     string
	Project      bool
	Subtotal     decimal.Decimal
	Tax          decimal.Decimal
	// Paid books the bill against cash instead of accounts payable.
	Paid    bool
	DueDate time.Time
}

// Total is the amount owed to the provider.
func (e Expense) Total() decimal.Decimal { return e.Subtotal.Add(e.Tax) }

// Payroll is one payroll run. Withholdings are keyed by withholding kind.
type Payroll struct {
	Reference    string
	Gross        decimal.Decimal
	Withholdings map[string]decimal.Decimal
}

// Net is gross pay less every withholding.
func (p Payroll) Net() decimal.Decimal {
	net := p.Gross
	for _, amount := range p.Withholdings {
		net = net.Sub(amount)
	}
	return net
}

// BankTransaction is a statement line. Counterpart selects the account on the
// other side of the bank account; SettlesItem applies the amount as a payment
// to an open subledger item.
type BankTransaction struct {
	Reference   string
	Direction   string
	Counterpart string
	Amount      decimal.Decimal
	SettlesItem *uuid.UUID
}

// Result describes the outcome of a posting.
type Result struct {
	Entry     accounting.JournalEntry `json:"entry"`
	Duplicate bool                    `json:"duplicate"`
	Rate      *fx.Rate                `json:"rate,omitempty"`
	Item      *subledger.Item         `json:"subledger_item,omitempty"`
}

// normalize validates doc and fills defaults. functional is the ledger currency.
func (d Document) normalize(functional string) (Document, error) {
	d.Module = Module(strings.ToUpper(strings.TrimSpace(string(d.Module))))
	if !d.Module.Valid() {
		return Document{}, shared.Validationf("unsupported source module %q", d.Module)
	}
	d.SourceID = strings.TrimSpace(d.SourceID)
	if d.SourceID == "" {
		return Document{}, shared.Validationf("source id required")
	}
	if d.Date.IsZero() {
		return Document{}, shared.Validationf("document date required")
	}
	d.Date = time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), 0, 0, 0, 0, time.UTC)
	if strings.TrimSpace(d.Description) == "" {
		return Document{}, shared.Validationf("description required")
	}
	if d.Type == "" {
		d.Type = accounting.EntryTypeOperation
		if d.Module == ModuleManual {
			d.Type = accounting.EntryTypeAdjustment
		}
	}
	if d.Type == accounting.EntryTypeClosing {
		return Document{}, shared.Validationf("closing entries are generated by period close")
	}
	if d.Currency == "" {
		d.Currency = functional
	}
	currency, err := fx.NormalizeCurrency(d.Currency)
	if err != nil {
		return Document{}, err
	}
	d.Currency = currency
	if strings.TrimSpace(d.CreatedBy) == "" {
		d.CreatedBy = appshared.SystemActor
	}
	if err := d.validatePayload(); err != nil {
		return Document{}, err
	}
	return d, nil
}

func (d Document) validatePayload() error {
	set := 0
	for _, present := range []bool{d.Invoice != nil, d.Expense != nil, d.Payroll != nil, d.Bank != nil, len(d.Lines) > 0} {
		if present {
			set++
		}
	}
	if set != 1 {
		return shared.Validationf("%s document requires exactly one payload", d.Module)
	}
	switch d.Module {
	case ModuleInvoice:
		if d.Invoice == nil {
			return shared.Validationf("invoice payload required")
		}
		return d.Invoice.validate()
	case ModuleExpense:
		if d.Expense == nil {
			return shared.Validationf("expense payload required")
		}
		return d.Expense.validate()
	case ModulePayroll:
		if d.Payroll == nil {
			return shared.Validationf("payroll payload required")
		}
		return d.Payroll.validate()
	case ModuleBank:
		if d.Bank == nil {
			return shared.Validationf("bank payload required")
		}
		return d.Bank.validate()
	default:
		if len(d.Lines) < 2 {
			return shared.Validationf("manual document requires at least two lines")
		}
	}
	return nil
}

func (i Invoice) validate() error {
	if strings.TrimSpace(i.Number) == "" || strings.TrimSpace(i.ClientID) == "" {
		return shared.Validationf("invoice number and client required")
	}
	switch i.BillingType {
	case BillingOneTime, BillingRecurring, BillingProject:
	default:
		return shared.Validationf("unknown billing type %q", i.BillingType)
	}
	if !i.Subtotal.IsPositive() || i.Tax.IsNegative() {
		return shared.Validationf("invoice subtotal must be positive and tax not negative")
	}
	return nil
}

func (e Expense) validate() error {
	if strings.TrimSpace(e.Number) == "" || strings.TrimSpace(e.ProviderID) == "" {
		return shared.Validationf("expense number and provider required")
	}
	if strings.TrimSpace(e.Category) == "" {
		return shared.Validationf("expense category required")
	}
	if !e.Subtotal.IsPositive() || e.Tax.IsNegative() {
		return shared.Validationf("expense subtotal must be positive and tax not negative")
	}
	return nil
}

func (p Payroll) validate() error {
	if strings.TrimSpace(p.Reference) == "" {
		return shared.Validationf("payroll reference required")
	}
	if !p.Gross.IsPositive() {
		return shared.Validationf("gross pay must be positive")
	}
	for kind, amount := range p.Withholdings {
		if amount.IsNegative() {
			return shared.Validationf("withholding %s is negative", kind)
		}
	}
	if p.Net().IsNegative() {
		return shared.Validationf("withholdings exceed gross pay")
	}
	return nil
}

func (b BankTransaction) validate() error {
	if b.Direction != DirectionIn && b.Direction != DirectionOut {
		return shared.Validationf("bank direction must be IN or OUT")
	}
	if strings.TrimSpace(b.Counterpart) == "" {
		return shared.Validationf("bank counterpart required")
	}
	if !b.Amount.IsPositive() {
		return shared.Validationf("bank amount must be positive")
	}
	return nil
}

// convert returns a copy of d whose amounts went through conv. Lines built from
// the copy balance by construction; manual lines are rebalanced afterwards.
func (d Document) convert(conv func(decimal.Decimal) (decimal.Decimal, error)) (Document, error) {
	var err error
	pair := func(a, b decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
		x, err := conv(a)
		if err != nil {
			return decimal.Zero, decimal.Zero, err
		}
		y, err := conv(b)
		return x, y, err
	}
	switch {
	case d.Invoice != nil:
		inv := *d.Invoice
		if inv.Subtotal, inv.Tax, err = pair(inv.Subtotal, inv.Tax); err != nil {
			return Document{}, err
		}
		d.Invoice = &inv
	case d.Expense != nil:
		exp := *d.Expense
		if exp.Subtotal, exp.Tax, err = pair(exp.Subtotal, exp.Tax); err != nil {
			return Document{}, err
		}
		d.Expense = &exp
	case d.Payroll != nil:
		run := *d.Payroll
		if run.Gross, err = conv(run.Gross); err != nil {
			return Document{}, err
		}
		run.Withholdings = maps.Clone(run.Withholdings)
		for kind, amount := range run.Withholdings {
			if run.Withholdings[kind], err = conv(amount); err != nil {
				return Document{}, err
			}
		}
		d.Payroll = &run
	case d.Bank != nil:
		tx := *d.Bank
		if tx.Amount, err = conv(tx.Amount); err != nil {
			return Document{}, err
		}
		d.Bank = &tx
	default:
		// Only the residue of rounding each converted line is absorbed; a
		// document unbalanced in its own currency is rejected as is.
		if debit, credit := accounting.Totals(d.Lines); !shared.Balanced(debit, credit, shared.DefaultEpsilon) {
			return Document{}, &shared.UnbalancedError{Debit: debit, Credit: credit}
		}
		lines := make([]accounting.LineInput, len(d.Lines))
		for i, line := range d.Lines {
			if line.Debit, line.Credit, err = pair(line.Debit, line.Credit); err != nil {
				return Document{}, err
			}
			lines[i] = line
		}
		d.Lines = rebalance(lines)
	}
	return d, nil
}

// rebalance pushes a rounding residue of at most one cent per line into the
// largest line of the short side. Larger differences are left for the ledger
// to reject.
func rebalance(lines []accounting.LineInput) []accounting.LineInput {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	diff := debit.Sub(credit)
	limit := decimal.New(int64(len(lines)), -2)
	if diff.IsZero() || diff.Abs().GreaterThan(limit) {
		return lines
	}
	target := -1
	for i, line := range lines {
		side := line.Credit
		if diff.IsNegative() {
			side = line.Debit
		}
		if side.IsPositive() && (target < 0 || side.GreaterThan(amountOn(lines[target], diff))) {
			target = i
		}
	}
	if target < 0 {
		return lines
	}
	if diff.IsPositive() {
		lines[target].Credit = lines[target].Credit.Add(diff)
	} else {
		lines[target].Debit = lines[target].Debit.Add(diff.Neg())
	}
	return lines
}

func amountOn(line accounting.LineInput, diff decimal.Decimal) decimal.Decimal {
	if diff.IsNegative() {
		return line.Debit
	}
	return line.Credit
}
