package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/subledger"
)

// DefaultFunctionalCurrency is the ledger currency when none is configured.
const DefaultFunctionalCurrency = "PEN"

// Ledger creates journal entries and finds them by provenance.
type Ledger interface {
	CreateEntry(ctx context.Context, in accounting.CreateEntryInput) (accounting.JournalEntry, error)
	FindBySource(ctx context.Context, module, sourceID string) (accounting.JournalEntry, error)
}

// Periods resolves the accounting period covering a document date.
type Periods interface {
	PeriodForDate(ctx context.Context, date time.Time) (accounting.Period, error)
}

// Converter translates foreign currency amounts into the functional currency.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, fx.Rate, error)
}

// Subledger records receivables and payables and settles them.
type Subledger interface {
	Record(ctx context.Context, in subledger.RecordInput) (subledger.Item, bool, error)
	GetItem(ctx context.Context, id uuid.UUID) (subledger.Item, error)
	ApplyPayment(ctx context.Context, in subledger.PaymentInput) (subledger.Item, error)
	Payments(ctx context.Context, id uuid.UUID) ([]subledger.Payment, error)
}

// Gateway is the single write entry point for business modules.
type Gateway struct {
	ledger     Ledger
	periods    Periods
	accounts   Accounts
	rates      Converter
	items      Subledger
	logger     *slog.Logger
	metrics    accounting.Observer
	functional string
}

// Option customises Gateway.
type Option func(*Gateway)

// WithFunctionalCurrency sets the ledger currency.
func WithFunctionalCurrency(code string) Option {
	return func(g *Gateway) {
		if code != "" {
			g.functional = code
		}
	}
}

// WithSubledger records receivables and payables alongside postings.
func WithSubledger(items Subledger) Option { return func(g *Gateway) { g.items = items } }

// WithMetrics reports each posting outcome.
func WithMetrics(m accounting.Observer) Option { return func(g *Gateway) { g.metrics = m } }

// NewGateway wires the gateway. rates may be nil when only functional currency
// documents are posted.
func NewGateway(ledger Ledger, periods Periods, accounts Accounts, rates Converter, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Gateway{ledger: ledger, periods: periods, accounts: accounts, rates: rates, logger: logger, functional: DefaultFunctionalCurrency}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FunctionalCurrency reports the ledger currency.
func (g *Gateway) FunctionalCurrency() string { return g.functional }

// PostSourceDocument books doc. Source-driven entries are posted at once;
// MANUAL documents stay in draft for review. A document whose (module, source
// id) already has an entry is not booked again: the existing entry comes back
// in Result together with a *shared.DuplicateSourceError, and callers treat
// that pair as success.
func (g *Gateway) PostSourceDocument(ctx context.Context, doc Document) (Result, error) {
	result, err := g.post(ctx, doc)
	g.observe(doc.Module, err)
	return result, err
}

func (g *Gateway) post(ctx context.Context, doc Document) (Result, error) {
	doc, err := doc.normalize(g.functional)
	if err != nil {
		return Result{}, err
	}
	existing, err := g.ledger.FindBySource(ctx, string(doc.Module), doc.SourceID)
	switch {
	case err == nil:
		return g.duplicate(ctx, doc, existing)
	case !errors.Is(err, shared.ErrNotFound):
		return Result{}, err
	}

	period, err := g.periods.PeriodForDate(ctx, doc.Date)
	if err != nil {
		return Result{}, err
	}
	var settles *subledger.Item
	if doc.Bank != nil && doc.Bank.SettlesItem != nil {
		item, err := g.settlementTarget(ctx, doc)
		if err != nil {
			return Result{}, err
		}
		settles = &item
	}

	booked, rate := doc, (*fx.Rate)(nil)
	if doc.Currency != g.functional {
		booked, rate, err = g.convert(ctx, doc)
		if err != nil {
			return Result{}, err
		}
	}
	lines, err := rules[doc.Module](ctx, resolver{accounts: g.accounts, module: doc.Module}, booked)
	if err != nil {
		return Result{}, err
	}
	entry, err := g.ledger.CreateEntry(ctx, accounting.CreateEntryInput{
		PeriodID:     period.ID,
		Date:         doc.Date,
		Description:  doc.Description,
		Type:         doc.Type,
		SourceModule: string(doc.Module),
		SourceID:     doc.SourceID,
		CreatedBy:    doc.CreatedBy,
		Lines:        lines,
		Post:         doc.Module != ModuleManual,
	})
	var dup *shared.DuplicateSourceError
	if errors.As(err, &dup) {
		// A concurrent retry won the insert.
		existing, ferr := g.ledger.FindBySource(ctx, string(doc.Module), doc.SourceID)
		if ferr != nil {
			return Result{}, err
		}
		return g.duplicate(ctx, doc, existing)
	}
	if err != nil {
		return Result{}, err
	}

	result := Result{Entry: entry, Rate: rate}
	g.logger.Info("source document posted",
		slog.String("source_module", entry.SourceModule),
		slog.String("source_id", entry.SourceID),
		slog.Int64("entry_id", entry.ID),
		slog.String("entry_number", entry.Number),
		slog.Int64("period_id", entry.PeriodID),
		slog.String("currency", doc.Currency))
	item, err := g.linkSubledger(ctx, doc, entry)
	if err != nil {
		return result, fmt.Errorf("entry %s posted, subledger link failed: %w", entry.Number, err)
	}
	result.Item = item
	if settles != nil {
		paid, err := g.settle(ctx, doc, entry)
		if err != nil {
			return result, fmt.Errorf("entry %s posted, settlement failed: %w", entry.Number, err)
		}
		result.Item = &paid
	}
	return result, nil
}

// settle applies the bank amount to the settled item once per entry. The
// payment reference is the entry number, so a replay after a failed
// settlement completes it without paying twice.
func (g *Gateway) settle(ctx context.Context, doc Document, entry accounting.JournalEntry) (subledger.Item, error) {
	itemID := *doc.Bank.SettlesItem
	payments, err := g.items.Payments(ctx, itemID)
	if err != nil {
		return subledger.Item{}, err
	}
	for _, p := range payments {
		if p.Reference == entry.Number {
			return g.items.GetItem(ctx, itemID)
		}
	}
	return g.items.ApplyPayment(ctx, subledger.PaymentInput{
		ItemID:     itemID,
		Amount:     doc.Bank.Amount,
		PaidAt:     doc.Date,
		Reference:  entry.Number,
		RecordedBy: doc.CreatedBy,
	})
}

// duplicate answers a replayed document with the entry already booked, making
// sure its subledger item exists and its settlement is applied in case the
// first attempt stopped short.
func (g *Gateway) duplicate(ctx context.Context, doc Document, existing accounting.JournalEntry) (Result, error) {
	g.logger.Info("source document already posted",
		slog.String("source_module", existing.SourceModule),
		slog.String("source_id", existing.SourceID),
		slog.Int64("entry_id", existing.ID),
		slog.String("entry_number", existing.Number))
	result := Result{Entry: existing, Duplicate: true}
	if item, err := g.linkSubledger(ctx, doc, existing); err != nil {
		g.logger.Warn("subledger link on replay failed", slog.Int64("entry_id", existing.ID), slog.Any("error", err))
	} else {
		result.Item = item
	}
	if doc.Bank != nil && doc.Bank.SettlesItem != nil && g.items != nil && existing.Status == accounting.EntryStatusPosted {
		paid, err := g.settle(ctx, doc, existing)
		if err != nil {
			return result, fmt.Errorf("entry %s posted, settlement failed: %w", existing.Number, err)
		}
		result.Item = &paid
	}
	return result, &shared.DuplicateSourceError{Module: string(doc.Module), SourceID: doc.SourceID, EntryID: existing.ID}
}

// linkSubledger records the receivable of an invoice or the payable of an
// unpaid expense in the document currency. Recording is idempotent per source.
func (g *Gateway) linkSubledger(ctx context.Context, doc Document, entry accounting.JournalEntry) (*subledger.Item, error) {
	if g.items == nil {
		return nil, nil
	}
	entryID := entry.ID
	var in subledger.RecordInput
	switch {
	case doc.Invoice != nil:
		inv := doc.Invoice
		in = subledger.RecordInput{
			Kind:            subledger.KindReceivable,
			CounterpartID:   inv.ClientID,
			CounterpartName: inv.ClientName,
			DocumentType:    "INVOICE",
			DocumentNumber:  inv.Number,
			DueDate:         dueOrIssue(inv.DueDate, doc.Date),
			Amount:          inv.Total(),
		}
	case doc.Expense != nil && !doc.Expense.Paid:
		exp := doc.Expense
		in = subledger.RecordInput{
			Kind:            subledger.KindPayable,
			CounterpartID:   exp.ProviderID,
			CounterpartName: exp.ProviderName,
			DocumentType:    "EXPENSE",
			DocumentNumber:  exp.Number,
			DueDate:         dueOrIssue(exp.DueDate, doc.Date),
			Amount:          exp.Total(),
		}
	default:
		return nil, nil
	}
	in.IssueDate = doc.Date
	in.Currency = doc.Currency
	in.JournalEntryID = &entryID
	in.SourceModule = string(doc.Module)
	in.SourceID = doc.SourceID
	item, _, err := g.items.Record(ctx, in)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// settlementTarget checks the item a bank transaction settles before anything
// is booked.
func (g *Gateway) settlementTarget(ctx context.Context, doc Document) (subledger.Item, error) {
	if g.items == nil {
		return subledger.Item{}, shared.Validationf("settlement requires the subledger")
	}
	item, err := g.items.GetItem(ctx, *doc.Bank.SettlesItem)
	if err != nil {
		return subledger.Item{}, err
	}
	if !item.Open() {
		return subledger.Item{}, shared.Validationf("subledger item %s is %s", item.ID, item.Status)
	}
	if item.Currency != doc.Currency {
		return subledger.Item{}, shared.Validationf("settlement currency %s does not match item currency %s", doc.Currency, item.Currency)
	}
	want := subledger.KindReceivable
	if doc.Bank.Direction == DirectionOut {
		want = subledger.KindPayable
	}
	if item.Kind != want {
		return subledger.Item{}, shared.Validationf("%s bank transaction cannot settle a %s", doc.Bank.Direction, item.Kind)
	}
	if doc.Bank.Amount.GreaterThan(item.PendingAmount) {
		return subledger.Item{}, &shared.OverpaymentError{Amount: doc.Bank.Amount, Pending: item.PendingAmount}
	}
	return item, nil
}

func (g *Gateway) convert(ctx context.Context, doc Document) (Document, *fx.Rate, error) {
	if g.rates == nil {
		return Document{}, nil, shared.Validationf("no exchange rate service for %s documents", doc.Currency)
	}
	var rate fx.Rate
	converted, err := doc.convert(func(amount decimal.Decimal) (decimal.Decimal, error) {
		if amount.IsZero() {
			return amount, nil
		}
		out, r, err := g.rates.Convert(ctx, amount, doc.Currency, g.functional, doc.Date)
		if err != nil {
			return decimal.Zero, err
		}
		rate = r
		return out, nil
	})
	if err != nil {
		return Document{}, nil, fmt.Errorf("convert %s to %s: %w", doc.Currency, g.functional, err)
	}
	return converted, &rate, nil
}

func (g *Gateway) observe(module Module, err error) {
	if g.metrics == nil {
		return
	}
	op := "posting.document"
	if module != "" {
		op = "posting." + string(module)
	}
	if errors.Is(err, shared.ErrDuplicateSource) {
		err = nil
	}
	g.metrics.ObserveLedgerOp(op, err)
}

func dueOrIssue(due, issue time.Time) time.Time {
	if due.IsZero() {
		return issue
	}
	return due
}
