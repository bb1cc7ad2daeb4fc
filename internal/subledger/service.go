package subledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// Repository persists subledger items and payments.
type Repository interface {
	// InsertItem stores item unless an item of the same kind already carries
	// its source document, in which case the existing item is returned with
	// created=false.
	InsertItem(ctx context.Context, item Item) (stored Item, created bool, err error)
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	// ListOpenItems returns PENDING and PARTIAL items of kind issued on or before asOf.
	ListOpenItems(ctx context.Context, kind Kind, asOf time.Time) ([]Item, error)
	// ApplyPayment reduces the pending amount and stores the payment atomically.
	// It fails with *shared.OverpaymentError when the pending amount is smaller.
	ApplyPayment(ctx context.Context, payment Payment) (Item, error)
	ListPayments(ctx context.Context, itemID uuid.UUID) ([]Payment, error)
	MarkUncollectible(ctx context.Context, id uuid.UUID) (Item, error)
}

// ReportCache caches aging reports between ledger changes.
type ReportCache interface {
	Key(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// AuditPort records subledger mutations.
type AuditPort interface {
	Record(ctx context.Context, log appshared.AuditLog) error
}

// Service is the subledger reconciler.
type Service struct {
	repo   Repository
	logger *slog.Logger
	cache  ReportCache
	audit  AuditPort
	now    func() time.Time
}

// Option customises Service.
type Option func(*Service)

// WithCache enables aging report caching.
func WithCache(c ReportCache) Option { return func(s *Service) { s.cache = c } }

// WithAudit records write-offs and payments.
func WithAudit(a AuditPort) Option { return func(s *Service) { s.audit = a } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService constructs the reconciler.
func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record registers an item with pending = original. Re-recording the same
// source document returns the existing item.
func (s *Service) Record(ctx context.Context, in RecordInput) (Item, bool, error) {
	if err := in.Validate(); err != nil {
		return Item{}, false, err
	}
	amount := shared.Round2(in.Amount)
	item, created, err := s.repo.InsertItem(ctx, Item{
		ID:              uuid.New(),
		Kind:            in.Kind,
		CounterpartID:   strings.TrimSpace(in.CounterpartID),
		CounterpartName: strings.TrimSpace(in.CounterpartName),
		DocumentType:    in.DocumentType,
		DocumentNumber:  strings.TrimSpace(in.DocumentNumber),
		IssueDate:       in.IssueDate,
		DueDate:         in.DueDate,
		OriginalAmount:  amount,
		PendingAmount:   amount,
		Currency:        strings.ToUpper(in.Currency),
		Status:          StatusPending,
		JournalEntryID:  in.JournalEntryID,
		SourceModule:    in.SourceModule,
		SourceID:        in.SourceID,
	})
	if err != nil {
		return Item{}, false, err
	}
	if created {
		s.invalidate(ctx)
		s.logger.Info("subledger item recorded",
			slog.String("item_id", item.ID.String()),
			slog.String("kind", string(item.Kind)),
			slog.String("document", item.DocumentNumber),
			slog.String("amount", item.OriginalAmount.StringFixed(2)))
	}
	return item, created, nil
}

// RecordReceivable registers a receivable.
func (s *Service) RecordReceivable(ctx context.Context, in RecordInput) (Item, error) {
	in.Kind = KindReceivable
	item, _, err := s.Record(ctx, in)
	return item, err
}

// RecordPayable registers a payable.
func (s *Service) RecordPayable(ctx context.Context, in RecordInput) (Item, error) {
	in.Kind = KindPayable
	item, _, err := s.Record(ctx, in)
	return item, err
}

// ApplyPayment reduces the pending amount. The pending amount never drops
// below zero; larger payments fail with *shared.OverpaymentError.
func (s *Service) ApplyPayment(ctx context.Context, in PaymentInput) (Item, error) {
	if in.ItemID == uuid.Nil {
		return Item{}, shared.Validationf("item required")
	}
	amount := shared.Round2(in.Amount)
	if !amount.IsPositive() {
		return Item{}, shared.Validationf("payment amount must be positive")
	}
	if strings.TrimSpace(in.RecordedBy) == "" {
		in.RecordedBy = appshared.SystemActor
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}
	item, err := s.repo.ApplyPayment(ctx, Payment{
		ID:         uuid.New(),
		ItemID:     in.ItemID,
		Amount:     amount,
		PaidAt:     time.Date(paidAt.Year(), paidAt.Month(), paidAt.Day(), 0, 0, 0, 0, time.UTC),
		Reference:  in.Reference,
		RecordedBy: in.RecordedBy,
	})
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	s.logger.Info("subledger payment applied",
		slog.String("item_id", item.ID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("pending", item.PendingAmount.StringFixed(2)),
		slog.String("status", string(item.Status)))
	s.record(ctx, in.RecordedBy, "subledger.payment", item, map[string]any{"amount": amount.StringFixed(2), "reference": in.Reference})
	return item, nil
}

// WriteOff marks an open item uncollectible. The pending amount is kept for audit.
func (s *Service) WriteOff(ctx context.Context, id uuid.UUID, actor, reason string) (Item, error) {
	if strings.TrimSpace(reason) == "" {
		return Item{}, shared.Validationf("write-off reason required")
	}
	item, err := s.repo.MarkUncollectible(ctx, id)
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	s.logger.Info("subledger item written off", slog.String("item_id", item.ID.String()), slog.String("reason", reason))
	s.record(ctx, actor, "subledger.write_off", item, map[string]any{"reason": reason, "pending": item.PendingAmount.StringFixed(2)})
	return item, nil
}

// invalidate drops cached aging reports after a mutation. Failures only log;
// the mutation is already committed.
func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor, action string, item Item, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if actor == "" {
		actor = appshared.SystemActor
	}
	err := s.audit.Record(ctx, appshared.AuditLog{Actor: actor, Action: action, Entity: "subledger_item", EntityID: item.ID.String(), Meta: meta, At: s.now().UTC()})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// GetItem loads an item with its status derived as of today.
func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item.Status = item.StatusAsOf(s.now())
	return item, nil
}

// Payments lists the payment history of an item.
func (s *Service) Payments(ctx context.Context, id uuid.UUID) ([]Payment, error) {
	if _, err := s.repo.GetItem(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, id)
}

// ListItems lists items with statuses derived as of today.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, shared.Validationf("unknown subledger kind %q", filter.Kind)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.AsOf.IsZero() {
		filter.AsOf = s.now()
	}
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Status = items[i].StatusAsOf(filter.AsOf)
	}
	return items, nil
}

// AgingReport partitions open receivables and payables by days past due.
func (s *Service) AgingReport(ctx context.Context, asOf time.Time) (AgingReport, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	loader := func(ctx context.Context) (any, error) {
		return s.buildAging(ctx, asOf)
	}
	if s.cache == nil {
		report, err := s.buildAging(ctx, asOf)
		return report, err
	}
	key, err := s.cache.Key(ctx, "aging", asOf.Format(time.DateOnly))
	if err != nil {
		s.logger.Warn("aging cache key failed", slog.Any("error", err))
		return s.buildAging(ctx, asOf)
	}
	var report AgingReport
	if err := s.cache.FetchJSON(ctx, key, &report, loader); err != nil {
		return AgingReport{}, err
	}
	return report, nil
}

func (s *Service) buildAging(ctx context.Context, asOf time.Time) (AgingReport, error) {
	report := AgingReport{AsOf: asOf}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := s.repo.ListOpenItems(ctx, KindReceivable, asOf)
		if err != nil {
			return err
		}
		report.Receivables = BuildAging(KindReceivable, asOf, items)
		return nil
	})
	g.Go(func() error {
		items, err := s.repo.ListOpenItems(ctx, KindPayable, asOf)
		if err != nil {
			return err
		}
		report.Payables = BuildAging(KindPayable, asOf, items)
		return nil
	})
	if err := g.Wait(); err != nil {
		return AgingReport{}, err
	}
	return report, nil
}

// pendingAfter computes the amounts an item carries after a payment.
func pendingAfter(item Item, amount decimal.Decimal) (Item, error) {
	if !item.Open() {
		return Item{}, shared.Validationf("item %s is %s", item.ID, strings.ToLower(string(item.Status)))
	}
	if amount.GreaterThan(item.PendingAmount) {
		return Item{}, &shared.OverpaymentError{Amount: amount, Pending: item.PendingAmount}
	}
	item.PendingAmount = item.PendingAmount.Sub(amount)
	item.Status = settledStatus(item.OriginalAmount, item.PendingAmount, item.Status)
	return item, nil
}
