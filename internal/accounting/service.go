package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log appshared.AuditLog) error
}

// CacheInvalidator drops derived report caches after the journal changes.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Observer receives the outcome of each ledger operation.
type Observer interface {
	ObserveLedgerOp(op string, err error)
}

// Options carries the collaborators shared by Registry, PeriodManager and Ledger.
// Nil fields are replaced with no-op implementations.
type Options struct {
	Logger  *slog.Logger
	Audit   AuditPort
	Events  appshared.EventPublisher
	Cache   CacheInvalidator
	Metrics Observer
	Now     func() time.Time
	// Epsilon is the tolerated difference between debit and credit totals.
	Epsilon decimal.Decimal
	// ResultAccountCode is the equity account receiving closing entries.
	ResultAccountCode string
}

// DefaultResultAccountCode is the accumulated result account of the seeded chart.
const DefaultResultAccountCode = "5911"

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Events == nil {
		o.Events = appshared.NopPublisher{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if !o.Epsilon.IsPositive() {
		o.Epsilon = shared.DefaultEpsilon
	}
	if o.ResultAccountCode == "" {
		o.ResultAccountCode = DefaultResultAccountCode
	}
	return o
}

// effects runs post-commit side effects. Failures are logged and never surface to
// the caller because the ledger write has already committed.
type effects struct {
	opts Options
}

func (e effects) observe(op string, err error) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.ObserveLedgerOp(op, err)
	}
}

func (e effects) audit(ctx context.Context, actor, action, entity string, id int64, meta map[string]any) {
	if e.opts.Audit == nil {
		return
	}
	err := e.opts.Audit.Record(ctx, appshared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       e.opts.Now(),
	})
	if err != nil {
		e.opts.Logger.Warn("audit record failed", slog.String("action", action), slog.Int64("entity_id", id), slog.Any("error", err))
	}
}

func (e effects) publish(ctx context.Context, event appshared.LedgerEvent) {
	if err := e.opts.Events.Publish(ctx, event); err != nil {
		e.opts.Logger.Warn("ledger event publish failed", slog.String("type", event.Type), slog.Int64("entry_id", event.EntryID), slog.Any("error", err))
	}
}

func (e effects) invalidate(ctx context.Context) {
	if e.opts.Cache == nil {
		return
	}
	if err := e.opts.Cache.Bump(ctx); err != nil {
		e.opts.Logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func (e effects) entryEvent(eventType string, entry JournalEntry, actor string) appshared.LedgerEvent {
	event := appshared.NewLedgerEvent(eventType, entry.PeriodID, actor, e.opts.Now())
	event.EntryID = entry.ID
	event.EntryNumber = entry.Number
	event.SourceModule = entry.SourceModule
	event.SourceID = entry.SourceID
	return event
}
