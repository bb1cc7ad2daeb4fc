package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger event types emitted after a commit.
const (
	EventJournalPosted = "journal.posted"
	EventJournalVoided = "journal.voided"
	EventPeriodClosed  = "period.closed"
)

// LedgerEvent is the payload published to downstream consumers.
type LedgerEvent struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	EntryID      int64     `json:"entry_id,omitempty"`
	EntryNumber  string    `json:"entry_number,omitempty"`
	PeriodID     int64     `json:"period_id"`
	SourceModule string    `json:"source_module,omitempty"`
	SourceID     string    `json:"source_id,omitempty"`
	Actor        string    `json:"actor"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewLedgerEvent stamps a fresh event identifier.
func NewLedgerEvent(eventType string, periodID int64, actor string, at time.Time) LedgerEvent {
	return LedgerEvent{ID: uuid.New(), Type: eventType, PeriodID: periodID, Actor: actor, OccurredAt: at.UTC()}
}

// EventPublisher delivers ledger events. Implementations must not block commits.
type EventPublisher interface {
	Publish(ctx context.Context, event LedgerEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, LedgerEvent) error { return nil }
