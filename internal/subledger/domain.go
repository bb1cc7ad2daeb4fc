package subledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Kind separates receivables from payables.
type Kind string

const (
	KindReceivable Kind = "RECEIVABLE"
	KindPayable    Kind = "PAYABLE"
)

// Valid reports whether k is known.
func (k Kind) Valid() bool { return k == KindReceivable || k == KindPayable }

// Status of a subledger item. OVERDUE is never stored; it is derived from the
// due date when an unpaid item is read as of a date.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartial       Status = "PARTIAL"
	StatusSettled       Status = "SETTLED"
	StatusOverdue       Status = "OVERDUE"
	StatusUncollectible Status = "UNCOLLECTIBLE"
)

// Item is a receivable or payable linked to the journal entry that booked it.
type Item struct {
	ID              uuid.UUID       `json:"id"`
	Kind            Kind            `json:"kind"`
	CounterpartID   string          `json:"counterpart_id"`
	CounterpartName string          `json:"counterpart_name"`
	DocumentType    string          `json:"document_type"`
	DocumentNumber  string          `json:"document_number"`
	IssueDate       time.Time       `json:"issue_date"`
	DueDate         time.Time       `json:"due_date"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	JournalEntryID  *int64          `json:"journal_entry_id,omitempty"`
	SourceModule    string          `json:"source_module,omitempty"`
	SourceID        string          `json:"source_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Open reports whether the item still carries a collectible balance.
func (i Item) Open() bool {
	return i.Status == StatusPending || i.Status == StatusPartial || i.Status == StatusOverdue
}

// StatusAsOf derives the display status of the item on asOf.
func (i Item) StatusAsOf(asOf time.Time) Status {
	status := settledStatus(i.OriginalAmount, i.PendingAmount, i.Status)
	if status == StatusPending && DaysPastDue(asOf, i.DueDate) > 0 {
		return StatusOverdue
	}
	return status
}

// settledStatus is the stored status implied by the amounts.
func settledStatus(original, pending decimal.Decimal, current Status) Status {
	switch {
	case current == StatusUncollectible:
		return StatusUncollectible
	case pending.IsZero():
		return StatusSettled
	case pending.LessThan(original):
		return StatusPartial
	default:
		return StatusPending
	}
}

// Payment is one collection or disbursement against an item.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	ItemID     uuid.UUID       `json:"item_id"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAt     time.Time       `json:"paid_at"`
	Reference  string          `json:"reference,omitempty"`
	RecordedBy string          `json:"recorded_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RecordInput registers a new item.
type RecordInput struct {
	Kind            Kind
	CounterpartID   string
	CounterpartName string
	DocumentType    string
	DocumentNumber  string
	IssueDate       time.Time
	DueDate         time.Time
	Amount          decimal.Decimal
	Currency        string
	JournalEntryID  *int64
	SourceModule    string
	SourceID        string
}

// Validate checks the request shape.
func (in RecordInput) Validate() error {
	if !in.Kind.Valid() {
		return shared.Validationf("unknown subledger kind %q", in.Kind)
	}
	if strings.TrimSpace(in.CounterpartID) == "" {
		return shared.Validationf("counterpart required")
	}
	if strings.TrimSpace(in.DocumentNumber) == "" {
		return shared.Validationf("document number required")
	}
	if in.IssueDate.IsZero() || in.DueDate.IsZero() {
		return shared.Validationf("issue and due dates required")
	}
	if in.DueDate.Before(in.IssueDate) {
		return shared.Validationf("due date before issue date")
	}
	if !in.Amount.IsPositive() {
		return shared.Validationf("amount must be positive")
	}
	if len(strings.TrimSpace(in.Currency)) != 3 {
		return shared.Validationf("currency required")
	}
	return nil
}

// PaymentInput applies a payment to an item.
type PaymentInput struct {
	ItemID     uuid.UUID
	Amount     decimal.Decimal
	PaidAt     time.Time
	Reference  string
	RecordedBy string
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Kind Kind
	// Status matches the status derived as of AsOf, so OVERDUE selects
	// pending items past their due date.
	Status        Status
	AsOf          time.Time
	CounterpartID string
	Limit         int
	Offset        int
}

// Bucket names one aging band.
type Bucket string

const (
	BucketCurrent Bucket = "CURRENT"
	Bucket1To30   Bucket = "1-30"
	Bucket31To60  Bucket = "31-60"
	Bucket61To90  Bucket = "61-90"
	BucketOver90  Bucket = "90+"
)

// Buckets lists the bands in report order.
var Buckets = []Bucket{BucketCurrent, Bucket1To30, Bucket31To60, Bucket61To90, BucketOver90}

// BucketFor places days past due into exactly one band.
func BucketFor(days int) Bucket {
	switch {
	case days <= 0:
		return BucketCurrent
	case days <= 30:
		return Bucket1To30
	case days <= 60:
		return Bucket31To60
	case days <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}

// DaysPastDue counts calendar days from due to asOf, ignoring time of day.
func DaysPastDue(asOf, due time.Time) int {
	a := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	d := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	return int(a.Sub(d).Hours() / 24)
}

// BucketTotal aggregates one band.
type BucketTotal struct {
	Bucket Bucket          `json:"bucket"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
	Items  []Item          `json:"items"`
}

// AgingSide is the aging of one kind.
type AgingSide struct {
	Kind    Kind            `json:"kind"`
	Buckets []BucketTotal   `json:"buckets"`
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total"`
}

// AgingReport holds both sides as of a date.
type AgingReport struct {
	AsOf        time.Time `json:"as_of"`
	Receivables AgingSide `json:"receivables"`
	Payables    AgingSide `json:"payables"`
}

// BuildAging partitions open items issued on or before asOf into the bands.
// Every such item lands in exactly one band.
func BuildAging(kind Kind, asOf time.Time, items []Item) AgingSide {
	side := AgingSide{Kind: kind, Total: decimal.Zero, Buckets: make([]BucketTotal, len(Buckets))}
	index := make(map[Bucket]int, len(Buckets))
	for i, b := range Buckets {
		side.Buckets[i] = BucketTotal{Bucket: b, Amount: decimal.Zero, Items: []Item{}}
		index[b] = i
	}
	for _, item := range items {
		if item.Kind != kind || !item.Open() || item.IssueDate.After(asOf) {
			continue
		}
		bt := &side.Buckets[index[BucketFor(DaysPastDue(asOf, item.DueDate))]]
		bt.Count++
		bt.Amount = bt.Amount.Add(item.PendingAmount)
		bt.Items = append(bt.Items, item)
		side.Count++
		side.Total = side.Total.Add(item.PendingAmount)
	}
	return side
}
