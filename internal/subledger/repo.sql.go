package subledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// PGRepository stores items in subledger_items and subledger_payments.
type PGRepository struct {
	pool db.Pool
}

// NewPGRepository constructs the Postgres repository.
func NewPGRepository(pool db.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const (
	itemFields = `id, kind, counterpart_id, counterpart_name, document_type, document_number, issue_date, due_date,
original_amount, pending_amount, currency, status, journal_entry_id, COALESCE(source_module, ''), COALESCE(source_id, ''),
created_at, updated_at`
	itemColumns = itemFields + ` FROM subledger_items`
)

func scanItem(row pgx.Row) (Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.Kind, &i.CounterpartID, &i.CounterpartName, &i.DocumentType, &i.DocumentNumber, &i.IssueDate, &i.DueDate,
		&i.OriginalAmount, &i.PendingAmount, &i.Currency, &i.Status, &i.JournalEntryID, &i.SourceModule, &i.SourceID,
		&i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (r *PGRepository) InsertItem(ctx context.Context, item Item) (Item, bool, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO subledger_items (id, kind, counterpart_id, counterpart_name, document_type, document_number,
issue_date, due_date, original_amount, pending_amount, currency, status, journal_entry_id, source_module, source_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT ON CONSTRAINT uq_subledger_items_source DO NOTHING
RETURNING created_at, updated_at`,
		item.ID, item.Kind, item.CounterpartID, item.CounterpartName, item.DocumentType, item.DocumentNumber,
		item.IssueDate, item.DueDate, item.OriginalAmount, item.PendingAmount, item.Currency, item.Status, item.JournalEntryID,
		nullString(item.SourceModule), nullString(item.SourceID)).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err == nil {
		return item, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Item{}, false, err
	}
	existing, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` WHERE kind=$1 AND source_module=$2 AND source_id=$3`,
		item.Kind, item.SourceModule, item.SourceID))
	if err != nil {
		return Item{}, false, fmt.Errorf("subledger: load existing %s/%s: %w", item.SourceModule, item.SourceID, err)
	}
	return existing, false, nil
}

func (r *PGRepository) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.NotFoundf("subledger item %s", id)
	}
	return item, err
}

func (r *PGRepository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Kind != "" {
		add("kind=$%d", filter.Kind)
	}
	asOf := time.Date(filter.AsOf.Year(), filter.AsOf.Month(), filter.AsOf.Day(), 0, 0, 0, 0, time.UTC)
	switch filter.Status {
	case "":
	case StatusOverdue:
		conds = append(conds, "status='PENDING'")
		add("due_date<$%d", asOf)
	case StatusPending:
		conds = append(conds, "status='PENDING'")
		add("due_date>=$%d", asOf)
	default:
		add("status=$%d", filter.Status)
	}
	if filter.CounterpartID != "" {
		add("counterpart_id=$%d", filter.CounterpartID)
	}
	query := `SELECT ` + itemColumns
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY due_date, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return r.queryItems(ctx, query, args...)
}

func (r *PGRepository) ListOpenItems(ctx context.Context, kind Kind, asOf time.Time) ([]Item, error) {
	return r.queryItems(ctx, `SELECT `+itemColumns+`
WHERE kind=$1 AND status IN ('PENDING','PARTIAL') AND issue_date <= $2 ORDER BY due_date, id`, kind, asOf)
}

func (r *PGRepository) queryItems(ctx context.Context, query string, args ...any) ([]Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ApplyPayment uses a guarded update so two concurrent payments can never
// drive the pending amount below zero.
func (r *PGRepository) ApplyPayment(ctx context.Context, payment Payment) (Item, error) {
	var item Item
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var err error
		item, err = scanItem(tx.QueryRow(ctx, `UPDATE subledger_items SET
pending_amount = pending_amount - $2,
status = CASE WHEN pending_amount - $2 = 0 THEN 'SETTLED' ELSE 'PARTIAL' END,
updated_at = NOW()
WHERE id=$1 AND status IN ('PENDING','PARTIAL') AND pending_amount >= $2
RETURNING `+itemFields, payment.ItemID, payment.Amount))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.rejectPayment(ctx, tx, payment)
		}
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx, `INSERT INTO subledger_payments (id, item_id, amount, paid_at, reference, recorded_by)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`,
			payment.ID, payment.ItemID, payment.Amount, payment.PaidAt, nullString(payment.Reference), payment.RecordedBy).Scan(&payment.CreatedAt)
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// rejectPayment explains why the guarded update matched no row.
func (r *PGRepository) rejectPayment(ctx context.Context, tx pgx.Tx, payment Payment) error {
	var (
		pending decimal.Decimal
		status  Status
	)
	err := tx.QueryRow(ctx, `SELECT pending_amount, status FROM subledger_items WHERE id=$1`, payment.ItemID).Scan(&pending, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFoundf("subledger item %s", payment.ItemID)
	}
	if err != nil {
		return err
	}
	if status != StatusPending && status != StatusPartial {
		return shared.Validationf("item %s is %s", payment.ItemID, strings.ToLower(string(status)))
	}
	return &shared.OverpaymentError{Amount: payment.Amount, Pending: pending}
}

func (r *PGRepository) ListPayments(ctx context.Context, itemID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, amount, paid_at, COALESCE(reference, ''), recorded_by, created_at
FROM subledger_payments WHERE item_id=$1 ORDER BY paid_at, created_at`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ItemID, &p.Amount, &p.PaidAt, &p.Reference, &p.RecordedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *PGRepository) MarkUncollectible(ctx context.Context, id uuid.UUID) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `UPDATE subledger_items SET status='UNCOLLECTIBLE', updated_at=NOW()
WHERE id=$1 AND status IN ('PENDING','PARTIAL') RETURNING `+itemFields, id))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := r.GetItem(ctx, id)
		if getErr != nil {
			return Item{}, getErr
		}
		return Item{}, shared.Validationf("item %s is %s", id, strings.ToLower(string(current.Status)))
	}
	return item, err
}
