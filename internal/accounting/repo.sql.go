package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// Repository persists accounting entities in PostgreSQL.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertAccount(ctx context.Context, account Account) (Account, error)
	GetAccountByCode(ctx context.Context, code string, mode LockMode) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	SetAccountAcceptsMovements(ctx context.Context, accountID int64, accepts bool) error
	SetAccountActive(ctx context.Context, accountID int64, active bool) error
	AccountHasLines(ctx context.Context, accountID int64) (bool, error)

	InsertCostCenter(ctx context.Context, cc CostCenter) (CostCenter, error)
	GetCostCenter(ctx context.Context, id int64) (CostCenter, error)
	ListCostCenters(ctx context.Context) ([]CostCenter, error)

	InsertPeriod(ctx context.Context, year, month int) (Period, error)
	GetPeriod(ctx context.Context, periodID int64, mode LockMode) (Period, error)
	FindPeriod(ctx context.Context, year, month int) (Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)
	MarkPeriodClosed(ctx context.Context, periodID int64, closedBy string, at time.Time) (bool, error)

	NextEntrySequence(ctx context.Context, year int) (int64, error)
	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error
	GetJournalEntry(ctx context.Context, entryID int64) (JournalEntry, error)
	FindEntryBySource(ctx context.Context, module, sourceID string) (JournalEntry, error)
	TransitionJournalStatus(ctx context.Context, entryID int64, from, to EntryStatus, change StatusChange) (bool, error)
	ListJournalEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error)
	PeriodTrialBalance(ctx context.Context, periodID int64) ([]TrialBalanceRow, error)
	SumMovements(ctx context.Context, filter MovementFilter) (Movement, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a read-committed transaction. Writers serialise on
// explicit period row locks rather than on snapshot isolation.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `a.id, a.code, a.name, a.type, a.parent_id, COALESCE(p.code, ''), a.level, a.nature, a.is_active, a.accepts_movements, a.created_at, a.updated_at
FROM accounts a LEFT JOIN accounts p ON p.id = a.parent_id`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.ParentCode, &a.Level, &a.Nature, &a.IsActive, &a.AcceptsMovements, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) InsertAccount(ctx context.Context, account Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO accounts (code, name, type, parent_id, level, nature, is_active, accepts_movements)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		account.Code, account.Name, account.Type, account.ParentID, account.Level, account.Nature, account.IsActive, account.AcceptsMovements).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_accounts_code") {
			return Account{}, fmt.Errorf("%w: account %s", shared.ErrDuplicateCode, account.Code)
		}
		return Account{}, err
	}
	return account, nil
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string, mode LockMode) (Account, error) {
	query := `SELECT ` + accountColumns + ` WHERE a.code=$1`
	switch mode {
	case LockShare:
		query += ` FOR SHARE OF a`
	case LockUpdate:
		query += ` FOR UPDATE OF a`
	}
	a, err := scanAccount(r.tx.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.NotFoundf("account %s", code)
	}
	return a, err
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` ORDER BY a.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) SetAccountAcceptsMovements(ctx context.Context, accountID int64, accepts bool) error {
	return r.execOne(ctx, "account", accountID, `UPDATE accounts SET accepts_movements=$2, updated_at=NOW() WHERE id=$1`, accountID, accepts)
}

func (r *txRepository) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	return r.execOne(ctx, "account", accountID, `UPDATE accounts SET is_active=$2, updated_at=NOW() WHERE id=$1`, accountID, active)
}

func (r *txRepository) AccountHasLines(ctx context.Context, accountID int64) (bool, error) {
	var used bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id=$1)`, accountID).Scan(&used)
	return used, err
}

func (r *txRepository) InsertCostCenter(ctx context.Context, cc CostCenter) (CostCenter, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO cost_centers (code, name, type, project_id, is_active) VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
		cc.Code, cc.Name, cc.Type, cc.ProjectID, cc.IsActive).Scan(&cc.ID, &cc.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_cost_centers_code") {
			return CostCenter{}, fmt.Errorf("%w: cost center %s", shared.ErrDuplicateCode, cc.Code)
		}
		return CostCenter{}, err
	}
	return cc, nil
}

func (r *txRepository) GetCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	var cc CostCenter
	err := r.tx.QueryRow(ctx, `SELECT id, code, name, type, project_id, is_active, created_at FROM cost_centers WHERE id=$1`, id).
		Scan(&cc.ID, &cc.Code, &cc.Name, &cc.Type, &cc.ProjectID, &cc.IsActive, &cc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CostCenter{}, shared.NotFoundf("cost center %d", id)
	}
	return cc, err
}

func (r *txRepository) ListCostCenters(ctx context.Context) ([]CostCenter, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, code, name, type, project_id, is_active, created_at FROM cost_centers ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var centers []CostCenter
	for rows.Next() {
		var cc CostCenter
		if err := rows.Scan(&cc.ID, &cc.Code, &cc.Name, &cc.Type, &cc.ProjectID, &cc.IsActive, &cc.CreatedAt); err != nil {
			return nil, err
		}
		centers = append(centers, cc)
	}
	return centers, rows.Err()
}

const periodColumns = `id, year, month, status, COALESCE(closed_by, ''), closed_at, created_at, updated_at FROM accounting_periods`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Year, &p.Month, &p.Status, &p.ClosedBy, &p.ClosedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *txRepository) InsertPeriod(ctx context.Context, year, month int) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `INSERT INTO accounting_periods (year, month, status) VALUES ($1,$2,'OPEN')
RETURNING `+periodReturning, year, month))
	if err != nil {
		if db.IsUniqueViolation(err, "uq_accounting_periods_year_month") {
			return Period{}, fmt.Errorf("%w: %04d-%02d", shared.ErrDuplicatePeriod, year, month)
		}
		return Period{}, err
	}
	return p, nil
}

const periodReturning = `id, year, month, status, COALESCE(closed_by, ''), closed_at, created_at, updated_at`

func (r *txRepository) GetPeriod(ctx context.Context, periodID int64, mode LockMode) (Period, error) {
	query := `SELECT ` + periodColumns + ` WHERE id=$1`
	switch mode {
	case LockShare:
		query += ` FOR SHARE`
	case LockUpdate:
		query += ` FOR UPDATE`
	}
	p, err := scanPeriod(r.tx.QueryRow(ctx, query, periodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.NotFoundf("period %d", periodID)
	}
	return p, err
}

func (r *txRepository) FindPeriod(ctx context.Context, year, month int) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` WHERE year=$1 AND month=$2`, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.NotFoundf("period %04d-%02d", year, month)
	}
	return p, err
}

func (r *txRepository) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` ORDER BY year, month`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *txRepository) MarkPeriodClosed(ctx context.Context, periodID int64, closedBy string, at time.Time) (bool, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounting_periods SET status='CLOSED', closed_by=$2, closed_at=$3, updated_at=NOW() WHERE id=$1 AND status='OPEN'`, periodID, closedBy, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *txRepository) NextEntrySequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_sequences (year, last_value) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_value = journal_sequences.last_value + 1 RETURNING last_value`, year).Scan(&seq)
	return seq, err
}

const entryColumns = `id, entry_number, date, period_id, description, type, status, COALESCE(source_module, ''), COALESCE(source_id, ''),
created_by, COALESCE(approved_by, ''), posted_at, COALESCE(voided_by, ''), voided_at, COALESCE(void_reason, ''), reversal_of,
total_debit, total_credit, created_at, updated_at FROM journal_entries`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.PeriodID, &e.Description, &e.Type, &e.Status, &e.SourceModule, &e.SourceID,
		&e.CreatedBy, &e.ApprovedBy, &e.PostedAt, &e.VoidedBy, &e.VoidedAt, &e.VoidReason, &e.ReversalOf,
		&e.TotalDebit, &e.TotalCredit, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// InsertJournalEntry writes the header. A concurrent or repeated insert of the same
// source document yields a DuplicateSourceError naming the committed entry.
func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (entry_number, date, period_id, description, type, status, source_module, source_id,
created_by, approved_by, posted_at, reversal_of, total_debit, total_credit)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT ON CONSTRAINT uq_journal_entries_source DO NOTHING
RETURNING id, created_at, updated_at`,
		entry.Number, entry.Date, entry.PeriodID, entry.Description, entry.Type, entry.Status,
		nullString(entry.SourceModule), nullString(entry.SourceID), entry.CreatedBy, nullString(entry.ApprovedBy),
		entry.PostedAt, entry.ReversalOf, entry.TotalDebit, entry.TotalCredit).
		Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, findErr := r.FindEntryBySource(ctx, entry.SourceModule, entry.SourceID)
		if findErr != nil {
			return JournalEntry{}, findErr
		}
		return JournalEntry{}, &shared.DuplicateSourceError{Module: entry.SourceModule, SourceID: entry.SourceID, EntryID: existing.ID}
	}
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	for i := range lines {
		line := &lines[i]
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_no, account_id, account_code, debit, credit, cost_center_id, document_reference, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			entryID, line.LineNo, line.AccountID, line.AccountCode, line.Debit, line.Credit, line.CostCenterID,
			nullString(line.DocumentReference), nullString(line.Description)).Scan(&line.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetJournalEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` WHERE id=$1`, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, shared.NotFoundf("journal entry %d", entryID)
	}
	if err != nil {
		return JournalEntry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, line_no, account_id, account_code, debit, credit, cost_center_id,
COALESCE(document_reference, ''), COALESCE(description, '') FROM journal_lines WHERE entry_id=$1 ORDER BY line_no`, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNo, &line.AccountID, &line.AccountCode, &line.Debit, &line.Credit,
			&line.CostCenterID, &line.DocumentReference, &line.Description); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func (r *txRepository) FindEntryBySource(ctx context.Context, module, sourceID string) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` WHERE source_module=$1 AND source_id=$2`, module, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, shared.NotFoundf("journal entry for %s/%s", module, sourceID)
	}
	return entry, err
}

func (r *txRepository) TransitionJournalStatus(ctx context.Context, entryID int64, from, to EntryStatus, change StatusChange) (bool, error) {
	var (
		query string
		args  []any
	)
	switch to {
	case EntryStatusPosted:
		query = `UPDATE journal_entries SET status=$3, posted_at=$4, approved_by=COALESCE(approved_by, $5), updated_at=NOW() WHERE id=$1 AND status=$2`
		args = []any{entryID, from, to, change.At, change.Actor}
	case EntryStatusVoided:
		query = `UPDATE journal_entries SET status=$3, voided_at=$4, voided_by=$5, void_reason=$6, updated_at=NOW() WHERE id=$1 AND status=$2`
		args = []any{entryID, from, to, change.At, change.Actor, change.Reason}
	default:
		return false, fmt.Errorf("%w: cannot move entry to %s", shared.ErrInvalidStatus, to)
	}
	cmd, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *txRepository) ListJournalEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.PeriodID != 0 {
		add("period_id=$%d", filter.PeriodID)
	}
	if filter.From != nil {
		add("date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("date <= $%d", *filter.To)
	}
	if filter.Type != "" {
		add("type=$%d", filter.Type)
	}
	if filter.Status != "" {
		add("status=$%d", filter.Status)
	}
	if filter.SourceModule != "" {
		add("source_module=$%d", filter.SourceModule)
	}
	if filter.ReversalOf != 0 {
		add("reversal_of=$%d", filter.ReversalOf)
	}
	if filter.AccountCode != "" {
		add("EXISTS (SELECT 1 FROM journal_lines l WHERE l.entry_id = journal_entries.id AND l.account_code=$%d)", filter.AccountCode)
	}
	query := `SELECT ` + entryColumns
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) PeriodTrialBalance(ctx context.Context, periodID int64) ([]TrialBalanceRow, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.nature, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.period_id=$1 AND e.status='POSTED'
GROUP BY a.id, a.code, a.name, a.type, a.nature
ORDER BY a.code`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TrialBalanceRow
	for rows.Next() {
		var row TrialBalanceRow
		if err := rows.Scan(&row.AccountID, &row.AccountCode, &row.AccountName, &row.Type, &row.Nature, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *txRepository) execOne(ctx context.Context, entity string, id int64, query string, args ...any) error {
	cmd, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.NotFoundf("%s %d", entity, id)
	}
	return nil
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func (r *txRepository) SumMovements(ctx context.Context, filter MovementFilter) (Movement, error) {
	args := []any{filter.AccountIDs, filter.Year}
	query := `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounting_periods p ON p.id = e.period_id
LEFT JOIN cost_centers cc ON cc.id = l.cost_center_id
WHERE l.account_id = ANY($1) AND p.year=$2 AND e.status='POSTED'`
	if filter.Month != 0 {
		args = append(args, filter.Month)
		query += fmt.Sprintf(` AND p.month=$%d`, len(args))
	}
	if filter.CostCenterID != nil {
		args = append(args, *filter.CostCenterID)
		query += fmt.Sprintf(` AND l.cost_center_id=$%d`, len(args))
	}
	if filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		query += fmt.Sprintf(` AND cc.project_id=$%d`, len(args))
	}
	if filter.ExcludeClosing {
		query += ` AND e.type <> 'CLOSING'`
	}
	var m Movement
	err := r.tx.QueryRow(ctx, query, args...).Scan(&m.Debit, &m.Credit)
	return m, err
}

