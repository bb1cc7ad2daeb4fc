package accounting

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func expectReadCommitted(mock pgxmock.PgxPoolIface) {
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
}

func TestRepositoryNextEntrySequence(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectReadCommitted(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO journal_sequences (year, last_value) VALUES ($1, 1)`)).
		WithArgs(2026).
		WillReturnRows(pgxmock.NewRows([]string{"last_value"}).AddRow(int64(42)))
	mock.ExpectCommit()

	var seq int64
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		seq, err = tx.NextEntrySequence(ctx, 2026)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
	assert.Equal(t, "ASIENTO-2026-000042", FormatEntryNumber(2026, seq))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPeriodClosedIsCompareAndSet(t *testing.T) {
	repo, mock := newMockRepository(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta(`UPDATE accounting_periods SET status='CLOSED'`) + `.*` + regexp.QuoteMeta(`WHERE id=$1 AND status='OPEN'`)

	expectReadCommitted(mock)
	mock.ExpectExec(query).WithArgs(int64(3), "controller", at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(query).WithArgs(int64(3), "controller", at).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectCommit()

	var first, second bool
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		if first, err = tx.MarkPeriodClosed(ctx, 3, "controller", at); err != nil {
			return err
		}
		second, err = tx.MarkPeriodClosed(ctx, 3, "controller", at)
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryInsertAccountDuplicateCode(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectReadCommitted(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO accounts (code, name, type, parent_id, level, nature, is_active, accepts_movements)`)).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_accounts_code"})
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := tx.InsertAccount(ctx, Account{Code: "7011", Name: "Services", Type: AccountTypeIncome, Nature: NatureCredit, Level: 2, IsActive: true})
		return err
	})
	require.ErrorIs(t, err, shared.ErrDuplicateCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetPeriodLocking(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectReadCommitted(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id=$1 FOR UPDATE`)).WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := tx.GetPeriod(ctx, 9, LockUpdate)
		return err
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountLocksParentBeforeDemotion(t *testing.T) {
	repo, mock := newMockRepository(t)
	registry := NewRegistry(repo, Options{})
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	columns := []string{"id", "code", "name", "type", "parent_id", "parent_code", "level", "nature", "is_active", "accepts_movements", "created_at", "updated_at"}

	expectReadCommitted(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE a.code=$1`) + `$`).WithArgs("104101").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE a.code=$1 FOR UPDATE OF a`)).WithArgs("1041").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(int64(12), "1041", "Bank accounts", AccountTypeAsset, (*int64)(nil), "", 1, NatureDebit, true, true, at, at))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id=$1)`)).
		WithArgs(int64(12)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := registry.CreateAccount(context.Background(), CreateAccountInput{
		Code: "104101", Name: "Main bank", Type: AccountTypeAsset, ParentCode: "1041", Nature: NatureDebit, AcceptsMovements: true,
	})
	require.ErrorIs(t, err, shared.ErrInvalidHierarchy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetAccountByCodeShareLock(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectReadCommitted(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE a.code=$1 FOR SHARE OF a`)).WithArgs("6311").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := tx.GetAccountByCode(ctx, "6311", LockShare)
		return err
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryAccountHasLines(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectReadCommitted(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM journal_lines WHERE account_id=$1)`)).
		WithArgs(int64(12)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	var used bool
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		used, err = tx.AccountHasLines(ctx, 12)
		return err
	})
	require.NoError(t, err)
	assert.True(t, used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryTransitionRejectsUnknownTarget(t *testing.T) {
	repo, mock := newMockRepository(t)
	expectReadCommitted(mock)
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := tx.TransitionJournalStatus(ctx, 1, EntryStatusPosted, EntryStatusDraft, StatusChange{Actor: "ana"})
		return err
	})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryVoidTransition(t *testing.T) {
	repo, mock := newMockRepository(t)
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	expectReadCommitted(mock)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE journal_entries SET status=$3, voided_at=$4`)).
		WithArgs(int64(5), EntryStatusPosted, EntryStatusVoided, at, "ana", "duplicate invoice").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	var ok bool
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		ok, err = tx.TransitionJournalStatus(ctx, 5, EntryStatusPosted, EntryStatusVoided, StatusChange{Actor: "ana", At: at, Reason: "duplicate invoice"})
		return err
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListJournalEntriesBuildsFilter(t *testing.T) {
	repo, mock := newMockRepository(t)
	filter := JournalFilter{PeriodID: 4, Type: EntryTypeClosing, AccountCode: "5911"}.Normalize()

	expectReadCommitted(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE period_id=$1 AND type=$2 AND EXISTS`) + `.*` +
		regexp.QuoteMeta(`l.account_code=$3) ORDER BY date DESC, id DESC LIMIT $4 OFFSET $5`)).
		WithArgs(int64(4), EntryTypeClosing, "5911", 100, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	var entries []JournalEntry
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournalEntries(ctx, filter)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
