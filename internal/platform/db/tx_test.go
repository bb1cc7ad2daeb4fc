package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxOptionsRetriesSerializationFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	mock.ExpectBeginTx(opts)
	mock.ExpectRollback()
	mock.ExpectBeginTx(opts)
	mock.ExpectCommit()

	calls := 0
	err = WithTxOptions(context.Background(), mock, opts, func(pgx.Tx) error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: SerializationFailure}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxOptionsGivesUpAfterMaxAttempts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	for i := 0; i < maxTxAttempts; i++ {
		mock.ExpectBeginTx(opts)
		mock.ExpectRollback()
	}

	calls := 0
	err = WithTxOptions(context.Background(), mock, opts, func(pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: DeadlockDetected}
	})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, maxTxAttempts, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxDoesNotRetryOrdinaryErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectRollback()

	boom := errors.New("boom")
	calls := 0
	err = WithTx(context.Background(), mock, func(pgx.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: UniqueViolation, ConstraintName: "uq_accounts_code"}
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "uq_accounts_code"))
	assert.False(t, IsUniqueViolation(err, "uq_cost_centers_code"))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))
}
