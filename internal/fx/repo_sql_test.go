package fx

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

func TestPGRepositoryLatestRate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPGRepository(mock)
	asOf := day(2026, 2, 15)
	id := uuid.New()
	created := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	query := regexp.QuoteMeta(`WHERE from_currency=$1 AND to_currency=$2 AND rate_date <= $3`)
	mock.ExpectQuery(query).WithArgs("USD", "PEN", asOf).
		WillReturnRows(pgxmock.NewRows([]string{"id", "from_currency", "to_currency", "buy_rate", "sell_rate", "rate_date", "source", "created_at"}).
			AddRow(id.String(), "USD", "PEN", "3.72", "3.76", day(2026, 2, 10), "SBS", created))
	mock.ExpectQuery(query).WithArgs("GBP", "PEN", asOf).WillReturnError(pgx.ErrNoRows)

	rate, err := repo.LatestRate(context.Background(), "USD", "PEN", asOf)
	require.NoError(t, err)
	assert.Equal(t, id, rate.ID)
	assert.True(t, rate.Sell.Equal(dec("3.76")))

	_, err = repo.LatestRate(context.Background(), "GBP", "PEN", asOf)
	require.ErrorIs(t, err, shared.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
