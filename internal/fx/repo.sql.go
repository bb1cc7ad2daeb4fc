package fx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// PGRepository stores rates in exchange_rates.
type PGRepository struct {
	q db.Querier
}

// NewPGRepository constructs the Postgres rate log.
func NewPGRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

const rateColumns = `id, from_currency, to_currency, buy_rate, sell_rate, rate_date, source, created_at FROM exchange_rates`

func scanRate(row pgx.Row) (Rate, error) {
	var r Rate
	err := row.Scan(&r.ID, &r.From, &r.To, &r.Buy, &r.Sell, &r.Date, &r.Source, &r.CreatedAt)
	return r, err
}

func (r *PGRepository) InsertRate(ctx context.Context, rate Rate) (Rate, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO exchange_rates (id, from_currency, to_currency, buy_rate, sell_rate, rate_date, source)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at`,
		rate.ID, rate.From, rate.To, rate.Buy, rate.Sell, rate.Date, rate.Source).Scan(&rate.CreatedAt)
	return rate, err
}

func (r *PGRepository) LatestRate(ctx context.Context, from, to string, asOf time.Time) (Rate, error) {
	rate, err := scanRate(r.q.QueryRow(ctx, `SELECT `+rateColumns+`
WHERE from_currency=$1 AND to_currency=$2 AND rate_date <= $3
ORDER BY rate_date DESC, created_at DESC LIMIT 1`, from, to, asOf))
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, shared.NotFoundf("rate %s/%s", from, to)
	}
	return rate, err
}

func (r *PGRepository) ListRates(ctx context.Context, from, to string, limit int) ([]Rate, error) {
	rows, err := r.q.Query(ctx, `SELECT `+rateColumns+`
WHERE from_currency=$1 AND to_currency=$2 ORDER BY rate_date DESC, created_at DESC LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rates []Rate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}
