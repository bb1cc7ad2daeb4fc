package fx

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Repository persists the append-only rate log.
type Repository interface {
	InsertRate(ctx context.Context, rate Rate) (Rate, error)
	// LatestRate returns the newest quote for the pair dated on or before asOf.
	LatestRate(ctx context.Context, from, to string, asOf time.Time) (Rate, error)
	ListRates(ctx context.Context, from, to string, limit int) ([]Rate, error)
}

// Service is the exchange-rate service used by posting and the API.
type Service struct {
	repo   Repository
	side   RateSide
	logger *slog.Logger
}

// NewService constructs the service. An empty side selects SELL.
func NewService(repo Repository, side RateSide, logger *slog.Logger) *Service {
	if side == "" {
		side = SideSell
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, side: side, logger: logger}
}

// Side reports the configured rate side.
func (s *Service) Side() RateSide { return s.side }

// Record appends a quote. Existing quotes are never updated.
func (s *Service) Record(ctx context.Context, in RecordInput) (Rate, error) {
	if err := in.Validate(); err != nil {
		return Rate{}, err
	}
	rate, err := s.repo.InsertRate(ctx, Rate{
		ID:     uuid.New(),
		From:   in.From,
		To:     in.To,
		Buy:    in.Buy,
		Sell:   in.Sell,
		Date:   in.Date,
		Source: in.Source,
	})
	if err != nil {
		return Rate{}, err
	}
	s.logger.Info("exchange rate recorded",
		slog.String("pair", rate.From+"/"+rate.To),
		slog.String("date", rate.Date.Format(time.DateOnly)),
		slog.String("buy", rate.Buy.String()),
		slog.String("sell", rate.Sell.String()))
	return rate, nil
}

// LatestRate returns the newest quote dated on or before date. When only the
// opposite pair is quoted its inverse is returned.
func (s *Service) LatestRate(ctx context.Context, from, to string, date time.Time) (Rate, error) {
	from, err := NormalizeCurrency(from)
	if err != nil {
		return Rate{}, err
	}
	to, err = NormalizeCurrency(to)
	if err != nil {
		return Rate{}, err
	}
	if from == to {
		one := decimal.NewFromInt(1)
		return Rate{From: from, To: to, Buy: one, Sell: one, Date: date, Source: "PARITY"}, nil
	}
	rate, err := s.repo.LatestRate(ctx, from, to, date)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Rate{}, err
	}
	inverse, invErr := s.repo.LatestRate(ctx, to, from, date)
	if invErr != nil {
		if errors.Is(invErr, shared.ErrNotFound) {
			return Rate{}, shared.NotFoundf("no %s/%s rate on or before %s", from, to, date.Format(time.DateOnly))
		}
		return Rate{}, invErr
	}
	return inverse.Inverse(), nil
}

// Convert translates amount from one currency to another as of date using the
// configured side, rounded to currency precision.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, Rate, error) {
	rate, err := s.LatestRate(ctx, from, to, date)
	if err != nil {
		return decimal.Zero, Rate{}, err
	}
	return shared.Round2(amount.Mul(rate.Pick(s.side))), rate, nil
}

// History lists recent quotes for a pair, newest first.
func (s *Service) History(ctx context.Context, from, to string, limit int) ([]Rate, error) {
	from, err := NormalizeCurrency(from)
	if err != nil {
		return nil, err
	}
	if to, err = NormalizeCurrency(to); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListRates(ctx, from, to, limit)
}
