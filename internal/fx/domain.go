package fx

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// RateSide selects which quote converts a foreign amount.
type RateSide string

const (
	SideBuy  RateSide = "BUY"
	SideSell RateSide = "SELL"
	SideMid  RateSide = "MID"
)

// ParseRateSide normalises a configured side. Empty selects SELL.
func ParseRateSide(v string) (RateSide, error) {
	switch side := RateSide(strings.ToUpper(strings.TrimSpace(v))); side {
	case "":
		return SideSell, nil
	case SideBuy, SideSell, SideMid:
		return side, nil
	default:
		return "", shared.Validationf("unknown rate side %q", v)
	}
}

// Rate is one immutable quote of the rate log.
type Rate struct {
	ID        uuid.UUID       `json:"id"`
	From      string          `json:"from_currency"`
	To        string          `json:"to_currency"`
	Buy       decimal.Decimal `json:"buy_rate"`
	Sell      decimal.Decimal `json:"sell_rate"`
	Date      time.Time       `json:"date"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

// Pick returns the quote for side.
func (r Rate) Pick(side RateSide) decimal.Decimal {
	switch side {
	case SideBuy:
		return r.Buy
	case SideMid:
		return r.Buy.Add(r.Sell).Div(decimal.NewFromInt(2))
	default:
		return r.Sell
	}
}

// Inverse derives the to->from quote. The buy side of the inverse is the
// reciprocal of the original sell side and vice versa.
func (r Rate) Inverse() Rate {
	one := decimal.NewFromInt(1)
	inv := r
	inv.From, inv.To = r.To, r.From
	inv.Buy = one.DivRound(r.Sell, 6)
	inv.Sell = one.DivRound(r.Buy, 6)
	return inv
}

// RecordInput registers a quote.
type RecordInput struct {
	From   string
	To     string
	Buy    decimal.Decimal
	Sell   decimal.Decimal
	Date   time.Time
	Source string
}

// Validate normalises currency codes and checks quote bounds.
func (in *RecordInput) Validate() error {
	from, err := NormalizeCurrency(in.From)
	if err != nil {
		return err
	}
	to, err := NormalizeCurrency(in.To)
	if err != nil {
		return err
	}
	if from == to {
		return shared.Validationf("rate pair must differ, got %s/%s", from, to)
	}
	if !in.Buy.IsPositive() || !in.Sell.IsPositive() {
		return shared.Validationf("buy and sell rates must be positive")
	}
	if in.Date.IsZero() {
		return shared.Validationf("rate date required")
	}
	if strings.TrimSpace(in.Source) == "" {
		in.Source = "MANUAL"
	}
	in.From, in.To = from, to
	in.Date = time.Date(in.Date.Year(), in.Date.Month(), in.Date.Day(), 0, 0, 0, 0, time.UTC)
	return nil
}

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", shared.Validationf("unknown currency %q", code)
	}
	return unit.String(), nil
}
