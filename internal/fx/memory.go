package fx

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// MemoryRepository keeps the rate log in process. Used by tests and the memory store driver.
type MemoryRepository struct {
	mu    sync.RWMutex
	rates []Rate
	now   func() time.Time
}

// NewMemoryRepository constructs an empty log.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

func (m *MemoryRepository) InsertRate(_ context.Context, rate Rate) (Rate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rate.CreatedAt = m.now().UTC()
	m.rates = append(m.rates, rate)
	return rate, nil
}

func (m *MemoryRepository) LatestRate(_ context.Context, from, to string, asOf time.Time) (Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  Rate
		found bool
	)
	// Later appends win ties on the same date.
	for _, r := range m.rates {
		if r.From != from || r.To != to || r.Date.After(asOf) {
			continue
		}
		if !found || !r.Date.Before(best.Date) {
			best, found = r, true
		}
	}
	if !found {
		return Rate{}, shared.NotFoundf("rate %s/%s", from, to)
	}
	return best, nil
}

func (m *MemoryRepository) ListRates(_ context.Context, from, to string, limit int) ([]Rate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Rate
	for _, r := range slices.Backward(m.rates) {
		if r.From == from && r.To == to {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b Rate) int { return b.Date.Compare(a.Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
