package budget

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// MemoryRepository keeps budgets in process. Used by tests and the memory store driver.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	budgets []Budget
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) InsertBudget(_ context.Context, b Budget) (Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	b.ID = m.nextID
	b.CreatedAt = time.Now().UTC()
	m.budgets = append(m.budgets, b)
	return b, nil
}

func (m *MemoryRepository) GetBudget(_ context.Context, id int64) (Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.budgets {
		if b.ID == id {
			return b, nil
		}
	}
	return Budget{}, shared.NotFoundf("budget %d", id)
}

func (m *MemoryRepository) ListBudgets(_ context.Context, year int, month *int) ([]Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Budget
	for _, b := range m.budgets {
		if b.Year != year {
			continue
		}
		if month != nil && (b.Month == nil || *b.Month != *month) {
			continue
		}
		out = append(out, b)
	}
	slices.SortStableFunc(out, func(a, b Budget) int { return strings.Compare(a.AccountCode, b.AccountCode) })
	return out, nil
}
