package subledger

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// MemoryRepository keeps items in process. Used by tests and the memory store driver.
type MemoryRepository struct {
	mu       sync.Mutex
	items    map[uuid.UUID]Item
	order    []uuid.UUID
	payments map[uuid.UUID][]Payment
	now      func() time.Time
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: map[uuid.UUID]Item{}, payments: map[uuid.UUID][]Payment{}, now: time.Now}
}

func (m *MemoryRepository) InsertItem(_ context.Context, item Item) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.SourceModule != "" {
		for _, id := range m.order {
			existing := m.items[id]
			if existing.Kind == item.Kind && existing.SourceModule == item.SourceModule && existing.SourceID == item.SourceID {
				return existing, false, nil
			}
		}
	}
	now := m.now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	m.items[item.ID] = item
	m.order = append(m.order, item.ID)
	return item, true, nil
}

func (m *MemoryRepository) GetItem(_ context.Context, id uuid.UUID) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, shared.NotFoundf("subledger item %s", id)
	}
	return item, nil
}

func (m *MemoryRepository) ListItems(_ context.Context, filter ItemFilter) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, id := range m.order {
		item := m.items[id]
		if filter.Kind != "" && item.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && item.StatusAsOf(filter.AsOf) != filter.Status {
			continue
		}
		if filter.CounterpartID != "" && !strings.EqualFold(item.CounterpartID, filter.CounterpartID) {
			continue
		}
		out = append(out, item)
	}
	slices.SortStableFunc(out, func(a, b Item) int { return a.DueDate.Compare(b.DueDate) })
	if filter.Offset >= len(out) {
		return []Item{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListOpenItems(_ context.Context, kind Kind, asOf time.Time) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, id := range m.order {
		item := m.items[id]
		if item.Kind == kind && item.Open() && !item.IssueDate.After(asOf) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ApplyPayment(_ context.Context, payment Payment) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[payment.ItemID]
	if !ok {
		return Item{}, shared.NotFoundf("subledger item %s", payment.ItemID)
	}
	updated, err := pendingAfter(item, payment.Amount)
	if err != nil {
		return Item{}, err
	}
	now := m.now().UTC()
	updated.UpdatedAt = now
	payment.CreatedAt = now
	m.items[item.ID] = updated
	m.payments[item.ID] = append(m.payments[item.ID], payment)
	return updated, nil
}

func (m *MemoryRepository) ListPayments(_ context.Context, itemID uuid.UUID) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.payments[itemID]), nil
}

func (m *MemoryRepository) MarkUncollectible(_ context.Context, id uuid.UUID) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, shared.NotFoundf("subledger item %s", id)
	}
	if !item.Open() {
		return Item{}, shared.Validationf("item %s is %s", id, strings.ToLower(string(item.Status)))
	}
	item.Status = StatusUncollectible
	item.UpdatedAt = m.now().UTC()
	m.items[id] = item
	return item, nil
}
