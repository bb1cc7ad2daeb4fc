// Package accountingtest provides an in-memory accounting store for tests.
package accountingtest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// Store implements accounting.RepositoryPort in memory. Transactions are
// serialised and a failed transaction restores the previous state.
type Store struct {
	mu    sync.Mutex
	data  *data
	fail  map[string]error
	clock func() time.Time
}

type data struct {
	nextID      int64
	accounts    map[int64]accounting.Account
	costCenters map[int64]accounting.CostCenter
	periods     map[int64]accounting.Period
	entries     map[int64]accounting.JournalEntry
	sequences   map[int]int64
	mappings    map[[2]string]mappings.AccountMapping
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		data: &data{
			accounts:    map[int64]accounting.Account{},
			costCenters: map[int64]accounting.CostCenter{},
			periods:     map[int64]accounting.Period{},
			entries:     map[int64]accounting.JournalEntry{},
			sequences:   map[int]int64{},
			mappings:    map[[2]string]mappings.AccountMapping{},
		},
		fail:  map[string]error{},
		clock: time.Now,
	}
}

func (d *data) clone() *data {
	out := &data{
		nextID:      d.nextID,
		accounts:    maps.Clone(d.accounts),
		costCenters: maps.Clone(d.costCenters),
		periods:     maps.Clone(d.periods),
		entries:     make(map[int64]accounting.JournalEntry, len(d.entries)),
		sequences:   maps.Clone(d.sequences),
		mappings:    maps.Clone(d.mappings),
	}
	for id, entry := range d.entries {
		entry.Lines = slices.Clone(entry.Lines)
		out.entries[id] = entry
	}
	return out
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

// FailOn makes the named repository method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

// WithTx runs fn against the store, rolling back every change when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(ctx, &tx{store: s, d: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Entries returns a copy of every stored entry ordered by id.
func (s *Store) Entries() []accounting.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounting.JournalEntry, 0, len(s.data.entries))
	for _, entry := range s.data.entries {
		entry.Lines = slices.Clone(entry.Lines)
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mappings exposes the store as a mappings repository.
func (s *Store) Mappings() mappings.Repository {
	return mappingRepo{store: s}
}

type tx struct {
	store *Store
	d     *data
}

func (t *tx) check(method string) error {
	if err := t.store.fail[method]; err != nil {
		return err
	}
	return nil
}

func (t *tx) InsertAccount(_ context.Context, account accounting.Account) (accounting.Account, error) {
	if err := t.check("InsertAccount"); err != nil {
		return accounting.Account{}, err
	}
	for _, existing := range t.d.accounts {
		if existing.Code == account.Code {
			return accounting.Account{}, fmt.Errorf("%w: account %s", shared.ErrDuplicateCode, account.Code)
		}
	}
	now := t.store.clock()
	account.ID = t.d.id()
	account.CreatedAt, account.UpdatedAt = now, now
	t.d.accounts[account.ID] = account
	return account, nil
}

func (t *tx) GetAccountByCode(_ context.Context, code string, _ accounting.LockMode) (accounting.Account, error) {
	for _, account := range t.d.accounts {
		if account.Code == code {
			return account, nil
		}
	}
	return accounting.Account{}, shared.NotFoundf("account %s", code)
}

func (t *tx) ListAccounts(context.Context) ([]accounting.Account, error) {
	out := slices.Collect(maps.Values(t.d.accounts))
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) SetAccountAcceptsMovements(_ context.Context, id int64, accepts bool) error {
	account, ok := t.d.accounts[id]
	if !ok {
		return shared.NotFoundf("account %d", id)
	}
	account.AcceptsMovements = accepts
	t.d.accounts[id] = account
	return nil
}

func (t *tx) SetAccountActive(_ context.Context, id int64, active bool) error {
	account, ok := t.d.accounts[id]
	if !ok {
		return shared.NotFoundf("account %d", id)
	}
	account.IsActive = active
	t.d.accounts[id] = account
	return nil
}

func (t *tx) AccountHasLines(_ context.Context, id int64) (bool, error) {
	for _, entry := range t.d.entries {
		for _, line := range entry.Lines {
			if line.AccountID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *tx) InsertCostCenter(_ context.Context, cc accounting.CostCenter) (accounting.CostCenter, error) {
	for _, existing := range t.d.costCenters {
		if existing.Code == cc.Code {
			return accounting.CostCenter{}, fmt.Errorf("%w: cost center %s", shared.ErrDuplicateCode, cc.Code)
		}
	}
	cc.ID = t.d.id()
	cc.CreatedAt = t.store.clock()
	t.d.costCenters[cc.ID] = cc
	return cc, nil
}

func (t *tx) GetCostCenter(_ context.Context, id int64) (accounting.CostCenter, error) {
	cc, ok := t.d.costCenters[id]
	if !ok {
		return accounting.CostCenter{}, shared.NotFoundf("cost center %d", id)
	}
	return cc, nil
}

func (t *tx) ListCostCenters(context.Context) ([]accounting.CostCenter, error) {
	out := slices.Collect(maps.Values(t.d.costCenters))
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *tx) InsertPeriod(_ context.Context, year, month int) (accounting.Period, error) {
	for _, p := range t.d.periods {
		if p.Year == year && p.Month == month {
			return accounting.Period{}, fmt.Errorf("%w: %s", shared.ErrDuplicatePeriod, p.Code())
		}
	}
	now := t.store.clock()
	p := accounting.Period{ID: t.d.id(), Year: year, Month: month, Status: accounting.PeriodStatusOpen, CreatedAt: now, UpdatedAt: now}
	t.d.periods[p.ID] = p
	return p, nil
}

func (t *tx) GetPeriod(_ context.Context, id int64, _ accounting.LockMode) (accounting.Period, error) {
	p, ok := t.d.periods[id]
	if !ok {
		return accounting.Period{}, shared.NotFoundf("period %d", id)
	}
	return p, nil
}

func (t *tx) FindPeriod(_ context.Context, year, month int) (accounting.Period, error) {
	for _, p := range t.d.periods {
		if p.Year == year && p.Month == month {
			return p, nil
		}
	}
	return accounting.Period{}, shared.NotFoundf("period %04d-%02d", year, month)
}

func (t *tx) ListPeriods(context.Context) ([]accounting.Period, error) {
	out := slices.Collect(maps.Values(t.d.periods))
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

func (t *tx) MarkPeriodClosed(_ context.Context, id int64, closedBy string, at time.Time) (bool, error) {
	if err := t.check("MarkPeriodClosed"); err != nil {
		return false, err
	}
	p, ok := t.d.periods[id]
	if !ok || p.Status != accounting.PeriodStatusOpen {
		return false, nil
	}
	p.Status = accounting.PeriodStatusClosed
	p.ClosedBy = closedBy
	p.ClosedAt = &at
	t.d.periods[id] = p
	return true, nil
}

func (t *tx) NextEntrySequence(_ context.Context, year int) (int64, error) {
	t.d.sequences[year]++
	return t.d.sequences[year], nil
}

func (t *tx) InsertJournalEntry(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	if err := t.check("InsertJournalEntry"); err != nil {
		return accounting.JournalEntry{}, err
	}
	if entry.SourceModule != "" {
		for _, existing := range t.d.entries {
			if existing.SourceModule == entry.SourceModule && existing.SourceID == entry.SourceID {
				return accounting.JournalEntry{}, &shared.DuplicateSourceError{Module: entry.SourceModule, SourceID: entry.SourceID, EntryID: existing.ID}
			}
		}
	}
	if !accounting.EntryBalanced(entry, decimal.New(1, -2)) {
		return accounting.JournalEntry{}, errors.New("accountingtest: ck_journal_entries_balanced violated")
	}
	now := t.store.clock()
	entry.ID = t.d.id()
	entry.CreatedAt, entry.UpdatedAt = now, now
	entry.Lines = nil
	t.d.entries[entry.ID] = entry
	return entry, nil
}

func (t *tx) InsertJournalLines(_ context.Context, entryID int64, lines []accounting.JournalLine) error {
	if err := t.check("InsertJournalLines"); err != nil {
		return err
	}
	entry, ok := t.d.entries[entryID]
	if !ok {
		return shared.NotFoundf("journal entry %d", entryID)
	}
	for i := range lines {
		if lines[i].Debit.IsPositive() && lines[i].Credit.IsPositive() {
			return errors.New("accountingtest: ck_journal_lines_one_side violated")
		}
		lines[i].ID = t.d.id()
		lines[i].EntryID = entryID
	}
	entry.Lines = append(entry.Lines, lines...)
	t.d.entries[entryID] = entry
	return nil
}

func (t *tx) GetJournalEntry(_ context.Context, id int64) (accounting.JournalEntry, error) {
	entry, ok := t.d.entries[id]
	if !ok {
		return accounting.JournalEntry{}, shared.NotFoundf("journal entry %d", id)
	}
	entry.Lines = slices.Clone(entry.Lines)
	return entry, nil
}

func (t *tx) FindEntryBySource(_ context.Context, module, sourceID string) (accounting.JournalEntry, error) {
	for _, entry := range t.d.entries {
		if entry.SourceModule == module && entry.SourceID == sourceID {
			entry.Lines = slices.Clone(entry.Lines)
			return entry, nil
		}
	}
	return accounting.JournalEntry{}, shared.NotFoundf("journal entry for %s/%s", module, sourceID)
}

func (t *tx) TransitionJournalStatus(_ context.Context, id int64, from, to accounting.EntryStatus, change accounting.StatusChange) (bool, error) {
	entry, ok := t.d.entries[id]
	if !ok || entry.Status != from {
		return false, nil
	}
	entry.Status = to
	at := change.At
	switch to {
	case accounting.EntryStatusPosted:
		entry.PostedAt = &at
		if entry.ApprovedBy == "" {
			entry.ApprovedBy = change.Actor
		}
	case accounting.EntryStatusVoided:
		entry.VoidedAt = &at
		entry.VoidedBy = change.Actor
		entry.VoidReason = change.Reason
	}
	entry.UpdatedAt = at
	t.d.entries[id] = entry
	return true, nil
}

func (t *tx) ListJournalEntries(_ context.Context, f accounting.JournalFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, entry := range t.d.entries {
		if !matches(entry, f) {
			continue
		}
		entry.Lines = nil
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(entry accounting.JournalEntry, f accounting.JournalFilter) bool {
	switch {
	case f.PeriodID != 0 && entry.PeriodID != f.PeriodID,
		f.From != nil && entry.Date.Before(*f.From),
		f.To != nil && entry.Date.After(*f.To),
		f.Type != "" && entry.Type != f.Type,
		f.Status != "" && entry.Status != f.Status,
		f.SourceModule != "" && entry.SourceModule != f.SourceModule,
		f.ReversalOf != 0 && (entry.ReversalOf == nil || *entry.ReversalOf != f.ReversalOf):
		return false
	}
	if f.AccountCode == "" {
		return true
	}
	for _, line := range entry.Lines {
		if line.AccountCode == f.AccountCode {
			return true
		}
	}
	return false
}

func (t *tx) PeriodTrialBalance(_ context.Context, periodID int64) ([]accounting.TrialBalanceRow, error) {
	rows := map[int64]*accounting.TrialBalanceRow{}
	for _, entry := range t.d.entries {
		if entry.PeriodID != periodID || entry.Status != accounting.EntryStatusPosted {
			continue
		}
		for _, line := range entry.Lines {
			row, ok := rows[line.AccountID]
			if !ok {
				account := t.d.accounts[line.AccountID]
				row = &accounting.TrialBalanceRow{
					AccountID:   account.ID,
					AccountCode: account.Code,
					AccountName: account.Name,
					Type:        account.Type,
					Nature:      account.Nature,
					Debit:       decimal.Zero,
					Credit:      decimal.Zero,
				}
				rows[line.AccountID] = row
			}
			row.Debit = row.Debit.Add(line.Debit)
			row.Credit = row.Credit.Add(line.Credit)
		}
	}
	out := make([]accounting.TrialBalanceRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountCode < out[j].AccountCode })
	return out, nil
}

func (t *tx) SumMovements(_ context.Context, filter accounting.MovementFilter) (accounting.Movement, error) {
	m := accounting.Movement{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, entry := range t.d.entries {
		if entry.Status != accounting.EntryStatusPosted || (filter.ExcludeClosing && entry.Type == accounting.EntryTypeClosing) {
			continue
		}
		period := t.d.periods[entry.PeriodID]
		if period.Year != filter.Year || (filter.Month != 0 && period.Month != filter.Month) {
			continue
		}
		for _, line := range entry.Lines {
			if !slices.Contains(filter.AccountIDs, line.AccountID) {
				continue
			}
			if filter.CostCenterID != nil && (line.CostCenterID == nil || *line.CostCenterID != *filter.CostCenterID) {
				continue
			}
			if filter.ProjectID != nil {
				if line.CostCenterID == nil {
					continue
				}
				cc := t.d.costCenters[*line.CostCenterID]
				if cc.ProjectID == nil || *cc.ProjectID != *filter.ProjectID {
					continue
				}
			}
			m.Debit = m.Debit.Add(line.Debit)
			m.Credit = m.Credit.Add(line.Credit)
		}
	}
	return m, nil
}

type mappingRepo struct {
	store *Store
}

func (m mappingRepo) Get(_ context.Context, module, key string) (mappings.AccountMapping, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	module, key = mappings.Normalize(module, key)
	mapping, ok := m.store.data.mappings[[2]string{module, key}]
	if !ok {
		return mappings.AccountMapping{}, shared.NotFoundf("account mapping %s/%s", module, key)
	}
	return mapping, nil
}

func (m mappingRepo) Upsert(_ context.Context, mapping mappings.AccountMapping) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	mapping.Module, mapping.Key = mappings.Normalize(mapping.Module, mapping.Key)
	now := m.store.clock()
	if existing, ok := m.store.data.mappings[[2]string{mapping.Module, mapping.Key}]; ok {
		mapping.CreatedAt = existing.CreatedAt
	} else {
		mapping.CreatedAt = now
	}
	mapping.UpdatedAt = now
	m.store.data.mappings[[2]string{mapping.Module, mapping.Key}] = mapping
	return nil
}

func (m mappingRepo) List(context.Context) ([]mappings.AccountMapping, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	out := slices.Collect(maps.Values(m.store.data.mappings))
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}
