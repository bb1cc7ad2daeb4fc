package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	appshared "github.com/odyssey-erp/ledger/internal/shared"
)

// Ledger creates, posts, voids and reverses journal entries.
type Ledger struct {
	repo RepositoryPort
	fx   effects
}

// NewLedger constructs the journal ledger.
func NewLedger(repo RepositoryPort, opts Options) *Ledger {
	return &Ledger{repo: repo, fx: effects{opts: opts.withDefaults()}}
}

// CreateEntry validates and persists a journal entry with all of its lines. The
// entry stays in draft unless in.Post is set.
func (l *Ledger) CreateEntry(ctx context.Context, in CreateEntryInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		l.fx.observe("entry.create", err)
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = l.createEntryTx(ctx, tx, in)
		return err
	})
	l.fx.observe("entry.create", err)
	if err != nil {
		return JournalEntry{}, err
	}
	l.fx.opts.Logger.Info("journal entry created",
		slog.Int64("entry_id", entry.ID),
		slog.String("entry_number", entry.Number),
		slog.Int64("period_id", entry.PeriodID),
		slog.String("status", string(entry.Status)),
		slog.String("source_module", entry.SourceModule))
	if entry.Status == EntryStatusPosted {
		l.afterPost(ctx, entry, in.CreatedBy)
	}
	return entry, nil
}

func (l *Ledger) createEntryTx(ctx context.Context, tx TxRepository, in CreateEntryInput) (JournalEntry, error) {
	if in.SourceModule != "" {
		existing, err := tx.FindEntryBySource(ctx, in.SourceModule, in.SourceID)
		if err == nil {
			return JournalEntry{}, &shared.DuplicateSourceError{Module: in.SourceModule, SourceID: in.SourceID, EntryID: existing.ID}
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return JournalEntry{}, err
		}
	}
	period, err := requireOpenTx(ctx, tx, in.PeriodID, in.Date)
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := l.resolveLines(ctx, tx, in.Lines)
	if err != nil {
		return JournalEntry{}, err
	}
	debit, credit := Totals(in.Lines)
	if !shared.Balanced(debit, credit, l.fx.opts.Epsilon) {
		return JournalEntry{}, &shared.UnbalancedError{Debit: debit, Credit: credit}
	}
	header := JournalEntry{
		Date:         DateOnly(in.Date),
		PeriodID:     period.ID,
		Description:  strings.TrimSpace(in.Description),
		Type:         in.Type,
		Status:       EntryStatusDraft,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		CreatedBy:    in.CreatedBy,
		ApprovedBy:   in.ApprovedBy,
		ReversalOf:   in.ReversalOf,
		TotalDebit:   debit,
		TotalCredit:  credit,
	}
	if in.Post {
		now := l.fx.opts.Now().UTC()
		header.Status = EntryStatusPosted
		header.PostedAt = &now
		if header.ApprovedBy == "" {
			header.ApprovedBy = in.CreatedBy
		}
	}
	return insertEntryTx(ctx, tx, period, header, lines)
}

// resolveLines maps line inputs onto postable accounts and rounds amounts.
func (l *Ledger) resolveLines(ctx context.Context, tx TxRepository, inputs []LineInput) ([]JournalLine, error) {
	accounts := make(map[string]Account, len(inputs))
	centers := make(map[int64]bool)
	lines := make([]JournalLine, 0, len(inputs))
	for idx, in := range inputs {
		code := strings.TrimSpace(in.AccountCode)
		account, ok := accounts[code]
		if !ok {
			var err error
			account, err = resolvePostable(ctx, tx, code, LockShare)
			if err != nil {
				return nil, err
			}
			accounts[code] = account
		}
		if in.CostCenterID != nil && !centers[*in.CostCenterID] {
			cc, err := tx.GetCostCenter(ctx, *in.CostCenterID)
			if errors.Is(err, shared.ErrNotFound) {
				return nil, shared.Validationf("line %d references unknown cost center %d", idx, *in.CostCenterID)
			}
			if err != nil {
				return nil, err
			}
			if !cc.IsActive {
				return nil, shared.Validationf("line %d references inactive cost center %s", idx, cc.Code)
			}
			centers[cc.ID] = true
		}
		lines = append(lines, JournalLine{
			LineNo:            idx + 1,
			AccountID:         account.ID,
			AccountCode:       account.Code,
			Debit:             shared.Round2(in.Debit),
			Credit:            shared.Round2(in.Credit),
			CostCenterID:      in.CostCenterID,
			DocumentReference: in.DocumentReference,
			Description:       in.Description,
		})
	}
	return lines, nil
}

// insertEntryTx allocates the entry number and writes header and lines.
func insertEntryTx(ctx context.Context, tx TxRepository, period Period, header JournalEntry, lines []JournalLine) (JournalEntry, error) {
	seq, err := tx.NextEntrySequence(ctx, period.Year)
	if err != nil {
		return JournalEntry{}, err
	}
	header.Number = FormatEntryNumber(period.Year, seq)
	inserted, err := tx.InsertJournalEntry(ctx, header)
	if err != nil {
		return JournalEntry{}, err
	}
	for i := range lines {
		lines[i].EntryID = inserted.ID
	}
	if err := tx.InsertJournalLines(ctx, inserted.ID, lines); err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines = lines
	return inserted, nil
}

// PostEntry publishes a draft entry after re-checking its period and balance.
func (l *Ledger) PostEntry(ctx context.Context, entryID int64, actor string) (JournalEntry, error) {
	if entryID == 0 {
		return JournalEntry{}, shared.Validationf("entry id required")
	}
	if strings.TrimSpace(actor) == "" {
		return JournalEntry{}, shared.Validationf("actor required")
	}
	var entry JournalEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusDraft {
			return fmt.Errorf("%w: entry %s is %s", shared.ErrInvalidStatus, current.Number, current.Status)
		}
		if _, err := requireOpenTx(ctx, tx, current.PeriodID, current.Date); err != nil {
			return err
		}
		if !shared.Balanced(current.TotalDebit, current.TotalCredit, l.fx.opts.Epsilon) {
			return &shared.UnbalancedError{Debit: current.TotalDebit, Credit: current.TotalCredit}
		}
		now := l.fx.opts.Now().UTC()
		ok, err := tx.TransitionJournalStatus(ctx, current.ID, EntryStatusDraft, EntryStatusPosted, StatusChange{Actor: actor, At: now})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: entry %s changed concurrently", shared.ErrInvalidStatus, current.Number)
		}
		current.Status = EntryStatusPosted
		current.PostedAt = &now
		if current.ApprovedBy == "" {
			current.ApprovedBy = actor
		}
		entry = current
		return nil
	})
	l.fx.observe("entry.post", err)
	if err != nil {
		return JournalEntry{}, err
	}
	l.fx.opts.Logger.Info("journal entry posted", slog.Int64("entry_id", entry.ID), slog.String("entry_number", entry.Number))
	l.afterPost(ctx, entry, actor)
	return entry, nil
}

func (l *Ledger) afterPost(ctx context.Context, entry JournalEntry, actor string) {
	l.fx.audit(ctx, actor, "journal.post", "journal_entry", entry.ID, map[string]any{
		"number":        entry.Number,
		"source_module": entry.SourceModule,
		"source_id":     entry.SourceID,
		"total":         entry.TotalDebit.StringFixed(2),
	})
	l.fx.publish(ctx, l.fx.entryEvent(appshared.EventJournalPosted, entry, actor))
	l.fx.invalidate(ctx)
}

// VoidEntry retires a posted entry from reporting. Amounts are never rewritten.
func (l *Ledger) VoidEntry(ctx context.Context, in VoidInput) (JournalEntry, error) {
	if in.EntryID == 0 {
		return JournalEntry{}, shared.Validationf("entry id required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return JournalEntry{}, shared.Validationf("void reason required")
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return JournalEntry{}, shared.Validationf("actor required")
	}
	var entry JournalEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalEntry(ctx, in.EntryID)
		if err != nil {
			return err
		}
		if current.Status != EntryStatusPosted {
			return fmt.Errorf("%w: only posted entries can be voided, %s is %s", shared.ErrInvalidStatus, current.Number, current.Status)
		}
		if current.Type == EntryTypeClosing {
			return fmt.Errorf("%w: closing entries cannot be voided", shared.ErrInvalidStatus)
		}
		reversals, err := tx.ListJournalEntries(ctx, JournalFilter{ReversalOf: current.ID, Status: EntryStatusPosted, Limit: 1})
		if err != nil {
			return err
		}
		if len(reversals) > 0 {
			return fmt.Errorf("%w: entry %s is already reversed by %s", shared.ErrInvalidStatus, current.Number, reversals[0].Number)
		}
		if _, err := requireOpenTx(ctx, tx, current.PeriodID, current.Date); err != nil {
			return err
		}
		now := l.fx.opts.Now().UTC()
		change := StatusChange{Actor: in.ActorID, At: now, Reason: strings.TrimSpace(in.Reason)}
		ok, err := tx.TransitionJournalStatus(ctx, current.ID, EntryStatusPosted, EntryStatusVoided, change)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: entry %s changed concurrently", shared.ErrInvalidStatus, current.Number)
		}
		current.Status = EntryStatusVoided
		current.VoidedBy = change.Actor
		current.VoidedAt = &now
		current.VoidReason = change.Reason
		entry = current
		return nil
	})
	l.fx.observe("entry.void", err)
	if err != nil {
		return JournalEntry{}, err
	}
	l.fx.opts.Logger.Info("journal entry voided", slog.Int64("entry_id", entry.ID), slog.String("entry_number", entry.Number))
	l.fx.audit(ctx, in.ActorID, "journal.void", "journal_entry", entry.ID, map[string]any{
		"number": entry.Number,
		"reason": entry.VoidReason,
	})
	l.fx.publish(ctx, l.fx.entryEvent(appshared.EventJournalVoided, entry, in.ActorID))
	l.fx.invalidate(ctx)
	return entry, nil
}

// ReverseEntry posts a new adjustment entry mirroring a posted entry. The original
// stays posted so both remain part of the audit trail.
func (l *Ledger) ReverseEntry(ctx context.Context, in ReverseInput) (JournalEntry, error) {
	if in.EntryID == 0 || in.PeriodID == 0 || in.Date.IsZero() {
		return JournalEntry{}, shared.Validationf("entry, period and date required")
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return JournalEntry{}, shared.Validationf("actor required")
	}
	var entry JournalEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetJournalEntry(ctx, in.EntryID)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return fmt.Errorf("%w: only posted entries can be reversed, %s is %s", shared.ErrInvalidStatus, original.Number, original.Status)
		}
		if original.Type == EntryTypeClosing {
			return fmt.Errorf("%w: closing entries cannot be reversed", shared.ErrInvalidStatus)
		}
		existing, err := tx.ListJournalEntries(ctx, JournalFilter{ReversalOf: original.ID, Status: EntryStatusPosted, Limit: 1})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: entry %s already reversed by %s", shared.ErrInvalidStatus, original.Number, existing[0].Number)
		}
		memo := strings.TrimSpace(in.Memo)
		if memo == "" {
			memo = "Reversal of " + original.Number
		}
		reversal := CreateEntryInput{
			PeriodID:    in.PeriodID,
			Date:        in.Date,
			Description: memo,
			Type:        EntryTypeAdjustment,
			CreatedBy:   in.ActorID,
			Post:        true,
			ReversalOf:  &original.ID,
			Lines:       make([]LineInput, 0, len(original.Lines)),
		}
		for _, line := range original.Lines {
			reversal.Lines = append(reversal.Lines, LineInput{
				AccountCode:       line.AccountCode,
				Debit:             line.Credit,
				Credit:            line.Debit,
				CostCenterID:      line.CostCenterID,
				DocumentReference: line.DocumentReference,
				Description:       line.Description,
			})
		}
		entry, err = l.createEntryTx(ctx, tx, reversal)
		return err
	})
	l.fx.observe("entry.reverse", err)
	if err != nil {
		return JournalEntry{}, err
	}
	l.fx.opts.Logger.Info("journal entry reversed", slog.Int64("entry_id", entry.ID), slog.Int64("reversal_of", in.EntryID))
	l.afterPost(ctx, entry, in.ActorID)
	return entry, nil
}

// GetEntry returns an entry with its lines.
func (l *Ledger) GetEntry(ctx context.Context, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetJournalEntry(ctx, entryID)
		return err
	})
	return entry, err
}

// ListEntries returns entry headers matching the filter, newest first.
func (l *Ledger) ListEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	filter = filter.Normalize()
	var entries []JournalEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListJournalEntries(ctx, filter)
		return err
	})
	return entries, err
}

// FindBySource returns the entry carrying the given source document.
func (l *Ledger) FindBySource(ctx context.Context, module, sourceID string) (JournalEntry, error) {
	if module == "" || sourceID == "" {
		return JournalEntry{}, shared.Validationf("source module and id required")
	}
	var entry JournalEntry
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.FindEntryBySource(ctx, module, sourceID)
		return err
	})
	return entry, err
}

// StatusChange carries the audit stamp of a status transition.
type StatusChange struct {
	Actor  string
	At     time.Time
	Reason string
}

// EntryBalanced reports whether stored totals agree within epsilon.
func EntryBalanced(entry JournalEntry, epsilon decimal.Decimal) bool {
	return shared.Balanced(entry.TotalDebit, entry.TotalCredit, epsilon)
}

// Movements sums posted lines matching filter. Voided and draft entries never count.
func (l *Ledger) Movements(ctx context.Context, filter MovementFilter) (Movement, error) {
	if err := filter.Validate(); err != nil {
		return Movement{}, err
	}
	var m Movement
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		m, err = tx.SumMovements(ctx, filter)
		return err
	})
	return m, err
}

