package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
	AccountTypeCost      AccountType = "COST"
	AccountTypeMemo      AccountType = "MEMO"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome,
		AccountTypeExpense, AccountTypeCost, AccountTypeMemo:
		return true
	}
	return false
}

// Temporary reports whether balances of this type are netted into equity at close.
func (t AccountType) Temporary() bool {
	return t == AccountTypeIncome || t == AccountTypeExpense || t == AccountTypeCost
}

// Nature is the normal balance side of an account.
type Nature string

const (
	NatureDebit  Nature = "DEBIT"
	NatureCredit Nature = "CREDIT"
)

// Valid reports whether n is a known nature.
func (n Nature) Valid() bool {
	return n == NatureDebit || n == NatureCredit
}

// Signed returns the balance in the account's normal direction.
func (n Nature) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if n == NatureCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// Account models a chart of accounts node.
type Account struct {
	ID               int64       `json:"id"`
	Code             string      `json:"code"`
	Name             string      `json:"name"`
	Type             AccountType `json:"type"`
	ParentID         *int64      `json:"parent_id,omitempty"`
	ParentCode       string      `json:"parent_code,omitempty"`
	Level            int         `json:"level"`
	Nature           Nature      `json:"nature"`
	IsActive         bool        `json:"is_active"`
	AcceptsMovements bool        `json:"accepts_movements"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Postable reports whether journal lines may reference the account.
func (a Account) Postable() bool {
	return a.IsActive && a.AcceptsMovements
}

// CreateAccountInput describes a new chart node.
type CreateAccountInput struct {
	Code             string
	Name             string
	Type             AccountType
	ParentCode       string
	Nature           Nature
	AcceptsMovements bool
}

// Validate checks the request shape.
func (in CreateAccountInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return shared.Validationf("account code required")
	}
	if strings.ContainsAny(in.Code, " \t/") {
		return shared.Validationf("account code %q contains invalid characters", in.Code)
	}
	if strings.TrimSpace(in.Name) == "" {
		return shared.Validationf("account name required")
	}
	if !in.Type.Valid() {
		return shared.Validationf("unknown account type %q", in.Type)
	}
	if !in.Nature.Valid() {
		return shared.Validationf("unknown account nature %q", in.Nature)
	}
	if in.ParentCode == in.Code {
		return fmt.Errorf("%w: account %s cannot be its own parent", shared.ErrInvalidHierarchy, in.Code)
	}
	return nil
}

// CostCenter is a classification dimension for lines and budgets.
type CostCenter struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	ProjectID *int64    `json:"project_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateCostCenterInput describes a new cost center.
type CreateCostCenterInput struct {
	Code      string
	Name      string
	Type      string
	ProjectID *int64
}

// Validate checks the request shape.
func (in CreateCostCenterInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return shared.Validationf("cost center code and name required")
	}
	if strings.TrimSpace(in.Type) == "" {
		return shared.Validationf("cost center type required")
	}
	return nil
}

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
)

// AnnualCloseMonth is the adjustment period following December.
const AnnualCloseMonth = 13

// Period represents a fiscal month.
type Period struct {
	ID        int64        `json:"id"`
	Year      int          `json:"year"`
	Month     int          `json:"month"`
	Status    PeriodStatus `json:"status"`
	ClosedBy  string       `json:"closed_by,omitempty"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Code renders the period as YYYY-MM.
func (p Period) Code() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Bounds returns the first and last calendar day covered by the period. The annual
// adjustment period shares December's calendar.
func (p Period) Bounds() (time.Time, time.Time) {
	month := p.Month
	if month == AnnualCloseMonth {
		month = 12
	}
	start := time.Date(p.Year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// Contains reports whether date falls inside the period's calendar month.
func (p Period) Contains(date time.Time) bool {
	start, end := p.Bounds()
	day := DateOnly(date)
	return !day.Before(start) && !day.After(end)
}

// ValidatePeriodKey checks a year/month pair.
func ValidatePeriodKey(year, month int) error {
	if year < 1900 || year > 9999 {
		return shared.Validationf("year %d out of range", year)
	}
	if month < 1 || month > AnnualCloseMonth {
		return shared.Validationf("month %d out of range", month)
	}
	return nil
}

// EntryType classifies journal entries.
type EntryType string

const (
	EntryTypeOpening          EntryType = "OPENING"
	EntryTypeOperation        EntryType = "OPERATION"
	EntryTypeAdjustment       EntryType = "ADJUSTMENT"
	EntryTypeClosing          EntryType = "CLOSING"
	EntryTypeReclassification EntryType = "RECLASSIFICATION"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeOpening, EntryTypeOperation, EntryTypeAdjustment, EntryTypeClosing, EntryTypeReclassification:
		return true
	}
	return false
}

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
	EntryStatusVoided EntryStatus = "VOIDED"
)

// JournalEntry captures posting metadata.
type JournalEntry struct {
	ID           int64           `json:"id"`
	Number       string          `json:"entry_number"`
	Date         time.Time       `json:"date"`
	PeriodID     int64           `json:"period_id"`
	Description  string          `json:"description"`
	Type         EntryType       `json:"type"`
	Status       EntryStatus     `json:"status"`
	SourceModule string          `json:"source_module,omitempty"`
	SourceID     string          `json:"source_id,omitempty"`
	CreatedBy    string          `json:"created_by"`
	ApprovedBy   string          `json:"approved_by,omitempty"`
	PostedAt     *time.Time      `json:"posted_at,omitempty"`
	VoidedBy     string          `json:"voided_by,omitempty"`
	VoidedAt     *time.Time      `json:"voided_at,omitempty"`
	VoidReason   string          `json:"void_reason,omitempty"`
	ReversalOf   *int64          `json:"reversal_of,omitempty"`
	TotalDebit   decimal.Decimal `json:"total_debit"`
	TotalCredit  decimal.Decimal `json:"total_credit"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Lines        []JournalLine   `json:"lines,omitempty"`
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID                int64           `json:"id"`
	EntryID           int64           `json:"entry_id"`
	LineNo            int             `json:"line_no"`
	AccountID         int64           `json:"account_id"`
	AccountCode       string          `json:"account_code"`
	Debit             decimal.Decimal `json:"debit"`
	Credit            decimal.Decimal `json:"credit"`
	CostCenterID      *int64          `json:"cost_center_id,omitempty"`
	DocumentReference string          `json:"document_reference,omitempty"`
	Description       string          `json:"description,omitempty"`
}

// LineInput describes a journal line for an entry request.
type LineInput struct {
	AccountCode       string
	Debit             decimal.Decimal
	Credit            decimal.Decimal
	CostCenterID      *int64
	DocumentReference string
	Description       string
}

// CreateEntryInput groups fields required to create a journal entry.
type CreateEntryInput struct {
	PeriodID     int64
	Date         time.Time
	Description  string
	Type         EntryType
	SourceModule string
	SourceID     string
	CreatedBy    string
	ApprovedBy   string
	Lines        []LineInput
	// Post publishes the entry in the same transaction instead of leaving a draft.
	Post       bool
	ReversalOf *int64
}

// Validate ensures the request has a usable shape. Balance is checked by the ledger.
func (in CreateEntryInput) Validate() error {
	if in.PeriodID == 0 {
		return shared.Validationf("period required")
	}
	if in.Date.IsZero() {
		return shared.Validationf("entry date required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return shared.Validationf("description required")
	}
	if !in.Type.Valid() {
		return shared.Validationf("unknown entry type %q", in.Type)
	}
	if strings.TrimSpace(in.CreatedBy) == "" {
		return shared.Validationf("created_by required")
	}
	if (in.SourceModule == "") != (in.SourceID == "") {
		return shared.Validationf("source module and source id must be supplied together")
	}
	if len(in.Lines) < 2 {
		return shared.Validationf("journal requires at least two lines")
	}
	for idx, line := range in.Lines {
		if err := line.validate(idx); err != nil {
			return err
		}
	}
	return nil
}

func (l LineInput) validate(idx int) error {
	if strings.TrimSpace(l.AccountCode) == "" {
		return shared.Validationf("line %d missing account", idx)
	}
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return shared.Validationf("line %d negative amount", idx)
	}
	if l.Debit.IsPositive() == l.Credit.IsPositive() {
		return shared.Validationf("line %d must carry exactly one of debit or credit", idx)
	}
	return nil
}

// Totals sums the rounded debit and credit sides.
func Totals(lines []LineInput) (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range lines {
		debit = debit.Add(shared.Round2(line.Debit))
		credit = credit.Add(shared.Round2(line.Credit))
	}
	return debit, credit
}

// FormatEntryNumber renders the human readable sequential number.
func FormatEntryNumber(year int, seq int64) string {
	return fmt.Sprintf("ASIENTO-%d-%06d", year, seq)
}

// VoidInput wraps parameters for voiding.
type VoidInput struct {
	EntryID int64
	ActorID string
	Reason  string
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID  int64
	ActorID  string
	PeriodID int64
	Date     time.Time
	Memo     string
}

// JournalFilter narrows journal listings.
type JournalFilter struct {
	PeriodID     int64
	From         *time.Time
	To           *time.Time
	Type         EntryType
	Status       EntryStatus
	SourceModule string
	AccountCode  string
	ReversalOf   int64
	Limit        int
	Offset       int
}

// Normalize applies listing defaults.
func (f JournalFilter) Normalize() JournalFilter {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// TrialBalanceRow aggregates posted movements per account.
type TrialBalanceRow struct {
	AccountID   int64           `json:"account_id"`
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	Type        AccountType     `json:"type"`
	Nature      Nature          `json:"nature"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// Balance returns the row balance in its normal direction.
func (r TrialBalanceRow) Balance() decimal.Decimal {
	return r.Nature.Signed(r.Debit, r.Credit)
}

// TrialBalance summarises a period.
type TrialBalance struct {
	PeriodID    int64             `json:"period_id"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
}

// NewTrialBalance totals the rows.
func NewTrialBalance(periodID int64, rows []TrialBalanceRow) TrialBalance {
	tb := TrialBalance{PeriodID: periodID, Rows: rows, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, row := range rows {
		tb.TotalDebit = tb.TotalDebit.Add(row.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(row.Credit)
	}
	return tb
}

// CloseResult is returned by a successful period close.
type CloseResult struct {
	Period       Period       `json:"period"`
	ClosingEntry JournalEntry `json:"closing_entry"`
	TrialBalance TrialBalance `json:"trial_balance"`
}

// DateOnly truncates t to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MovementFilter scopes an aggregation of posted journal lines. Month zero
// covers the whole year including the annual adjustment period.
type MovementFilter struct {
	AccountIDs     []int64
	Year           int
	Month          int
	CostCenterID   *int64
	ProjectID      *int64
	ExcludeClosing bool
}

// Validate checks the filter shape.
func (f MovementFilter) Validate() error {
	if len(f.AccountIDs) == 0 {
		return shared.Validationf("at least one account required")
	}
	if f.Year < 1900 || f.Year > 9999 {
		return shared.Validationf("year %d out of range", f.Year)
	}
	if f.Month < 0 || f.Month > AnnualCloseMonth {
		return shared.Validationf("month %d out of range", f.Month)
	}
	return nil
}

// Movement is the debit and credit sum of matching posted lines.
type Movement struct {
	Debit  decimal.Decimal `json:"debit"`
	Credit decimal.Decimal `json:"credit"`
}

