package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates a malformed request.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("accounting: not found")
	// ErrInvalidHierarchy indicates a parent account is missing or cannot take children.
	ErrInvalidHierarchy = errors.New("accounting: invalid account hierarchy")
	// ErrDuplicateCode indicates the account or cost center code is taken.
	ErrDuplicateCode = errors.New("accounting: duplicate code")
	// ErrAccountNotPostable indicates the account is a summary or inactive account.
	ErrAccountNotPostable = errors.New("accounting: account does not accept postings")
	// ErrPeriodClosed indicates the period is closed or the date falls outside it.
	ErrPeriodClosed = errors.New("accounting: period is closed for posting")
	// ErrDuplicatePeriod indicates the year/month pair already exists.
	ErrDuplicatePeriod = errors.New("accounting: period already exists")
	// ErrAlreadyClosed indicates a second close attempt.
	ErrAlreadyClosed = errors.New("accounting: period already closed")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrDuplicateSource indicates the source document was already posted.
	ErrDuplicateSource = errors.New("accounting: source document already posted")
	// ErrOverpayment indicates a payment larger than the pending amount.
	ErrOverpayment = errors.New("accounting: payment exceeds pending amount")
	// ErrInvalidStatus indicates an entry status transition that is not allowed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
)

// Validationf builds an ErrValidation with detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an ErrNotFound with detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// UnbalancedError carries the offending totals.
type UnbalancedError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("%s: debit %s credit %s", ErrUnbalanced, e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

// Is matches ErrUnbalanced.
func (e *UnbalancedError) Is(target error) bool { return target == ErrUnbalanced }

// DuplicateSourceError identifies the entry that already carries the source document.
type DuplicateSourceError struct {
	Module   string
	SourceID string
	EntryID  int64
}

func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("%s: %s/%s is entry %d", ErrDuplicateSource, e.Module, e.SourceID, e.EntryID)
}

// Is matches ErrDuplicateSource.
func (e *DuplicateSourceError) Is(target error) bool { return target == ErrDuplicateSource }

// OverpaymentError carries the rejected amount.
type OverpaymentError struct {
	Amount  decimal.Decimal
	Pending decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("%s: amount %s pending %s", ErrOverpayment, e.Amount.StringFixed(2), e.Pending.StringFixed(2))
}

// Is matches ErrOverpayment.
func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }
