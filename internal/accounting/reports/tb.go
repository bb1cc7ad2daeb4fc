// Package reports derives grouped trial balances and financial statements
// from the posted movements of a period.
package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting"
)

// AccountBalance models one account with its aggregated period movements.
type AccountBalance struct {
	Code   string                 `json:"code"`
	Name   string                 `json:"name"`
	Type   accounting.AccountType `json:"type"`
	Debit  decimal.Decimal        `json:"debit"`
	Credit decimal.Decimal        `json:"credit"`
}

// Net is debit minus credit.
func (a AccountBalance) Net() decimal.Decimal {
	return a.Debit.Sub(a.Credit)
}

// BalancesFrom converts trial balance rows into account balances.
func BalancesFrom(rows []accounting.TrialBalanceRow) []AccountBalance {
	out := make([]AccountBalance, 0, len(rows))
	for _, row := range rows {
		out = append(out, AccountBalance{Code: row.AccountCode, Name: row.AccountName, Type: row.Type, Debit: row.Debit, Credit: row.Credit})
	}
	return out
}

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`
}

// TrialBalanceGroup aggregates the accounts of one account type.
type TrialBalanceGroup struct {
	Type     accounting.AccountType `json:"type"`
	Accounts []TrialBalanceAccount  `json:"accounts"`
	Debit    decimal.Decimal        `json:"debit"`
	Credit   decimal.Decimal        `json:"credit"`
}

// TrialBalance is the grouped presentation of a period's movements.
type TrialBalance struct {
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
}

var typeOrder = map[accounting.AccountType]int{
	accounting.AccountTypeAsset:     0,
	accounting.AccountTypeLiability: 1,
	accounting.AccountTypeEquity:    2,
	accounting.AccountTypeIncome:    3,
	accounting.AccountTypeExpense:   4,
	accounting.AccountTypeCost:      5,
	accounting.AccountTypeMemo:      6,
}

// BuildTrialBalance groups account balances by account type.
func BuildTrialBalance(accounts []AccountBalance) TrialBalance {
	groups := make(map[accounting.AccountType]*TrialBalanceGroup)
	for _, acc := range accounts {
		grp, ok := groups[acc.Type]
		if !ok {
			grp = &TrialBalanceGroup{Type: acc.Type, Debit: decimal.Zero, Credit: decimal.Zero}
			groups[acc.Type] = grp
		}
		grp.Accounts = append(grp.Accounts, TrialBalanceAccount{
			Code:    acc.Code,
			Name:    acc.Name,
			Debit:   acc.Debit,
			Credit:  acc.Credit,
			Balance: acc.Net(),
		})
		grp.Debit = grp.Debit.Add(acc.Debit)
		grp.Credit = grp.Credit.Add(acc.Credit)
	}

	result := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, grp := range groups {
		sort.Slice(grp.Accounts, func(i, j int) bool { return grp.Accounts[i].Code < grp.Accounts[j].Code })
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
	}
	sort.Slice(result.Groups, func(i, j int) bool { return typeOrder[result.Groups[i].Type] < typeOrder[result.Groups[j].Type] })
	return result
}
