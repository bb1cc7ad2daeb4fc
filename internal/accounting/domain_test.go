package accounting

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func validEntry() CreateEntryInput {
	return CreateEntryInput{
		PeriodID:    1,
		Date:        time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Description: "Manual accrual",
		Type:        EntryTypeAdjustment,
		CreatedBy:   "ana",
		Lines: []LineInput{
			{AccountCode: "6311", Debit: d("100")},
			{AccountCode: "4212", Credit: d("100")},
		},
	}
}

func TestCreateEntryInputValidate(t *testing.T) {
	cases := map[string]func(*CreateEntryInput){
		"missing period":      func(in *CreateEntryInput) { in.PeriodID = 0 },
		"missing creator":     func(in *CreateEntryInput) { in.CreatedBy = " " },
		"unknown type":        func(in *CreateEntryInput) { in.Type = "ACCRUAL" },
		"single line":         func(in *CreateEntryInput) { in.Lines = in.Lines[:1] },
		"both sides":          func(in *CreateEntryInput) { in.Lines[0].Credit = d("1") },
		"zero line":           func(in *CreateEntryInput) { in.Lines[0].Debit = decimal.Zero },
		"negative amount":     func(in *CreateEntryInput) { in.Lines[1].Credit = d("-100") },
		"source without id":   func(in *CreateEntryInput) { in.SourceModule = "INVOICE" },
		"blank account":       func(in *CreateEntryInput) { in.Lines[1].AccountCode = "" },
		"missing description": func(in *CreateEntryInput) { in.Description = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validEntry()
			in.Lines = append([]LineInput(nil), in.Lines...)
			mutate(&in)
			if err := in.Validate(); !errors.Is(err, shared.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if err := validEntry().Validate(); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}
}

func TestTotalsRoundLines(t *testing.T) {
	debit, credit := Totals([]LineInput{
		{Debit: d("10.005")},
		{Debit: d("0.004")},
		{Credit: d("10.01")},
	})
	if !debit.Equal(d("10.01")) || !credit.Equal(d("10.01")) {
		t.Fatalf("unexpected totals %s / %s", debit, credit)
	}
}

func TestFormatEntryNumber(t *testing.T) {
	if got := FormatEntryNumber(2026, 42); got != "ASIENTO-2026-000042" {
		t.Fatalf("unexpected number %s", got)
	}
}

func TestPeriodContains(t *testing.T) {
	feb := Period{Year: 2026, Month: 2}
	if !feb.Contains(time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)) {
		t.Fatal("last day of february should be inside")
	}
	if feb.Contains(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("march should be outside february")
	}
	annual := Period{Year: 2026, Month: AnnualCloseMonth}
	if !annual.Contains(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("annual period should accept december dates")
	}
	if annual.Contains(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("annual period should reject the following year")
	}
	if err := ValidatePeriodKey(2026, 14); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("month 14 accepted: %v", err)
	}
}

func TestNatureSigned(t *testing.T) {
	if got := NatureDebit.Signed(d("100"), d("30")); !got.Equal(d("70")) {
		t.Fatalf("debit nature: %s", got)
	}
	if got := NatureCredit.Signed(d("100"), d("30")); !got.Equal(d("-70")) {
		t.Fatalf("credit nature: %s", got)
	}
}

func TestClosingLinesNetTemporaryAccounts(t *testing.T) {
	result := Account{ID: 99, Code: "5911", Type: AccountTypeEquity}
	rows := []TrialBalanceRow{
		{AccountID: 1, AccountCode: "1212", Type: AccountTypeAsset, Debit: d("50000"), Credit: decimal.Zero},
		{AccountID: 2, AccountCode: "7011", Type: AccountTypeIncome, Debit: decimal.Zero, Credit: d("30000")},
		{AccountID: 3, AccountCode: "6311", Type: AccountTypeExpense, Debit: d("12000"), Credit: d("500")},
		{AccountID: 4, AccountCode: "6911", Type: AccountTypeCost, Debit: d("2500"), Credit: decimal.Zero},
		{AccountID: 5, AccountCode: "4212", Type: AccountTypeLiability, Debit: decimal.Zero, Credit: d("34000")},
	}
	lines := ClosingLines(rows, result)
	if len(lines) != 4 {
		t.Fatalf("expected 4 closing lines, got %d", len(lines))
	}
	debit, credit := decimal.Zero, decimal.Zero
	for i, line := range lines {
		if line.LineNo != i+1 {
			t.Fatalf("line %d numbered %d", i, line.LineNo)
		}
		if line.AccountCode == "1212" || line.AccountCode == "4212" {
			t.Fatalf("permanent account %s closed", line.AccountCode)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		t.Fatalf("closing lines unbalanced %s / %s", debit, credit)
	}
	last := lines[len(lines)-1]
	if last.AccountCode != "5911" || !last.Credit.Equal(d("16000")) {
		t.Fatalf("expected profit of 16000 credited to result, got %+v", last)
	}
}

func TestChartDescendantsStopsEarly(t *testing.T) {
	chart := NewChart([]Account{
		{Code: "10"}, {Code: "1011", ParentCode: "10"}, {Code: "101101", ParentCode: "1011"},
		{Code: "1041", ParentCode: "10"}, {Code: "12"},
	})
	var codes []string
	for account := range chart.Descendants("10") {
		codes = append(codes, account.Code)
	}
	want := []string{"1011", "101101", "1041"}
	if len(codes) != len(want) {
		t.Fatalf("unexpected descendants %v", codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("unexpected order %v", codes)
		}
	}
	count := 0
	for range chart.Descendants("10") {
		count++
		break
	}
	if count != 1 {
		t.Fatalf("iteration did not stop")
	}
	if tree := chart.Tree(); len(tree) != 2 || len(tree[0].Children) != 2 {
		t.Fatalf("unexpected tree shape %+v", tree)
	}
}
