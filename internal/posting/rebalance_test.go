package posting

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting"
	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

func TestRebalanceAbsorbsRoundingResidue(t *testing.T) {
	d := decimal.RequireFromString
	lines := rebalance([]accounting.LineInput{
		{AccountCode: "6311", Debit: d("33.33"), Credit: decimal.Zero},
		{AccountCode: "6361", Debit: d("33.34"), Credit: decimal.Zero},
		{AccountCode: "4212", Debit: decimal.Zero, Credit: d("66.68")},
	})
	assert.True(t, lines[1].Debit.Equal(d("33.35")), "largest debit absorbs the cent")
	assert.True(t, lines[0].Debit.Equal(d("33.33")))

	untouched := rebalance([]accounting.LineInput{
		{AccountCode: "6311", Debit: d("10"), Credit: decimal.Zero},
		{AccountCode: "4212", Debit: decimal.Zero, Credit: d("12")},
	})
	assert.True(t, untouched[0].Debit.Equal(d("10")), "real imbalance is left for the ledger")
}

func TestForeignManualLinesStayBalanced(t *testing.T) {
	d := decimal.RequireFromString
	doc := Document{Lines: []accounting.LineInput{
		{AccountCode: "6311", Debit: d("1.01"), Credit: decimal.Zero},
		{AccountCode: "6361", Debit: d("1.01"), Credit: decimal.Zero},
		{AccountCode: "4212", Debit: decimal.Zero, Credit: d("2.02")},
	}}
	rate := d("3.333")
	converted, err := doc.convert(func(v decimal.Decimal) (decimal.Decimal, error) { return v.Mul(rate).Round(2), nil })
	assert.NoError(t, err)
	debit, credit := accounting.Totals(converted.Lines)
	assert.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
	assert.True(t, doc.Lines[0].Debit.Equal(d("1.01")), "source lines are not mutated")
}

func TestForeignManualLinesUnbalancedAtSourceAreRejected(t *testing.T) {
	d := decimal.RequireFromString
	doc := Document{Lines: []accounting.LineInput{
		{AccountCode: "6311", Debit: d("300.00"), Credit: decimal.Zero},
		{AccountCode: "4212", Debit: decimal.Zero, Credit: d("299.99")},
	}}
	calls := 0
	_, err := doc.convert(func(v decimal.Decimal) (decimal.Decimal, error) {
		calls++
		return v.Mul(d("3.76")).Round(2), nil
	})
	var unbalanced *shared.UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.Debit.Equal(d("300")))
	assert.True(t, unbalanced.Credit.Equal(d("299.99")))
	assert.Zero(t, calls, "nothing is converted")
}
