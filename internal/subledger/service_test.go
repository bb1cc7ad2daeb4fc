package subledger

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryRepository(), nil, WithClock(func() time.Time { return day(2026, 3, 1) }))
}

func receivable(number string, due time.Time, amount string) RecordInput {
	return RecordInput{
		Kind:           KindReceivable,
		CounterpartID:  "CLI-001",
		DocumentType:   "INVOICE",
		DocumentNumber: number,
		IssueDate:      due.AddDate(0, 0, -30),
		DueDate:        due,
		Amount:         dec(amount),
		Currency:       "PEN",
	}
}

func TestBucketBoundaries(t *testing.T) {
	cases := map[int]Bucket{
		-10: BucketCurrent, 0: BucketCurrent,
		1: Bucket1To30, 30: Bucket1To30,
		31: Bucket31To60, 59: Bucket31To60, 60: Bucket31To60,
		61: Bucket61To90, 90: Bucket61To90,
		91: BucketOver90, 400: BucketOver90,
	}
	for days, want := range cases {
		assert.Equal(t, want, BucketFor(days), "days=%d", days)
	}
	assert.Equal(t, 59, DaysPastDue(day(2026, 3, 1), day(2026, 1, 1)))
}

func TestAgingFiftyNineDaysFallsInThirtyOneToSixty(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, err := svc.RecordReceivable(ctx, receivable("F001-1", day(2026, 1, 1), "1000"))
	require.NoError(t, err)

	report, err := svc.AgingReport(ctx, day(2026, 3, 1))
	require.NoError(t, err)
	for _, bt := range report.Receivables.Buckets {
		if bt.Bucket == Bucket31To60 {
			require.Len(t, bt.Items, 1)
			assert.Equal(t, item.ID, bt.Items[0].ID)
			assert.True(t, bt.Amount.Equal(dec("1000")))
			continue
		}
		assert.Zero(t, bt.Count, "bucket %s", bt.Bucket)
	}
	assert.Equal(t, 0, report.Payables.Count)
}

func TestAgingPartitionsPendingSet(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 20; round++ {
		svc := newService(t)
		asOf := day(2026, 3, 1).AddDate(0, 0, rng.IntN(120)-60)
		open := map[string]decimal.Decimal{}
		for i := 0; i < 40; i++ {
			due := day(2026, 1, 1).AddDate(0, 0, rng.IntN(200)-50)
			amount := decimal.NewFromInt(int64(rng.IntN(5000) + 1))
			in := receivable(fmt.Sprintf("F%03d-%d", round, i), due, amount.String())
			if i%4 == 0 {
				in.Kind = KindPayable
			}
			item, _, err := svc.Record(ctx, in)
			require.NoError(t, err)
			switch i % 5 {
			case 1:
				item, err = svc.ApplyPayment(ctx, PaymentInput{ItemID: item.ID, Amount: amount})
				require.NoError(t, err)
			case 2:
				half := amount.Div(decimal.NewFromInt(2)).Floor()
				if half.IsPositive() {
					item, err = svc.ApplyPayment(ctx, PaymentInput{ItemID: item.ID, Amount: half})
					require.NoError(t, err)
				}
			}
			if item.Kind == KindReceivable && item.Open() && !item.IssueDate.After(asOf) {
				open[item.ID.String()] = item.PendingAmount
			}
		}

		report, err := svc.AgingReport(ctx, asOf)
		require.NoError(t, err)
		seen := map[string]bool{}
		total := decimal.Zero
		for _, bt := range report.Receivables.Buckets {
			for _, item := range bt.Items {
				require.False(t, seen[item.ID.String()], "item %s in two buckets", item.ID)
				seen[item.ID.String()] = true
				assert.Equal(t, bt.Bucket, BucketFor(DaysPastDue(asOf, item.DueDate)))
				total = total.Add(item.PendingAmount)
			}
		}
		assert.Len(t, seen, len(open))
		for id := range open {
			assert.True(t, seen[id], "item %s missing from aging", id)
		}
		assert.True(t, total.Equal(report.Receivables.Total))
	}
}

func TestApplyPaymentTransitions(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, err := svc.RecordReceivable(ctx, receivable("F001-2", day(2026, 3, 15), "1000"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)

	item, err = svc.ApplyPayment(ctx, PaymentInput{ItemID: item.ID, Amount: dec("400"), Reference: "OP-1", RecordedBy: "cajero"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, item.Status)
	assert.True(t, item.PendingAmount.Equal(dec("600")))

	_, err = svc.ApplyPayment(ctx, PaymentInput{ItemID: item.ID, Amount: dec("600.01")})
	var over *shared.OverpaymentError
	require.ErrorAs(t, err, &over)
	require.ErrorIs(t, err, shared.ErrOverpayment)
	assert.True(t, over.Pending.Equal(dec("600")))

	item, err = svc.ApplyPayment(ctx, PaymentInput{ItemID: item.ID, Amount: dec("600")})
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, item.Status)
	assert.True(t, item.PendingAmount.IsZero())

	_, err = svc.ApplyPayment(ctx, PaymentInput{ItemID: item.ID, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	payments, err := svc.Payments(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "OP-1", payments[0].Reference)
	assert.Equal(t, day(2026, 3, 1), payments[1].PaidAt)

	_, err = svc.ApplyPayment(ctx, PaymentInput{ItemID: item.ID, Amount: dec("-5")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStatusAsOfDerivesOverdue(t *testing.T) {
	item := Item{OriginalAmount: dec("100"), PendingAmount: dec("100"), Status: StatusPending, DueDate: day(2026, 2, 1)}
	assert.Equal(t, StatusPending, item.StatusAsOf(day(2026, 2, 1)))
	assert.Equal(t, StatusOverdue, item.StatusAsOf(day(2026, 2, 2)))

	item.PendingAmount = dec("40")
	assert.Equal(t, StatusPartial, item.StatusAsOf(day(2026, 5, 1)))
	item.PendingAmount = decimal.Zero
	assert.Equal(t, StatusSettled, item.StatusAsOf(day(2026, 5, 1)))
	item.Status = StatusUncollectible
	assert.Equal(t, StatusUncollectible, item.StatusAsOf(day(2026, 5, 1)))
}

func TestRecordIsIdempotentPerSource(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	in := receivable("F001-3", day(2026, 3, 10), "250")
	in.SourceModule, in.SourceID = "INVOICE", "F001-3"

	first, created, err := svc.Record(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := svc.Record(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	in.Kind = KindPayable
	third, created, err := svc.Record(ctx, in)
	require.NoError(t, err)
	assert.True(t, created, "kinds are independent")
	assert.NotEqual(t, first.ID, third.ID)
}

func TestWriteOffExcludesFromAging(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, err := svc.RecordReceivable(ctx, receivable("F001-4", day(2025, 10, 1), "900"))
	require.NoError(t, err)

	_, err = svc.WriteOff(ctx, item.ID, "controller", "")
	require.ErrorIs(t, err, shared.ErrValidation)

	written, err := svc.WriteOff(ctx, item.ID, "controller", "customer insolvent")
	require.NoError(t, err)
	assert.Equal(t, StatusUncollectible, written.Status)
	assert.True(t, written.PendingAmount.Equal(dec("900")))

	report, err := svc.AgingReport(ctx, day(2026, 3, 1))
	require.NoError(t, err)
	assert.Zero(t, report.Receivables.Count)

	_, err = svc.WriteOff(ctx, item.ID, "controller", "again")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordValidation(t *testing.T) {
	svc := newService(t)
	in := receivable("F001-5", day(2026, 3, 10), "0")
	_, _, err := svc.Record(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = receivable("F001-5", day(2026, 3, 10), "10")
	in.DueDate = in.IssueDate.AddDate(0, 0, -1)
	_, _, err = svc.Record(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrValidation)
}
