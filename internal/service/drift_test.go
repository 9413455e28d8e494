package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/subdrift/subdrift/internal/database/repository"
)

func TestCalculateDriftMetrics(t *testing.T) {
	t.Parallel()
	m := CalculateDriftMetrics(1599, 1799, day(2024, time.January, 15), day(2024, time.April, 15))
	require.Equal(t, int64(200), m.TotalChangeCents)
	require.Equal(t, 3, m.MonthsTracked)
	require.InDelta(t, 12.51, m.PercentChange, 0.01)
	// ((17.99/15.99)^(12/3) - 1) * 100
	require.InDelta(t, 63.9, m.AnnualizedIncrease, 0.1)
}

func TestCalculateDriftMetrics_DegenerateCases(t *testing.T) {
	t.Parallel()
	// non-positive first amount: every ratio metric is 0
	m := CalculateDriftMetrics(0, 1799, day(2024, time.January, 1), day(2024, time.June, 1))
	require.Equal(t, int64(1799), m.TotalChangeCents)
	require.Zero(t, m.PercentChange)
	require.Zero(t, m.AnnualizedIncrease)

	// zero-month window: annualization suppressed
	m = CalculateDriftMetrics(1599, 1799, day(2024, time.January, 1), day(2024, time.January, 20))
	require.Zero(t, m.MonthsTracked)
	require.Zero(t, m.AnnualizedIncrease)
	require.InDelta(t, 12.51, m.PercentChange, 0.01)
}

func TestCalculateDriftMetrics_ShortWindowIsExtreme(t *testing.T) {
	t.Parallel()
	// +5% over one month annualizes to ~80%, by design
	oneMonth := CalculateDriftMetrics(1000, 1050, day(2024, time.January, 1), day(2024, time.February, 1))
	year := CalculateDriftMetrics(1000, 1050, day(2024, time.January, 1), day(2025, time.January, 1))
	require.Greater(t, oneMonth.AnnualizedIncrease, 70.0)
	require.InDelta(t, 5.0, year.AnnualizedIncrease, 0.01)
}

func TestWholeMonthsBetween(t *testing.T) {
	t.Parallel()
	require.Equal(t, 3, wholeMonthsBetween(day(2024, time.January, 15), day(2024, time.April, 15)))
	require.Equal(t, 2, wholeMonthsBetween(day(2024, time.January, 15), day(2024, time.April, 14)))
	require.Equal(t, 0, wholeMonthsBetween(day(2024, time.April, 15), day(2024, time.January, 15)))
	require.Equal(t, 12, wholeMonthsBetween(day(2024, time.March, 31), day(2025, time.March, 31)))
	// day-of-month not yet reached
	require.Equal(t, 0, wholeMonthsBetween(day(2024, time.January, 31), day(2024, time.February, 28)))
}

func TestDetectPriceChanges(t *testing.T) {
	t.Parallel()
	charge := repository.RecurringCharge{ID: uuid.NewString()}
	id := uuid.NewString()
	txs := []repository.Transaction{
		postedTx(id, day(2024, time.January, 15), 1599),
		postedTx(id, day(2024, time.February, 14), 1599),
		postedTx(id, day(2024, time.March, 15), 1799),
		postedTx(id, day(2024, time.April, 14), 1799),
	}
	events := DetectPriceChanges(txs, charge)
	require.Len(t, events, 1)
	e := events[0]
	require.Equal(t, charge.ID, e.RecurringChargeID)
	require.Equal(t, int64(1599), e.PreviousAmountCents)
	require.Equal(t, int64(1799), e.NewAmountCents)
	require.Equal(t, int64(200), e.ChangeAmountCents)
	require.InDelta(t, 12.51, e.ChangePercent, 0.01)
	require.Equal(t, day(2024, time.March, 15), e.DetectedAt)
}

func TestDetectPriceChanges_BelowThreshold(t *testing.T) {
	t.Parallel()
	charge := repository.RecurringCharge{ID: uuid.NewString()}
	id := uuid.NewString()
	txs := []repository.Transaction{
		postedTx(id, day(2024, time.January, 1), 1000),
		postedTx(id, day(2024, time.February, 1), 1009), // +0.9%, noise
		postedTx(id, day(2024, time.March, 1), 1009),
	}
	require.Empty(t, DetectPriceChanges(txs, charge))
}

func TestDetectPriceChanges_ZeroPrevious(t *testing.T) {
	t.Parallel()
	charge := repository.RecurringCharge{ID: uuid.NewString()}
	id := uuid.NewString()
	txs := []repository.Transaction{
		postedTx(id, day(2024, time.January, 1), 0),
		postedTx(id, day(2024, time.February, 1), 1000),
	}
	// change_percent is defined as 0 when the previous amount is 0
	require.Empty(t, DetectPriceChanges(txs, charge))
}

func TestDriftService_RunIdempotent(t *testing.T) {
	t.Parallel()
	env, ctx := setupTestDB(t)
	acct := env.account(t, ctx)
	m := env.merchant(t, ctx, "Netflix")

	env.insertSeries(t, ctx, acct.ID, &m.ID, "NETFLIX.COM", day(2024, time.January, 15), 30, 2, 1599)
	env.insertSeries(t, ctx, acct.ID, &m.ID, "NETFLIX.COM", day(2024, time.March, 15), 30, 2, 1799)

	recurrence := &RecurrenceService{Transactions: env.txRepo, Merchants: env.merchRepo, Recurring: env.recurRepo}
	_, err := recurrence.Run(ctx)
	require.NoError(t, err)

	charges, err := env.recurRepo.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, charges, 1)

	drift := &DriftService{DB: env.db, Transactions: env.txRepo, Recurring: env.recurRepo, Events: env.eventRepo}
	require.NoError(t, drift.Run(ctx))
	require.NoError(t, drift.Run(ctx))

	events, err := env.eventRepo.ListForCharge(ctx, charges[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, int64(200), events[0].ChangeAmountCents)

	got, err := env.recurRepo.Get(ctx, charges[0].ID)
	require.NoError(t, err)
	require.Equal(t, int64(1799), got.CurrentAmountCents)
	require.Equal(t, day(2024, time.April, 14), got.LastSeenAt.UTC())
}
