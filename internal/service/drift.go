package service

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/subdrift/subdrift/internal/database"
	"github.com/subdrift/subdrift/internal/database/repository"
)

// priceChangeThresholdPercent filters float rounding noise, not genuine
// repricing: adjacent charges must move more than 1% to count.
const priceChangeThresholdPercent = 1.0

// DetectPriceChanges walks consecutive pairs of posted charges for the
// recurring charge's merchant in ascending date order and emits one event
// per significant amount transition.
func DetectPriceChanges(txs []repository.Transaction, charge repository.RecurringCharge) []repository.PriceChangeEvent {
	posted := make([]repository.Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Pending() {
			continue
		}
		posted = append(posted, t)
	}
	sort.Slice(posted, func(i, j int) bool { return posted[i].Date.Before(posted[j].Date) })

	var events []repository.PriceChangeEvent
	for i := 1; i < len(posted); i++ {
		prev, curr := posted[i-1], posted[i]
		change := curr.AmountCents - prev.AmountCents
		var pct float64
		if prev.AmountCents != 0 {
			pct = float64(change) / float64(prev.AmountCents) * 100
		}
		if math.Abs(pct) <= priceChangeThresholdPercent {
			continue
		}
		events = append(events, repository.PriceChangeEvent{
			ID:                  uuid.NewString(),
			RecurringChargeID:   charge.ID,
			PreviousAmountCents: prev.AmountCents,
			NewAmountCents:      curr.AmountCents,
			ChangeAmountCents:   change,
			ChangePercent:       pct,
			DetectedAt:          curr.Date,
		})
	}
	return events
}

// DriftMetrics summarizes how a recurring charge's amount moved between its
// first and most recent observation.
type DriftMetrics struct {
	TotalChangeCents   int64
	PercentChange      float64
	AnnualizedIncrease float64
	MonthsTracked      int
}

// CalculateDriftMetrics computes drift between the first and current amount.
//
// AnnualizedIncrease extrapolates the observed compound growth to a
// 12-month basis, so a fast one-month move reports a much larger figure
// than the same move spread over a year. Short tracking windows make it
// extreme; with a zero-month window or non-positive first amount every
// ratio metric degrades to 0 rather than faulting.
func CalculateDriftMetrics(firstCents, currentCents int64, firstDate, lastDate time.Time) DriftMetrics {
	m := DriftMetrics{
		TotalChangeCents: currentCents - firstCents,
		MonthsTracked:    wholeMonthsBetween(firstDate, lastDate),
	}
	if firstCents <= 0 {
		return m
	}
	m.PercentChange = float64(currentCents-firstCents) / float64(firstCents) * 100
	if m.MonthsTracked > 0 {
		ratio := float64(currentCents) / float64(firstCents)
		m.AnnualizedIncrease = (math.Pow(ratio, 12/float64(m.MonthsTracked)) - 1) * 100
	}
	return m
}

// wholeMonthsBetween counts complete calendar months from a to b.
func wholeMonthsBetween(a, b time.Time) int {
	if b.Before(a) {
		return 0
	}
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// DriftService appends price change events and advances recurring charges.
type DriftService struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Recurring    *repository.RecurringChargeRepo
	Events       *repository.PriceChangeRepo
}

// Run processes every active recurring charge. Each charge's new events and
// its current_amount/last_seen_at advance commit in one transaction; the
// unique key on (charge, detected_at) keeps reruns from re-inserting events.
func (s *DriftService) Run(ctx context.Context) error {
	charges, err := s.Recurring.List(ctx, true)
	if err != nil {
		return fmt.Errorf("list recurring charges: %w", err)
	}
	for _, charge := range charges {
		txs, err := s.Transactions.ListPostedByMerchant(ctx, charge.MerchantID)
		if err != nil {
			return fmt.Errorf("list charges for merchant %s: %w", charge.MerchantID, err)
		}
		if len(txs) == 0 {
			continue
		}
		events := DetectPriceChanges(txs, charge)
		last := txs[len(txs)-1]

		err = database.WithTx(s.DB, func(tx *sql.Tx) error {
			for _, e := range events {
				if err := s.Events.InsertTx(ctx, tx, e); err != nil {
					return fmt.Errorf("insert price change: %w", err)
				}
			}
			return s.Recurring.AdvanceTx(ctx, tx, charge.ID, last.AmountCents, last.Date)
		})
		if err != nil {
			return fmt.Errorf("commit drift for charge %s: %w", charge.ID, err)
		}
	}
	return nil
}
