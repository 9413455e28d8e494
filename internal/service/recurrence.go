package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/subdrift/subdrift/internal/database/repository"
)

// Detection policy knobs. Stable constants, not runtime configuration.
const (
	minTransactions = 2
	minConfidence   = 0.5
	amountTolerance = 0.15
	consistencyMin  = 0.70
)

// freqBucket is one cadence hypothesis: a day-range the mean interval must
// fall into, and a tie-break weight favouring the common cadences.
type freqBucket struct {
	frequency string
	minDays   float64
	maxDays   float64
	weight    float64
}

var frequencyBuckets = []freqBucket{
	{repository.FrequencyWeekly, 5, 9, 1.0},
	{repository.FrequencyBiweekly, 12, 16, 1.0},
	{repository.FrequencyMonthly, 27, 35, 1.2},
	{repository.FrequencyQuarterly, 85, 100, 0.8},
	{repository.FrequencyYearly, 355, 375, 0.6},
}

// RecurringCandidate is one detected (merchant, frequency) relationship.
type RecurringCandidate struct {
	MerchantID         string
	Frequency          string
	Confidence         float64
	FirstAmountCents   int64
	CurrentAmountCents int64
	FirstSeenAt        time.Time
	LastSeenAt         time.Time
	TransactionCount   int
}

// DetectRecurring inspects resolved transactions and returns one candidate
// per merchant whose charge history looks like a subscription. Pending
// transactions and merchants with fewer than minTransactions posted charges
// are ignored. Output is ordered by merchant id for stable reruns.
func DetectRecurring(txs []repository.Transaction) []RecurringCandidate {
	groups := make(map[string][]repository.Transaction)
	for _, t := range txs {
		if t.Pending() || t.MerchantID == nil {
			continue
		}
		groups[*t.MerchantID] = append(groups[*t.MerchantID], t)
	}

	var out []RecurringCandidate
	for merchantID, group := range groups {
		if c, ok := detectGroup(merchantID, group); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out
}

func detectGroup(merchantID string, group []repository.Transaction) (RecurringCandidate, bool) {
	if len(group) < minTransactions {
		return RecurringCandidate{}, false
	}
	sort.Slice(group, func(i, j int) bool { return group[i].Date.Before(group[j].Date) })

	intervals := make([]float64, 0, len(group)-1)
	for i := 1; i < len(group); i++ {
		intervals = append(intervals, group[i].Date.Sub(group[i-1].Date).Hours()/24)
	}
	frequency, freqScore, ok := bestBucket(intervals)
	if !ok || freqScore < minConfidence {
		return RecurringCandidate{}, false
	}

	ratio := consistencyRatio(group)
	if ratio < consistencyMin {
		return RecurringCandidate{}, false
	}

	first, last := group[0], group[len(group)-1]
	return RecurringCandidate{
		MerchantID:         merchantID,
		Frequency:          frequency,
		Confidence:         math.Min(1, freqScore+0.2*ratio),
		FirstAmountCents:   first.AmountCents,
		CurrentAmountCents: last.AmountCents,
		FirstSeenAt:        first.Date,
		LastSeenAt:         last.Date,
		TransactionCount:   len(group),
	}, true
}

// bestBucket scores every bucket whose range contains the mean interval by
// (fraction of intervals inside the range) x weight and picks the highest.
func bestBucket(intervals []float64) (string, float64, bool) {
	if len(intervals) == 0 {
		return "", 0, false
	}
	var mean float64
	for _, d := range intervals {
		mean += d
	}
	mean /= float64(len(intervals))

	var best string
	var bestScore float64
	found := false
	for _, b := range frequencyBuckets {
		if mean < b.minDays || mean > b.maxDays {
			continue
		}
		inside := 0
		for _, d := range intervals {
			if d >= b.minDays && d <= b.maxDays {
				inside++
			}
		}
		score := float64(inside) / float64(len(intervals)) * b.weight
		if !found || score > bestScore {
			best, bestScore, found = b.frequency, score, true
		}
	}
	return best, bestScore, found
}

// consistencyRatio is the fraction of amounts within amountTolerance
// relative deviation of the mean amount. Recurring charges bill a
// materially stable amount each period; a merchant mixing one-off charge
// sizes fails here even when the cadence fits.
func consistencyRatio(group []repository.Transaction) float64 {
	var mean float64
	for _, t := range group {
		mean += float64(t.AmountCents)
	}
	mean /= float64(len(group))
	if mean == 0 {
		return 0
	}
	consistent := 0
	for _, t := range group {
		if math.Abs(float64(t.AmountCents)-mean)/math.Abs(mean) <= amountTolerance {
			consistent++
		}
	}
	return float64(consistent) / float64(len(group))
}

// RecurrenceService persists detection results.
type RecurrenceService struct {
	Transactions *repository.TransactionRepo
	Merchants    *repository.MerchantRepo
	Recurring    *repository.RecurringChargeRepo
}

// Run re-detects recurring charges over all resolved posted transactions.
// Upserts are keyed on (merchant, frequency) so reruns are idempotent;
// previously detected charges that no longer qualify are deactivated, not
// deleted, so their price history survives.
func (s *RecurrenceService) Run(ctx context.Context) (int, error) {
	txs, err := s.Transactions.ListResolved(ctx)
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}

	merchants, err := s.Merchants.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list merchants: %w", err)
	}
	excluded := make(map[string]bool, len(merchants))
	for _, m := range merchants {
		if m.Excluded {
			excluded[m.ID] = true
		}
	}

	kept := txs[:0]
	for _, t := range txs {
		if t.MerchantID != nil && excluded[*t.MerchantID] {
			continue
		}
		kept = append(kept, t)
	}

	candidates := DetectRecurring(kept)
	detected := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		detected[c.MerchantID+"|"+c.Frequency] = true
		rc := repository.RecurringCharge{
			ID:                 uuid.NewString(),
			MerchantID:         c.MerchantID,
			Frequency:          c.Frequency,
			Confidence:         c.Confidence,
			FirstAmountCents:   c.FirstAmountCents,
			CurrentAmountCents: c.CurrentAmountCents,
			FirstSeenAt:        c.FirstSeenAt,
			LastSeenAt:         c.LastSeenAt,
			TransactionCount:   c.TransactionCount,
			IsActive:           true,
		}
		if err := s.Recurring.Upsert(ctx, rc); err != nil {
			return 0, fmt.Errorf("upsert recurring charge for merchant %s: %w", c.MerchantID, err)
		}
	}

	existing, err := s.Recurring.List(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list recurring charges: %w", err)
	}
	for _, rc := range existing {
		if !detected[rc.MerchantID+"|"+rc.Frequency] {
			if err := s.Recurring.SetActive(ctx, rc.ID, false); err != nil {
				return 0, fmt.Errorf("deactivate recurring charge %s: %w", rc.ID, err)
			}
		}
	}

	return len(candidates), nil
}
