package testdata

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/subdrift/subdrift/internal/database/repository"
)

// Repos bundles repos used by Seed.
type Repos struct {
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
}

// Seed creates a sample account with a few synthetic charge histories:
// two monthly subscriptions (one with a mid-stream price bump), a weekly
// charge, and some one-off noise. Gives the TUI something to show before
// a real import.
func Seed(ctx context.Context, repos Repos) error {
	acct := repository.Account{ID: uuid.NewString(), Name: "Sample Checking", Institution: "Sample Bank", AccountType: "checking"}
	if err := repos.Accounts.Upsert(ctx, acct); err != nil {
		return err
	}

	now := time.Now().UTC().Truncate(24 * time.Hour)

	type series struct {
		desc   string
		every  int // days
		count  int
		cents  int64
		bumpAt int // index where the price changes, -1 for never
		bumpTo int64
	}
	for _, s := range []series{
		{desc: "NETFLIX.COM", every: 30, count: 8, cents: 1599, bumpAt: 5, bumpTo: 1799},
		{desc: "Spotify USA", every: 30, count: 6, cents: 1099, bumpAt: -1},
		{desc: "SQ *COFFEE CLUB #0042", every: 7, count: 10, cents: 650, bumpAt: -1},
		{desc: "HARDWARE STORE", every: 41, count: 3, cents: 8317, bumpAt: -1},
	} {
		start := now.AddDate(0, 0, -s.every*(s.count-1))
		for i := 0; i < s.count; i++ {
			cents := s.cents
			if s.bumpAt >= 0 && i >= s.bumpAt {
				cents = s.bumpTo
			}
			tx := repository.Transaction{
				ID:             uuid.NewString(),
				AccountID:      acct.ID,
				Date:           start.AddDate(0, 0, s.every*i),
				AmountCents:    cents,
				RawDescription: s.desc,
				Status:         "posted",
			}
			if err := repos.Transactions.Insert(ctx, tx); err != nil {
				return err
			}
		}
	}
	return nil
}
