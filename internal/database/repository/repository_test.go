package repository_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/subdrift/subdrift/internal/database"
	"github.com/subdrift/subdrift/internal/database/repository"
)

func setupDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, ctx
}

func seedAccount(t *testing.T, ctx context.Context, db *sql.DB) repository.Account {
	t.Helper()
	acct := repository.Account{ID: uuid.NewString(), Name: "Checking", Institution: "Bank", AccountType: "checking"}
	require.NoError(t, repository.NewAccountRepo(db).Upsert(ctx, acct))
	return acct
}

func seedMerchant(t *testing.T, ctx context.Context, db *sql.DB, name string) repository.Merchant {
	t.Helper()
	m := repository.Merchant{ID: uuid.NewString(), CanonicalName: name}
	require.NoError(t, repository.NewMerchantRepo(db).Insert(ctx, m))
	return m
}

func TestAccountUpsertIdempotent(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	repo := repository.NewAccountRepo(db)

	acct := repository.Account{ID: uuid.NewString(), Name: "Checking", Institution: "Bank", AccountType: "checking"}
	require.NoError(t, repo.Upsert(ctx, acct))
	acct.Name = "Joint Checking"
	require.NoError(t, repo.Upsert(ctx, acct))

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "Joint Checking", accounts[0].Name)
}

func TestTransactionFilters(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	acct := seedAccount(t, ctx, db)
	m := seedMerchant(t, ctx, db, "Netflix")
	repo := repository.NewTransactionRepo(db)

	insert := func(desc, status string, merchantID *string, d time.Time) {
		require.NoError(t, repo.Insert(ctx, repository.Transaction{
			ID: uuid.NewString(), AccountID: acct.ID, Date: d,
			AmountCents: 1599, RawDescription: desc, MerchantID: merchantID, Status: status,
		}))
	}
	insert("NETFLIX.COM", "posted", &m.ID, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	insert("NETFLIX.COM", "pending", &m.ID, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC))
	insert("MYSTERY CHARGE", "posted", nil, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))

	all, err := repo.List(ctx, repository.TransactionFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// date ascending
	require.Equal(t, "MYSTERY CHARGE", all[0].RawDescription)

	posted, err := repo.List(ctx, repository.TransactionFilters{Status: "posted"})
	require.NoError(t, err)
	require.Len(t, posted, 2)

	unresolved, err := repo.List(ctx, repository.TransactionFilters{Unresolved: true})
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	require.Nil(t, unresolved[0].MerchantID)

	found, err := repo.List(ctx, repository.TransactionFilters{Search: "netflix"})
	require.NoError(t, err)
	require.Len(t, found, 2)

	byMerchant, err := repo.ListPostedByMerchant(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, byMerchant, 1)
	require.False(t, byMerchant[0].Pending())
}

func TestTransactionSourceHashUnique(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	acct := seedAccount(t, ctx, db)
	repo := repository.NewTransactionRepo(db)

	hash := "abc123"
	tx := repository.Transaction{
		ID: uuid.NewString(), AccountID: acct.ID,
		Date: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), AmountCents: 1599,
		RawDescription: "NETFLIX.COM", Status: "posted", SourceHash: &hash,
	}
	require.NoError(t, repo.Insert(ctx, tx))
	tx.ID = uuid.NewString()
	err := repo.Insert(ctx, tx)
	require.ErrorContains(t, err, "UNIQUE")
}

func TestMerchantAliases(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	m := seedMerchant(t, ctx, db, "Netflix")
	repo := repository.NewMerchantRepo(db)

	require.NoError(t, repo.InsertAlias(ctx, "NETFLIX.COM", m.ID))
	require.NoError(t, repo.InsertAlias(ctx, "Netflix.com Los Gatos", m.ID))

	got, err := repo.GetAlias(ctx, "NETFLIX.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, m.ID, got.ID)

	miss, err := repo.GetAlias(ctx, "never seen")
	require.NoError(t, err)
	require.Nil(t, miss)

	n, err := repo.CountAliases(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// raw_name is the primary key
	err = repo.InsertAlias(ctx, "NETFLIX.COM", m.ID)
	require.ErrorContains(t, err, "UNIQUE")
}

func TestMerchantExcludedFlag(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	m := seedMerchant(t, ctx, db, "Coffee Club")
	repo := repository.NewMerchantRepo(db)

	require.NoError(t, repo.SetExcluded(ctx, m.ID, true))
	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, got.Excluded)
}

func TestRecurringChargeUpsert(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	m := seedMerchant(t, ctx, db, "Netflix")
	repo := repository.NewRecurringChargeRepo(db)

	c := repository.RecurringCharge{
		ID: uuid.NewString(), MerchantID: m.ID, Frequency: repository.FrequencyMonthly,
		Confidence: 0.9, FirstAmountCents: 1599, CurrentAmountCents: 1599,
		FirstSeenAt:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		LastSeenAt:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		TransactionCount: 3, IsActive: true,
	}
	require.NoError(t, repo.Upsert(ctx, c))

	// second upsert for the same (merchant, frequency) refreshes in place
	c2 := c
	c2.ID = uuid.NewString()
	c2.CurrentAmountCents = 1799
	c2.TransactionCount = 4
	require.NoError(t, repo.Upsert(ctx, c2))

	charges, err := repo.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	require.Equal(t, c.ID, charges[0].ID)
	require.Equal(t, int64(1799), charges[0].CurrentAmountCents)
	require.Equal(t, 4, charges[0].TransactionCount)

	require.NoError(t, repo.SetActive(ctx, c.ID, false))
	active, err := repo.List(ctx, true)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestPriceChangeDedupe(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	m := seedMerchant(t, ctx, db, "Netflix")
	rcRepo := repository.NewRecurringChargeRepo(db)
	pcRepo := repository.NewPriceChangeRepo(db)

	c := repository.RecurringCharge{
		ID: uuid.NewString(), MerchantID: m.ID, Frequency: repository.FrequencyMonthly,
		Confidence: 0.9, FirstAmountCents: 1599, CurrentAmountCents: 1799,
		FirstSeenAt:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		LastSeenAt:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		TransactionCount: 3, IsActive: true,
	}
	require.NoError(t, rcRepo.Upsert(ctx, c))

	e := repository.PriceChangeEvent{
		ID: uuid.NewString(), RecurringChargeID: c.ID,
		PreviousAmountCents: 1599, NewAmountCents: 1799,
		ChangeAmountCents: 200, ChangePercent: 12.51,
		DetectedAt: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	insert := func(ev repository.PriceChangeEvent) {
		require.NoError(t, database.WithTx(db, func(tx *sql.Tx) error {
			return pcRepo.InsertTx(ctx, tx, ev)
		}))
	}
	insert(e)
	e.ID = uuid.NewString()
	insert(e) // same (charge, detected_at): ignored

	events, err := pcRepo.ListForCharge(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCountByMerchant(t *testing.T) {
	t.Parallel()
	db, ctx := setupDB(t)
	acct := seedAccount(t, ctx, db)
	m := seedMerchant(t, ctx, db, "Spotify")
	repo := repository.NewTransactionRepo(db)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, repository.Transaction{
			ID: uuid.NewString(), AccountID: acct.ID,
			Date:        time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0),
			AmountCents: 999, RawDescription: "SPOTIFY USA", MerchantID: &m.ID, Status: "posted",
		}))
	}

	counts, err := repo.CountByMerchant(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.Equal(t, m.ID, counts[0].MerchantID)
	require.Equal(t, 3, counts[0].Count)
}
