package service

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

type testEnv struct {
	db        *sql.DB
	txRepo    *repository.TransactionRepo
	acctRepo  *repository.AccountRepo
	merchRepo *repository.MerchantRepo
	recurRepo *repository.RecurringChargeRepo
	eventRepo *repository.PriceChangeRepo
}

func setupTestDB(t *testing.T) (testEnv, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return testEnv{
		db:        db,
		txRepo:    repository.NewTransactionRepo(db),
		acctRepo:  repository.NewAccountRepo(db),
		merchRepo: repository.NewMerchantRepo(db),
		recurRepo: repository.NewRecurringChargeRepo(db),
		eventRepo: repository.NewPriceChangeRepo(db),
	}, ctx
}

func (e testEnv) account(t *testing.T, ctx context.Context) repository.Account {
	t.Helper()
	acct := repository.Account{ID: uuid.NewString(), Name: "Test", Institution: "Test Bank", AccountType: "checking"}
	require.NoError(t, e.acctRepo.Upsert(ctx, acct))
	return acct
}

func (e testEnv) merchant(t *testing.T, ctx context.Context, name string) repository.Merchant {
	t.Helper()
	m := repository.Merchant{ID: uuid.NewString(), CanonicalName: name}
	require.NoError(t, e.merchRepo.Insert(ctx, m))
	return m
}

// insertSeries stores count posted charges every `every` days starting at
// start, all at cents, for the given merchant.
func (e testEnv) insertSeries(t *testing.T, ctx context.Context, acctID string, merchantID *string, desc string, start time.Time, every, count int, cents int64) {
	t.Helper()
	for i := 0; i < count; i++ {
		tx := repository.Transaction{
			ID:             uuid.NewString(),
			AccountID:      acctID,
			Date:           start.AddDate(0, 0, every*i),
			AmountCents:    cents,
			RawDescription: desc,
			MerchantID:     merchantID,
			Status:         "posted",
		}
		require.NoError(t, e.txRepo.Insert(ctx, tx))
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func postedTx(merchantID string, date time.Time, cents int64) repository.Transaction {
	return repository.Transaction{
		ID:          uuid.NewString(),
		MerchantID:  &merchantID,
		Date:        date,
		AmountCents: cents,
		Status:      "posted",
	}
}
