package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/subdrift/subdrift/internal/database/repository"
)

// SeedDefaults ensures a default import account exists for new databases.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB, accountName string) error {
	if accountName == "" {
		accountName = "Imported"
	}
	acctRepo := repository.NewAccountRepo(db)
	existing, err := acctRepo.List(ctx)
	if err == nil && len(existing) > 0 {
		return nil
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("acct:"+accountName)).String()
	return acctRepo.Upsert(ctx, repository.Account{
		ID:          id,
		Name:        accountName,
		Institution: accountName,
		AccountType: "checking",
	})
}
