package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/subdrift/subdrift/internal/database/repository"
)

// IngestService turns parsed bank export rows into stored transactions.
type IngestService struct {
	Transactions *repository.TransactionRepo
	Accounts     *repository.AccountRepo
	Resolver     *ResolverService

	accountCache map[string]repository.Account
}

// IngestResult summarizes one import run.
type IngestResult struct {
	Imported int
	Skipped  int
	Errors   []error
}

// ImportStatement parses and stores a CSV/TSV export. Row-level failures
// and merchant resolution failures are collected in Errors; a resolution
// failure still stores the transaction with a null merchant so it is not
// lost, it just stays out of recurrence detection until re-resolved.
func (s *IngestService) ImportStatement(ctx context.Context, r io.Reader, accountName string) (IngestResult, error) {
	res := IngestResult{}

	content, err := io.ReadAll(r)
	if err != nil {
		return res, fmt.Errorf("read statement: %w", err)
	}

	parsed := ParseStatement(string(content))
	res.Skipped += parsed.Skipped
	res.Errors = append(res.Errors, parsed.Errors...)

	acct, err := s.accountForName(ctx, accountName)
	if err != nil {
		return res, err
	}

	for _, row := range parsed.Transactions {
		var merchantID *string
		if id, rerr := s.Resolver.Resolve(ctx, row.Description); rerr != nil {
			res.Errors = append(res.Errors, fmt.Errorf("resolve %q: %w", row.Description, rerr))
		} else {
			merchantID = &id
		}

		t := repository.Transaction{
			ID:             uuid.NewString(),
			AccountID:      acct.ID,
			Date:           row.Date,
			AmountCents:    row.AmountCents,
			RawDescription: row.Description,
			MerchantID:     merchantID,
			Status:         "posted",
			SourceHash:     hashSource(acct.ID, row.Date.Format("2006-01-02"), fmt.Sprintf("%d", row.AmountCents), row.Description),
		}
		if err := s.Transactions.Insert(ctx, t); err != nil {
			// re-imports skip duplicates on the source hash
			if strings.Contains(err.Error(), "UNIQUE") {
				res.Skipped++
				continue
			}
			res.Errors = append(res.Errors, fmt.Errorf("insert %q: %w", row.Description, err))
			continue
		}
		res.Imported++
	}
	return res, nil
}

func hashSource(parts ...string) *string {
	joined := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(joined))
	h := fmt.Sprintf("%x", sum[:])
	return &h
}

func (s *IngestService) accountForName(ctx context.Context, name string) (repository.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repository.Account{}, errors.New("account name required")
	}
	if s.accountCache == nil {
		s.accountCache = make(map[string]repository.Account)
	}
	if acct, ok := s.accountCache[name]; ok {
		return acct, nil
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("acct:"+strings.ToLower(name))).String()
	acct := repository.Account{ID: id, Name: name, Institution: name, AccountType: "checking"}
	if err := s.Accounts.Upsert(ctx, acct); err != nil {
		return repository.Account{}, err
	}
	s.accountCache[name] = acct
	return acct, nil
}
