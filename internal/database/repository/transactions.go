package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	Status     string
	AccountID  string
	MerchantID string
	Unresolved bool // only rows with no merchant assigned
	Search     string
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const txColumns = `id, account_id, date, amount, raw_description, merchant_id, status, source_hash, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, account_id, date, amount, raw_description, merchant_id, status, source_hash, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.AccountID, t.Date, t.AmountCents, t.RawDescription, t.MerchantID, t.Status, t.SourceHash)
	return err
}

func (r *TransactionRepo) SetMerchant(ctx context.Context, id string, merchantID *string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET merchant_id = ?, updated_at=CURRENT_TIMESTAMP WHERE id = ?`, merchantID, id)
	return err
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	var where []string
	var args []interface{}

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.MerchantID != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, f.MerchantID)
	}
	if f.Unresolved {
		where = append(where, "merchant_id IS NULL")
	}
	if f.Search != "" {
		where = append(where, "raw_description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := "SELECT " + txColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListPostedByMerchant returns posted charges for one merchant in ascending
// date order, the shape the recurrence and drift stages consume.
func (r *TransactionRepo) ListPostedByMerchant(ctx context.Context, merchantID string) ([]Transaction, error) {
	return r.List(ctx, TransactionFilters{Status: "posted", MerchantID: merchantID})
}

// ListResolved returns all posted transactions that have a merchant assigned.
func (r *TransactionRepo) ListResolved(ctx context.Context) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE status = 'posted' AND merchant_id IS NOT NULL ORDER BY date ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// CountByMerchant returns per-merchant transaction counts for the merchants view.
type MerchantCount struct {
	MerchantID string
	Count      int
	LastSeen   time.Time
}

func (r *TransactionRepo) CountByMerchant(ctx context.Context) ([]MerchantCount, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT merchant_id, COUNT(*), MAX(date)
	FROM transactions
	WHERE merchant_id IS NOT NULL
	GROUP BY merchant_id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MerchantCount
	for rows.Next() {
		var mc MerchantCount
		if err := rows.Scan(&mc.MerchantID, &mc.Count, &mc.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var merchant, source sql.NullString
	if err := row.Scan(&t.ID, &t.AccountID, &t.Date, &t.AmountCents,
		&t.RawDescription, &merchant, &t.Status, &source, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	if merchant.Valid {
		t.MerchantID = &merchant.String
	}
	if source.Valid {
		t.SourceHash = &source.String
	}
	return t, nil
}
