package repository

import (
	"context"
	"database/sql"
)

// MerchantRepo handles merchants and their aliases.
type MerchantRepo struct {
	db *sql.DB
}

func NewMerchantRepo(db *sql.DB) *MerchantRepo { return &MerchantRepo{db: db} }

func (r *MerchantRepo) Insert(ctx context.Context, m Merchant) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO merchants(id, canonical_name, excluded, created_at, updated_at)
	VALUES(?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`, m.ID, m.CanonicalName, m.Excluded)
	return err
}

func (r *MerchantRepo) Get(ctx context.Context, id string) (*Merchant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, canonical_name, excluded, created_at, updated_at FROM merchants WHERE id = ?`, id)
	return scanMerchant(row)
}

// GetByCanonicalName returns the merchant holding the exact canonical name, if any.
func (r *MerchantRepo) GetByCanonicalName(ctx context.Context, name string) (*Merchant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, canonical_name, excluded, created_at, updated_at FROM merchants WHERE canonical_name = ?`, name)
	return scanMerchant(row)
}

// List returns merchants ordered by creation time then id, the scan order
// the resolver's similarity pass depends on.
func (r *MerchantRepo) List(ctx context.Context) ([]Merchant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, canonical_name, excluded, created_at, updated_at FROM merchants ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Merchant
	for rows.Next() {
		var m Merchant
		if err := rows.Scan(&m.ID, &m.CanonicalName, &m.Excluded, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MerchantRepo) SetExcluded(ctx context.Context, id string, excluded bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merchants SET excluded = ?, updated_at=CURRENT_TIMESTAMP WHERE id = ?`, excluded, id)
	return err
}

// GetAlias returns the merchant bound to rawName, or nil if the string has
// never been resolved.
func (r *MerchantRepo) GetAlias(ctx context.Context, rawName string) (*Merchant, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT m.id, m.canonical_name, m.excluded, m.created_at, m.updated_at
	FROM merchant_aliases a JOIN merchants m ON m.id = a.merchant_id
	WHERE a.raw_name = ?
	`, rawName)
	return scanMerchant(row)
}

// InsertAlias records raw_name -> merchant. The primary key on raw_name is
// the backstop against concurrent first-sight resolutions; callers must
// treat a conflict as "someone else resolved it first" and re-fetch.
func (r *MerchantRepo) InsertAlias(ctx context.Context, rawName, merchantID string) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO merchant_aliases(raw_name, merchant_id, created_at)
	VALUES(?, ?, CURRENT_TIMESTAMP);
	`, rawName, merchantID)
	return err
}

// CountAliases reports how many raw strings resolve to the merchant.
func (r *MerchantRepo) CountAliases(ctx context.Context, merchantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM merchant_aliases WHERE merchant_id = ?`, merchantID).Scan(&n)
	return n, err
}

// Aliases returns the raw strings bound to the merchant.
func (r *MerchantRepo) Aliases(ctx context.Context, merchantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT raw_name FROM merchant_aliases WHERE merchant_id = ? ORDER BY raw_name`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanMerchant(row *sql.Row) (*Merchant, error) {
	var m Merchant
	if err := row.Scan(&m.ID, &m.CanonicalName, &m.Excluded, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
