package repository

import (
	"context"
	"database/sql"
	"time"
)

// RecurringChargeRepo handles recurring charges.
type RecurringChargeRepo struct {
	db *sql.DB
}

func NewRecurringChargeRepo(db *sql.DB) *RecurringChargeRepo { return &RecurringChargeRepo{db: db} }

const rcColumns = `id, merchant_id, frequency, confidence, first_amount, current_amount, first_seen_at, last_seen_at, transaction_count, is_active, created_at, updated_at`

// Upsert inserts or refreshes the charge keyed on (merchant_id, frequency).
// Re-running detection on the same data never creates a duplicate row.
func (r *RecurringChargeRepo) Upsert(ctx context.Context, c RecurringCharge) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO recurring_charges(
	 id, merchant_id, frequency, confidence, first_amount, current_amount,
	 first_seen_at, last_seen_at, transaction_count, is_active, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(merchant_id, frequency) DO UPDATE SET
	 confidence=excluded.confidence,
	 first_amount=excluded.first_amount,
	 current_amount=excluded.current_amount,
	 first_seen_at=excluded.first_seen_at,
	 last_seen_at=excluded.last_seen_at,
	 transaction_count=excluded.transaction_count,
	 is_active=excluded.is_active,
	 updated_at=CURRENT_TIMESTAMP;
	`, c.ID, c.MerchantID, c.Frequency, c.Confidence, c.FirstAmountCents, c.CurrentAmountCents,
		c.FirstSeenAt, c.LastSeenAt, c.TransactionCount, c.IsActive)
	return err
}

func (r *RecurringChargeRepo) Get(ctx context.Context, id string) (*RecurringCharge, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+rcColumns+` FROM recurring_charges WHERE id = ?`, id)
	c, err := scanRecurring(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *RecurringChargeRepo) List(ctx context.Context, activeOnly bool) ([]RecurringCharge, error) {
	query := `SELECT ` + rcColumns + ` FROM recurring_charges`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY current_amount DESC, created_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecurringCharge
	for rows.Next() {
		c, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *RecurringChargeRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_charges SET is_active = ?, updated_at=CURRENT_TIMESTAMP WHERE id = ?`, active, id)
	return err
}

// AdvanceTx moves current_amount and last_seen_at forward inside the caller's
// transaction so the update commits together with new price change events.
func (r *RecurringChargeRepo) AdvanceTx(ctx context.Context, tx *sql.Tx, id string, currentCents int64, lastSeen time.Time) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE recurring_charges
	SET current_amount = ?, last_seen_at = ?, updated_at=CURRENT_TIMESTAMP
	WHERE id = ?
	`, currentCents, lastSeen, id)
	return err
}

func scanRecurring(row scanner) (RecurringCharge, error) {
	var c RecurringCharge
	if err := row.Scan(&c.ID, &c.MerchantID, &c.Frequency, &c.Confidence, &c.FirstAmountCents,
		&c.CurrentAmountCents, &c.FirstSeenAt, &c.LastSeenAt, &c.TransactionCount, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return RecurringCharge{}, err
	}
	return c, nil
}

// PriceChangeRepo handles the append-only price change event log.
type PriceChangeRepo struct {
	db *sql.DB
}

func NewPriceChangeRepo(db *sql.DB) *PriceChangeRepo { return &PriceChangeRepo{db: db} }

// InsertTx appends an event inside the caller's transaction. The unique key
// on (recurring_charge_id, detected_at) makes duplicate detection runs no-ops.
func (r *PriceChangeRepo) InsertTx(ctx context.Context, tx *sql.Tx, e PriceChangeEvent) error {
	_, err := tx.ExecContext(ctx, `
	INSERT OR IGNORE INTO price_change_events(
	 id, recurring_charge_id, previous_amount, new_amount, change_amount, change_percent, detected_at, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, e.ID, e.RecurringChargeID, e.PreviousAmountCents, e.NewAmountCents, e.ChangeAmountCents, e.ChangePercent, e.DetectedAt)
	return err
}

// ListForCharge returns events for one charge ordered by detection time.
func (r *PriceChangeRepo) ListForCharge(ctx context.Context, chargeID string) ([]PriceChangeEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, recurring_charge_id, previous_amount, new_amount, change_amount, change_percent, detected_at, created_at
	FROM price_change_events WHERE recurring_charge_id = ? ORDER BY detected_at ASC
	`, chargeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PriceChangeEvent
	for rows.Next() {
		var e PriceChangeEvent
		if err := rows.Scan(&e.ID, &e.RecurringChargeID, &e.PreviousAmountCents, &e.NewAmountCents,
			&e.ChangeAmountCents, &e.ChangePercent, &e.DetectedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
