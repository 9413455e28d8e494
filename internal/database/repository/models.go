package repository

import "time"

// Account represents an account row.
type Account struct {
	ID          string
	Name        string
	Institution string
	AccountType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction represents a transaction row. Amounts are cents.
type Transaction struct {
	ID             string
	AccountID      string
	Date           time.Time
	AmountCents    int64
	RawDescription string
	MerchantID     *string
	Status         string
	SourceHash     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pending reports whether the transaction has not posted yet.
func (t Transaction) Pending() bool { return t.Status == "pending" }

// Merchant aggregates all raw-description variants of one real-world payee.
type Merchant struct {
	ID            string
	CanonicalName string
	Excluded      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MerchantAlias is a durable raw-string to merchant binding, never reassigned.
type MerchantAlias struct {
	RawName    string
	MerchantID string
	CreatedAt  time.Time
}

// Frequency values for recurring charges.
const (
	FrequencyWeekly    = "weekly"
	FrequencyBiweekly  = "biweekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyYearly    = "yearly"
)

// RecurringCharge represents one detected (merchant, frequency) billing relationship.
type RecurringCharge struct {
	ID                 string
	MerchantID         string
	Frequency          string
	Confidence         float64
	FirstAmountCents   int64
	CurrentAmountCents int64
	FirstSeenAt        time.Time
	LastSeenAt         time.Time
	TransactionCount   int
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PriceChangeEvent is one detected amount transition for a recurring charge.
// Rows are append-only, ordered by DetectedAt.
type PriceChangeEvent struct {
	ID                  string
	RecurringChargeID   string
	PreviousAmountCents int64
	NewAmountCents      int64
	ChangeAmountCents   int64
	ChangePercent       float64
	DetectedAt          time.Time
	CreatedAt           time.Time
}
