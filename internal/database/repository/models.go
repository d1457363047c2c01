package repository

import "time"

// Transaction origins. Origin is set at insert time and never changes.
const (
	OriginManual = "manual"
	OriginBank   = "bank"
)

// Account represents an account row.
type Account struct {
	ID          string
	Name        string
	Institution string
	AccountType string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction represents a ledger entry. Amounts are integer minor currency
// units; fractional amounts never appear here.
type Transaction struct {
	ID          string
	AccountID   string
	ExternalID  *string
	Date        time.Time
	AmountCents int64
	Payee       string
	CategoryID  *string
	Note        *string
	Origin      string
	HasConflict bool
	SourceHash  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Resolution records how one conflict pair was settled.
type Resolution struct {
	ID         string
	PairID     string
	ManualID   string
	ImportedID string
	Action     string
	Score      float64
	ResolvedAt time.Time
}
