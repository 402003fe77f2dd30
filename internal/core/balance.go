package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is the per (user, asset) ledger entry. Both amounts are
// non-negative at all times.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

func ZeroBalance() Balance {
	return Balance{Available: decimal.Zero, Locked: decimal.Zero}
}

func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// JournalEntry records one balance mutation for audit. Append-only.
type JournalEntry struct {
	UserID       uuid.UUID       `json:"user_id"`
	Asset        string          `json:"asset"`
	OldAvailable decimal.Decimal `json:"old_available"`
	NewAvailable decimal.Decimal `json:"new_available"`
	OldLocked    decimal.Decimal `json:"old_locked"`
	NewLocked    decimal.Decimal `json:"new_locked"`
	Delta        decimal.Decimal `json:"delta"`
	Reason       string          `json:"reason"`
	Actor        string          `json:"actor"`
	At           time.Time       `json:"at"`
}
