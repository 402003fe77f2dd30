package account

import (
	"github.com/shopspring/decimal"
)

// BalanceView is one asset row of an account's balance listing.
type BalanceView struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}
