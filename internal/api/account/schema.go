package account

import (
	"github.com/shopspring/decimal"
)

type DepositSchema struct {
	Asset  string           `json:"asset" validate:"required"`
	Amount *decimal.Decimal `json:"amount" validate:"required"`
}

type BalancesResponseSchema struct {
	AccountId string        `json:"account_id"`
	Balances  []BalanceView `json:"balances"`
}
