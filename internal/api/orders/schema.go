package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PlaceOrderSchema struct {
	AccountId uuid.UUID        `json:"account_id" validate:"required"`
	Symbol    string           `json:"symbol" validate:"required"`
	Side      string           `json:"side" validate:"required,oneof=buy sell"`
	Kind      string           `json:"kind" validate:"required,oneof=limit market"`
	Price     *decimal.Decimal `json:"price"` // required for limit orders
	Quantity  decimal.Decimal  `json:"quantity" validate:"required"`
}

type CancelOrderSchema struct {
	AccountId uuid.UUID `json:"account_id" validate:"required"`
}
