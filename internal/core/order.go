package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side a taker matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Kind string

const (
	Limit  Kind = "limit"
	Market Kind = "market"
)

func (k Kind) Valid() bool {
	return k == Limit || k == Market
}

type Status string

const (
	Open            Status = "open"
	PartiallyFilled Status = "partially_filled"
	Filled          Status = "filled"
	Cancelled       Status = "cancelled"
)

// legalTransitions encodes the monotonic order lifecycle. Terminal states
// have no outgoing edges.
var legalTransitions = map[Status]map[Status]bool{
	Open: {
		PartiallyFilled: true,
		Filled:          true,
		Cancelled:       true,
	},
	PartiallyFilled: {
		PartiallyFilled: true,
		Filled:          true,
		Cancelled:       true,
	},
}

func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled
}

func (s Status) CanTransitionTo(next Status) bool {
	if s == next && !s.Terminal() {
		return true
	}
	return legalTransitions[s][next]
}

// Order is a single buy or sell instruction. While resident in a Book it is
// owned by that book; once it reaches a terminal status it is an immutable
// historical record.
type Order struct {
	ID        uuid.UUID       `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Kind      Kind            `json:"kind"`
	Price     decimal.Decimal `json:"price"` // zero for market orders
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Status    Status          `json:"status"`
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewOrder(ownerID uuid.UUID, symbol string, side Side, kind Kind, price, quantity decimal.Decimal, seq uint64) Order {
	return Order{
		ID:        uuid.New(),
		Symbol:    symbol,
		Side:      side,
		Kind:      kind,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
		OwnerID:   ownerID,
		Status:    Open,
		Seq:       seq,
		CreatedAt: time.Now().UTC(),
	}
}

func (o *Order) Filled() decimal.Decimal {
	return o.Quantity.Sub(o.Remaining)
}

// Transition enforces monotonic status transitions. A violation here is a bug
// in the matching or lifecycle code, never a user error.
func (o *Order) Transition(next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s for order %s", o.Status, next, o.ID)
	}
	o.Status = next
	return nil
}
