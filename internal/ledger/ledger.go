// Package ledger holds the per-user available/locked balance discipline.
// Every mutation runs through a store transaction and leaves a journal entry
// naming its causal event, so any balance can be replayed from the audit log.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/exsim/exchange/internal/core"
	"github.com/exsim/exchange/internal/store"
)

const (
	ReasonDeposit      = "deposit"
	ReasonReserve      = "reserve"
	ReasonRelease      = "release"
	ReasonSettleDebit  = "settle_debit"
	ReasonSettleCredit = "settle_credit"
)

func journal(userID uuid.UUID, asset string, old, now core.Balance, reason, actor string) core.JournalEntry {
	return core.JournalEntry{
		UserID:       userID,
		Asset:        asset,
		OldAvailable: old.Available,
		NewAvailable: now.Available,
		OldLocked:    old.Locked,
		NewLocked:    now.Locked,
		Delta:        now.Total().Sub(old.Total()),
		Reason:       reason,
		Actor:        actor,
		At:           time.Now().UTC(),
	}
}

func write(ctx context.Context, tx store.Tx, userID uuid.UUID, asset string, old, now core.Balance, reason, actor string) error {
	if now.Available.IsNegative() || now.Locked.IsNegative() {
		return fmt.Errorf("%w: %s balance for user %s would go negative (%s/%s)",
			core.ErrLedgerDesync, asset, userID, now.Available, now.Locked)
	}
	if err := tx.PutBalance(ctx, userID, asset, now); err != nil {
		return err
	}
	return tx.AppendJournal(ctx, journal(userID, asset, old, now, reason, actor))
}

// Deposit credits available funds. Used by the account funding endpoint.
func Deposit(ctx context.Context, tx store.Tx, userID uuid.UUID, asset string, amount decimal.Decimal, actor string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit amount must be positive", core.ErrInvalidOrderParameters)
	}
	old, err := tx.Balance(ctx, userID, asset)
	if err != nil {
		return err
	}
	now := old
	now.Available = now.Available.Add(amount)
	return write(ctx, tx, userID, asset, old, now, ReasonDeposit, actor)
}

// Reserve moves amount from available to locked, guaranteeing it cannot be
// double-spent while an order is outstanding.
func Reserve(ctx context.Context, tx store.Tx, userID uuid.UUID, asset string, amount decimal.Decimal, actor string) error {
	old, err := tx.Balance(ctx, userID, asset)
	if err != nil {
		return err
	}
	if old.Available.LessThan(amount) {
		return fmt.Errorf("%w: need %s %s, have %s", core.ErrInsufficientBalance, amount, asset, old.Available)
	}
	now := core.Balance{
		Available: old.Available.Sub(amount),
		Locked:    old.Locked.Add(amount),
	}
	return write(ctx, tx, userID, asset, old, now, ReasonReserve, actor)
}

// Release moves amount from locked back to available, on cancellation or
// when refunding the untraded part of a reservation. Releasing more than is
// locked signals a matching/ledger desynchronization and fails loudly.
func Release(ctx context.Context, tx store.Tx, userID uuid.UUID, asset string, amount decimal.Decimal, actor string) error {
	if amount.IsZero() {
		return nil
	}
	old, err := tx.Balance(ctx, userID, asset)
	if err != nil {
		return err
	}
	if old.Locked.LessThan(amount) {
		return fmt.Errorf("%w: release %s %s exceeds locked %s for user %s",
			core.ErrLedgerDesync, amount, asset, old.Locked, userID)
	}
	now := core.Balance{
		Available: old.Available.Add(amount),
		Locked:    old.Locked.Sub(amount),
	}
	return write(ctx, tx, userID, asset, old, now, ReasonRelease, actor)
}

// Settle applies one trade to both counterparties: the buyer's locked quote
// reservation pays for base credited to their available balance, and
// symmetrically for the seller. Insufficient locked funds on either side
// abort the transaction with ErrLedgerDesync.
func Settle(ctx context.Context, tx store.Tx, trade core.Trade, baseAsset, quoteAsset string) error {
	notional := trade.Notional()
	actor := "trade:" + trade.ID.String()

	// buyer: locked quote down, available base up
	buyerQuote, err := tx.Balance(ctx, trade.BuyerID, quoteAsset)
	if err != nil {
		return err
	}
	if buyerQuote.Locked.LessThan(notional) {
		return fmt.Errorf("%w: buyer %s locked %s %s < notional %s",
			core.ErrLedgerDesync, trade.BuyerID, buyerQuote.Locked, quoteAsset, notional)
	}
	next := buyerQuote
	next.Locked = next.Locked.Sub(notional)
	if err := write(ctx, tx, trade.BuyerID, quoteAsset, buyerQuote, next, ReasonSettleDebit, actor); err != nil {
		return err
	}

	buyerBase, err := tx.Balance(ctx, trade.BuyerID, baseAsset)
	if err != nil {
		return err
	}
	next = buyerBase
	next.Available = next.Available.Add(trade.Quantity)
	if err := write(ctx, tx, trade.BuyerID, baseAsset, buyerBase, next, ReasonSettleCredit, actor); err != nil {
		return err
	}

	// seller: locked base down, available quote up
	sellerBase, err := tx.Balance(ctx, trade.SellerID, baseAsset)
	if err != nil {
		return err
	}
	if sellerBase.Locked.LessThan(trade.Quantity) {
		return fmt.Errorf("%w: seller %s locked %s %s < quantity %s",
			core.ErrLedgerDesync, trade.SellerID, sellerBase.Locked, baseAsset, trade.Quantity)
	}
	next = sellerBase
	next.Locked = next.Locked.Sub(trade.Quantity)
	if err := write(ctx, tx, trade.SellerID, baseAsset, sellerBase, next, ReasonSettleDebit, actor); err != nil {
		return err
	}

	sellerQuote, err := tx.Balance(ctx, trade.SellerID, quoteAsset)
	if err != nil {
		return err
	}
	next = sellerQuote
	next.Available = next.Available.Add(notional)
	return write(ctx, tx, trade.SellerID, quoteAsset, sellerQuote, next, ReasonSettleCredit, actor)
}
