package core

import "errors"

var (
	// ErrInvalidOrderParameters rejects bad side/kind/price/quantity before
	// any mutation happens.
	ErrInvalidOrderParameters = errors.New("invalid order parameters")

	// ErrInsufficientBalance means the reservation failed; the book and the
	// ledger are untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrOrderNotFound  = errors.New("order not found")
	ErrNotCancellable = errors.New("order not cancellable")
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrNoLiquidity rejects a market order submitted against an empty
	// opposing book, before any funds are reserved.
	ErrNoLiquidity = errors.New("no liquidity for market order")

	// ErrLedgerDesync signals a matching-engine/ledger invariant violation.
	// It must abort the enclosing transaction and surface loudly, never be
	// healed by clamping.
	ErrLedgerDesync = errors.New("ledger desynchronization")

	// ErrStorageUnavailable is returned once the persistence boundary has
	// exhausted its bounded retries. The failed operation had no effect.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
