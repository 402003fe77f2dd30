// Package store is the persistence boundary of the trading core. The same
// contract is served by an in-process map-backed implementation and a
// Postgres implementation; the core logic is identical either way.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/exsim/exchange/internal/core"
)

// defaultTradeLimit caps Trades queries that pass a non-positive limit, the
// same for every implementation.
const defaultTradeLimit = 100

// Tx exposes the mutations available inside one atomic update. Either every
// write made through a Tx commits, or none do.
type Tx interface {
	// Balance reads the (user, asset) ledger entry, locking it for the
	// duration of the transaction. Missing entries read as zero.
	Balance(ctx context.Context, userID uuid.UUID, asset string) (core.Balance, error)
	PutBalance(ctx context.Context, userID uuid.UUID, asset string, bal core.Balance) error
	AppendJournal(ctx context.Context, entry core.JournalEntry) error
	AppendTrade(ctx context.Context, trade core.Trade) error
	// SaveOrder upserts an order record. Terminal orders stay around as
	// immutable history; open ones are reloaded into the book on startup.
	SaveOrder(ctx context.Context, order core.Order) error
}

// Store is the full persistence contract consumed by the order lifecycle
// manager.
type Store interface {
	// Update runs fn inside one transaction. fn is invoked at most once;
	// transient failures before fn runs are retried at this boundary and
	// surface as core.ErrStorageUnavailable once exhausted.
	Update(ctx context.Context, fn func(Tx) error) error

	Balances(ctx context.Context, userID uuid.UUID) (map[string]core.Balance, error)
	Order(ctx context.Context, id uuid.UUID) (core.Order, error)
	OpenOrders(ctx context.Context, ownerID uuid.UUID) ([]core.Order, error)
	Trades(ctx context.Context, symbol string, limit int) ([]core.Trade, error)

	// LoadOpenOrders returns every non-terminal order, used to rebuild the
	// in-memory books after a restart.
	LoadOpenOrders(ctx context.Context) ([]core.Order, error)

	Close()
}
