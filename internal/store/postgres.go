package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/exsim/exchange/internal/core"
)

const (
	beginAttempts = 3
	beginBackoff  = 50 * time.Millisecond
)

// Postgres backs the Store contract with pgx transactions. Balance rows are
// locked with SELECT ... FOR UPDATE so concurrent updates for one user
// serialize inside the database.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, log *zap.Logger) *Postgres {
	return &Postgres{pool: pool, log: log}
}

type pgTx struct {
	tx pgx.Tx
}

func (p *pgTx) Balance(ctx context.Context, userID uuid.UUID, asset string) (core.Balance, error) {
	var bal core.Balance
	err := p.tx.QueryRow(ctx,
		"SELECT available, locked FROM balances WHERE user_id = $1 AND asset = $2 FOR UPDATE",
		userID, asset,
	).Scan(&bal.Available, &bal.Locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ZeroBalance(), nil
	}
	if err != nil {
		return core.Balance{}, fmt.Errorf("read balance: %w", err)
	}
	return bal, nil
}

func (p *pgTx) PutBalance(ctx context.Context, userID uuid.UUID, asset string, bal core.Balance) error {
	_, err := p.tx.Exec(ctx,
		`INSERT INTO balances (user_id, asset, available, locked)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, asset)
		 DO UPDATE SET available = EXCLUDED.available, locked = EXCLUDED.locked`,
		userID, asset, bal.Available, bal.Locked,
	)
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

func (p *pgTx) AppendJournal(ctx context.Context, entry core.JournalEntry) error {
	_, err := p.tx.Exec(ctx,
		`INSERT INTO balance_journal
		 (user_id, asset, old_available, new_available, old_locked, new_locked, delta, reason, actor, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.UserID, entry.Asset,
		entry.OldAvailable, entry.NewAvailable,
		entry.OldLocked, entry.NewLocked,
		entry.Delta, entry.Reason, entry.Actor, entry.At,
	)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func (p *pgTx) AppendTrade(ctx context.Context, trade core.Trade) error {
	_, err := p.tx.Exec(ctx,
		`INSERT INTO trades
		 (id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id, taker_side, price, quantity, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		trade.ID, trade.Symbol,
		trade.BuyOrderID, trade.SellOrderID,
		trade.BuyerID, trade.SellerID,
		trade.TakerSide, trade.Price, trade.Quantity, trade.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

func (p *pgTx) SaveOrder(ctx context.Context, order core.Order) error {
	_, err := p.tx.Exec(ctx,
		`INSERT INTO orders
		 (id, symbol, side, kind, price, quantity, remaining, owner_id, status, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id)
		 DO UPDATE SET remaining = EXCLUDED.remaining, status = EXCLUDED.status`,
		order.ID, order.Symbol, order.Side, order.Kind,
		order.Price, order.Quantity, order.Remaining,
		order.OwnerID, order.Status, order.Seq, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// Update begins a transaction, runs fn once, and commits. Beginning the
// transaction is retried a bounded number of times; once fn has run, a
// failure is surfaced without re-running fn so the matching pass it wraps is
// never applied twice.
func (s *Postgres) Update(ctx context.Context, fn func(Tx) error) error {
	var tx pgx.Tx
	var err error
	for attempt := 1; ; attempt++ {
		tx, err = s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err == nil {
			break
		}
		if attempt >= beginAttempts {
			s.log.Error("begin transaction failed, retries exhausted", zap.Error(err))
			return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
		}
		s.log.Warn("begin transaction failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, ctx.Err())
		case <-time.After(beginBackoff * time.Duration(attempt)):
		}
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		s.log.Error("commit failed", zap.Error(err))
		return fmt.Errorf("%w: commit: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Postgres) Balances(ctx context.Context, userID uuid.UUID) (map[string]core.Balance, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT asset, available, locked FROM balances WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.Balance)
	for rows.Next() {
		var asset string
		var bal core.Balance
		if err := rows.Scan(&asset, &bal.Available, &bal.Locked); err != nil {
			return nil, err
		}
		out[asset] = bal
	}
	return out, rows.Err()
}

const orderColumns = "id, symbol, side, kind, price, quantity, remaining, owner_id, status, seq, created_at"

func scanOrder(row pgx.Row) (core.Order, error) {
	var o core.Order
	err := row.Scan(&o.ID, &o.Symbol, &o.Side, &o.Kind, &o.Price, &o.Quantity,
		&o.Remaining, &o.OwnerID, &o.Status, &o.Seq, &o.CreatedAt)
	return o, err
}

func (s *Postgres) Order(ctx context.Context, id uuid.UUID) (core.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Order{}, core.ErrOrderNotFound
	}
	if err != nil {
		return core.Order{}, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

func (s *Postgres) OpenOrders(ctx context.Context, ownerID uuid.UUID) ([]core.Order, error) {
	return s.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE owner_id = $1 AND status IN ('open', 'partially_filled') ORDER BY seq",
		ownerID)
}

func (s *Postgres) LoadOpenOrders(ctx context.Context) ([]core.Order, error) {
	return s.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status IN ('open', 'partially_filled') ORDER BY seq")
}

func (s *Postgres) queryOrders(ctx context.Context, query string, args ...any) ([]core.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []core.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Postgres) Trades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, buy_order_id, sell_order_id, buyer_id, seller_id, taker_side, price, quantity, executed_at
		 FROM trades WHERE symbol = $1 ORDER BY executed_at DESC LIMIT $2`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []core.Trade
	for rows.Next() {
		var t core.Trade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.BuyOrderID, &t.SellOrderID,
			&t.BuyerID, &t.SellerID, &t.TakerSide, &t.Price, &t.Quantity, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() {
	s.pool.Close()
}
