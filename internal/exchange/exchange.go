// Package exchange is the order lifecycle manager: it validates incoming
// orders, reserves funds, drives the matching engine, persists the results
// and emits events. It is the only writer of book and ledger state.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/exsim/exchange/internal/config"
	"github.com/exsim/exchange/internal/core"
	"github.com/exsim/exchange/internal/events"
	"github.com/exsim/exchange/internal/ledger"
	"github.com/exsim/exchange/internal/metrics"
	"github.com/exsim/exchange/internal/store"
)

// symbolBook pairs a book with the mutex serializing all matching for its
// symbol. Different symbols proceed fully in parallel.
type symbolBook struct {
	mu   sync.Mutex
	book *core.Book
}

type Exchange struct {
	log      *zap.Logger
	store    store.Store
	pub      events.Publisher
	met      *metrics.Metrics
	markets  map[string]config.Market
	assets   map[string]bool
	slippage decimal.Decimal
	maxDepth int

	seq atomic.Uint64

	mu    sync.Mutex // guards lazy creation in books
	books map[string]*symbolBook
}

func New(log *zap.Logger, st store.Store, pub events.Publisher, met *metrics.Metrics, engine config.EngineConfig, markets []config.Market) *Exchange {
	byID := make(map[string]config.Market, len(markets))
	assets := make(map[string]bool)
	for _, m := range markets {
		byID[m.Symbol] = m
		assets[m.Base] = true
		assets[m.Quote] = true
	}
	return &Exchange{
		log:      log,
		store:    st,
		pub:      pub,
		met:      met,
		markets:  byID,
		assets:   assets,
		slippage: engine.MarketBuySlippage,
		maxDepth: engine.MaxDepth,
		books:    make(map[string]*symbolBook),
	}
}

// Restore rebuilds the in-memory books from the store's open orders. Called
// once at startup, before the API starts serving.
func (e *Exchange) Restore(ctx context.Context) error {
	orders, err := e.store.LoadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	for i := range orders {
		o := orders[i]
		if _, ok := e.markets[o.Symbol]; !ok {
			e.log.Warn("dropping open order for unknown symbol",
				zap.String("symbol", o.Symbol), zap.String("order_id", o.ID.String()))
			continue
		}
		e.symbolBook(o.Symbol).book.Insert(&o)
		if o.Seq > e.seq.Load() {
			e.seq.Store(o.Seq)
		}
	}
	e.log.Info("books restored", zap.Int("open_orders", len(orders)))
	return nil
}

func (e *Exchange) symbolBook(symbol string) *symbolBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	sb, ok := e.books[symbol]
	if !ok {
		sb = &symbolBook{book: core.NewBook(symbol)}
		e.books[symbol] = sb
	}
	return sb
}

// Placement is the result of one placeOrder call: the order's final state
// and every trade the matching pass produced.
type Placement struct {
	Order  core.Order   `json:"order"`
	Trades []core.Trade `json:"trades"`
}

func validateOrderParams(side core.Side, kind core.Kind, price, quantity decimal.Decimal) error {
	if !side.Valid() {
		return fmt.Errorf("%w: side must be buy or sell", core.ErrInvalidOrderParameters)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: kind must be limit or market", core.ErrInvalidOrderParameters)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", core.ErrInvalidOrderParameters)
	}
	if kind == core.Limit && !price.IsPositive() {
		return fmt.Errorf("%w: limit price must be positive", core.ErrInvalidOrderParameters)
	}
	return nil
}

// reservation computes the asset and amount to lock before matching.
// Buy limit orders lock price*quantity of the quote asset; sell orders lock
// the base quantity. Market buys have no limit price, so the reservation is
// taken at the current best ask padded by the configured slippage buffer,
// and the padded price doubles as the matching pass's price cap: fills never
// exceed it, so the reservation always covers the sweep. Whatever the
// matching pass does not consume is released in the same transaction. A
// market order against an empty opposing book is rejected here, before any
// funds move.
func (e *Exchange) reservation(book *core.Book, mkt config.Market, side core.Side, kind core.Kind, price, quantity decimal.Decimal) (asset string, amount, priceCap decimal.Decimal, err error) {
	if side == core.Sell {
		if kind == core.Market && book.BestBid() == nil {
			return "", decimal.Zero, decimal.Zero, core.ErrNoLiquidity
		}
		return mkt.Base, quantity, decimal.Zero, nil
	}
	if kind == core.Limit {
		return mkt.Quote, price.Mul(quantity), decimal.Zero, nil
	}
	best := book.BestAsk()
	if best == nil {
		return "", decimal.Zero, decimal.Zero, core.ErrNoLiquidity
	}
	priceCap = best.Price.Mul(decimal.NewFromInt(1).Add(e.slippage))
	return mkt.Quote, priceCap.Mul(quantity), priceCap, nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, ownerID uuid.UUID, symbol string, side core.Side, kind core.Kind, price, quantity decimal.Decimal) (Placement, error) {
	if err := validateOrderParams(side, kind, price, quantity); err != nil {
		e.met.OrdersRejected.WithLabelValues("invalid_parameters").Inc()
		return Placement{}, err
	}
	mkt, ok := e.markets[symbol]
	if !ok {
		e.met.OrdersRejected.WithLabelValues("symbol_not_found").Inc()
		return Placement{}, fmt.Errorf("%w: %s", core.ErrSymbolNotFound, symbol)
	}
	if kind == core.Market {
		price = decimal.Zero
	}

	sb := e.symbolBook(symbol)
	sb.mu.Lock()

	reserveAsset, reserveAmount, priceCap, err := e.reservation(sb.book, mkt, side, kind, price, quantity)
	if err != nil {
		sb.mu.Unlock()
		e.met.OrdersRejected.WithLabelValues("no_liquidity").Inc()
		return Placement{}, err
	}

	order := core.NewOrder(ownerID, symbol, side, kind, price, quantity, e.seq.Add(1))

	var trades []core.Trade
	bookMutated := false
	err = e.store.Update(ctx, func(tx store.Tx) error {
		if err := ledger.Reserve(ctx, tx, ownerID, reserveAsset, reserveAmount, "order:"+order.ID.String()); err != nil {
			return err
		}

		bookMutated = true
		fills, err := core.Match(sb.book, &order, priceCap)
		if err != nil {
			return err
		}

		spent := decimal.Zero
		for _, fill := range fills {
			trade := e.buildTrade(&order, fill)
			if err := tx.AppendTrade(ctx, trade); err != nil {
				return err
			}
			if err := ledger.Settle(ctx, tx, trade, mkt.Base, mkt.Quote); err != nil {
				return err
			}
			if err := tx.SaveOrder(ctx, *fill.Maker); err != nil {
				return err
			}
			trades = append(trades, trade)
			spent = spent.Add(trade.Notional())
		}

		if err := e.refundTaker(ctx, tx, &order, mkt, reserveAsset, reserveAmount, spent); err != nil {
			return err
		}

		// Market remainders never rest; they are cancelled for lack of
		// liquidity. Limit remainders become resident.
		if order.Remaining.IsPositive() {
			if kind == core.Market {
				if err := order.Transition(core.Cancelled); err != nil {
					return err
				}
			} else {
				sb.book.Insert(&order)
			}
		}
		return tx.SaveOrder(ctx, order)
	})
	if err != nil {
		if bookMutated {
			e.reloadBookLocked(ctx, sb, symbol)
		}
		sb.mu.Unlock()
		e.observeRejection(err)
		return Placement{}, err
	}

	depth := sb.book.DepthSnapshot(e.maxDepth)
	resting := sb.book.Len()
	sb.mu.Unlock()

	e.met.OrdersPlaced.WithLabelValues(symbol, string(side), string(kind)).Inc()
	e.met.Trades.WithLabelValues(symbol).Add(float64(len(trades)))
	e.met.RestingOrders.WithLabelValues(symbol).Set(float64(resting))

	e.publishPlacement(order, trades, depth)

	e.log.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("kind", string(kind)),
		zap.String("status", string(order.Status)),
		zap.Int("trades", len(trades)))

	return Placement{Order: order, Trades: trades}, nil
}

// buildTrade maps one fill onto a trade record. Price is the maker's quoted
// price, never the taker's.
func (e *Exchange) buildTrade(taker *core.Order, fill core.Fill) core.Trade {
	trade := core.Trade{
		ID:         uuid.New(),
		Symbol:     taker.Symbol,
		TakerSide:  taker.Side,
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		ExecutedAt: time.Now().UTC(),
	}
	if taker.Side == core.Buy {
		trade.BuyOrderID = taker.ID
		trade.BuyerID = taker.OwnerID
		trade.SellOrderID = fill.Maker.ID
		trade.SellerID = fill.Maker.OwnerID
	} else {
		trade.SellOrderID = taker.ID
		trade.SellerID = taker.OwnerID
		trade.BuyOrderID = fill.Maker.ID
		trade.BuyerID = fill.Maker.OwnerID
	}
	return trade
}

// refundTaker releases the part of the taker's reservation that the matching
// pass did not consume and that does not back a resting remainder.
func (e *Exchange) refundTaker(ctx context.Context, tx store.Tx, order *core.Order, mkt config.Market, reserveAsset string, reserved, spent decimal.Decimal) error {
	actor := "order:" + order.ID.String()
	switch {
	case order.Side == core.Buy && order.Kind == core.Limit:
		// Taker price improvement: fills at better prices than the limit
		// leave locked quote behind.
		stillLocked := order.Price.Mul(order.Remaining)
		refund := reserved.Sub(spent).Sub(stillLocked)
		return ledger.Release(ctx, tx, order.OwnerID, mkt.Quote, refund, actor)
	case order.Side == core.Buy && order.Kind == core.Market:
		// Nothing rests; everything not spent comes back.
		return ledger.Release(ctx, tx, order.OwnerID, mkt.Quote, reserved.Sub(spent), actor)
	case order.Side == core.Sell && order.Kind == core.Market:
		// Unfilled market remainder never rests.
		return ledger.Release(ctx, tx, order.OwnerID, mkt.Base, order.Remaining, actor)
	default:
		// Sell limit: the resting remainder stays locked in full.
		return nil
	}
}

// reloadBookLocked rebuilds one symbol's book from durable state after a
// failed update, discarding the partial in-memory matching pass. The caller
// holds the symbol lock.
func (e *Exchange) reloadBookLocked(ctx context.Context, sb *symbolBook, symbol string) {
	orders, err := e.store.LoadOpenOrders(ctx)
	if err != nil {
		e.log.Error("book reload failed, restarting with an empty book",
			zap.String("symbol", symbol), zap.Error(err))
		sb.book = core.NewBook(symbol)
		return
	}
	book := core.NewBook(symbol)
	for i := range orders {
		if orders[i].Symbol == symbol {
			o := orders[i]
			book.Insert(&o)
		}
	}
	sb.book = book
}

func (e *Exchange) observeRejection(err error) {
	switch {
	case errors.Is(err, core.ErrInsufficientBalance):
		e.met.OrdersRejected.WithLabelValues("insufficient_balance").Inc()
	case errors.Is(err, core.ErrStorageUnavailable):
		e.met.OrdersRejected.WithLabelValues("storage_unavailable").Inc()
	case errors.Is(err, core.ErrLedgerDesync):
		e.log.Error("ledger desynchronization detected", zap.Error(err))
		e.met.OrdersRejected.WithLabelValues("ledger_desync").Inc()
	default:
		e.met.OrdersRejected.WithLabelValues("internal").Inc()
	}
}

// publishPlacement dispatches settlement side effects after the symbol lock
// has been released.
func (e *Exchange) publishPlacement(order core.Order, trades []core.Trade, depth core.Snapshot) {
	for _, trade := range trades {
		e.pub.Publish(events.TradeTopic(trade.Symbol), events.NewTradeEvent(trade))
		e.pub.Publish(events.OrderTopic(trade.BuyerID), events.NewTradeEvent(trade))
		e.pub.Publish(events.OrderTopic(trade.SellerID), events.NewTradeEvent(trade))
	}
	e.pub.Publish(events.DepthTopic(order.Symbol), events.NewDepthEvent(depth))
	e.pub.Publish(events.OrderTopic(order.OwnerID), events.NewOrderEvent(order))
}

func (e *Exchange) CancelOrder(ctx context.Context, ownerID, orderID uuid.UUID) (core.Order, error) {
	stored, err := e.store.Order(ctx, orderID)
	if err != nil {
		return core.Order{}, err
	}
	if stored.OwnerID != ownerID {
		// Owners only see their own orders; do not leak existence.
		return core.Order{}, core.ErrOrderNotFound
	}
	if stored.Status.Terminal() {
		return core.Order{}, fmt.Errorf("%w: order is %s", core.ErrNotCancellable, stored.Status)
	}
	mkt, ok := e.markets[stored.Symbol]
	if !ok {
		return core.Order{}, fmt.Errorf("%w: %s", core.ErrSymbolNotFound, stored.Symbol)
	}

	sb := e.symbolBook(stored.Symbol)
	sb.mu.Lock()

	resident := sb.book.Lookup(orderID)
	if resident == nil {
		// The order matched between our store read and taking the lock.
		sb.mu.Unlock()
		return core.Order{}, fmt.Errorf("%w: order already matched", core.ErrNotCancellable)
	}

	cancelled := *resident
	if err := cancelled.Transition(core.Cancelled); err != nil {
		sb.mu.Unlock()
		return core.Order{}, err
	}

	// Refund is based on the remaining quantity only.
	refundAsset := mkt.Base
	refundAmount := cancelled.Remaining
	if cancelled.Side == core.Buy {
		refundAsset = mkt.Quote
		refundAmount = cancelled.Price.Mul(cancelled.Remaining)
	}

	err = e.store.Update(ctx, func(tx store.Tx) error {
		if err := ledger.Release(ctx, tx, ownerID, refundAsset, refundAmount, "cancel:"+orderID.String()); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, cancelled)
	})
	if err != nil {
		sb.mu.Unlock()
		if errors.Is(err, core.ErrLedgerDesync) {
			e.log.Error("ledger desynchronization detected on cancel", zap.Error(err))
		}
		return core.Order{}, err
	}

	if _, err := sb.book.Remove(orderID); err != nil {
		// Resident lookup succeeded under the same lock; cannot happen.
		e.log.Error("resident order vanished during cancel", zap.String("order_id", orderID.String()))
	}
	depth := sb.book.DepthSnapshot(e.maxDepth)
	resting := sb.book.Len()
	sb.mu.Unlock()

	e.met.OrdersCanceled.WithLabelValues(cancelled.Symbol).Inc()
	e.met.RestingOrders.WithLabelValues(cancelled.Symbol).Set(float64(resting))

	e.pub.Publish(events.DepthTopic(cancelled.Symbol), events.NewDepthEvent(depth))
	e.pub.Publish(events.OrderTopic(ownerID), events.NewOrderEvent(cancelled))

	e.log.Info("order cancelled",
		zap.String("order_id", orderID.String()),
		zap.String("symbol", cancelled.Symbol))

	return cancelled, nil
}

// GetBook returns the aggregated depth view for a symbol.
func (e *Exchange) GetBook(_ context.Context, symbol string, depth int) (core.Snapshot, error) {
	if _, ok := e.markets[symbol]; !ok {
		return core.Snapshot{}, fmt.Errorf("%w: %s", core.ErrSymbolNotFound, symbol)
	}
	if depth <= 0 || depth > e.maxDepth {
		depth = e.maxDepth
	}
	sb := e.symbolBook(symbol)
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.book.DepthSnapshot(depth), nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context, ownerID uuid.UUID) ([]core.Order, error) {
	return e.store.OpenOrders(ctx, ownerID)
}

func (e *Exchange) GetTrades(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	if _, ok := e.markets[symbol]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSymbolNotFound, symbol)
	}
	return e.store.Trades(ctx, symbol, limit)
}

// Deposit credits available funds for a user. Asset must belong to a
// configured market.
func (e *Exchange) Deposit(ctx context.Context, userID uuid.UUID, asset string, amount decimal.Decimal) error {
	if !e.assets[asset] {
		return fmt.Errorf("%w: unknown asset %s", core.ErrInvalidOrderParameters, asset)
	}
	return e.store.Update(ctx, func(tx store.Tx) error {
		return ledger.Deposit(ctx, tx, userID, asset, amount, "deposit:"+userID.String())
	})
}

func (e *Exchange) GetBalances(ctx context.Context, userID uuid.UUID) (map[string]core.Balance, error) {
	return e.store.Balances(ctx, userID)
}
