package exchange

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/exsim/exchange/internal/config"
	"github.com/exsim/exchange/internal/core"
	"github.com/exsim/exchange/internal/events"
	"github.com/exsim/exchange/internal/metrics"
	"github.com/exsim/exchange/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// recorder captures published events for assertions.
type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) Publish(topic string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func (r *recorder) published(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func newTestExchange(t *testing.T, pub events.Publisher) (*Exchange, *store.Memory) {
	t.Helper()
	if pub == nil {
		pub = events.Nop{}
	}
	st := store.NewMemory()
	engine := config.EngineConfig{
		MarketBuySlippage: dec("0.05"),
		MaxDepth:          50,
	}
	markets := []config.Market{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT"},
	}
	return New(zap.NewNop(), st, pub, metrics.New(), engine, markets), st
}

func fund(t *testing.T, ex *Exchange, user uuid.UUID, asset, amount string) {
	t.Helper()
	require.NoError(t, ex.Deposit(context.Background(), user, asset, dec(amount)))
}

func balances(t *testing.T, ex *Exchange, user uuid.UUID) map[string]core.Balance {
	t.Helper()
	out, err := ex.GetBalances(context.Background(), user)
	require.NoError(t, err)
	return out
}

func TestPlaceOrderValidation(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	user := uuid.New()

	_, err := ex.PlaceOrder(ctx, user, "BTCUSDT", "short", core.Limit, dec("100"), dec("1"))
	assert.ErrorIs(t, err, core.ErrInvalidOrderParameters)

	_, err = ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, "stop", dec("100"), dec("1"))
	assert.ErrorIs(t, err, core.ErrInvalidOrderParameters)

	_, err = ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("0"))
	assert.ErrorIs(t, err, core.ErrInvalidOrderParameters)

	_, err = ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, core.Limit, dec("0"), dec("1"))
	assert.ErrorIs(t, err, core.ErrInvalidOrderParameters)

	_, err = ex.PlaceOrder(ctx, user, "DOGEUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	assert.ErrorIs(t, err, core.ErrSymbolNotFound)
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, ex, user, "BTC", "1")

	_, err := ex.PlaceOrder(ctx, user, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("5"))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)

	// the failed placement is side-effect-free
	book, err := ex.GetBook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)

	bal := balances(t, ex, user)["BTC"]
	assert.Equal(t, "1", bal.Available.String())
	assert.True(t, bal.Locked.IsZero())
}

// The canonical partial-fill scenario: A bids 1.0 @ 100, B offers 0.5 @ 100.
func TestPartialFillScenario(t *testing.T) {
	rec := &recorder{}
	ex, _ := newTestExchange(t, rec)
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()
	fund(t, ex, a, "USDT", "100")
	fund(t, ex, b, "BTC", "1")

	buy, err := ex.PlaceOrder(ctx, a, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)
	assert.Equal(t, core.Open, buy.Order.Status)
	assert.Empty(t, buy.Trades)

	sell, err := ex.PlaceOrder(ctx, b, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("0.5"))
	require.NoError(t, err)
	require.Len(t, sell.Trades, 1)

	trade := sell.Trades[0]
	assert.Equal(t, "100", trade.Price.String())
	assert.Equal(t, "0.5", trade.Quantity.String())
	assert.Equal(t, a, trade.BuyerID)
	assert.Equal(t, b, trade.SellerID)
	assert.Equal(t, core.Sell, trade.TakerSide)

	assert.Equal(t, core.Filled, sell.Order.Status)
	assert.True(t, sell.Order.Remaining.IsZero())

	// A's order rests with the untraded half
	open, err := ex.GetOpenOrders(ctx, a)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, buy.Order.ID, open[0].ID)
	assert.Equal(t, core.PartiallyFilled, open[0].Status)
	assert.Equal(t, "0.5", open[0].Remaining.String())

	// B's order is gone from the book
	book, err := ex.GetBook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Empty(t, book.Asks)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "0.5", book.Bids[0].Quantity.String())

	aBal := balances(t, ex, a)
	assert.Equal(t, "50", aBal["USDT"].Locked.String())
	assert.True(t, aBal["USDT"].Available.IsZero())
	assert.Equal(t, "0.5", aBal["BTC"].Available.String())

	bBal := balances(t, ex, b)
	assert.Equal(t, "50", bBal["USDT"].Available.String())
	assert.Equal(t, "0.5", bBal["BTC"].Available.String())
	assert.True(t, bBal["BTC"].Locked.IsZero())

	assert.True(t, rec.published(events.TradeTopic("BTCUSDT")))
	assert.True(t, rec.published(events.DepthTopic("BTCUSDT")))
	assert.True(t, rec.published(events.OrderTopic(a)))
	assert.True(t, rec.published(events.OrderTopic(b)))
}

func TestTakerPriceImprovementRefund(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	fund(t, ex, maker, "BTC", "1")
	fund(t, ex, taker, "USDT", "110")

	_, err := ex.PlaceOrder(ctx, maker, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)

	// taker bids 110 but trades at the maker's 100
	buy, err := ex.PlaceOrder(ctx, taker, "BTCUSDT", core.Buy, core.Limit, dec("110"), dec("1"))
	require.NoError(t, err)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, "100", buy.Trades[0].Price.String())

	bal := balances(t, ex, taker)
	assert.Equal(t, "10", bal["USDT"].Available.String())
	assert.True(t, bal["USDT"].Locked.IsZero())
	assert.Equal(t, "1", bal["BTC"].Available.String())
}

func TestMarketBuyEmptyBookRejected(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, ex, user, "USDT", "1000")

	_, err := ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, core.Market, decimal.Zero, dec("1"))
	assert.ErrorIs(t, err, core.ErrNoLiquidity)

	bal := balances(t, ex, user)["USDT"]
	assert.Equal(t, "1000", bal.Available.String())
	assert.True(t, bal.Locked.IsZero())
}

func TestMarketSellEmptyBookRejected(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, ex, user, "BTC", "1")

	_, err := ex.PlaceOrder(ctx, user, "BTCUSDT", core.Sell, core.Market, decimal.Zero, dec("1"))
	assert.ErrorIs(t, err, core.ErrNoLiquidity)
}

func TestMarketBuyPartialFillNeverRests(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	fund(t, ex, maker, "BTC", "0.5")
	fund(t, ex, taker, "USDT", "200")

	_, err := ex.PlaceOrder(ctx, maker, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("0.5"))
	require.NoError(t, err)

	buy, err := ex.PlaceOrder(ctx, taker, "BTCUSDT", core.Buy, core.Market, decimal.Zero, dec("1"))
	require.NoError(t, err)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, "0.5", buy.Trades[0].Quantity.String())
	assert.Equal(t, core.Cancelled, buy.Order.Status)
	assert.Equal(t, "0.5", buy.Order.Remaining.String())

	// remainder did not rest, and only the consumed notional stayed spent
	book, err := ex.GetBook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)

	bal := balances(t, ex, taker)
	assert.Equal(t, "150", bal["USDT"].Available.String())
	assert.True(t, bal["USDT"].Locked.IsZero())
	assert.Equal(t, "0.5", bal["BTC"].Available.String())
}

// A market buy sweeping into levels above the padded best ask stops at the
// reservation's price cap instead of overdrawing the locked quote.
func TestMarketBuySweepStopsAtSlippageCap(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	fund(t, ex, maker, "BTC", "1.5")
	fund(t, ex, taker, "USDT", "1000")

	_, err := ex.PlaceOrder(ctx, maker, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("0.5"))
	require.NoError(t, err)
	_, err = ex.PlaceOrder(ctx, maker, "BTCUSDT", core.Sell, core.Limit, dec("200"), dec("1"))
	require.NoError(t, err)

	// reserved 100 * 1 * 1.05 = 105; the 200 level is beyond the cap
	buy, err := ex.PlaceOrder(ctx, taker, "BTCUSDT", core.Buy, core.Market, decimal.Zero, dec("1"))
	require.NoError(t, err)
	require.Len(t, buy.Trades, 1)
	assert.Equal(t, "100", buy.Trades[0].Price.String())
	assert.Equal(t, "0.5", buy.Trades[0].Quantity.String())
	assert.Equal(t, core.Cancelled, buy.Order.Status)
	assert.Equal(t, "0.5", buy.Order.Remaining.String())

	bal := balances(t, ex, taker)
	assert.Equal(t, "950", bal["USDT"].Available.String())
	assert.True(t, bal["USDT"].Locked.IsZero())
	assert.Equal(t, "0.5", bal["BTC"].Available.String())

	// the expensive ask is still resident
	book, err := ex.GetBook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "200", book.Asks[0].Price.String())
}

func TestMarketBuyReservationNeedsSlippageBuffer(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	maker := uuid.New()
	taker := uuid.New()
	fund(t, ex, maker, "BTC", "1")
	// exactly 100 available; reservation wants 100 * 1.05
	fund(t, ex, taker, "USDT", "100")

	_, err := ex.PlaceOrder(ctx, maker, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)

	_, err = ex.PlaceOrder(ctx, taker, "BTCUSDT", core.Buy, core.Market, decimal.Zero, dec("1"))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
}

func TestCancelRestingOrderRefundsReservation(t *testing.T) {
	rec := &recorder{}
	ex, _ := newTestExchange(t, rec)
	ctx := context.Background()
	user := uuid.New()
	fund(t, ex, user, "USDT", "100")

	placed, err := ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)

	cancelled, err := ex.CancelOrder(ctx, user, placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.Cancelled, cancelled.Status)

	bal := balances(t, ex, user)["USDT"]
	assert.Equal(t, "100", bal.Available.String())
	assert.True(t, bal.Locked.IsZero())

	open, err := ex.GetOpenOrders(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, open)

	book, err := ex.GetBook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)

	assert.True(t, rec.published(events.OrderTopic(user)))
}

func TestCancelPartiallyFilledRefundsRemaining(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()
	fund(t, ex, a, "USDT", "100")
	fund(t, ex, b, "BTC", "1")

	buy, err := ex.PlaceOrder(ctx, a, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)
	_, err = ex.PlaceOrder(ctx, b, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("0.4"))
	require.NoError(t, err)

	_, err = ex.CancelOrder(ctx, a, buy.Order.ID)
	require.NoError(t, err)

	// 40 spent on the fill, 60 refunded on cancel
	bal := balances(t, ex, a)
	assert.Equal(t, "60", bal["USDT"].Available.String())
	assert.True(t, bal["USDT"].Locked.IsZero())
	assert.Equal(t, "0.4", bal["BTC"].Available.String())
}

func TestCancelIdempotence(t *testing.T) {
	ex, st := newTestExchange(t, nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, ex, user, "USDT", "100")

	placed, err := ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)
	_, err = ex.CancelOrder(ctx, user, placed.Order.ID)
	require.NoError(t, err)

	journalBefore := len(st.Journal())
	_, err = ex.CancelOrder(ctx, user, placed.Order.ID)
	assert.ErrorIs(t, err, core.ErrNotCancellable)
	assert.Equal(t, journalBefore, len(st.Journal()))
}

func TestCancelChecksOwnership(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	owner := uuid.New()
	stranger := uuid.New()
	fund(t, ex, owner, "USDT", "100")

	placed, err := ex.PlaceOrder(ctx, owner, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)

	_, err = ex.CancelOrder(ctx, stranger, placed.Order.ID)
	assert.ErrorIs(t, err, core.ErrOrderNotFound)

	_, err = ex.CancelOrder(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, core.ErrOrderNotFound)
}

func TestCancelFilledOrderNotCancellable(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()
	fund(t, ex, a, "USDT", "100")
	fund(t, ex, b, "BTC", "1")

	buy, err := ex.PlaceOrder(ctx, a, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)
	_, err = ex.PlaceOrder(ctx, b, "BTCUSDT", core.Sell, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)

	_, err = ex.CancelOrder(ctx, a, buy.Order.ID)
	assert.ErrorIs(t, err, core.ErrNotCancellable)
}

// No resting crossed book after any sequence of operations.
func TestBookNeverRestsCrossed(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()
	fund(t, ex, a, "USDT", "100000")
	fund(t, ex, b, "BTC", "100")

	type placement struct {
		owner uuid.UUID
		side  core.Side
		price string
		qty   string
	}
	sequence := []placement{
		{a, core.Buy, "100", "1"},
		{b, core.Sell, "105", "1"},
		{a, core.Buy, "104", "2"},
		{b, core.Sell, "103", "1.5"},
		{b, core.Sell, "99", "3"},
		{a, core.Buy, "101", "0.7"},
		{b, core.Sell, "101", "0.2"},
		{a, core.Buy, "110", "5"},
	}
	for _, p := range sequence {
		_, err := ex.PlaceOrder(ctx, p.owner, "BTCUSDT", p.side, core.Limit, dec(p.price), dec(p.qty))
		require.NoError(t, err)

		book, err := ex.GetBook(ctx, "BTCUSDT", 0)
		require.NoError(t, err)
		if len(book.Bids) > 0 && len(book.Asks) > 0 {
			assert.True(t, book.Bids[0].Price.LessThan(book.Asks[0].Price),
				"crossed book: bid %s >= ask %s", book.Bids[0].Price, book.Asks[0].Price)
		}
	}
}

// available+locked is conserved per asset, only moved between the parties.
func TestConservationAcrossLifecycle(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	a := uuid.New()
	b := uuid.New()
	fund(t, ex, a, "USDT", "1000")
	fund(t, ex, b, "BTC", "10")

	_, err := ex.PlaceOrder(ctx, a, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("2"))
	require.NoError(t, err)
	_, err = ex.PlaceOrder(ctx, b, "BTCUSDT", core.Sell, core.Limit, dec("99"), dec("1"))
	require.NoError(t, err)
	_, err = ex.PlaceOrder(ctx, b, "BTCUSDT", core.Sell, core.Limit, dec("101"), dec("1"))
	require.NoError(t, err)

	totalUSDT := decimal.Zero
	totalBTC := decimal.Zero
	for _, user := range []uuid.UUID{a, b} {
		bal := balances(t, ex, user)
		totalUSDT = totalUSDT.Add(bal["USDT"].Total())
		totalBTC = totalBTC.Add(bal["BTC"].Total())
	}
	assert.Equal(t, "1000", totalUSDT.String())
	assert.Equal(t, "10", totalBTC.String())
}

func TestSymbolsAreIndependent(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, ex, user, "USDT", "1000")

	_, err := ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)
	_, err = ex.PlaceOrder(ctx, user, "ETHUSDT", core.Buy, core.Limit, dec("50"), dec("2"))
	require.NoError(t, err)

	btc, err := ex.GetBook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	eth, err := ex.GetBook(ctx, "ETHUSDT", 0)
	require.NoError(t, err)
	require.Len(t, btc.Bids, 1)
	require.Len(t, eth.Bids, 1)
	assert.Equal(t, "100", btc.Bids[0].Price.String())
	assert.Equal(t, "50", eth.Bids[0].Price.String())
}

func TestGetTradesUnknownSymbol(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	_, err := ex.GetTrades(context.Background(), "DOGEUSDT", 10)
	assert.ErrorIs(t, err, core.ErrSymbolNotFound)
}

func TestDepositUnknownAsset(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	err := ex.Deposit(context.Background(), uuid.New(), "DOGE", dec("1"))
	assert.ErrorIs(t, err, core.ErrInvalidOrderParameters)
}

func TestRestoreRebuildsBooks(t *testing.T) {
	ex, st := newTestExchange(t, nil)
	ctx := context.Background()
	user := uuid.New()
	fund(t, ex, user, "USDT", "100")

	placed, err := ex.PlaceOrder(ctx, user, "BTCUSDT", core.Buy, core.Limit, dec("100"), dec("1"))
	require.NoError(t, err)

	// a fresh process over the same store
	engine := config.EngineConfig{MarketBuySlippage: dec("0.05"), MaxDepth: 50}
	markets := []config.Market{{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}}
	restarted := New(zap.NewNop(), st, events.Nop{}, metrics.New(), engine, markets)
	require.NoError(t, restarted.Restore(ctx))

	book, err := restarted.GetBook(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "100", book.Bids[0].Price.String())

	// the restored order is still cancellable
	_, err = restarted.CancelOrder(ctx, user, placed.Order.ID)
	require.NoError(t, err)
}

func TestGetBookUnknownSymbol(t *testing.T) {
	ex, _ := newTestExchange(t, nil)
	_, err := ex.GetBook(context.Background(), "DOGEUSDT", 0)
	assert.ErrorIs(t, err, core.ErrSymbolNotFound)
}
