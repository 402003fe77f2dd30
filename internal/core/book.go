package core

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// priceLevel holds the FIFO queue of resident orders sharing one exact price
// tick. Orders are appended in arrival order, which gives time priority for
// free because all inserts for a symbol happen under the symbol lock.
type priceLevel struct {
	price  decimal.Decimal
	orders []*Order
}

func (l *priceLevel) quantity() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.Remaining)
	}
	return total
}

// Level is one aggregated row of a depth snapshot.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Snapshot is an aggregated price-level view of one side-pair of the book.
type Snapshot struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// Book holds the resident orders of a single symbol: bids sorted by price
// descending, asks by price ascending, FIFO within a level. The Book is not
// safe for concurrent use; callers serialize per symbol.
type Book struct {
	symbol string
	bids   []*priceLevel
	asks   []*priceLevel
	index  map[uuid.UUID]*Order
}

func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		index:  make(map[uuid.UUID]*Order),
	}
}

func (b *Book) Symbol() string { return b.symbol }

// Len returns the number of resident orders.
func (b *Book) Len() int { return len(b.index) }

// Lookup returns the resident order with the given id, or nil.
func (b *Book) Lookup(id uuid.UUID) *Order {
	return b.index[id]
}

// sideLevels returns the level slice a resting order of the given side
// belongs to.
func (b *Book) sideLevels(side Side) *[]*priceLevel {
	if side == Buy {
		return &b.bids
	}
	return &b.asks
}

// levelIndex binary-searches for price within levels of the given side.
// Returns the position and whether an exact level exists there.
func levelIndex(levels []*priceLevel, side Side, price decimal.Decimal) (int, bool) {
	i := sort.Search(len(levels), func(i int) bool {
		if side == Buy {
			// bids descend: first level with price <= target
			return levels[i].price.LessThanOrEqual(price)
		}
		// asks ascend: first level with price >= target
		return levels[i].price.GreaterThanOrEqual(price)
	})
	if i < len(levels) && levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

// Insert adds a resident order at the back of its price level, creating the
// level if needed.
func (b *Book) Insert(o *Order) {
	levels := b.sideLevels(o.Side)
	i, ok := levelIndex(*levels, o.Side, o.Price)
	if !ok {
		*levels = append(*levels, nil)
		copy((*levels)[i+1:], (*levels)[i:])
		(*levels)[i] = &priceLevel{price: o.Price}
	}
	(*levels)[i].orders = append((*levels)[i].orders, o)
	b.index[o.ID] = o
}

// BestBid returns the top resting buy order, or nil when the side is empty.
func (b *Book) BestBid() *Order {
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0].orders[0]
}

// BestAsk returns the top resting sell order, or nil when the side is empty.
func (b *Book) BestAsk() *Order {
	if len(b.asks) == 0 {
		return nil
	}
	return b.asks[0].orders[0]
}

// Remove takes a resident order out of the book by identity.
func (b *Book) Remove(id uuid.UUID) (*Order, error) {
	o, ok := b.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	levels := b.sideLevels(o.Side)
	i, found := levelIndex(*levels, o.Side, o.Price)
	if !found {
		// index and levels disagree; must not happen
		return nil, ErrOrderNotFound
	}
	level := (*levels)[i]
	for j, resident := range level.orders {
		if resident.ID == id {
			level.orders = append(level.orders[:j], level.orders[j+1:]...)
			break
		}
	}
	if len(level.orders) == 0 {
		*levels = append((*levels)[:i], (*levels)[i+1:]...)
	}
	delete(b.index, id)
	return o, nil
}

// popTop removes the top resting order of the given side. Used by the
// matching loop when a maker is exhausted.
func (b *Book) popTop(side Side) {
	levels := b.sideLevels(side)
	if len(*levels) == 0 {
		return
	}
	level := (*levels)[0]
	delete(b.index, level.orders[0].ID)
	level.orders = level.orders[1:]
	if len(level.orders) == 0 {
		*levels = (*levels)[1:]
	}
}

// DepthSnapshot aggregates remaining quantity per exact price tick for the
// top depth levels of each side. depth <= 0 means the whole book.
func (b *Book) DepthSnapshot(depth int) Snapshot {
	snap := Snapshot{
		Symbol: b.symbol,
		Bids:   make([]Level, 0, len(b.bids)),
		Asks:   make([]Level, 0, len(b.asks)),
	}
	for i, level := range b.bids {
		if depth > 0 && i >= depth {
			break
		}
		snap.Bids = append(snap.Bids, Level{Price: level.price, Quantity: level.quantity()})
	}
	for i, level := range b.asks {
		if depth > 0 && i >= depth {
			break
		}
		snap.Asks = append(snap.Asks, Level{Price: level.price, Quantity: level.quantity()})
	}
	return snap
}
