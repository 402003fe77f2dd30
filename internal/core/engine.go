package core

import (
	"github.com/shopspring/decimal"
)

// Fill is one match produced by the engine: min(taker.Remaining,
// maker.Remaining) executed at the maker's quoted price.
type Fill struct {
	Maker    *Order
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// crosses reports whether the taker is eligible to trade against the maker's
// price. Market orders cross any resident price up to priceCap; a zero cap
// means unbounded.
func crosses(taker *Order, makerPrice, priceCap decimal.Decimal) bool {
	if taker.Kind == Market {
		if taker.Side == Buy && priceCap.IsPositive() {
			return makerPrice.LessThanOrEqual(priceCap)
		}
		return true
	}
	if taker.Side == Buy {
		return taker.Price.GreaterThanOrEqual(makerPrice)
	}
	return taker.Price.LessThanOrEqual(makerPrice)
}

// Match consumes the taker against the opposite side of the book in
// price-time-priority order. Makers fill at their own price, earliest first
// at equal prices. Exhausted makers are removed from the book; the taker is
// NOT inserted — resting the remainder is the caller's decision. priceCap
// bounds what a market buy will pay per unit, so a sweep never exceeds the
// funds the caller set aside; zero means no bound.
//
// The loop terminates when the taker is exhausted, the opposite side is
// empty, or the taker no longer crosses the best opposite price. After it
// returns, no resident bid can cross a resident ask.
func Match(book *Book, taker *Order, priceCap decimal.Decimal) ([]Fill, error) {
	var fills []Fill

	for taker.Remaining.IsPositive() {
		var maker *Order
		if taker.Side == Buy {
			maker = book.BestAsk()
		} else {
			maker = book.BestBid()
		}
		if maker == nil || !crosses(taker, maker.Price, priceCap) {
			break
		}

		qty := decimal.Min(taker.Remaining, maker.Remaining)
		taker.Remaining = taker.Remaining.Sub(qty)
		maker.Remaining = maker.Remaining.Sub(qty)
		fills = append(fills, Fill{Maker: maker, Price: maker.Price, Quantity: qty})

		if maker.Remaining.IsZero() {
			if err := maker.Transition(Filled); err != nil {
				return nil, err
			}
			book.popTop(maker.Side)
		} else {
			if err := maker.Transition(PartiallyFilled); err != nil {
				return nil, err
			}
		}
	}

	if len(fills) > 0 {
		next := PartiallyFilled
		if taker.Remaining.IsZero() {
			next = Filled
		}
		if err := taker.Transition(next); err != nil {
			return nil, err
		}
	}
	return fills, nil
}
