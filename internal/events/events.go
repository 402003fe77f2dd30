// Package events is the outbound pub/sub boundary. The core only needs a
// publish(topic, payload) capability; transports plug in behind Publisher.
package events

import (
	"github.com/google/uuid"

	"github.com/exsim/exchange/internal/core"
)

// Publisher delivers one payload to every subscriber of a topic. Publish is
// called outside the matching critical section and must not block it.
type Publisher interface {
	Publish(topic string, payload any)
}

func TradeTopic(symbol string) string   { return "trades:" + symbol }
func DepthTopic(symbol string) string   { return "depth:" + symbol }
func OrderTopic(owner uuid.UUID) string { return "orders:" + owner.String() }

// TradeEvent is broadcast once per execution.
type TradeEvent struct {
	Type  string     `json:"type"`
	Trade core.Trade `json:"trade"`
}

// DepthEvent carries the post-operation aggregated top of book.
type DepthEvent struct {
	Type string        `json:"type"`
	Book core.Snapshot `json:"book"`
}

// OrderEvent notifies an owner about a status change of their order.
type OrderEvent struct {
	Type  string     `json:"type"`
	Order core.Order `json:"order"`
}

func NewTradeEvent(t core.Trade) TradeEvent    { return TradeEvent{Type: "trade", Trade: t} }
func NewDepthEvent(s core.Snapshot) DepthEvent { return DepthEvent{Type: "depth", Book: s} }
func NewOrderEvent(o core.Order) OrderEvent    { return OrderEvent{Type: "order", Order: o} }

// Multi fans one publish out to several transports.
type Multi []Publisher

func (m Multi) Publish(topic string, payload any) {
	for _, p := range m {
		p.Publish(topic, payload)
	}
}

// Nop discards everything. Used in tests.
type Nop struct{}

func (Nop) Publish(string, any) {}
