package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/exsim/exchange/internal/core"
)

type balanceKey struct {
	user  uuid.UUID
	asset string
}

// Memory is the map-backed Store used when no database is configured.
// Update stages every write and merges only when fn succeeds, so a failed
// operation leaves no partial effects.
type Memory struct {
	mu       sync.RWMutex
	balances map[balanceKey]core.Balance
	orders   map[uuid.UUID]core.Order
	trades   []core.Trade
	journal  []core.JournalEntry
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[balanceKey]core.Balance),
		orders:   make(map[uuid.UUID]core.Order),
	}
}

// memoryTx stages writes against the parent store.
type memoryTx struct {
	parent   *Memory
	balances map[balanceKey]core.Balance
	orders   map[uuid.UUID]core.Order
	trades   []core.Trade
	journal  []core.JournalEntry
}

func (tx *memoryTx) Balance(_ context.Context, userID uuid.UUID, asset string) (core.Balance, error) {
	key := balanceKey{user: userID, asset: asset}
	if bal, ok := tx.balances[key]; ok {
		return bal, nil
	}
	if bal, ok := tx.parent.balances[key]; ok {
		return bal, nil
	}
	return core.ZeroBalance(), nil
}

func (tx *memoryTx) PutBalance(_ context.Context, userID uuid.UUID, asset string, bal core.Balance) error {
	tx.balances[balanceKey{user: userID, asset: asset}] = bal
	return nil
}

func (tx *memoryTx) AppendJournal(_ context.Context, entry core.JournalEntry) error {
	tx.journal = append(tx.journal, entry)
	return nil
}

func (tx *memoryTx) AppendTrade(_ context.Context, trade core.Trade) error {
	tx.trades = append(tx.trades, trade)
	return nil
}

func (tx *memoryTx) SaveOrder(_ context.Context, order core.Order) error {
	tx.orders[order.ID] = order
	return nil
}

func (m *Memory) Update(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		parent:   m,
		balances: make(map[balanceKey]core.Balance),
		orders:   make(map[uuid.UUID]core.Order),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for key, bal := range tx.balances {
		m.balances[key] = bal
	}
	for id, order := range tx.orders {
		m.orders[id] = order
	}
	m.trades = append(m.trades, tx.trades...)
	m.journal = append(m.journal, tx.journal...)
	return nil
}

func (m *Memory) Balances(_ context.Context, userID uuid.UUID) (map[string]core.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]core.Balance)
	for key, bal := range m.balances {
		if key.user == userID {
			out[key.asset] = bal
		}
	}
	return out, nil
}

func (m *Memory) Order(_ context.Context, id uuid.UUID) (core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return core.Order{}, core.ErrOrderNotFound
	}
	return order, nil
}

func (m *Memory) OpenOrders(_ context.Context, ownerID uuid.UUID) ([]core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.Order
	for _, order := range m.orders {
		if order.OwnerID == ownerID && !order.Status.Terminal() {
			out = append(out, order)
		}
	}
	sortOrdersBySeq(out)
	return out, nil
}

func (m *Memory) Trades(_ context.Context, symbol string, limit int) ([]core.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = defaultTradeLimit
	}
	var out []core.Trade
	// newest first
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].Symbol != symbol {
			continue
		}
		out = append(out, m.trades[i])
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) LoadOpenOrders(_ context.Context) ([]core.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.Order
	for _, order := range m.orders {
		if !order.Status.Terminal() {
			out = append(out, order)
		}
	}
	sortOrdersBySeq(out)
	return out, nil
}

// Journal returns a copy of the audit log. Used by tests and diagnostics.
func (m *Memory) Journal() []core.JournalEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.JournalEntry, len(m.journal))
	copy(out, m.journal)
	return out
}

func (m *Memory) Close() {}

func sortOrdersBySeq(orders []core.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Seq < orders[j].Seq
	})
}
