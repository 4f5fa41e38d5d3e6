package trading

import (
	"arb_go/internal/domain"
)

// ExecutedCache is the bounded per-symbol store of terminal orders.
// Terminal orders are immutable, which is what makes them safe to
// cache; anything still mutable must never live here.
//
// When an insert pushes a symbol past its cap, the oldest entries (by
// observation order) are evicted in one batch until the size is back at
// evictTo of the cap. Amortized batch eviction keeps the per-insert
// cost flat instead of paying an eviction on every insert.
//
// Not safe for concurrent use; the orchestrator owns the lock.
type ExecutedCache struct {
	cap      int
	evictTo  float64
	bySymbol map[string]*symbolCache
}

type symbolCache struct {
	orders  map[string]*domain.Order
	arrival []string // order ids in observation order
}

// NewExecutedCache creates a cache with the given per-symbol cap and
// evict-to fraction (0 < evictTo < 1).
func NewExecutedCache(capPerSymbol int, evictTo float64) *ExecutedCache {
	return &ExecutedCache{
		cap:      capPerSymbol,
		evictTo:  evictTo,
		bySymbol: make(map[string]*symbolCache),
	}
}

// Put inserts a terminal order. Re-observing a known id overwrites the
// stored value without consuming a new arrival slot. Returns true when
// the insert triggered a batch eviction.
func (c *ExecutedCache) Put(order *domain.Order) bool {
	key := order.Symbol.String()
	sc, ok := c.bySymbol[key]
	if !ok {
		sc = &symbolCache{orders: make(map[string]*domain.Order)}
		c.bySymbol[key] = sc
	}

	if _, exists := sc.orders[order.ID]; exists {
		sc.orders[order.ID] = order
		return false
	}

	sc.orders[order.ID] = order
	sc.arrival = append(sc.arrival, order.ID)

	if len(sc.orders) <= c.cap {
		return false
	}

	target := int(float64(c.cap) * c.evictTo)
	for len(sc.orders) > target {
		oldest := sc.arrival[0]
		sc.arrival = sc.arrival[1:]
		delete(sc.orders, oldest)
	}
	return true
}

// Get returns the cached terminal order for (symbol, id).
func (c *ExecutedCache) Get(symbol domain.Symbol, orderID string) (*domain.Order, bool) {
	sc, ok := c.bySymbol[symbol.String()]
	if !ok {
		return nil, false
	}
	o, ok := sc.orders[orderID]
	return o, ok
}

// Size returns the number of cached orders for a symbol.
func (c *ExecutedCache) Size(symbol domain.Symbol) int {
	sc, ok := c.bySymbol[symbol.String()]
	if !ok {
		return 0
	}
	return len(sc.orders)
}
