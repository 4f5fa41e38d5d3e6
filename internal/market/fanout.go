package market

import (
	"log/slog"
	"sync"

	"arb_go/internal/domain"
	"arb_go/internal/infra"
)

// UpdateType tags whether a published state came from a REST snapshot
// or a streaming diff.
type UpdateType string

const (
	UpdateSnapshot UpdateType = "SNAPSHOT"
	UpdateDiff     UpdateType = "DIFF"
)

// Update is what subscribers receive after each accepted mutation.
// Exactly one of Book, Ticker, Trade is set.
type Update struct {
	Symbol domain.Symbol
	Type   UpdateType
	Book   *domain.OrderBook
	Ticker *domain.BookTicker
	Trade  *domain.Trade
}

// Subscriber is a fan-out callback. It runs on the orchestrator's
// delivery goroutine and must not block.
type Subscriber func(Update)

// Fanout is the registry of subscriber callbacks. One failing
// subscriber never blocks or drops delivery to the others.
type Fanout struct {
	mu      sync.RWMutex
	subs    []Subscriber
	logger  *slog.Logger
	metrics *infra.Metrics
}

// NewFanout creates an empty subscriber registry.
func NewFanout(logger *slog.Logger, metrics *infra.Metrics) *Fanout {
	return &Fanout{logger: logger, metrics: metrics}
}

// Subscribe registers a callback for every accepted state change.
func (f *Fanout) Subscribe(sub Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
}

// Publish invokes every subscriber with the update, recovering from
// individual panics so siblings still run.
func (f *Fanout) Publish(update Update) {
	f.mu.RLock()
	subs := f.subs
	f.mu.RUnlock()

	for _, sub := range subs {
		f.deliver(sub, update)
	}
}

func (f *Fanout) deliver(sub Subscriber, update Update) {
	defer func() {
		if r := recover(); r != nil {
			f.metrics.RecordSubscriberPanic()
			f.logger.Error("subscriber panicked",
				slog.String("symbol", update.Symbol.String()),
				slog.Any("panic", r))
		}
	}()
	sub(update)
}

// Len returns the number of registered subscribers.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
