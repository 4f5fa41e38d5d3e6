package market

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arb_go/internal/domain"
	"arb_go/internal/infra"
)

const bootstrapConcurrency = 5

// Orchestrator maintains the authoritative orderbook and best bid/ask
// view for one exchange, reconciling the REST bootstrap channel with
// the streaming diff feed and fanning out every accepted change.
//
// The REST and streaming clients are injected fully constructed; the
// orchestrator never knows transport details.
type Orchestrator struct {
	exchange string
	rest     domain.PublicRest
	stream   domain.PublicStream
	meta     domain.MetadataProvider

	store   *Store
	fanout  *Fanout
	metrics *infra.Metrics
	logger  *slog.Logger

	mu      sync.Mutex // guards tracked and runCtx
	tracked map[string]domain.Symbol
	runCtx  context.Context

	closeOnce sync.Once
	closed    chan struct{}
}

// NewOrchestrator wires an orchestrator for one exchange. stream and
// meta may be nil: without a stream the state is REST-only, without a
// metadata provider precision rules are skipped.
func NewOrchestrator(exchange string, rest domain.PublicRest, stream domain.PublicStream, meta domain.MetadataProvider, metrics *infra.Metrics) *Orchestrator {
	logger := slog.Default().With("module", "market", "exchange", exchange)
	return &Orchestrator{
		exchange: exchange,
		rest:     rest,
		stream:   stream,
		meta:     meta,
		store:    NewStore(),
		fanout:   NewFanout(logger, metrics),
		metrics:  metrics,
		logger:   logger,
		tracked:  make(map[string]domain.Symbol),
		closed:   make(chan struct{}),
	}
}

// Initialize loads the REST bootstrap for all requested symbols
// (parallel, best-effort: a symbol whose snapshot fails is excluded,
// not fatal) and then activates the streaming client with this
// orchestrator's handler bundle. It returns once snapshots are loaded
// and handlers are registered; it does not wait for the streaming
// channel to connect. It fails with *domain.InitializationError only
// when no symbol produced usable data.
func (o *Orchestrator) Initialize(ctx context.Context, symbols []domain.Symbol) error {
	if o.meta != nil {
		if infos, err := o.meta.AllSymbols(o.exchange); err != nil {
			o.logger.Warn("metadata load failed", slog.Any("error", err))
		} else {
			o.logger.Info("metadata loaded", slog.Int("symbols", len(infos)))
		}
	}

	loaded := o.bootstrap(ctx, symbols)
	if loaded == 0 {
		return &domain.InitializationError{
			Component: "market/" + o.exchange,
			Err:       errors.New("no orderbook snapshot could be loaded"),
		}
	}

	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	if o.stream != nil {
		handlers := domain.PublicHandlers{
			OrderBook:  o.handleOrderBookDiff,
			BookTicker: o.handleBookTicker,
			Trade:      o.handleTrade,
			Reconnect:  o.handleReconnect,
		}
		if err := o.stream.Activate(ctx, handlers); err != nil {
			return &domain.InitializationError{Component: "market/" + o.exchange, Err: err}
		}
		if err := o.stream.Subscribe(o.trackedSymbols()); err != nil {
			o.logger.Warn("stream subscribe failed", slog.Any("error", err))
		}
	}

	o.logger.Info("market orchestrator initialized",
		slog.Int("requested", len(symbols)), slog.Int("loaded", loaded))
	return nil
}

// bootstrap fetches snapshots for all symbols with bounded parallelism
// and per-symbol failure isolation. Returns the number of symbols that
// produced a usable snapshot; only those become tracked.
func (o *Orchestrator) bootstrap(ctx context.Context, symbols []domain.Symbol) int {
	var wg sync.WaitGroup
	sem := make(chan struct{}, bootstrapConcurrency)

	var mu sync.Mutex
	loaded := 0

	for _, sym := range symbols {
		wg.Add(1)
		go func(sym domain.Symbol) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := o.snapshotSymbol(ctx, sym); err != nil {
				o.metrics.RecordError()
				o.logger.Warn("snapshot failed, symbol excluded",
					slog.String("symbol", sym.String()), slog.Any("error", err))
				return
			}
			mu.Lock()
			loaded++
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return loaded
}

// snapshotSymbol fetches one snapshot, stores it and marks the symbol
// tracked. Used by bootstrap, AddSymbol and the reconnect resync.
func (o *Orchestrator) snapshotSymbol(ctx context.Context, sym domain.Symbol) error {
	book, err := o.rest.OrderBookSnapshot(ctx, sym)
	if err != nil {
		return err
	}
	if o.store.ApplySnapshot(book) {
		o.publishBook(book.Symbol, UpdateSnapshot)
	}

	o.mu.Lock()
	o.tracked[sym.String()] = sym
	o.mu.Unlock()
	return nil
}

// AddSymbol starts tracking a symbol. The REST snapshot is fetched
// before the symbol is considered active.
func (o *Orchestrator) AddSymbol(ctx context.Context, sym domain.Symbol) error {
	if o.isClosed() {
		return domain.ErrOrchestratorClosed
	}
	if err := o.snapshotSymbol(ctx, sym); err != nil {
		return err
	}
	if o.stream != nil {
		if err := o.stream.Subscribe([]domain.Symbol{sym}); err != nil {
			o.logger.Warn("stream subscribe failed",
				slog.String("symbol", sym.String()), slog.Any("error", err))
		}
	}
	return nil
}

// RemoveSymbol stops tracking a symbol and drops its state.
func (o *Orchestrator) RemoveSymbol(sym domain.Symbol) {
	o.mu.Lock()
	delete(o.tracked, sym.String())
	o.mu.Unlock()

	o.store.Remove(sym)
	if o.stream != nil {
		if err := o.stream.Unsubscribe([]domain.Symbol{sym}); err != nil {
			o.logger.Warn("stream unsubscribe failed",
				slog.String("symbol", sym.String()), slog.Any("error", err))
		}
	}
}

// BestBidAsk returns the last known best bid/ask for a symbol. O(1),
// never blocks, never triggers a network call.
func (o *Orchestrator) BestBidAsk(sym domain.Symbol) (domain.BookTicker, bool) {
	return o.store.BestBidAsk(sym)
}

// OrderBook returns a copy of the current book for external readers.
func (o *Orchestrator) OrderBook(sym domain.Symbol) (*domain.OrderBook, bool) {
	return o.store.OrderBook(sym)
}

// Subscribe registers a fan-out callback invoked after every accepted
// mutation.
func (o *Orchestrator) Subscribe(sub Subscriber) {
	o.fanout.Subscribe(sub)
}

// TrackedSymbols returns a copy of the tracked symbol set.
func (o *Orchestrator) TrackedSymbols() []domain.Symbol {
	return o.trackedSymbols()
}

func (o *Orchestrator) trackedSymbols() []domain.Symbol {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Symbol, 0, len(o.tracked))
	for _, s := range o.tracked {
		out = append(out, s)
	}
	return out
}

// handleOrderBookDiff is the streaming book handler: freshness gate,
// merge, crossed-book check, fan-out. No I/O on this path.
func (o *Orchestrator) handleOrderBookDiff(diff *domain.OrderBookDiff) {
	start := time.Now()
	applied, crossed := o.store.ApplyDiff(diff)
	if !applied {
		o.metrics.RecordStaleRejected()
		return
	}
	if crossed {
		o.metrics.RecordCrossedBook()
		o.logger.Warn("crossed book after merge",
			slog.String("symbol", diff.Symbol.String()),
			slog.String("exchange", o.exchange))
	}
	o.publishBook(diff.Symbol, UpdateDiff)
	o.metrics.RecordEvent(time.Since(start).Nanoseconds())
}

// handleBookTicker is the streaming best bid/ask handler.
func (o *Orchestrator) handleBookTicker(ticker *domain.BookTicker) {
	start := time.Now()
	if !o.store.ApplyTicker(ticker) {
		o.metrics.RecordStaleRejected()
		return
	}
	cp := *ticker
	o.fanout.Publish(Update{Symbol: ticker.Symbol, Type: UpdateDiff, Ticker: &cp})
	o.metrics.RecordEvent(time.Since(start).Nanoseconds())
}

// handleTrade forwards public trades to subscribers without storing.
func (o *Orchestrator) handleTrade(trade *domain.Trade) {
	cp := *trade
	o.fanout.Publish(Update{Symbol: trade.Symbol, Type: UpdateDiff, Trade: &cp})
}

// handleReconnect re-snapshots every tracked symbol via REST before the
// streaming client resumes delivery. Diffs lost during the outage can
// never be replayed, so incremental catch-up is not an option.
func (o *Orchestrator) handleReconnect() {
	o.metrics.RecordReconnect()
	o.mu.Lock()
	ctx := o.runCtx
	o.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	symbols := o.trackedSymbols()
	o.logger.Info("stream reconnected, re-snapshotting",
		slog.Int("symbols", len(symbols)))
	o.bootstrap(ctx, symbols)
}

func (o *Orchestrator) publishBook(sym domain.Symbol, typ UpdateType) {
	book, ok := o.store.OrderBook(sym)
	if !ok {
		return
	}
	o.fanout.Publish(Update{Symbol: sym, Type: typ, Book: book})
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}

// Close stops streaming consumption and releases the client handles.
// Idempotent; safe to call from cleanup paths after a failed Initialize.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.closed)
		if o.stream != nil {
			err = o.stream.Close()
		}
		o.logger.Info("market orchestrator closed")
	})
	return err
}
