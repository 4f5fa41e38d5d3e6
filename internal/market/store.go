package market

import (
	"sync"

	"arb_go/internal/domain"
)

// Store is the authoritative in-memory market state for one exchange:
// symbol -> orderbook and symbol -> book ticker. All mutations arrive
// from the orchestrator's single delivery path; the RWMutex exists for
// external readers, which only ever receive copies.
type Store struct {
	mu      sync.RWMutex
	books   map[string]*domain.OrderBook
	tickers map[string]*domain.BookTicker
}

// NewStore creates an empty market state store.
func NewStore() *Store {
	return &Store{
		books:   make(map[string]*domain.OrderBook),
		tickers: make(map[string]*domain.BookTicker),
	}
}

// ApplySnapshot replaces the stored book wholesale. A snapshot older
// than the stored book (a reconnect replaying history) is rejected.
func (s *Store) ApplySnapshot(book *domain.OrderBook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := book.Symbol.String()
	if cur, ok := s.books[key]; ok {
		if book.UpdatedAt <= cur.UpdatedAt && book.LastSeq <= cur.LastSeq {
			return false
		}
	}
	s.books[key] = book.Clone()
	return true
}

// ApplyDiff merges an incremental update under the freshness check.
// Returns whether the diff was applied and whether the merged book is
// crossed (ask < bid), which the caller logs as a data-quality fault.
func (s *Store) ApplyDiff(diff *domain.OrderBookDiff) (applied, crossed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := diff.Symbol.String()
	book, ok := s.books[key]
	if !ok {
		// First observation: start a book from the diff.
		book = &domain.OrderBook{Symbol: diff.Symbol}
		s.books[key] = book
	} else if !diff.IsNewerThan(book) {
		return false, false
	}

	book.ApplyDiff(diff)
	return true, book.IsCrossed()
}

// ApplyTicker stores a best bid/ask update under the freshness check.
func (s *Store) ApplyTicker(ticker *domain.BookTicker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ticker.Symbol.String()
	if cur, ok := s.tickers[key]; ok && !ticker.IsNewerThan(cur) {
		return false
	}
	cp := *ticker
	s.tickers[key] = &cp
	return true
}

// BestBidAsk returns a copy of the last known book ticker. O(1); never
// blocks on the network.
func (s *Store) BestBidAsk(symbol domain.Symbol) (domain.BookTicker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickers[symbol.String()]
	if !ok {
		return domain.BookTicker{}, false
	}
	return *t, true
}

// OrderBook returns a deep copy of the stored book for external readers.
func (s *Store) OrderBook(symbol domain.Symbol) (*domain.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[symbol.String()]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Remove drops all state for a symbol.
func (s *Store) Remove(symbol domain.Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.books, symbol.String())
	delete(s.tickers, symbol.String())
}

// Size returns the number of symbols with a stored book.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}
