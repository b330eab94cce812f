package feed

import (
	"sync"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

// tokenRef locates the market and side an outcome token belongs to.
type tokenRef struct {
	slug string
	side domain.Side
}

// marketTable is the market state store plus the subscription registry:
// slug -> MarketState and token -> (slug, side). State is mutated only by
// the feed's dispatch loop via apply; reads hand out copies so callers
// can safely interleave with writes.
type marketTable struct {
	mu      sync.RWMutex
	markets map[string]*domain.MarketState
	tokens  map[string]tokenRef
}

func newMarketTable() *marketTable {
	return &marketTable{
		markets: make(map[string]*domain.MarketState),
		tokens:  make(map[string]tokenRef),
	}
}

// add registers a market and its two token mappings. Re-adding an
// existing slug preserves the existing state; the token mappings are
// refreshed. A token is never mapped to more than one slug: stale
// mappings from a previous registration of the same slug are removed.
func (t *marketTable) add(slug, upTokenID, downTokenID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.markets[slug]; ok {
		if prev.UpTokenID != upTokenID {
			delete(t.tokens, prev.UpTokenID)
		}
		if prev.DownTokenID != downTokenID {
			delete(t.tokens, prev.DownTokenID)
		}
		prev.UpTokenID = upTokenID
		prev.DownTokenID = downTokenID
	} else {
		t.markets[slug] = &domain.MarketState{
			Slug:        slug,
			UpTokenID:   upTokenID,
			DownTokenID: downTokenID,
		}
	}

	t.tokens[upTokenID] = tokenRef{slug: slug, side: domain.SideUp}
	t.tokens[downTokenID] = tokenRef{slug: slug, side: domain.SideDown}
}

// remove deletes a market and its token mappings. There is no
// unsubscribe frame on the wire; the table simply stops routing updates
// for the removed tokens.
func (t *marketTable) remove(slug string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.markets[slug]
	if !ok {
		return false
	}
	delete(t.markets, slug)
	delete(t.tokens, m.UpTokenID)
	delete(t.tokens, m.DownTokenID)
	return true
}

// snapshot returns a copy of the market state, or nil when unknown.
func (t *marketTable) snapshot(slug string) *domain.MarketState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, ok := t.markets[slug]
	if !ok {
		return nil
	}
	return m.Clone()
}

// snapshotAll returns copies of every tracked market state.
func (t *marketTable) snapshotAll() map[string]*domain.MarketState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*domain.MarketState, len(t.markets))
	for slug, m := range t.markets {
		out[slug] = m.Clone()
	}
	return out
}

// allTokens returns every registered token id, for (re)subscription.
func (t *marketTable) allTokens() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.tokens))
	for id := range t.tokens {
		out = append(out, id)
	}
	return out
}

func (t *marketTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.markets)
}

// apply routes a RawUpdate to its market state and merges it. Updates for
// unregistered tokens are dropped. A BOOK replaces both best prices for
// the side; a PRICE_CHANGE merges only the fields it carries; a TRADE
// touches only last-trade fields. No update ever clears a previously
// known price back to nil.
func (t *marketTable) apply(u RawUpdate, now time.Time) (domain.PriceUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ref, ok := t.tokens[u.TokenID]
	if !ok {
		return domain.PriceUpdate{}, false
	}
	m, ok := t.markets[ref.slug]
	if !ok {
		return domain.PriceUpdate{}, false
	}

	out := domain.PriceUpdate{
		Timestamp: now,
		Slug:      ref.slug,
		Side:      ref.side,
	}

	switch u.Kind {
	case KindBook:
		bid, ask := u.Book.BestBid(), u.Book.BestAsk()
		setSide(m, ref.side, bid, ask)
		out.BestBid = bid
		out.BestAsk = ask
		out.LastPrice = u.Book.LastTrade

	case KindPriceChange:
		setSide(m, ref.side, u.Change.BestBid, u.Change.BestAsk)
		out.BestBid = u.Change.BestBid
		out.BestAsk = u.Change.BestAsk
		out.LastPrice = u.Change.Price
		out.LastSize = u.Change.Size
		out.LastSide = u.Change.Side

	case KindTrade:
		price := u.Trade.Price
		size := u.Trade.Size
		out.LastPrice = &price
		out.LastSize = &size
		out.LastSide = u.Trade.Side
	}

	m.LastUpdate = now
	m.UpdateCount++
	return out, true
}

// setSide merges non-nil best prices into the market state for one side.
func setSide(m *domain.MarketState, side domain.Side, bid, ask *float64) {
	if side == domain.SideUp {
		if bid != nil {
			m.UpBid = bid
		}
		if ask != nil {
			m.UpAsk = ask
		}
		return
	}
	if bid != nil {
		m.DownBid = bid
	}
	if ask != nil {
		m.DownAsk = ask
	}
}
