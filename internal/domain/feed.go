package domain

import (
	"fmt"
	"time"
)

// Side identifies which outcome of a binary market an update refers to.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// MarketState is the live best-bid/ask view of one monitored market.
// It is owned by the feed's dispatch loop; readers receive copies.
// Price fields are nil until the first update for that side arrives,
// and are never cleared back to nil afterwards.
type MarketState struct {
	Slug        string
	UpTokenID   string
	DownTokenID string

	UpBid   *float64
	UpAsk   *float64
	DownBid *float64
	DownAsk *float64

	LastUpdate  time.Time
	UpdateCount int64
}

// UpMid returns the UP mid price, falling back to whichever side of the
// book is known when only one is.
func (m *MarketState) UpMid() *float64 {
	return mid(m.UpBid, m.UpAsk)
}

// DownMid returns the DOWN mid price.
func (m *MarketState) DownMid() *float64 {
	return mid(m.DownBid, m.DownAsk)
}

// ImpliedProb is the market-implied probability of UP, taken from the UP
// mid price.
func (m *MarketState) ImpliedProb() *float64 {
	return m.UpMid()
}

// Clone returns a copy safe to hand to readers outside the dispatch loop.
func (m *MarketState) Clone() *MarketState {
	c := *m
	c.UpBid = clonePtr(m.UpBid)
	c.UpAsk = clonePtr(m.UpAsk)
	c.DownBid = clonePtr(m.DownBid)
	c.DownAsk = clonePtr(m.DownAsk)
	return &c
}

// PriceUpdate is one processed feed event. It is immutable after creation.
type PriceUpdate struct {
	Timestamp time.Time
	Slug      string
	Side      Side

	BestBid *float64
	BestAsk *float64

	LastPrice *float64
	LastSize  *float64
	LastSide  string // "BUY" or "SELL", empty when not a trade
}

// Mid returns the mid price, or whichever of bid/ask is known.
func (u PriceUpdate) Mid() *float64 {
	return mid(u.BestBid, u.BestAsk)
}

// Spread returns ask-bid when both sides are known.
func (u PriceUpdate) Spread() *float64 {
	if u.BestBid == nil || u.BestAsk == nil {
		return nil
	}
	s := *u.BestAsk - *u.BestBid
	return &s
}

func (u PriceUpdate) String() string {
	bid, ask := "N/A", "N/A"
	if u.BestBid != nil {
		bid = fmt.Sprintf("%.4f", *u.BestBid)
	}
	if u.BestAsk != nil {
		ask = fmt.Sprintf("%.4f", *u.BestAsk)
	}
	return fmt.Sprintf("PriceUpdate(%s, %s: %s/%s)", u.Slug, u.Side, bid, ask)
}

// FeedStats tracks connection statistics for the market feed. Cumulative
// totals and the reconnect count persist across reconnects; ConnectedAt
// is reset on every successful (re)connect.
type FeedStats struct {
	ConnectedAt      time.Time
	MessagesReceived int64
	UpdatesProcessed int64
	BytesReceived    int64
	ReconnectCount   int64
	LastMessageAt    time.Time
}

// Uptime returns the time since the last successful connect, or zero when
// never connected.
func (s FeedStats) Uptime() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(s.ConnectedAt)
}

// PriceSnapshot is one row of persisted market history.
type PriceSnapshot struct {
	Time    time.Time
	Slug    string
	Side    Side
	BestBid *float64
	BestAsk *float64
}

func mid(bid, ask *float64) *float64 {
	switch {
	case bid != nil && ask != nil:
		m := (*bid + *ask) / 2
		return &m
	case bid != nil:
		return clonePtr(bid)
	case ask != nil:
		return clonePtr(ask)
	default:
		return nil
	}
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
