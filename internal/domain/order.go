package domain

import "time"

// OrderSide indicates whether an order buys or sells the outcome token.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus tracks the CLOB order lifecycle: LIVE -> MATCHED -> terminal.
type OrderStatus string

const (
	OrderStatusLive      OrderStatus = "LIVE"
	OrderStatusMatched   OrderStatus = "MATCHED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusDelayed   OrderStatus = "DELAYED"
	OrderStatusUnmatched OrderStatus = "UNMATCHED"
)

// TradeStatus tracks the on-chain settlement of a matched trade:
// MATCHED -> MINED -> CONFIRMED. MINED means the trade has been observed
// on-chain and will complete even though finality has not been reached;
// RETRYING and FAILED only occur before MINED.
type TradeStatus string

const (
	TradeStatusMatched   TradeStatus = "MATCHED"
	TradeStatusMined     TradeStatus = "MINED"
	TradeStatusConfirmed TradeStatus = "CONFIRMED"
	TradeStatusRetrying  TradeStatus = "RETRYING"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// Order is a limit order as known to the broker.
type Order struct {
	ID          string
	TokenID     string
	Side        OrderSide
	Price       float64
	Size        float64
	SizeMatched float64
	Status      OrderStatus
	CreatedAt   time.Time
}

// OrderResult wraps the broker response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      OrderStatus
	Message     string
	ShouldRetry bool
}

// Trade is one execution attached to an order.
type Trade struct {
	ID      string
	OrderID string
	TokenID string
	Side    OrderSide
	Price   float64
	Size    float64
	Status  TradeStatus
}

// OrderUpdate is one order/trade lifecycle event, as delivered to the OCO
// coordinator by a polling loop or push source.
type OrderUpdate struct {
	OrderID     string
	OrderStatus OrderStatus
	TradeID     string      // empty when no trade exists yet
	TradeStatus TradeStatus // empty when no trade exists yet
	Timestamp   time.Time
}

// TradeMined reports whether this event carries a trade at or past the
// MINED point of no return. CONFIRMED counts: it is strictly later than
// MINED, so a poller that missed the MINED observation must still treat
// the outcome as committed.
func (u OrderUpdate) TradeMined() bool {
	return u.TradeStatus == TradeStatusMined || u.TradeStatus == TradeStatusConfirmed
}

// Winner identifies which side of an OCO pair won.
type Winner string

const (
	WinnerUp   Winner = "UP"
	WinnerDown Winner = "DOWN"
	WinnerNone Winner = "NONE"
)

// OCOResult is the terminal, immutable outcome of one OCO round. It is
// created exactly once, when the coordinator reaches its DONE state.
type OCOResult struct {
	Slug           string
	UpOrderID      string
	DownOrderID    string
	Winner         Winner
	WinningOrderID string
	WinningTradeID string
	LosingOrderID  string
	CancelSuccess  bool
	Anomaly        string // empty when the round completed cleanly
	DryRun         bool
	StartedAt      time.Time
	EndedAt        time.Time
}

// Duration is the time from order placement to the terminal transition.
func (r OCOResult) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
