// Package oco implements the One-Cancels-Other limit strategy: two limit
// BUY orders on the opposite outcomes of one up/down market, arbitrated
// by order/trade lifecycle events. The exchange has no native OCO; this
// coordinator provides it client-side.
//
// The trigger is the MINED trade status. MATCHED only means the order
// was matched in the book and the trade can still fail before settling
// on-chain; CONFIRMED is strictly later than the point where the outcome
// is already irrevocable. MINED is the earliest guaranteed-to-complete
// point, so it is the earliest safe moment to cancel the other leg.
package oco

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polyoco/updownbot/internal/broker"
	"github.com/polyoco/updownbot/internal/domain"
)

// State is the coordinator's lifecycle state. No transition leaves Done.
type State string

const (
	StateInit State = "INIT" // orders not yet placed
	StateLive State = "LIVE" // both orders placed, awaiting outcome
	StateDone State = "DONE" // terminal
)

// Config is the immutable strategy configuration.
type Config struct {
	// Threshold is the limit price for both orders. A BUY at threshold
	// fills only when that side's probability reaches the threshold, so
	// the resting limit orders act as implicit market-move triggers.
	Threshold float64

	// Size is the order size in shares, applied to both legs.
	Size float64

	// DryRun marks results produced against a dry-run broker.
	DryRun bool
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("oco: threshold must be in (0, 1), got %v", c.Threshold)
	}
	if c.Size <= 0 {
		return fmt.Errorf("oco: size must be positive, got %v", c.Size)
	}
	return nil
}

// leg tracks one of the two orders.
type leg struct {
	orderID  string
	status   domain.OrderStatus
	tradeIDs []string
	mined    bool
}

func (l *leg) seenTrade(id string) bool {
	for _, t := range l.tradeIDs {
		if t == id {
			return true
		}
	}
	return false
}

// Coordinator is the per-market OCO state machine. It is not internally
// locked against concurrent OnOrderUpdate calls: the event source must
// invoke it serially. State reads (State, Done, Result) are safe from
// other goroutines.
type Coordinator struct {
	cfg    Config
	market domain.Market
	broker broker.Broker
	logger *slog.Logger

	mu     sync.RWMutex
	state  State
	up     leg
	down   leg
	result *domain.OCOResult

	startedAt time.Time
}

// New creates a Coordinator for the given market. The market must carry
// both outcome token ids.
func New(cfg Config, market domain.Market, b broker.Broker, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if market.UpTokenID == "" || market.DownTokenID == "" {
		return nil, fmt.Errorf("oco: market %s is missing outcome tokens", market.Slug)
	}
	return &Coordinator{
		cfg:    cfg,
		market: market,
		broker: b,
		logger: logger.With(
			slog.String("component", "oco"),
			slog.String("slug", market.Slug),
		),
		state: StateInit,
	}, nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done reports whether the coordinator has reached its terminal state.
func (c *Coordinator) Done() bool { return c.State() == StateDone }

// Result returns the terminal result, or nil before Done.
func (c *Coordinator) Result() *domain.OCOResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

// OrderIDs returns the tracked up and down order ids (empty before Start).
func (c *Coordinator) OrderIDs() (up, down string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.up.orderID, c.down.orderID
}

// Start places both limit BUY orders at the threshold price and
// transitions INIT -> LIVE. If either placement fails the coordinator
// stays in INIT and the error is surfaced; a leg that was already placed
// is cancelled best-effort so no one-sided exposure is left behind.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInit {
		return fmt.Errorf("oco: start in state %s, expected %s", c.state, StateInit)
	}

	c.startedAt = time.Now()
	c.logger.InfoContext(ctx, "placing OCO orders",
		slog.Float64("threshold", c.cfg.Threshold),
		slog.Float64("size", c.cfg.Size),
		slog.Bool("dry_run", c.cfg.DryRun),
	)

	upRes, err := c.broker.PlaceOrder(ctx, c.market.UpTokenID, domain.OrderSideBuy, c.cfg.Threshold, c.cfg.Size)
	if err != nil {
		return fmt.Errorf("oco: place UP order: %w", err)
	}

	downRes, err := c.broker.PlaceOrder(ctx, c.market.DownTokenID, domain.OrderSideBuy, c.cfg.Threshold, c.cfg.Size)
	if err != nil {
		if ok, cerr := c.broker.CancelOrder(ctx, upRes.OrderID); cerr != nil || !ok {
			c.logger.ErrorContext(ctx, "failed to unwind UP order after DOWN placement failure",
				slog.String("up_order_id", upRes.OrderID),
			)
		}
		return fmt.Errorf("oco: place DOWN order: %w", err)
	}

	c.up = leg{orderID: upRes.OrderID, status: domain.OrderStatusLive}
	c.down = leg{orderID: downRes.OrderID, status: domain.OrderStatusLive}
	c.state = StateLive

	c.logger.InfoContext(ctx, "OCO orders live",
		slog.String("up_order_id", c.up.orderID),
		slog.String("down_order_id", c.down.orderID),
	)
	return nil
}

// OnOrderUpdate processes a single order/trade lifecycle event. Calls
// after Done are no-ops. Never returns an error: cancel failures are
// recorded in the result, not raised.
func (c *Coordinator) OnOrderUpdate(ctx context.Context, ev domain.OrderUpdate) {
	c.OnOrderUpdateBatch(ctx, []domain.OrderUpdate{ev})
}

// OnOrderUpdateBatch processes one batch of lifecycle events as a unit.
// Bookkeeping for every event is applied before the winner is resolved,
// so a batch in which both orders report MINED is detected as a race:
// the first MINED event wins, the result carries the anomaly marker, and
// no cancellation is attempted.
func (c *Coordinator) OnOrderUpdateBatch(ctx context.Context, events []domain.OrderUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateLive {
		return
	}

	var trigger *domain.OrderUpdate
	for i := range events {
		ev := events[i]
		l := c.matchLeg(ev.OrderID)
		if l == nil {
			continue // not one of ours
		}

		if ev.OrderStatus != "" {
			l.status = ev.OrderStatus
		}
		if ev.TradeID != "" && !l.seenTrade(ev.TradeID) {
			l.tradeIDs = append(l.tradeIDs, ev.TradeID)
		}
		if ev.TradeMined() {
			l.mined = true
			if trigger == nil {
				trigger = &events[i]
			}
		}
	}

	if trigger == nil {
		return
	}
	c.resolveLocked(ctx, *trigger)
}

// CancelAll cancels both legs and transitions to DONE with no winner.
// Intended for caller-enforced deadlines and manual aborts.
func (c *Coordinator) CancelAll(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDone {
		return
	}

	c.logger.InfoContext(ctx, "cancelling both legs", slog.String("reason", reason))

	upOK := c.cancelLeg(ctx, "UP", c.up.orderID)
	downOK := c.cancelLeg(ctx, "DOWN", c.down.orderID)

	c.finalizeLocked(domain.OCOResult{
		Winner:        domain.WinnerNone,
		CancelSuccess: upOK && downOK,
		Anomaly:       "cancelled: " + reason,
	})
}

// resolveLocked drives the LIVE -> DONE transition for a MINED trigger.
func (c *Coordinator) resolveLocked(ctx context.Context, trigger domain.OrderUpdate) {
	winner := domain.WinnerUp
	loseLeg := &c.down
	if trigger.OrderID == c.down.orderID {
		winner = domain.WinnerDown
		loseLeg = &c.up
	}

	c.logger.InfoContext(ctx, "trade mined",
		slog.String("winner", string(winner)),
		slog.String("trade_id", trigger.TradeID),
	)

	if loseLeg.mined {
		// Both legs committed on-chain before we could intervene. The
		// first-processed event keeps the win; cancelling the other leg
		// would be pointless and is skipped.
		c.logger.ErrorContext(ctx, "both orders mined in one batch",
			slog.String("up_order_id", c.up.orderID),
			slog.String("down_order_id", c.down.orderID),
		)
		c.finalizeLocked(domain.OCOResult{
			Winner:         winner,
			WinningOrderID: trigger.OrderID,
			WinningTradeID: trigger.TradeID,
			LosingOrderID:  loseLeg.orderID,
			CancelSuccess:  false,
			Anomaly:        "both_orders_mined",
		})
		return
	}

	cancelOK := c.cancelLeg(ctx, string(otherWinner(winner)), loseLeg.orderID)

	c.finalizeLocked(domain.OCOResult{
		Winner:         winner,
		WinningOrderID: trigger.OrderID,
		WinningTradeID: trigger.TradeID,
		LosingOrderID:  loseLeg.orderID,
		CancelSuccess:  cancelOK,
	})
}

// cancelLeg attempts one best-effort cancellation. Failures are logged
// and reported as false, never raised: by the time a cancel runs, the
// strategy's outcome is already decided.
func (c *Coordinator) cancelLeg(ctx context.Context, side, orderID string) bool {
	if orderID == "" {
		return true
	}

	ok, err := c.broker.CancelOrder(ctx, orderID)
	if err != nil {
		c.logger.ErrorContext(ctx, "cancel failed",
			slog.String("side", side),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !ok {
		c.logger.WarnContext(ctx, "cancel rejected",
			slog.String("side", side),
			slog.String("order_id", orderID),
		)
	}
	return ok
}

// finalizeLocked records the result exactly once and enters DONE.
func (c *Coordinator) finalizeLocked(r domain.OCOResult) {
	r.Slug = c.market.Slug
	r.UpOrderID = c.up.orderID
	r.DownOrderID = c.down.orderID
	r.DryRun = c.cfg.DryRun
	r.StartedAt = c.startedAt
	r.EndedAt = time.Now()

	c.result = &r
	c.state = StateDone

	c.logger.Info("OCO done",
		slog.String("winner", string(r.Winner)),
		slog.String("winning_order_id", r.WinningOrderID),
		slog.Bool("cancel_success", r.CancelSuccess),
		slog.String("anomaly", r.Anomaly),
		slog.Duration("duration", r.Duration()),
	)
}

func (c *Coordinator) matchLeg(orderID string) *leg {
	switch orderID {
	case "":
		return nil
	case c.up.orderID:
		return &c.up
	case c.down.orderID:
		return &c.down
	default:
		return nil
	}
}

func otherWinner(w domain.Winner) domain.Winner {
	if w == domain.WinnerUp {
		return domain.WinnerDown
	}
	return domain.WinnerUp
}
