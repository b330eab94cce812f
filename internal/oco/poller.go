package oco

import (
	"context"
	"log/slog"
	"time"

	"github.com/polyoco/updownbot/internal/broker"
	"github.com/polyoco/updownbot/internal/domain"
)

// Poller sources order/trade lifecycle events for a Coordinator by
// polling the broker. Events from one poll cycle are delivered as a
// single batch, so a cycle in which both legs report MINED is seen by
// the coordinator as the race it is. The poller is the coordinator's
// single serial caller.
type Poller struct {
	broker   broker.Broker
	coord    *Coordinator
	interval time.Duration
	deadline time.Duration // zero means no deadline
	logger   *slog.Logger
}

// NewPoller creates a Poller. interval defaults to 2s when non-positive.
// deadline, when positive, bounds the whole round: once it elapses both
// legs are cancelled and the coordinator finishes with no winner.
func NewPoller(b broker.Broker, coord *Coordinator, interval, deadline time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		broker:   b,
		coord:    coord,
		interval: interval,
		deadline: deadline,
		logger:   logger.With(slog.String("component", "oco_poller")),
	}
}

// Run polls until the coordinator is done, the deadline elapses, or the
// context is cancelled. Context cancellation also cancels both legs so
// no orders are left resting.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var expired <-chan time.Time
	if p.deadline > 0 {
		timer := time.NewTimer(p.deadline)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			p.coord.CancelAll(cancelCtx, "shutdown")
			cancel()
			return ctx.Err()

		case <-expired:
			p.logger.WarnContext(ctx, "deadline elapsed, cancelling both legs",
				slog.Duration("deadline", p.deadline),
			)
			p.coord.CancelAll(ctx, "timeout")
			return nil

		case <-ticker.C:
			batch := p.poll(ctx)
			if len(batch) > 0 {
				p.coord.OnOrderUpdateBatch(ctx, batch)
			}
			if p.coord.Done() {
				return nil
			}
		}
	}
}

// poll fetches the current order and trade state for both legs. Query
// failures are transient: they are logged and the leg is skipped until
// the next cycle.
func (p *Poller) poll(ctx context.Context) []domain.OrderUpdate {
	upID, downID := p.coord.OrderIDs()

	var batch []domain.OrderUpdate
	for _, orderID := range []string{upID, downID} {
		if orderID == "" {
			continue
		}

		order, err := p.broker.GetOrder(ctx, orderID)
		if err != nil {
			p.logger.WarnContext(ctx, "get order failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
			continue
		}

		ev := domain.OrderUpdate{
			OrderID:     orderID,
			OrderStatus: order.Status,
			Timestamp:   time.Now(),
		}

		trades, err := p.broker.GetTrades(ctx, orderID)
		if err != nil {
			p.logger.WarnContext(ctx, "get trades failed",
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		} else if len(trades) > 0 {
			latest := pickTrade(trades)
			ev.TradeID = latest.ID
			ev.TradeStatus = latest.Status
		}

		batch = append(batch, ev)
	}
	return batch
}

// pickTrade selects the most advanced trade for an order: a settled
// trade outranks a pending one regardless of polling order.
func pickTrade(trades []domain.Trade) domain.Trade {
	best := trades[0]
	for _, t := range trades[1:] {
		if tradeRank(t.Status) > tradeRank(best.Status) {
			best = t
		}
	}
	return best
}

func tradeRank(s domain.TradeStatus) int {
	switch s {
	case domain.TradeStatusConfirmed:
		return 4
	case domain.TradeStatusMined:
		return 3
	case domain.TradeStatusRetrying:
		return 2
	case domain.TradeStatusMatched:
		return 1
	default:
		return 0
	}
}
