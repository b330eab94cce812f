package oco

import (
	"context"
	"testing"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

func TestPollerResolvesOnMinedTrade(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	b.setOrderStatus("ord-tok-up", domain.OrderStatusMatched)
	b.setTrade("ord-tok-up", "tr-1", domain.TradeStatusMined)

	p := NewPoller(b, coord, 5*time.Millisecond, 0, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := coord.Result()
	if r == nil {
		t.Fatal("poller returned before DONE")
	}
	if r.Winner != domain.WinnerUp || r.WinningTradeID != "tr-1" {
		t.Errorf("result = %+v", r)
	}
}

func TestPollerPicksMostAdvancedTrade(t *testing.T) {
	trades := []domain.Trade{
		{ID: "a", Status: domain.TradeStatusMatched},
		{ID: "b", Status: domain.TradeStatusMined},
		{ID: "c", Status: domain.TradeStatusRetrying},
	}
	if got := pickTrade(trades); got.ID != "b" {
		t.Errorf("pickTrade = %s, want b (MINED outranks MATCHED and RETRYING)", got.ID)
	}

	trades[0].Status = domain.TradeStatusConfirmed
	if got := pickTrade(trades); got.ID != "a" {
		t.Errorf("pickTrade = %s, want a (CONFIRMED outranks MINED)", got.ID)
	}
}

func TestPollerDeadlineCancelsBothLegs(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	// No trades ever appear; the deadline must end the round.
	p := NewPoller(b, coord, 5*time.Millisecond, 30*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := coord.Result()
	if r == nil {
		t.Fatal("deadline did not finish the round")
	}
	if r.Winner != domain.WinnerNone {
		t.Errorf("Winner = %s, want NONE", r.Winner)
	}
	if ids := b.cancelledIDs(); len(ids) != 2 {
		t.Errorf("cancelled = %v, want both legs", ids)
	}
}

func TestPollerContextCancelUnwinds(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	p := NewPoller(b, coord, 5*time.Millisecond, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	// Shutdown leaves no resting orders behind.
	if !coord.Done() {
		t.Error("coordinator not DONE after shutdown")
	}
	if ids := b.cancelledIDs(); len(ids) != 2 {
		t.Errorf("cancelled = %v, want both legs", ids)
	}
}
