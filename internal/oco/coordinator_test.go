package oco

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMarket() domain.Market {
	return domain.Market{
		Slug:        "btc-updown-15m-1700000000",
		UpTokenID:   "tok-up",
		DownTokenID: "tok-down",
	}
}

// fakeBroker scripts order placement and cancellation and records every
// call for assertions.
type fakeBroker struct {
	mu sync.Mutex

	placed    []string // token ids in placement order
	cancelled []string // order ids in cancellation order

	placeErrOn   string // token id whose placement fails
	cancelErr    error
	cancelReject bool

	orders map[string]domain.Order
	trades map[string][]domain.Trade
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		orders: make(map[string]domain.Order),
		trades: make(map[string][]domain.Trade),
	}
}

func (b *fakeBroker) PlaceOrder(_ context.Context, tokenID string, side domain.OrderSide, price, size float64) (domain.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tokenID == b.placeErrOn {
		return domain.OrderResult{}, fmt.Errorf("fake: placement rejected for %s", tokenID)
	}
	if side != domain.OrderSideBuy {
		return domain.OrderResult{}, fmt.Errorf("fake: unexpected side %s", side)
	}

	b.placed = append(b.placed, tokenID)
	orderID := fmt.Sprintf("ord-%s", tokenID)
	b.orders[orderID] = domain.Order{
		ID: orderID, TokenID: tokenID, Side: side,
		Price: price, Size: size, Status: domain.OrderStatusLive,
	}
	return domain.OrderResult{Success: true, OrderID: orderID, Status: domain.OrderStatusLive}, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancelled = append(b.cancelled, orderID)
	if b.cancelErr != nil {
		return false, b.cancelErr
	}
	return !b.cancelReject, nil
}

func (b *fakeBroker) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (b *fakeBroker) GetTrades(_ context.Context, orderID string) ([]domain.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trades[orderID], nil
}

func (b *fakeBroker) setOrderStatus(orderID string, s domain.OrderStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.orders[orderID]
	o.Status = s
	b.orders[orderID] = o
}

func (b *fakeBroker) setTrade(orderID, tradeID string, s domain.TradeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades[orderID] = []domain.Trade{{ID: tradeID, OrderID: orderID, Status: s}}
}

func (b *fakeBroker) cancelledIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

func startedCoordinator(t *testing.T, b *fakeBroker) *Coordinator {
	t.Helper()
	coord, err := New(Config{Threshold: 0.80, Size: 100}, testMarket(), b, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return coord
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		cfg Config
		ok  bool
	}{
		{Config{Threshold: 0.80, Size: 100}, true},
		{Config{Threshold: 0, Size: 100}, false},
		{Config{Threshold: 1, Size: 100}, false},
		{Config{Threshold: 0.5, Size: 0}, false},
		{Config{Threshold: 0.5, Size: -1}, false},
	}
	for i, tc := range cases {
		if err := tc.cfg.Validate(); (err == nil) != tc.ok {
			t.Errorf("case %d: Validate() = %v, ok = %v", i, err, tc.ok)
		}
	}
}

func TestStartPlacesBothLegs(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	if got := coord.State(); got != StateLive {
		t.Errorf("state = %s, want LIVE", got)
	}
	if len(b.placed) != 2 || b.placed[0] != "tok-up" || b.placed[1] != "tok-down" {
		t.Errorf("placed = %v", b.placed)
	}
	up, down := coord.OrderIDs()
	if up != "ord-tok-up" || down != "ord-tok-down" {
		t.Errorf("order ids = %s, %s", up, down)
	}
	if coord.Result() != nil {
		t.Error("Result should be nil before DONE")
	}

	// Starting twice is rejected.
	if err := coord.Start(context.Background()); err == nil {
		t.Error("second Start = nil, want error")
	}
}

func TestStartUnwindsAfterSecondLegFailure(t *testing.T) {
	b := newFakeBroker()
	b.placeErrOn = "tok-down"

	coord, err := New(Config{Threshold: 0.80, Size: 100}, testMarket(), b, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := coord.Start(context.Background()); err == nil {
		t.Fatal("Start = nil, want placement error")
	}
	if got := coord.State(); got != StateInit {
		t.Errorf("state = %s, want INIT after failed start", got)
	}
	// The already-placed UP leg must be unwound.
	if ids := b.cancelledIDs(); len(ids) != 1 || ids[0] != "ord-tok-up" {
		t.Errorf("cancelled = %v, want [ord-tok-up]", ids)
	}
}

func TestMinedTriggersCancelOfOtherLeg(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	// MATCHED alone must not resolve the round.
	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		OrderID:     "ord-tok-down",
		OrderStatus: domain.OrderStatusMatched,
		TradeID:     "tr-1",
		TradeStatus: domain.TradeStatusMatched,
	})
	if coord.Done() {
		t.Fatal("MATCHED trade resolved the round")
	}

	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		OrderID:     "ord-tok-down",
		OrderStatus: domain.OrderStatusMatched,
		TradeID:     "tr-1",
		TradeStatus: domain.TradeStatusMined,
	})

	if !coord.Done() {
		t.Fatal("MINED trade did not resolve the round")
	}
	r := coord.Result()
	if r == nil {
		t.Fatal("Result = nil after DONE")
	}
	if r.Winner != domain.WinnerDown {
		t.Errorf("Winner = %s, want DOWN", r.Winner)
	}
	if r.WinningOrderID != "ord-tok-down" || r.WinningTradeID != "tr-1" {
		t.Errorf("winning ids = %s/%s", r.WinningOrderID, r.WinningTradeID)
	}
	if r.LosingOrderID != "ord-tok-up" {
		t.Errorf("LosingOrderID = %s, want ord-tok-up", r.LosingOrderID)
	}
	if !r.CancelSuccess {
		t.Error("CancelSuccess = false, want true")
	}
	if r.Anomaly != "" {
		t.Errorf("Anomaly = %q, want empty", r.Anomaly)
	}
	if ids := b.cancelledIDs(); len(ids) != 1 || ids[0] != "ord-tok-up" {
		t.Errorf("cancelled = %v, want [ord-tok-up]", ids)
	}
}

func TestCancelFailureStillFinishes(t *testing.T) {
	b := newFakeBroker()
	b.cancelErr = errors.New("fake: exchange unavailable")
	coord := startedCoordinator(t, b)

	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		OrderID:     "ord-tok-up",
		TradeID:     "tr-9",
		TradeStatus: domain.TradeStatusMined,
	})

	if !coord.Done() {
		t.Fatal("cancel failure prevented DONE")
	}
	r := coord.Result()
	if r.Winner != domain.WinnerUp {
		t.Errorf("Winner = %s, want UP", r.Winner)
	}
	if r.CancelSuccess {
		t.Error("CancelSuccess = true despite cancel error")
	}
}

func TestDoubleMinedBatchIsAnomaly(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	coord.OnOrderUpdateBatch(context.Background(), []domain.OrderUpdate{
		{OrderID: "ord-tok-up", TradeID: "tr-up", TradeStatus: domain.TradeStatusMined},
		{OrderID: "ord-tok-down", TradeID: "tr-down", TradeStatus: domain.TradeStatusMined},
	})

	if !coord.Done() {
		t.Fatal("double-MINED batch did not resolve")
	}
	r := coord.Result()
	// First MINED event in the batch keeps the win.
	if r.Winner != domain.WinnerUp {
		t.Errorf("Winner = %s, want UP (first in batch)", r.Winner)
	}
	if r.Anomaly != "both_orders_mined" {
		t.Errorf("Anomaly = %q, want both_orders_mined", r.Anomaly)
	}
	if r.CancelSuccess {
		t.Error("CancelSuccess = true, want false for a double-MINED race")
	}
	// Cancelling a mined leg would be pointless.
	if ids := b.cancelledIDs(); len(ids) != 0 {
		t.Errorf("cancelled = %v, want none", ids)
	}
}

func TestConfirmedAlsoTriggers(t *testing.T) {
	// A poller can miss the MINED observation entirely and first see
	// CONFIRMED; the outcome is just as committed.
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		OrderID:     "ord-tok-up",
		TradeID:     "tr-1",
		TradeStatus: domain.TradeStatusConfirmed,
	})
	if !coord.Done() {
		t.Fatal("CONFIRMED trade did not resolve the round")
	}
	if r := coord.Result(); r.Winner != domain.WinnerUp {
		t.Errorf("Winner = %s, want UP", r.Winner)
	}
}

func TestEventsAfterDoneAreNoOps(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		OrderID: "ord-tok-up", TradeID: "tr-1", TradeStatus: domain.TradeStatusMined,
	})
	first := coord.Result()

	// A contradictory late event must not change the recorded result.
	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		OrderID: "ord-tok-down", TradeID: "tr-2", TradeStatus: domain.TradeStatusMined,
	})
	coord.CancelAll(context.Background(), "late abort")

	second := coord.Result()
	if second.Winner != first.Winner || second.WinningTradeID != first.WinningTradeID {
		t.Errorf("result changed after DONE: %+v -> %+v", first, second)
	}
	if !second.EndedAt.Equal(first.EndedAt) {
		t.Error("EndedAt changed after DONE")
	}
}

func TestUnknownOrderEventsIgnored(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		OrderID: "ord-somebody-else", TradeID: "tr-x", TradeStatus: domain.TradeStatusMined,
	})
	if coord.Done() {
		t.Error("event for a foreign order resolved the round")
	}

	coord.OnOrderUpdate(context.Background(), domain.OrderUpdate{
		TradeID: "tr-y", TradeStatus: domain.TradeStatusMined,
	})
	if coord.Done() {
		t.Error("event with empty order id resolved the round")
	}
}

func TestCancelAllFinishesWithNoWinner(t *testing.T) {
	b := newFakeBroker()
	coord := startedCoordinator(t, b)

	start := time.Now()
	coord.CancelAll(context.Background(), "timeout")

	if !coord.Done() {
		t.Fatal("CancelAll did not reach DONE")
	}
	r := coord.Result()
	if r.Winner != domain.WinnerNone {
		t.Errorf("Winner = %s, want NONE", r.Winner)
	}
	if !r.CancelSuccess {
		t.Error("CancelSuccess = false, want true")
	}
	if r.EndedAt.Before(start) {
		t.Error("EndedAt precedes CancelAll")
	}
	if ids := b.cancelledIDs(); len(ids) != 2 {
		t.Errorf("cancelled = %v, want both legs", ids)
	}
}

func TestNewRejectsIncompleteMarket(t *testing.T) {
	m := testMarket()
	m.DownTokenID = ""
	if _, err := New(Config{Threshold: 0.80, Size: 100}, m, newFakeBroker(), testLogger()); err == nil {
		t.Error("New accepted a market without a DOWN token")
	}
}
