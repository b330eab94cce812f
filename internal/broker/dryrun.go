package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyoco/updownbot/internal/domain"
)

// DryRun is an in-memory Broker that mints synthetic order ids and never
// touches the exchange. All downstream behavior (event handling, OCO
// arbitration) is identical to live trading.
type DryRun struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

// NewDryRun creates an empty dry-run broker.
func NewDryRun() *DryRun {
	return &DryRun{orders: make(map[string]domain.Order)}
}

// PlaceOrder records the order and returns a synthetic id.
func (d *DryRun) PlaceOrder(ctx context.Context, tokenID string, side domain.OrderSide, price, size float64) (domain.OrderResult, error) {
	if price <= 0 || price >= 1 || size <= 0 {
		return domain.OrderResult{}, fmt.Errorf("broker: %w: price=%v size=%v", domain.ErrInvalidOrder, price, size)
	}

	id := "dryrun-" + uuid.NewString()

	d.mu.Lock()
	d.orders[id] = domain.Order{
		ID:        id,
		TokenID:   tokenID,
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    domain.OrderStatusLive,
		CreatedAt: time.Now(),
	}
	d.mu.Unlock()

	return domain.OrderResult{Success: true, OrderID: id, Status: domain.OrderStatusLive}, nil
}

// CancelOrder marks the order cancelled. Cancelling an unknown or
// already-cancelled order reports false without error, matching the
// exchange's behavior.
func (d *DryRun) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.orders[orderID]
	if !ok || o.Status == domain.OrderStatusCancelled {
		return false, nil
	}
	o.Status = domain.OrderStatusCancelled
	d.orders[orderID] = o
	return true, nil
}

// GetOrder returns the recorded order state.
func (d *DryRun) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("broker: order %s: %w", orderID, domain.ErrNotFound)
	}
	return o, nil
}

// GetTrades returns no trades; dry-run orders never execute on their own.
// Tests and simulations feed synthetic lifecycle events directly.
func (d *DryRun) GetTrades(ctx context.Context, orderID string) ([]domain.Trade, error) {
	return nil, nil
}

var _ Broker = (*DryRun)(nil)
