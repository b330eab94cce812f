// Package broker defines the order execution boundary consumed by the
// OCO coordinator, and a dry-run implementation for simulation.
package broker

import (
	"context"

	"github.com/polyoco/updownbot/internal/domain"
)

// Broker is the external order capability: placement, cancellation, and
// lifecycle queries. The CLOB REST client implements it for live
// trading; DryRun implements it for simulation.
type Broker interface {
	// PlaceOrder submits a limit order and returns the broker result.
	PlaceOrder(ctx context.Context, tokenID string, side domain.OrderSide, price, size float64) (domain.OrderResult, error)

	// CancelOrder cancels an order. The bool reports whether the broker
	// accepted the cancellation.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetOrder returns the current state of an order.
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)

	// GetTrades returns the trades attached to an order.
	GetTrades(ctx context.Context, orderID string) ([]domain.Trade, error)
}
