// Package feed implements the real-time market data service: one
// physical websocket connection multiplexing many up/down markets, with
// automatic reconnect and resubscribe. Updates are dispatched in wire
// order to an optional callback and a bounded pull channel.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

// Config holds feed tuning parameters. Zero values fall back to the
// defaults used by the upstream stream.
type Config struct {
	// Endpoint is the market stream websocket URL.
	Endpoint string

	// ReceiveTimeout is how long the receive loop waits for a frame (or
	// pong) before declaring the connection dead. Default 60s.
	ReceiveTimeout time.Duration

	// ReconnectBase is the initial reconnect backoff delay. Default 1s.
	ReconnectBase time.Duration

	// ReconnectMax caps the exponential backoff. Default 30s.
	ReconnectMax time.Duration

	// MaxReconnects stops the feed permanently after this many
	// consecutive failed attempts. Zero means retry forever.
	MaxReconnects int

	// AutoReconnect, when false, surfaces the first connection failure
	// to Start's caller instead of retrying.
	AutoReconnect bool

	// UpdateBuffer is the capacity of the pull channel returned by
	// Updates. Default 256.
	UpdateBuffer int
}

func (c Config) withDefaults() Config {
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = 60 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = 256
	}
	return c
}

// UpdateHandler is called for every processed price update, in the order
// frames arrived on the wire.
type UpdateHandler func(domain.PriceUpdate)

// Feed is the long-lived market data service. Markets can be added and
// removed at any time; the current subscription set is replayed onto
// every new connection.
type Feed struct {
	cfg    Config
	logger *slog.Logger

	conn  *connManager
	table *marketTable

	onUpdate     UpdateHandler
	onConnect    func()
	onDisconnect func()

	updates chan domain.PriceUpdate

	statsMu sync.Mutex
	stats   domain.FeedStats

	running  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Feed. Handlers should be registered before Start.
func New(cfg Config, logger *slog.Logger) *Feed {
	cfg = cfg.withDefaults()
	return &Feed{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "feed")),
		conn:    newConnManager(cfg.Endpoint),
		table:   newMarketTable(),
		updates: make(chan domain.PriceUpdate, cfg.UpdateBuffer),
		done:    make(chan struct{}),
	}
}

// OnUpdate registers the push-style update callback.
func (f *Feed) OnUpdate(h UpdateHandler) { f.onUpdate = h }

// OnConnect registers a callback invoked after every successful
// (re)connect.
func (f *Feed) OnConnect(h func()) { f.onConnect = h }

// OnDisconnect registers a callback invoked when the connection drops.
func (f *Feed) OnDisconnect(h func()) { f.onDisconnect = h }

// Updates returns the pull-style update channel. When a consumer falls
// behind and the buffer fills, the newest update is dropped.
func (f *Feed) Updates() <-chan domain.PriceUpdate { return f.updates }

// AddMarket starts monitoring a market. Re-adding an existing slug keeps
// its accumulated state and re-sends the (idempotent) subscription. A
// subscribe send failure is a connectivity error: the connection is torn
// down and the run loop reconnects and resubscribes.
func (f *Feed) AddMarket(ctx context.Context, slug, upTokenID, downTokenID string) error {
	if slug == "" || upTokenID == "" || downTokenID == "" {
		return fmt.Errorf("feed: add market: %w: empty identifier", domain.ErrInvalidOrder)
	}

	f.table.add(slug, upTokenID, downTokenID)

	if f.conn.connected() {
		if err := f.conn.subscribe([]string{upTokenID, downTokenID}); err != nil {
			f.logger.WarnContext(ctx, "subscribe failed, forcing reconnect",
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
			f.conn.close()
		}
	}

	f.logger.InfoContext(ctx, "market added", slog.String("slug", slug))
	return nil
}

// RemoveMarket stops monitoring a market. The wire protocol has no
// unsubscribe frame; updates for the removed tokens are simply dropped.
func (f *Feed) RemoveMarket(ctx context.Context, slug string) {
	if f.table.remove(slug) {
		f.logger.InfoContext(ctx, "market removed", slog.String("slug", slug))
	}
}

// GetMarket returns a copy of the current state for slug, or nil when
// the market is not tracked.
func (f *Feed) GetMarket(slug string) *domain.MarketState {
	return f.table.snapshot(slug)
}

// Markets returns copies of every tracked market state.
func (f *Feed) Markets() map[string]*domain.MarketState {
	return f.table.snapshotAll()
}

// MarketCount returns the number of tracked markets.
func (f *Feed) MarketCount() int { return f.table.size() }

// Stats returns a copy of the connection statistics.
func (f *Feed) Stats() domain.FeedStats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

// Connected reports whether the physical connection is up.
func (f *Feed) Connected() bool { return f.conn.connected() }

// Start runs the connect/receive loop until Stop is called, the context
// is cancelled, or the reconnect ceiling is hit. Transient connectivity
// and per-message parse errors never escape this loop; it returns an
// error only for context cancellation, double start, or a connection
// failure with AutoReconnect disabled.
func (f *Feed) Start(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return fmt.Errorf("feed: already running")
	}
	defer f.running.Store(false)
	defer f.conn.close()

	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.conn.connect(ctx, f.table.allTokens(), f.cfg.ReceiveTimeout)
		if err == nil {
			attempts = 0
			f.markConnected()
			f.logger.InfoContext(ctx, "connected",
				slog.String("endpoint", f.cfg.Endpoint),
				slog.Int("markets", f.table.size()),
			)
			if f.onConnect != nil {
				f.onConnect()
			}

			err = f.receiveLoop(ctx)
			if f.stopped() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if f.onDisconnect != nil {
				f.onDisconnect()
			}
		}

		if !f.cfg.AutoReconnect {
			f.logger.ErrorContext(ctx, "connection lost, auto-reconnect disabled",
				slog.String("error", err.Error()),
			)
			return err
		}

		attempts++
		if f.cfg.MaxReconnects > 0 && attempts > f.cfg.MaxReconnects {
			f.logger.ErrorContext(ctx, "reconnect ceiling reached, feed stopped",
				slog.Int("attempts", attempts-1),
				slog.String("error", err.Error()),
			)
			f.Stop()
			return nil
		}

		delay := f.backoff(attempts)
		f.bumpReconnects()
		f.logger.WarnContext(ctx, "reconnecting",
			slog.Duration("delay", delay),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
	}
}

// Stop ends the feed. Idempotent and safe to call from any goroutine:
// closing the connection unblocks a pending receive.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		f.conn.close()
		f.logger.Info("feed stopped")
	})
}

// receiveLoop reads frames until the connection dies or the feed stops.
func (f *Feed) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return domain.ErrFeedStopped
		default:
		}

		data, err := f.conn.readFrame(f.cfg.ReceiveTimeout)
		if err != nil {
			return err
		}

		now := time.Now()
		f.recordFrame(len(data), now)

		for _, raw := range decodeFrame(data) {
			update, ok := f.table.apply(raw, now)
			if !ok {
				continue // not a token we track
			}
			f.recordUpdate()
			f.dispatch(update)
		}
	}
}

// dispatch delivers one update to the callback and the pull channel, in
// wire order. The channel send never blocks the receive loop: when the
// buffer is full the newest update is dropped.
func (f *Feed) dispatch(update domain.PriceUpdate) {
	if f.onUpdate != nil {
		f.onUpdate(update)
	}
	select {
	case f.updates <- update:
	default:
	}
}

func (f *Feed) backoff(attempts int) time.Duration {
	delay := f.cfg.ReconnectBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= f.cfg.ReconnectMax {
			return f.cfg.ReconnectMax
		}
	}
	if delay > f.cfg.ReconnectMax {
		delay = f.cfg.ReconnectMax
	}
	return delay
}

func (f *Feed) stopped() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Feed) markConnected() {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.ConnectedAt = time.Now()
}

func (f *Feed) bumpReconnects() {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.ReconnectCount++
}

func (f *Feed) recordFrame(size int, now time.Time) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.MessagesReceived++
	f.stats.BytesReceived += int64(size)
	f.stats.LastMessageAt = now
}

func (f *Feed) recordUpdate() {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.UpdatesProcessed++
}
