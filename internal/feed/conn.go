package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polyoco/updownbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 10 * time.Second
)

// subscribeFrame is the outbound subscription message for the market
// stream channel.
type subscribeFrame struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// connManager owns the single physical websocket connection. It tracks
// which tokens have been subscribed on the current connection so that
// Subscribe can send only the set difference, and replays the full
// registry onto every new connection.
type connManager struct {
	endpoint string
	dialer   websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[string]struct{}
	pingStop   chan struct{}
}

func newConnManager(endpoint string) *connManager {
	return &connManager{
		endpoint: endpoint,
		dialer:   websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// connect dials the endpoint and, when tokens is non-empty, immediately
// replays the subscription set onto the fresh connection. The per-
// connection subscribed set starts empty on every connect.
func (c *connManager) connect(ctx context.Context, tokens []string, receiveTimeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.closeLocked()
	}

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", c.endpoint, err)
	}

	c.conn = conn
	c.subscribed = make(map[string]struct{})

	// A pong extends the read deadline the same way a data frame does.
	_ = conn.SetReadDeadline(time.Now().Add(receiveTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(receiveTimeout))
	})

	c.pingStop = make(chan struct{})
	go c.pingLoop(conn, c.pingStop, receiveTimeout)

	if len(tokens) > 0 {
		if err := c.subscribeLocked(tokens); err != nil {
			c.closeLocked()
			return err
		}
	}

	return nil
}

// subscribe sends a subscribe frame for tokens not yet subscribed on the
// current connection. Re-subscribing an already-subscribed token is a
// no-op.
func (c *connManager) subscribe(tokens []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("feed: subscribe: %w", domain.ErrWSDisconnect)
	}
	return c.subscribeLocked(tokens)
}

func (c *connManager) subscribeLocked(tokens []string) error {
	fresh := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if _, ok := c.subscribed[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	frame := subscribeFrame{AssetIDs: fresh, Type: "market"}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: send subscribe: %w", err)
	}

	for _, id := range fresh {
		c.subscribed[id] = struct{}{}
	}
	return nil
}

// readFrame blocks until the next frame or the receive timeout. Any
// error (clean close, timeout, protocol error) means the connection is
// dead from the caller's point of view.
func (c *connManager) readFrame(receiveTimeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, domain.ErrWSDisconnect
	}

	_ = conn.SetReadDeadline(time.Now().Add(receiveTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("feed: read: %w", err)
	}
	return data, nil
}

// pingLoop sends periodic pings on the given connection so silence is
// detected within the receive timeout. A failed write ends the loop; the
// read side will observe the dead connection.
func (c *connManager) pingLoop(conn *websocket.Conn, stop chan struct{}, receiveTimeout time.Duration) {
	interval := receiveTimeout * 9 / 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears down the current connection. Safe to call from outside the
// receive loop: closing the underlying connection unblocks a pending
// read.
func (c *connManager) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *connManager) closeLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
		c.conn = nil
	}
	c.subscribed = nil
}

// connected reports whether a connection is currently open.
func (c *connManager) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
