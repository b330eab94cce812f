package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polyoco/updownbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsServer is an in-process market stream endpoint. Every accepted
// connection reads one subscribe frame, reports it on subs, and hands
// the connection to the test for scripting.
type wsServer struct {
	srv   *httptest.Server
	subs  chan []string
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{
		subs:  make(chan []string, 4),
		conns: make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var frame struct {
			AssetIDs []string `json:"assets_ids"`
			Type     string   `json:"type"`
		}
		if _, data, err := conn.ReadMessage(); err == nil {
			_ = json.Unmarshal(data, &frame)
		}
		ws.subs <- frame.AssetIDs
		ws.conns <- conn
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) waitSub(t *testing.T) []string {
	t.Helper()
	select {
	case sub := <-ws.subs:
		sort.Strings(sub)
		return sub
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for subscribe frame")
		return nil
	}
}

func (ws *wsServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ws.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func waitUpdate(t *testing.T, f *Feed) domain.PriceUpdate {
	t.Helper()
	select {
	case u := <-f.Updates():
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for update")
		return domain.PriceUpdate{}
	}
}

func testFeedConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		ReceiveTimeout: 2 * time.Second,
		ReconnectBase:  10 * time.Millisecond,
		ReconnectMax:   50 * time.Millisecond,
		AutoReconnect:  true,
		UpdateBuffer:   16,
	}
}

func TestFeedSubscribeAndUpdate(t *testing.T) {
	ws := newWSServer(t)
	f := New(testFeedConfig(ws.url()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.AddMarket(ctx, "btc-updown-15m-1700000000", "tok-up", "tok-down"); err != nil {
		t.Fatalf("AddMarket: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- f.Start(ctx) }()

	sub := ws.waitSub(t)
	want := []string{"tok-down", "tok-up"}
	if len(sub) != 2 || sub[0] != want[0] || sub[1] != want[1] {
		t.Fatalf("subscribe frame = %v, want %v", sub, want)
	}

	conn := ws.waitConn(t)
	book := `{"event_type":"book","asset_id":"tok-up","bids":[{"price":"0.44","size":"10"}],"asks":[{"price":"0.56","size":"5"}]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(book)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	u := waitUpdate(t, f)
	if u.Slug != "btc-updown-15m-1700000000" || u.Side != domain.SideUp {
		t.Errorf("update routed to %s/%s", u.Slug, u.Side)
	}
	if u.BestBid == nil || *u.BestBid != 0.44 || u.BestAsk == nil || *u.BestAsk != 0.56 {
		t.Errorf("update best = %v/%v, want 0.44/0.56", u.BestBid, u.BestAsk)
	}

	state := f.GetMarket("btc-updown-15m-1700000000")
	if state == nil || state.UpBid == nil || *state.UpBid != 0.44 {
		t.Errorf("market state not updated: %+v", state)
	}

	f.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v after Stop, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestFeedReconnectResubscribes(t *testing.T) {
	ws := newWSServer(t)
	f := New(testFeedConfig(ws.url()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.AddMarket(ctx, "eth-updown-15m-1700000900", "tok-up", "tok-down"); err != nil {
		t.Fatalf("AddMarket: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- f.Start(ctx) }()

	ws.waitSub(t)
	conn := ws.waitConn(t)

	// Server drops the connection; the feed must reconnect and replay
	// the full subscription set.
	_ = conn.Close()

	resub := ws.waitSub(t)
	want := []string{"tok-down", "tok-up"}
	if len(resub) != 2 || resub[0] != want[0] || resub[1] != want[1] {
		t.Fatalf("resubscribe frame = %v, want %v", resub, want)
	}

	conn2 := ws.waitConn(t)
	book := `{"event_type":"book","asset_id":"tok-down","bids":[{"price":"0.51","size":"3"}],"asks":[]}`
	if err := conn2.WriteMessage(websocket.TextMessage, []byte(book)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	u := waitUpdate(t, f)
	if u.Side != domain.SideDown || u.BestBid == nil || *u.BestBid != 0.51 {
		t.Errorf("post-reconnect update = %+v", u)
	}

	stats := f.Stats()
	if stats.ReconnectCount < 1 {
		t.Errorf("ReconnectCount = %d, want >= 1", stats.ReconnectCount)
	}

	f.Stop()
	<-errCh
}

func TestFeedStopUnblocksRetryLoop(t *testing.T) {
	// Endpoint is unreachable: the server is closed before the feed
	// starts, so Start sits in the dial/backoff cycle.
	ws := newWSServer(t)
	url := ws.url()
	ws.srv.Close()

	f := New(testFeedConfig(url), testLogger())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Start(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	f.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v after Stop, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestFeedMaxReconnectCeilingStopsFeed(t *testing.T) {
	ws := newWSServer(t)
	url := ws.url()
	ws.srv.Close()

	cfg := testFeedConfig(url)
	cfg.MaxReconnects = 2
	f := New(cfg, testLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- f.Start(context.Background()) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start = %v after reconnect ceiling, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after exhausting reconnect attempts")
	}

	if got := f.Stats().ReconnectCount; got != 2 {
		t.Errorf("ReconnectCount = %d, want 2", got)
	}

	// The feed is permanently stopped: a restart bails out immediately
	// instead of dialing again.
	restart := make(chan error, 1)
	go func() { restart <- f.Start(context.Background()) }()
	select {
	case err := <-restart:
		if err != nil {
			t.Errorf("Start on stopped feed = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start on stopped feed did not return")
	}
}

func TestFeedNoReconnectSurfacesError(t *testing.T) {
	ws := newWSServer(t)
	url := ws.url()
	ws.srv.Close()

	cfg := testFeedConfig(url)
	cfg.AutoReconnect = false
	f := New(cfg, testLogger())

	if err := f.Start(context.Background()); err == nil {
		t.Error("Start = nil, want dial error with auto-reconnect disabled")
	}
}

func TestFeedDoubleStartRejected(t *testing.T) {
	ws := newWSServer(t)
	f := New(testFeedConfig(ws.url()), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.AddMarket(ctx, "btc-updown-15m-1700000000", "tok-up", "tok-down"); err != nil {
		t.Fatalf("AddMarket: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- f.Start(ctx) }()
	ws.waitConn(t)

	if err := f.Start(ctx); err == nil {
		t.Error("second Start = nil, want error")
	}

	f.Stop()
	<-errCh
}

func TestFeedAddMarketValidation(t *testing.T) {
	f := New(Config{Endpoint: "ws://unused"}, testLogger())
	if err := f.AddMarket(context.Background(), "", "a", "b"); err == nil {
		t.Error("empty slug accepted")
	}
	if err := f.AddMarket(context.Background(), "slug", "", "b"); err == nil {
		t.Error("empty up token accepted")
	}
}
