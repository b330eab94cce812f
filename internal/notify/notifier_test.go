package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifyEventFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventAnomaly}, testLogger())

	if err := n.Notify(context.Background(), EventRoundDone, "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 0 {
		t.Error("filtered event was delivered")
	}

	if err := n.Notify(context.Background(), EventAnomaly, "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 {
		t.Error("allowed event was not delivered")
	}
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	_ = n.Notify(context.Background(), EventRoundDone, "a", "m")
	_ = n.Notify(context.Background(), EventFeedDown, "b", "m")
	if len(s.titles) != 2 {
		t.Errorf("delivered = %d, want 2", len(s.titles))
	}
}

func TestNotifyRoundFormatsOutcome(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	start := time.Now()
	r := domain.OCOResult{
		Slug:           "btc-updown-15m-1736942400",
		Winner:         domain.WinnerDown,
		WinningOrderID: "ord-d",
		WinningTradeID: "tr-1",
		LosingOrderID:  "ord-u",
		CancelSuccess:  true,
		DryRun:         true,
		StartedAt:      start,
		EndedAt:        start.Add(90 * time.Second),
	}
	if err := n.NotifyRound(context.Background(), r); err != nil {
		t.Fatalf("NotifyRound: %v", err)
	}

	if !strings.Contains(s.titles[0], r.Slug) {
		t.Errorf("title = %q, missing slug", s.titles[0])
	}
	body := s.bodies[0]
	for _, want := range []string{"winner: DOWN", "ord-d", "tr-1", "ord-u", "cancelled=true", "dry run", "1m30s"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestNotifyRoundStart(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	m := domain.Market{
		Slug:  "btc-updown-15m-1736942400",
		EndAt: time.Unix(1736943300, 0).UTC(),
	}
	if err := n.NotifyRoundStart(context.Background(), m, 0.80, 100); err != nil {
		t.Fatalf("NotifyRoundStart: %v", err)
	}

	if len(s.titles) != 1 {
		t.Fatal("round start not delivered")
	}
	if !strings.Contains(s.titles[0], m.Slug) {
		t.Errorf("title = %q, missing slug", s.titles[0])
	}
	for _, want := range []string{"@ 0.80", "size 100", "2025-01-15T12:15:00Z"} {
		if !strings.Contains(s.bodies[0], want) {
			t.Errorf("body missing %q:\n%s", want, s.bodies[0])
		}
	}

	// It goes out under its own event type, so a round_done-only
	// subscriber does not receive it.
	done := &fakeSender{name: "done"}
	filtered := NewNotifier([]Sender{done}, []string{EventRoundDone}, testLogger())
	_ = filtered.NotifyRoundStart(context.Background(), m, 0.80, 100)
	if len(done.titles) != 0 {
		t.Error("round start delivered to round_done-only subscriber")
	}
}

func TestNotifyRoundAnomalyUsesAnomalyEvent(t *testing.T) {
	s := &fakeSender{name: "fake"}
	// Subscribe to anomalies only: a clean round must be dropped, an
	// anomalous one delivered.
	n := NewNotifier([]Sender{s}, []string{EventAnomaly}, testLogger())

	clean := domain.OCOResult{Slug: "s", Winner: domain.WinnerUp}
	_ = n.NotifyRound(context.Background(), clean)
	if len(s.titles) != 0 {
		t.Error("clean round delivered to anomaly-only subscriber")
	}

	raced := domain.OCOResult{Slug: "s", Winner: domain.WinnerUp, Anomaly: "both_orders_mined"}
	_ = n.NotifyRound(context.Background(), raced)
	if len(s.titles) != 1 {
		t.Fatal("anomalous round not delivered")
	}
	if !strings.Contains(s.bodies[0], "both_orders_mined") {
		t.Errorf("body missing anomaly: %s", s.bodies[0])
	}
}

func TestDispatchCollectsSenderFailures(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), EventRoundDone, "t", "m")
	if err == nil {
		t.Fatal("sender failure not surfaced")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("err = %v, missing failing sender name", err)
	}
	// The healthy sender still received the notification.
	if len(good.titles) != 1 {
		t.Error("failure on one sender blocked the other")
	}
}
