// Package notify pushes operator alerts for trading events. Alerts are
// dispatched to all registered senders and filtered by event type, so
// operators receive only the events they subscribed to.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

// Event types emitted by the bot.
const (
	EventRoundStarted = "round_started"
	EventRoundDone    = "round_done"
	EventAnomaly      = "anomaly"
	EventFeedDown     = "feed_down"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a short identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify
// forwards only events in the allowed set; an empty set allows all.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders,
// filtered to the given event types.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification when the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyRoundStart announces that both legs of an OCO round have been
// placed on a market.
func (n *Notifier) NotifyRoundStart(ctx context.Context, m domain.Market, threshold, size float64) error {
	title := fmt.Sprintf("OCO round started: %s", m.Slug)

	var b strings.Builder
	fmt.Fprintf(&b, "limit BUY both outcomes @ %.2f, size %.0f\n", threshold, size)
	fmt.Fprintf(&b, "window ends %s", m.EndAt.UTC().Format(time.RFC3339))

	return n.Notify(ctx, EventRoundStarted, title, b.String())
}

// NotifyRound formats and sends the terminal outcome of an OCO round.
// Anomalous rounds are reported under the anomaly event type so they
// can be subscribed to separately.
func (n *Notifier) NotifyRound(ctx context.Context, r domain.OCOResult) error {
	event := EventRoundDone
	title := fmt.Sprintf("OCO round done: %s", r.Slug)
	if r.Anomaly != "" {
		event = EventAnomaly
		title = fmt.Sprintf("OCO anomaly: %s", r.Slug)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "winner: %s\n", r.Winner)
	if r.WinningOrderID != "" {
		fmt.Fprintf(&b, "winning order: %s (trade %s)\n", r.WinningOrderID, r.WinningTradeID)
	}
	if r.LosingOrderID != "" {
		fmt.Fprintf(&b, "losing order: %s cancelled=%t\n", r.LosingOrderID, r.CancelSuccess)
	}
	if r.Anomaly != "" {
		fmt.Fprintf(&b, "anomaly: %s\n", r.Anomaly)
	}
	if r.DryRun {
		b.WriteString("dry run\n")
	}
	fmt.Fprintf(&b, "duration: %s", r.Duration().Round(time.Millisecond))

	return n.Notify(ctx, event, title, b.String())
}

// dispatch fans the notification out to every sender. Individual sender
// failures are collected so one bad channel does not block the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
