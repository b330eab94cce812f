// Package strategy decides when a monitored up/down market is worth an
// OCO round. The momentum trigger arms once per market, when the
// market-implied probability has drifted far enough from the 50/50 line
// to suggest the window's direction is forming.
package strategy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

const defaultWindow = 5 * time.Minute

// Signal is an arm decision for one market.
type Signal struct {
	Slug        string
	Favored     domain.Side // side the market currently leans toward
	ImpliedProb float64     // probability of UP at arm time
	At          time.Time
}

// Config tunes the momentum trigger.
type Config struct {
	// ArmThreshold is the minimum distance of the average implied
	// probability from 0.5 before arming.
	ArmThreshold float64

	// MinUpdates is the number of observations required before the
	// average is trusted.
	MinUpdates int

	// Window bounds how far back observations count. Zero means 5m.
	Window time.Duration
}

// Momentum consumes feed updates and emits at most one Signal per
// market slug. Safe for concurrent use, though the feed dispatch loop
// is normally its only caller.
type Momentum struct {
	cfg     Config
	tracker *ProbTracker
	logger  *slog.Logger

	mu    sync.Mutex
	armed map[string]bool
}

// NewMomentum creates a momentum trigger.
func NewMomentum(cfg Config, logger *slog.Logger) *Momentum {
	window := cfg.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Momentum{
		cfg:     cfg,
		tracker: NewProbTracker(window),
		logger:  logger.With(slog.String("strategy", "momentum")),
		armed:   make(map[string]bool),
	}
}

// OnUpdate feeds one price update into the trigger. ok is true when the
// update armed the market; the caller then launches an OCO round and
// will receive no further signals for that slug.
func (m *Momentum) OnUpdate(u domain.PriceUpdate) (Signal, bool) {
	prob := upProbability(u)
	if prob == nil {
		return Signal{}, false
	}
	m.tracker.Track(u.Slug, *prob, u.Timestamp)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.armed[u.Slug] {
		return Signal{}, false
	}
	if m.tracker.Count(u.Slug) < m.cfg.MinUpdates {
		return Signal{}, false
	}

	avg := m.tracker.Average(u.Slug)
	dist := avg - 0.5
	if dist < 0 {
		dist = -dist
	}
	if dist < m.cfg.ArmThreshold {
		return Signal{}, false
	}

	favored := domain.SideUp
	if avg < 0.5 {
		favored = domain.SideDown
	}
	m.armed[u.Slug] = true

	m.logger.Info("momentum armed",
		slog.String("slug", u.Slug),
		slog.String("favored", string(favored)),
		slog.Float64("avg_prob", avg),
		slog.Int("updates", m.tracker.Count(u.Slug)),
	)

	return Signal{
		Slug:        u.Slug,
		Favored:     favored,
		ImpliedProb: avg,
		At:          u.Timestamp,
	}, true
}

// Reset clears the armed flag and history for slug so the next market
// in the same slot family starts fresh.
func (m *Momentum) Reset(slug string) {
	m.mu.Lock()
	delete(m.armed, slug)
	m.mu.Unlock()
	m.tracker.Forget(slug)
}

// upProbability extracts the probability of UP from an update on either
// side of the market.
func upProbability(u domain.PriceUpdate) *float64 {
	mid := u.Mid()
	if mid == nil {
		return nil
	}
	p := *mid
	if u.Side == domain.SideDown {
		p = 1 - p
	}
	return &p
}
