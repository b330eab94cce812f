package strategy

import (
	"math"
	"sync"
	"time"
)

// ProbPoint records one implied-probability observation.
type ProbPoint struct {
	Prob float64
	Time time.Time
}

// ProbTracker maintains a sliding window of recent UP-implied
// probabilities per market slug. Points older than the window are
// discarded on every Track call.
type ProbTracker struct {
	mu      sync.RWMutex
	history map[string][]ProbPoint
	window  time.Duration
}

// NewProbTracker creates a tracker with the given window size.
func NewProbTracker(window time.Duration) *ProbTracker {
	return &ProbTracker{
		history: make(map[string][]ProbPoint),
		window:  window,
	}
}

// Track records a new observation for slug.
func (t *ProbTracker) Track(slug string, prob float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history[slug] = append(t.history[slug], ProbPoint{Prob: prob, Time: ts})
	t.trim(slug, ts)
}

// Count returns the number of points currently in the window for slug.
func (t *ProbTracker) Count(slug string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history[slug])
}

// Average returns the mean probability in the window, or 0 when empty.
func (t *ProbTracker) Average(slug string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pts := t.history[slug]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Prob
	}
	return sum / float64(len(pts))
}

// Volatility returns the population standard deviation of the window,
// or 0 with fewer than two points.
func (t *ProbTracker) Volatility(slug string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pts := t.history[slug]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Prob
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Prob - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// Forget drops all history for slug, typically after its market resolves.
func (t *ProbTracker) Forget(slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.history, slug)
}

// trim removes points older than the window. Caller holds t.mu.
func (t *ProbTracker) trim(slug string, now time.Time) {
	cutoff := now.Add(-t.window)
	pts := t.history[slug]

	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.history[slug] = pts[i:]
	}
}
