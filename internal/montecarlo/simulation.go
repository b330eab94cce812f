// Package montecarlo estimates the conditional probability that a 1h
// up/down market resolves UP given that its N-th 15m sub-window went
// up. It tests the hypothesis that P(1h up | 15m_N up) increases with N;
// the Monotonic flag reports whether the sampled run supports it. The
// remaining-uncertainty stats show what does change with N: the spread
// of the segments still unknown after the N-th.
package montecarlo

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// segments is the number of 15m sub-windows in a 1h window.
const segments = 4

// Config tunes a simulation run. Time unit is one hour, so each 15m
// segment has dt = 0.25.
type Config struct {
	Paths int     // number of Monte Carlo paths
	Mu    float64 // drift per hour; 0 for a pure symmetry test
	Sigma float64 // volatility per sqrt(hour)
	Seed  int64   // 0 means a nondeterministic seed
}

func (c Config) withDefaults() Config {
	if c.Paths <= 0 {
		c.Paths = 1_000_000
	}
	if c.Sigma == 0 {
		c.Sigma = 0.05
	}
	return c
}

// SegmentStat describes one 15m segment's conditioning power.
type SegmentStat struct {
	N            int     // 1-based segment index
	Prob         float64 // P(1h up | segment N up)
	UpCount      int     // paths where segment N went up
	AvgUpReturn  float64 // mean log return of segment N when up
	RemainingStd float64 // std of the remaining segments' summed return
}

// Result holds the computed statistics of one run.
type Result struct {
	Config            Config
	Probs             [segments]float64 // Probs[i] = P(1h up | segment i+1 up)
	UnconditionalProb float64           // P(1h up)
	Monotonic         bool              // Probs[0] <= ... <= Probs[3]
	Differences       [segments - 1]float64
	Segments          [segments]SegmentStat
}

// Run simulates log-return paths under
//
//	log S_{t+dt} = log S_t + mu*dt + sigma*sqrt(dt)*Z, Z ~ N(0,1)
//
// and estimates P(1h up | 15m_N up) for N = 1..4.
func Run(cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	if cfg.Sigma < 0 {
		return Result{}, fmt.Errorf("montecarlo: sigma must be non-negative, got %v", cfg.Sigma)
	}

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(uint64(cfg.Seed), 0))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	const dt = 0.25
	drift := cfg.Mu * dt
	scale := cfg.Sigma * math.Sqrt(dt)

	var (
		upCount    [segments]int     // segment N up
		jointCount [segments]int     // segment N up AND hour up
		upRetSum   [segments]float64 // sum of segment returns when up
		remSum     [segments]float64 // remaining-return sums when segment N up
		remSumSq   [segments]float64
		hourUp     int
	)

	returns := make([]float64, segments)
	for p := 0; p < cfg.Paths; p++ {
		var total float64
		for j := range returns {
			r := drift + scale*rng.NormFloat64()
			returns[j] = r
			total += r
		}
		hour := total > 0
		if hour {
			hourUp++
		}

		for j, r := range returns {
			if r <= 0 {
				continue
			}
			upCount[j]++
			upRetSum[j] += r
			if hour {
				jointCount[j]++
			}
			remaining := total - sumPrefix(returns, j+1)
			remSum[j] += remaining
			remSumSq[j] += remaining * remaining
		}
	}

	res := Result{
		Config:            cfg,
		UnconditionalProb: float64(hourUp) / float64(cfg.Paths),
	}
	for j := 0; j < segments; j++ {
		if upCount[j] > 0 {
			res.Probs[j] = float64(jointCount[j]) / float64(upCount[j])
		}

		stat := SegmentStat{
			N:       j + 1,
			Prob:    res.Probs[j],
			UpCount: upCount[j],
		}
		if upCount[j] > 0 {
			stat.AvgUpReturn = upRetSum[j] / float64(upCount[j])
			mean := remSum[j] / float64(upCount[j])
			variance := remSumSq[j]/float64(upCount[j]) - mean*mean
			if variance > 0 {
				stat.RemainingStd = math.Sqrt(variance)
			}
		}
		res.Segments[j] = stat
	}

	res.Monotonic = true
	for j := 0; j < segments-1; j++ {
		res.Differences[j] = res.Probs[j+1] - res.Probs[j]
		if res.Differences[j] < 0 {
			res.Monotonic = false
		}
	}
	return res, nil
}

func sumPrefix(xs []float64, n int) float64 {
	var s float64
	for _, x := range xs[:n] {
		s += x
	}
	return s
}
