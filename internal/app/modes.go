package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyoco/updownbot/internal/domain"
	"github.com/polyoco/updownbot/internal/feed"
	"github.com/polyoco/updownbot/internal/montecarlo"
	"github.com/polyoco/updownbot/internal/oco"
	"github.com/polyoco/updownbot/internal/strategy"
)

const (
	// snapshotFlushInterval bounds how long a snapshot sits in memory
	// before being persisted.
	snapshotFlushInterval = 5 * time.Second
	// snapshotFlushSize bounds the snapshot buffer length.
	snapshotFlushSize = 200
	// historyCap bounds the per-slug in-memory history kept for the
	// rotation archive.
	historyCap = 20_000
	// rotationCheckInterval is how often the rotation loop checks for
	// an expired market window.
	rotationCheckInterval = 10 * time.Second
)

// session holds the per-run feed state shared between the mode
// goroutines: the feed, the market currently tracked, and the
// in-memory history tail used for the rotation archive.
type session struct {
	feed *feed.Feed

	mu      sync.RWMutex
	current domain.Market
	markets map[string]domain.Market // slug -> market, includes rotated-out slugs
	history map[string][]domain.PriceSnapshot
}

func (s *session) setCurrent(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = m
	s.markets[m.Slug] = m
}

func (s *session) getCurrent() domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *session) market(slug string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[slug]
	return m, ok
}

// tokenFor resolves the outcome token an update refers to.
func (s *session) tokenFor(slug string, side domain.Side) string {
	m, ok := s.market(slug)
	if !ok {
		return ""
	}
	if side == domain.SideUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

func (s *session) record(snap domain.PriceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[snap.Slug], snap)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	s.history[snap.Slug] = h
}

// takeHistory removes and returns the history tail for a slug.
func (s *session) takeHistory(slug string) []domain.PriceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[slug]
	delete(s.history, slug)
	return h
}

// MonitorMode follows the current up/down market: it keeps the feed
// subscribed across market rotations, mirrors quotes into the cache,
// and persists price history.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	sess, err := a.openSession(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.feed.Start(ctx) })
	g.Go(func() error { return a.recordLoop(ctx, deps, sess, nil) })
	g.Go(func() error { return a.rotationLoop(ctx, deps, sess) })
	return g.Wait()
}

// TradeMode is MonitorMode plus the momentum trigger and OCO execution:
// when the tracked market leans far enough, one OCO round is run
// against the broker and its terminal result is persisted, archived,
// and pushed to the notifier.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("dry_run", a.cfg.OCO.DryRun),
		slog.Float64("size", a.cfg.OCO.Size),
		slog.Float64("threshold", a.cfg.OCO.Threshold),
	)

	sess, err := a.openSession(ctx, deps)
	if err != nil {
		return err
	}

	momentum := strategy.NewMomentum(strategy.Config{
		ArmThreshold: a.cfg.Strategy.ArmThreshold,
		MinUpdates:   a.cfg.Strategy.MinUpdates,
	}, a.logger)

	rounds := make(chan strategy.Signal, 1)
	observe := func(u domain.PriceUpdate) {
		sig, ok := momentum.OnUpdate(u)
		if !ok {
			return
		}
		select {
		case rounds <- sig:
		default:
			// A round is already pending; the trigger arms once per
			// slug, so nothing is lost by dropping here.
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.feed.Start(ctx) })
	g.Go(func() error { return a.recordLoop(ctx, deps, sess, observe) })
	g.Go(func() error { return a.rotationLoop(ctx, deps, sess) })
	g.Go(func() error { return a.roundLoop(ctx, deps, sess, rounds) })
	return g.Wait()
}

// SimulateMode runs the event statistics simulation and logs the
// conditional probability ladder.
func (a *App) SimulateMode(ctx context.Context) error {
	cfg := montecarlo.Config{
		Paths: a.cfg.Simulation.Paths,
		Mu:    a.cfg.Simulation.Mu,
		Sigma: a.cfg.Simulation.Sigma,
		Seed:  a.cfg.Simulation.Seed,
	}
	a.logger.InfoContext(ctx, "running event statistics simulation",
		slog.Int("paths", cfg.Paths),
		slog.Float64("mu", cfg.Mu),
		slog.Float64("sigma", cfg.Sigma),
	)

	res, err := montecarlo.Run(cfg)
	if err != nil {
		return fmt.Errorf("app: simulate: %w", err)
	}

	for _, seg := range res.Segments {
		a.logger.InfoContext(ctx, "conditional probability",
			slog.Int("segment", seg.N),
			slog.Float64("p_1h_up_given_15m_up", seg.Prob),
			slog.Float64("avg_up_return", seg.AvgUpReturn),
			slog.Float64("remaining_std", seg.RemainingStd),
		)
	}
	a.logger.InfoContext(ctx, "simulation done",
		slog.Float64("unconditional_prob", res.UnconditionalProb),
		slog.Bool("monotonic", res.Monotonic),
	)
	return nil
}

// openSession discovers the current market, builds the feed, and
// subscribes to the market's outcome tokens.
func (a *App) openSession(ctx context.Context, deps *Dependencies) (*session, error) {
	asset := a.cfg.OCO.TypedAsset()
	horizon, err := a.cfg.OCO.TypedHorizon()
	if err != nil {
		return nil, err
	}

	market, err := deps.Gamma.CurrentMarket(ctx, asset, horizon)
	if err != nil {
		return nil, fmt.Errorf("app: discover market: %w", err)
	}
	a.logger.InfoContext(ctx, "tracking market",
		slog.String("slug", market.Slug),
		slog.Time("ends_at", market.EndAt),
	)

	f := feed.New(feed.Config{
		Endpoint:       a.cfg.Polymarket.WsHost,
		ReceiveTimeout: time.Duration(a.cfg.Feed.ReceiveTimeoutSec) * time.Second,
		ReconnectBase:  time.Duration(a.cfg.Feed.ReconnectBaseMs) * time.Millisecond,
		ReconnectMax:   time.Duration(a.cfg.Feed.ReconnectMaxMs) * time.Millisecond,
		MaxReconnects:  a.cfg.Feed.MaxReconnects,
		AutoReconnect:  a.cfg.Feed.AutoReconnect,
		UpdateBuffer:   a.cfg.Feed.UpdateBuffer,
	}, a.logger)

	if err := f.AddMarket(ctx, market.Slug, market.UpTokenID, market.DownTokenID); err != nil {
		return nil, fmt.Errorf("app: subscribe market: %w", err)
	}

	sess := &session{
		feed:    f,
		markets: make(map[string]domain.Market),
		history: make(map[string][]domain.PriceSnapshot),
	}
	sess.setCurrent(market)
	return sess, nil
}

// recordLoop consumes feed updates: quotes go to the cache, snapshots
// are batched into the price store and the in-memory history tail, and
// each update is offered to the optional observer (the trade mode's
// momentum trigger).
func (a *App) recordLoop(ctx context.Context, deps *Dependencies, sess *session, observe func(domain.PriceUpdate)) error {
	var pending []domain.PriceSnapshot
	ticker := time.NewTicker(snapshotFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(pending) == 0 || deps.PriceStore == nil {
			pending = pending[:0]
			return
		}
		if err := deps.PriceStore.InsertBatch(ctx, pending); err != nil {
			a.logger.WarnContext(ctx, "price snapshot flush failed",
				slog.Int("count", len(pending)),
				slog.String("error", err.Error()),
			)
		}
		pending = pending[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			flush()

		case u, ok := <-sess.feed.Updates():
			if !ok {
				return nil
			}

			if deps.QuoteCache != nil {
				if tokenID := sess.tokenFor(u.Slug, u.Side); tokenID != "" {
					if err := deps.QuoteCache.SetQuote(ctx, tokenID, u.BestBid, u.BestAsk, u.Timestamp); err != nil {
						a.logger.DebugContext(ctx, "quote cache write failed",
							slog.String("token", tokenID),
							slog.String("error", err.Error()),
						)
					}
				}
			}

			snap := domain.PriceSnapshot{
				Time:    u.Timestamp,
				Slug:    u.Slug,
				Side:    u.Side,
				BestBid: u.BestBid,
				BestAsk: u.BestAsk,
			}
			sess.record(snap)
			pending = append(pending, snap)
			if len(pending) >= snapshotFlushSize {
				flush()
			}

			if observe != nil {
				observe(u)
			}
		}
	}
}

// rotationLoop swaps the tracked market when the current window ends.
// The expiring market's history tail is archived before it is dropped.
func (a *App) rotationLoop(ctx context.Context, deps *Dependencies, sess *session) error {
	asset := a.cfg.OCO.TypedAsset()
	horizon, err := a.cfg.OCO.TypedHorizon()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(rotationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		current := sess.getCurrent()
		if current.EndAt.IsZero() || time.Now().Before(current.EndAt) {
			continue
		}

		next, err := deps.Gamma.CurrentMarket(ctx, asset, horizon)
		if err != nil {
			a.logger.WarnContext(ctx, "next market discovery failed",
				slog.String("error", err.Error()),
			)
			continue
		}
		if next.Slug == current.Slug {
			continue
		}

		if err := sess.feed.AddMarket(ctx, next.Slug, next.UpTokenID, next.DownTokenID); err != nil {
			a.logger.WarnContext(ctx, "subscribe next market failed",
				slog.String("slug", next.Slug),
				slog.String("error", err.Error()),
			)
			continue
		}
		sess.feed.RemoveMarket(ctx, current.Slug)
		sess.setCurrent(next)

		a.logger.InfoContext(ctx, "rotated market",
			slog.String("from", current.Slug),
			slog.String("to", next.Slug),
		)

		if history := sess.takeHistory(current.Slug); deps.Archiver != nil {
			if err := deps.Archiver.ArchiveSnapshots(ctx, current.Slug, history); err != nil {
				a.logger.WarnContext(ctx, "history archive failed",
					slog.String("slug", current.Slug),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// roundLoop waits for an arm signal and runs one OCO round at a time.
func (a *App) roundLoop(ctx context.Context, deps *Dependencies, sess *session, rounds <-chan strategy.Signal) error {
	for {
		var sig strategy.Signal
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig = <-rounds:
		}

		market, ok := sess.market(sig.Slug)
		if !ok {
			a.logger.WarnContext(ctx, "armed slug has no market", slog.String("slug", sig.Slug))
			continue
		}
		if sig.Slug != sess.getCurrent().Slug {
			// The window rotated while the signal was queued.
			continue
		}

		if err := a.runRound(ctx, deps, market); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			a.logger.ErrorContext(ctx, "oco round failed",
				slog.String("slug", market.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runRound executes one full OCO round: place both legs, poll until a
// leg settles, then persist, archive, and notify the result.
func (a *App) runRound(ctx context.Context, deps *Dependencies, market domain.Market) error {
	coord, err := oco.New(oco.Config{
		Threshold: a.cfg.OCO.Threshold,
		Size:      a.cfg.OCO.Size,
		DryRun:    a.cfg.OCO.DryRun,
	}, market, deps.Broker, a.logger)
	if err != nil {
		return err
	}

	if err := coord.Start(ctx); err != nil {
		return err
	}

	if err := deps.Notifier.NotifyRoundStart(ctx, market, a.cfg.OCO.Threshold, a.cfg.OCO.Size); err != nil {
		a.logger.WarnContext(ctx, "round start notification failed",
			slog.String("error", err.Error()),
		)
	}

	poller := oco.NewPoller(deps.Broker, coord,
		time.Duration(a.cfg.OCO.PollIntervalMs)*time.Millisecond,
		a.roundDeadline(market),
		a.logger,
	)
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	result := coord.Result()
	if result == nil {
		return nil
	}

	if deps.ResultStore != nil {
		if err := deps.ResultStore.Insert(ctx, *result); err != nil {
			a.logger.WarnContext(ctx, "result store insert failed",
				slog.String("slug", result.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
	if deps.Archiver != nil {
		if err := deps.Archiver.ArchiveResult(ctx, *result); err != nil {
			a.logger.WarnContext(ctx, "result archive failed",
				slog.String("slug", result.Slug),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := deps.Notifier.NotifyRound(ctx, *result); err != nil {
		a.logger.WarnContext(ctx, "round notification failed",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// roundDeadline bounds an OCO round: the configured timeout when set,
// otherwise the time remaining in the market window.
func (a *App) roundDeadline(market domain.Market) time.Duration {
	if a.cfg.OCO.TimeoutSec > 0 {
		return time.Duration(a.cfg.OCO.TimeoutSec) * time.Second
	}
	if !market.EndAt.IsZero() {
		if remaining := time.Until(market.EndAt); remaining > 0 {
			return remaining
		}
	}
	return 0
}
