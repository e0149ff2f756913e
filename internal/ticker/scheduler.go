// Package ticker runs the periodic update cycle: fetch the price, compare it
// to the last published value and push changes to the chat platform.
package ticker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/metrics"
	"github.com/pranadao/prana-ticker/internal/publish"
	"github.com/pranadao/prana-ticker/internal/scrape"
)

// Fetcher is the retry controller's surface as seen by the scheduler.
type Fetcher interface {
	Fetch(ctx context.Context) (price string, ok bool)
}

// Config controls cycle cadence and failure back-pressure.
type Config struct {
	Period time.Duration
	// After FailureThreshold consecutive failures, each cycle waits an
	// extra BackoffStep per failure beyond the threshold, capped.
	FailureThreshold int
	BackoffStep      time.Duration
	BackoffCap       time.Duration
	PresencePrefix   string
}

// Snapshot is the scheduler state exposed to the status endpoint.
type Snapshot struct {
	LastPrice       string    `json:"last_price"`
	LastPublishedAt time.Time `json:"last_published_at"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	SuccessCount    int64     `json:"success_count"`
	FailureCount    int64     `json:"failure_count"`
	ConsecutiveFail int64     `json:"consecutive_failures"`
}

// Scheduler owns LastPublishedPrice and drives the fetch/publish cycle.
// Cycles never overlap: a cycle that overruns the period delays the next
// tick instead of running concurrently with it.
type Scheduler struct {
	fetcher Fetcher
	pub     publish.Publisher
	status  publish.StatusSource
	stats   *scrape.Stats
	cfg     Config
	logger  *zap.Logger

	mu              sync.RWMutex
	lastPublished   string
	lastPublishedAt time.Time
	lastCycleAt     time.Time

	// sleep is a seam for tests.
	sleep func(ctx context.Context, d time.Duration)
}

// New wires a Scheduler.
func New(
	fetcher Fetcher,
	pub publish.Publisher,
	status publish.StatusSource,
	stats *scrape.Stats,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Period <= 0 {
		cfg.Period = 120 * time.Second
	}
	return &Scheduler{
		fetcher: fetcher,
		pub:     pub,
		status:  status,
		stats:   stats,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Run blocks until ctx is done, running one cycle per period and resetting
// the failure streak on gateway reconnects.
func (s *Scheduler) Run(ctx context.Context) {
	tick := time.NewTicker(s.cfg.Period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.status.Reconnects():
			s.stats.ResetStreak()
			metrics.SetConsecutiveFailures(0)
			s.logger.Info("gateway reconnect, failure streak reset")
		case <-tick.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one fetch/compare/publish pass.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.mu.Lock()
	s.lastCycleAt = time.Now()
	s.mu.Unlock()

	if !s.status.Ready() {
		s.logger.Info("gateway not ready, skipping cycle")
		return
	}

	if delay := s.adaptiveDelay(); delay > 0 {
		s.logger.Warn("failure streak back-pressure",
			zap.Int64("consecutive_failures", s.stats.Consecutive()),
			zap.Duration("extra_delay", delay),
		)
		s.sleep(ctx, delay)
		if ctx.Err() != nil {
			return
		}
	}

	price, ok := s.fetchOffLoop(ctx)
	if !ok {
		s.logger.Warn("price fetch failed, will retry next cycle")
		return
	}

	s.publishIfChanged(ctx, price)
}

// fetchOffLoop runs the fetch in its own goroutine and awaits it, so a hung
// browser never wedges the loop's select against shutdown.
func (s *Scheduler) fetchOffLoop(ctx context.Context) (string, bool) {
	type result struct {
		price string
		ok    bool
	}
	resCh := make(chan result, 1)
	go func() {
		price, ok := s.fetcher.Fetch(ctx)
		resCh <- result{price: price, ok: ok}
	}()

	select {
	case <-ctx.Done():
		return "", false
	case res := <-resCh:
		return res.price, res.ok
	}
}

func (s *Scheduler) publishIfChanged(ctx context.Context, price string) {
	s.mu.RLock()
	last := s.lastPublished
	s.mu.RUnlock()

	if price == last {
		s.logger.Info("price unchanged", zap.String("price", price))
		return
	}

	display := s.cfg.PresencePrefix + price
	s.logger.Info("price changed",
		zap.String("previous", last),
		zap.String("price", price),
	)

	// Presence is best-effort and not authoritative for change tracking.
	if err := s.pub.SetPresence(ctx, display); err != nil {
		s.logger.Error("presence update failed", zap.Error(err))
	}

	if err := s.pub.RenameChannel(ctx, display); err != nil {
		if publish.IsRateLimited(err) {
			s.logger.Warn("channel rename rate limited, will retry next cycle")
		} else {
			s.logger.Error("channel rename failed", zap.Error(err))
		}
		return
	}

	now := time.Now()
	s.mu.Lock()
	s.lastPublished = price
	s.lastPublishedAt = now
	s.mu.Unlock()
	metrics.SetLastPublished(now)
	s.logger.Info("channel renamed", zap.String("name", display))
}

// adaptiveDelay grows with the failure streak beyond the threshold, capped.
func (s *Scheduler) adaptiveDelay() time.Duration {
	if s.cfg.FailureThreshold <= 0 || s.cfg.BackoffStep <= 0 {
		return 0
	}
	streak := s.stats.Consecutive()
	over := streak - int64(s.cfg.FailureThreshold) + 1
	if over <= 0 {
		return 0
	}
	delay := time.Duration(over) * s.cfg.BackoffStep
	if s.cfg.BackoffCap > 0 && delay > s.cfg.BackoffCap {
		delay = s.cfg.BackoffCap
	}
	return delay
}

// State returns a copy of the scheduler's published state and counters.
func (s *Scheduler) State() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		LastPrice:       s.lastPublished,
		LastPublishedAt: s.lastPublishedAt,
		LastCycleAt:     s.lastCycleAt,
		SuccessCount:    s.stats.Success(),
		FailureCount:    s.stats.Failure(),
		ConsecutiveFail: s.stats.Consecutive(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
