package scrape

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/metrics"
)

// RetryConfig bounds the attempt loop and shapes the inter-attempt delay.
type RetryConfig struct {
	TargetURL        string
	MaxAttempts      int
	BaseDelay        time.Duration
	JitterLow        time.Duration
	JitterHigh       time.Duration
	RotateUserAgents bool
}

// Prober is an optional static pre-flight check run once per fetch.
type Prober interface {
	Check(ctx context.Context, url string) error
}

// Retrier orchestrates provisioning, session lifecycle and value location
// across a bounded number of sequential attempts. It never returns an error:
// every failure below it is downgraded to a failed attempt, and the only
// observable outputs are the optional price and the Stats side effects.
type Retrier struct {
	provisioner Provisioner
	factory     SessionFactory
	locator     *Locator
	prober      Prober
	profile     Profile
	cfg         RetryConfig
	stats       *Stats
	logger      *zap.Logger

	// sleep is a seam for tests; production uses context-aware sleeping.
	sleep func(ctx context.Context, d time.Duration)
}

// NewRetrier wires the retry controller. prober may be nil.
func NewRetrier(
	provisioner Provisioner,
	factory SessionFactory,
	locator *Locator,
	prober Prober,
	profile Profile,
	cfg RetryConfig,
	stats *Stats,
	logger *zap.Logger,
) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Retrier{
		provisioner: provisioner,
		factory:     factory,
		locator:     locator,
		prober:      prober,
		profile:     profile,
		cfg:         cfg,
		stats:       stats,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Fetch runs up to MaxAttempts full pipeline cycles and returns the first
// successfully extracted price. ok is false only after every attempt failed.
func (r *Retrier) Fetch(ctx context.Context) (price string, ok bool) {
	if r.prober != nil {
		if err := r.prober.Check(ctx, r.cfg.TargetURL); err != nil {
			// Static probing is advisory; the page may reject plain HTTP
			// clients while rendering fine in a real browser.
			r.logger.Debug("pre-flight probe failed", zap.Error(err))
		}
	}

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.cfg.BaseDelay + r.jitter()
			r.logger.Info("delaying before retry",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			r.sleep(ctx, delay)
		}
		if ctx.Err() != nil {
			r.recordFailure(attempt, NewSessionError("fetch canceled", ctx.Err()))
			return "", false
		}

		start := time.Now()
		value, err := r.attempt(ctx, attempt)
		if err != nil {
			r.recordFailure(attempt, err)
			metrics.ObserveFetch(false, time.Since(start))
			continue
		}

		r.stats.RecordSuccess()
		metrics.ObserveFetch(true, time.Since(start))
		metrics.SetConsecutiveFailures(0)
		r.logger.Info("price fetched",
			zap.String("price", value),
			zap.Int("attempt", attempt),
		)
		return value, true
	}

	return "", false
}

// attempt runs one full provision → session → locate cycle. The session is
// released on every exit path before the attempt returns.
func (r *Retrier) attempt(ctx context.Context, attempt int) (string, error) {
	// Provisioning is intentionally re-run per attempt: a long-lived process
	// must tolerate the environment drifting underneath it.
	paths, err := r.provisioner.Resolve(ctx)
	if err != nil {
		return "", NewProvisionError("resolve executables", err)
	}

	profile := r.profile
	if r.cfg.RotateUserAgents {
		profile = profile.WithUserAgent(attempt - 1)
	}

	session, err := r.factory.Open(ctx, paths, profile)
	if err != nil {
		return "", NewSessionError("open session", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Warn("session teardown reported errors", zap.Error(cerr))
		}
	}()

	if err := session.Navigate(ctx, r.cfg.TargetURL); err != nil {
		return "", NewSessionError("navigate", err)
	}
	if err := session.AwaitReady(ctx); err != nil {
		// The readiness gate is best-effort: proceed to location anyway.
		r.logger.Warn("page readiness gate degraded", zap.Error(err))
	}

	return r.locator.Locate(ctx, session)
}

func (r *Retrier) recordFailure(attempt int, err error) {
	r.stats.RecordFailure()
	metrics.SetConsecutiveFailures(r.stats.Consecutive())
	r.logger.Warn("fetch attempt failed",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", r.cfg.MaxAttempts),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
}

// jitter draws a uniform duration in [JitterLow, JitterHigh].
func (r *Retrier) jitter() time.Duration {
	span := r.cfg.JitterHigh - r.cfg.JitterLow
	if span <= 0 {
		return r.cfg.JitterLow
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return r.cfg.JitterLow + span/2
	}
	return r.cfg.JitterLow + time.Duration(n.Int64())
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
