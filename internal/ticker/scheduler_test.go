package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/publish"
	"github.com/pranadao/prana-ticker/internal/scrape"
)

type scriptedFetcher struct {
	results []string
	oks     []bool
	calls   int
}

func (f *scriptedFetcher) Fetch(_ context.Context) (string, bool) {
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		return "", false
	}
	return f.results[i], f.oks[i]
}

func newScheduler(f Fetcher, m *publish.Memory, stats *scrape.Stats, cfg Config) *Scheduler {
	if cfg.PresencePrefix == "" {
		cfg.PresencePrefix = "prANA: $"
	}
	if cfg.Period == 0 {
		cfg.Period = time.Second
	}
	s := New(f, m, m, stats, cfg, zap.NewNop())
	s.sleep = func(context.Context, time.Duration) {}
	return s
}

func TestPublishOnlyOnChange(t *testing.T) {
	t.Parallel()

	m := publish.NewMemory()
	stats := &scrape.Stats{}
	f := &scriptedFetcher{
		results: []string{"0.1234", "0.1234", "0.5678"},
		oks:     []bool{true, true, true},
	}
	s := newScheduler(f, m, stats, Config{})
	ctx := context.Background()

	s.RunCycle(ctx)
	s.RunCycle(ctx) // identical value: no second publish
	s.RunCycle(ctx)

	require.Equal(t, []string{"prANA: $0.1234", "prANA: $0.5678"}, m.Renames())
	require.Equal(t, []string{"prANA: $0.1234", "prANA: $0.5678"}, m.Presences())
	require.Equal(t, "0.5678", s.State().LastPrice)
}

func TestRateLimitedRenameKeepsLastPublished(t *testing.T) {
	t.Parallel()

	m := publish.NewMemory()
	stats := &scrape.Stats{}
	f := &scriptedFetcher{results: []string{"0.1", "0.1"}, oks: []bool{true, true}}
	s := newScheduler(f, m, stats, Config{})
	ctx := context.Background()

	m.FailRename(&publish.Error{Kind: publish.KindRateLimited, Message: "bucket"})
	s.RunCycle(ctx)
	require.Empty(t, s.State().LastPrice)

	// Next cycle retries the same value naturally because state is unchanged.
	m.FailRename(nil)
	s.RunCycle(ctx)
	require.Equal(t, "0.1", s.State().LastPrice)
	require.Equal(t, []string{"prANA: $0.1"}, m.Renames())
}

func TestPresenceFailureDoesNotBlockRename(t *testing.T) {
	t.Parallel()

	m := publish.NewMemory()
	stats := &scrape.Stats{}
	f := &scriptedFetcher{results: []string{"0.2"}, oks: []bool{true}}
	s := newScheduler(f, m, stats, Config{})

	m.FailPresence(&publish.Error{Kind: publish.KindInternal, Message: "gateway"})
	s.RunCycle(context.Background())

	require.Empty(t, m.Presences())
	require.Equal(t, []string{"prANA: $0.2"}, m.Renames())
	require.Equal(t, "0.2", s.State().LastPrice)
}

func TestSkipsCycleWhenNotReady(t *testing.T) {
	t.Parallel()

	m := publish.NewMemory()
	m.SetReady(false)
	stats := &scrape.Stats{}
	f := &scriptedFetcher{results: []string{"0.3"}, oks: []bool{true}}
	s := newScheduler(f, m, stats, Config{})

	s.RunCycle(context.Background())

	require.Zero(t, f.calls)
	require.Empty(t, m.Renames())
}

func TestFailedFetchPublishesNothing(t *testing.T) {
	t.Parallel()

	m := publish.NewMemory()
	stats := &scrape.Stats{}
	f := &scriptedFetcher{results: []string{""}, oks: []bool{false}}
	s := newScheduler(f, m, stats, Config{})

	s.RunCycle(context.Background())

	require.Empty(t, m.Renames())
	require.Empty(t, m.Presences())
}

func TestAdaptiveDelayMonotoneAndCapped(t *testing.T) {
	t.Parallel()

	m := publish.NewMemory()
	stats := &scrape.Stats{}
	s := newScheduler(&scriptedFetcher{}, m, stats, Config{
		FailureThreshold: 3,
		BackoffStep:      30 * time.Second,
		BackoffCap:       90 * time.Second,
	})

	require.Zero(t, s.adaptiveDelay())

	var previous time.Duration
	for i := 0; i < 6; i++ {
		stats.RecordFailure()
		delay := s.adaptiveDelay()
		require.GreaterOrEqual(t, delay, previous)
		previous = delay
	}
	require.Equal(t, 90*time.Second, previous)
}

func TestReconnectResetsStreak(t *testing.T) {
	t.Parallel()

	m := publish.NewMemory()
	stats := &scrape.Stats{}
	for i := 0; i < 5; i++ {
		stats.RecordFailure()
	}
	s := newScheduler(&scriptedFetcher{}, m, stats, Config{Period: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	m.SignalReconnect()
	require.Eventually(t, func() bool {
		return stats.Consecutive() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

// pipeline fakes drive a real retrier through a full cycle.

type pipelineProvisioner struct{}

func (pipelineProvisioner) Resolve(_ context.Context) (scrape.Paths, error) {
	return scrape.Paths{Browser: "/usr/bin/chrome", Driver: "/tmp/chromedriver"}, nil
}

type pipelineSession struct {
	pattern string
	text    string
}

func (s *pipelineSession) Navigate(_ context.Context, _ string) error { return nil }
func (s *pipelineSession) AwaitReady(_ context.Context) error         { return nil }

func (s *pipelineSession) ElementText(_ context.Context, strategy scrape.Strategy) (string, error) {
	if strategy.Pattern == s.pattern {
		return s.text, nil
	}
	return "", scrape.NewNotFoundError("no element")
}

func (s *pipelineSession) PageInfo(_ context.Context) scrape.PageInfo { return scrape.PageInfo{} }
func (s *pipelineSession) Close() error                               { return nil }

type pipelineFactory struct {
	session *pipelineSession
}

func (f *pipelineFactory) Open(_ context.Context, _ scrape.Paths, _ scrape.Profile) (scrape.Session, error) {
	return f.session, nil
}

func TestFullCyclePublishesNormalizedPrice(t *testing.T) {
	t.Parallel()

	// The page serves "$0.1234" under the first generated class name; one
	// cycle must end with both Discord surfaces showing the bare decimal.
	strategies := scrape.DefaultStrategies()
	session := &pipelineSession{pattern: strategies[0].Pattern, text: "$0.1234"}
	stats := &scrape.Stats{}
	retrier := scrape.NewRetrier(
		pipelineProvisioner{},
		&pipelineFactory{session: session},
		scrape.NewLocator(strategies, zap.NewNop()),
		nil,
		scrape.DefaultProfile(),
		scrape.RetryConfig{TargetURL: "https://mainnet.nirvana.finance/realize", MaxAttempts: 3},
		stats,
		zap.NewNop(),
	)

	m := publish.NewMemory()
	s := newScheduler(retrier, m, stats, Config{})
	s.RunCycle(context.Background())

	require.Equal(t, []string{"prANA: $0.1234"}, m.Presences())
	require.Equal(t, []string{"prANA: $0.1234"}, m.Renames())
	require.Equal(t, "0.1234", s.State().LastPrice)
	require.Equal(t, int64(1), stats.Success())
}
