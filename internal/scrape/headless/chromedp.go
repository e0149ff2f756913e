// Package headless implements the scrape session contract with chromedp,
// driving Chrome over DevTools without a chromedriver intermediary.
package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/scrape"
)

// Factory opens chromedp-backed sessions. The driver path in scrape.Paths is
// ignored; this backend talks DevTools directly.
type Factory struct {
	logger *zap.Logger
}

// NewFactory builds a session factory.
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{logger: logger}
}

// Open launches a fresh browser with the fixed profile and warms it up.
func (f *Factory) Open(ctx context.Context, paths scrape.Paths, profile scrape.Profile) (scrape.Session, error) {
	base := profile.UserDataBase
	if base == "" {
		base = os.TempDir()
	}
	dataDir := filepath.Join(base, "prana-session-"+uuid.NewString())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create user data dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(paths.Browser),
		chromedp.UserDataDir(dataDir),
		chromedp.UserAgent(profile.UserAgent),
		chromedp.WindowSize(profile.WindowWidth, profile.WindowHeight),
		chromedp.Flag("headless", "new"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-plugins", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	warmupCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(warmupCtx,
		network.Enable(),
		emulation.SetUserAgentOverride(profile.UserAgent),
	); err != nil {
		browserCancel()
		allocCancel()
		scrape.SweepProcesses(dataDir, f.logger)
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	if err := ctx.Err(); err != nil {
		browserCancel()
		allocCancel()
		_ = os.RemoveAll(dataDir)
		return nil, err
	}

	return &session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		dataDir:       dataDir,
		profile:       profile,
		logger:        f.logger,
	}, nil
}

type session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	dataDir       string
	profile       scrape.Profile
	logger        *zap.Logger
	closed        bool
}

func (s *session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(s.browserCtx, s.profile.PageLoadTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// AwaitReady polls the same readiness signals as the webdriver backend; every
// signal is optional and a timeout is reported but non-fatal.
func (s *session) AwaitReady(ctx context.Context) error {
	var degraded []string

	checks := []struct {
		name   string
		script string
	}{
		{"document", `document.readyState === 'complete'`},
		{"jquery", `(typeof jQuery === 'undefined') || jQuery.active === 0`},
		{"next", `(typeof next === 'undefined') || !next.router || next.router.isReady === true`},
	}
	for _, check := range checks {
		if err := s.pollScript(ctx, check.script); err != nil {
			degraded = append(degraded, check.name)
		}
	}

	sleepCtx(ctx, time.Second)

	if len(degraded) > 0 {
		return fmt.Errorf("readiness signals timed out: %s", strings.Join(degraded, ", "))
	}
	return nil
}

func (s *session) pollScript(ctx context.Context, expr string) error {
	deadline := time.Now().Add(s.profile.ReadyGateTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ok bool
		evalCtx, cancel := context.WithTimeout(s.browserCtx, 5*time.Second)
		err := chromedp.Run(evalCtx, chromedp.Evaluate(expr, &ok))
		cancel()
		if err == nil && ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("readiness poll timed out: %s", expr)
		}
		sleepCtx(ctx, 500*time.Millisecond)
	}
}

func (s *session) ElementText(ctx context.Context, strategy scrape.Strategy) (string, error) {
	sel, opt, err := selectorFor(strategy)
	if err != nil {
		return "", err
	}

	waitCtx, cancel := context.WithTimeout(s.browserCtx, s.profile.StrategyWait)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(waitCtx, chromedp.WaitReady(sel, opt)); err != nil {
		return "", fmt.Errorf("element %s %q: %w", strategy.Mechanism, strategy.Pattern, err)
	}

	// Settle: the element exists before its text is populated.
	sleepCtx(ctx, s.profile.SettleDelay)

	var text string
	readCtx, cancelRead := context.WithTimeout(s.browserCtx, 10*time.Second)
	defer cancelRead()
	if err := chromedp.Run(readCtx, chromedp.Text(sel, &text, opt)); err != nil {
		return "", fmt.Errorf("read element text: %w", err)
	}
	return text, nil
}

func (s *session) PageInfo(ctx context.Context) scrape.PageInfo {
	info := scrape.PageInfo{}
	infoCtx, cancel := context.WithTimeout(s.browserCtx, 10*time.Second)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var html string
	if err := chromedp.Run(infoCtx,
		chromedp.Title(&info.Title),
		chromedp.Location(&info.URL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		s.logger.Debug("page diagnostics unavailable", zap.Error(err))
		return info
	}
	info.SourceLen = len(html)
	info.MarkerPresent = s.profile.Marker != "" && strings.Contains(html, s.profile.Marker)
	return info
}

// Close cancels the browser and allocator contexts, which terminates the
// launched Chrome, then sweeps stragglers and removes session state.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.browserCancel()
	s.allocCancel()
	if swept := scrape.SweepProcesses(s.dataDir, s.logger); swept > 0 {
		s.logger.Warn("swept lingering browser processes", zap.Int("count", swept))
	}
	if err := os.RemoveAll(s.dataDir); err != nil {
		return fmt.Errorf("remove user data dir: %w", err)
	}
	return nil
}

var errUnknownMechanism = errors.New("unknown locator mechanism")

func selectorFor(strategy scrape.Strategy) (string, chromedp.QueryOption, error) {
	switch strategy.Mechanism {
	case scrape.MechClassName:
		return "." + strategy.Pattern, chromedp.ByQuery, nil
	case scrape.MechCSS:
		return strategy.Pattern, chromedp.ByQuery, nil
	case scrape.MechXPath:
		return strategy.Pattern, chromedp.BySearch, nil
	default:
		return "", nil, fmt.Errorf("%w: %q", errUnknownMechanism, strategy.Mechanism)
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
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
