// Package webdriver implements the scrape session contract on top of a
// chromedriver-managed WebDriver session.
package webdriver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/scrape"
)

// Factory opens WebDriver sessions. Exactly one session is live at a time by
// construction of the retry controller, so no pooling is attempted.
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

// Open starts chromedriver, connects a session with the fixed profile and
// returns a handle whose Close tears everything down.
func (f *Factory) Open(ctx context.Context, paths scrape.Paths, profile scrape.Profile) (scrape.Session, error) {
	dataDir, err := newUserDataDir(profile.UserDataBase)
	if err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("allocate driver port: %w", err)
	}

	service, err := selenium.NewChromeDriverService(paths.Driver, port)
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("start chromedriver: %w", err)
	}

	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{
		Path:            paths.Browser,
		Args:            chromeArgs(profile, dataDir),
		ExcludeSwitches: []string{"enable-automation"},
	})

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d/wd/hub", port))
	if err != nil {
		_ = service.Stop()
		scrape.SweepProcesses(dataDir, f.logger)
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("connect webdriver session: %w", err)
	}

	// Long timeouts on purpose: the target renders client-side well after
	// the initial document load.
	if err := wd.SetPageLoadTimeout(profile.PageLoadTimeout); err != nil {
		f.logger.Warn("set page load timeout", zap.Error(err))
	}
	if err := wd.SetImplicitWaitTimeout(profile.ImplicitWait); err != nil {
		f.logger.Warn("set implicit wait", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		s := &session{wd: wd, service: service, dataDir: dataDir, profile: profile, logger: f.logger}
		_ = s.Close()
		return nil, ctx.Err()
	default:
	}

	return &session{
		wd:      wd,
		service: service,
		dataDir: dataDir,
		profile: profile,
		logger:  f.logger,
	}, nil
}

func newUserDataDir(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "prana-session-"+uuid.NewString())
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear user data dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user data dir: %w", err)
	}
	return dir, nil
}

func chromeArgs(profile scrape.Profile, dataDir string) []string {
	return []string{
		"--headless=new",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-extensions",
		"--disable-plugins",
		"--disable-software-rasterizer",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-features=TranslateUI",
		"--disable-features=VizDisplayCompositor",
		"--disable-ipc-flooding-protection",
		"--disable-blink-features=AutomationControlled",
		"--memory-pressure-off",
		"--log-level=3",
		fmt.Sprintf("--window-size=%d,%d", profile.WindowWidth, profile.WindowHeight),
		fmt.Sprintf("--user-agent=%s", profile.UserAgent),
		fmt.Sprintf("--user-data-dir=%s", dataDir),
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

type session struct {
	wd      selenium.WebDriver
	service *selenium.Service
	dataDir string
	profile scrape.Profile
	logger  *zap.Logger
	closed  bool
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.wd.Get(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// AwaitReady gates on document readiness and the page's asynchronous UI
// frameworks settling. Each signal is optional and its timeout is non-fatal;
// the locator proceeds regardless.
func (s *session) AwaitReady(ctx context.Context) error {
	var degraded []string

	if err := s.waitScript(ctx, `return document.readyState === 'complete';`); err != nil {
		degraded = append(degraded, "document")
	}
	// Framework quiescence: each check passes trivially when the framework
	// is not present on the page.
	if err := s.waitScript(ctx, `return (typeof jQuery === 'undefined') || jQuery.active === 0;`); err != nil {
		degraded = append(degraded, "jquery")
	}
	if err := s.waitScript(ctx, `return (typeof next === 'undefined') || !next.router || next.router.isReady === true;`); err != nil {
		degraded = append(degraded, "next")
	}

	sleepCtx(ctx, time.Second)

	if len(degraded) > 0 {
		return fmt.Errorf("readiness signals timed out: %s", strings.Join(degraded, ", "))
	}
	return nil
}

func (s *session) waitScript(ctx context.Context, script string) error {
	deadline := time.Now().Add(s.profile.ReadyGateTimeout)
	cond := func(wd selenium.WebDriver) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		result, err := wd.ExecuteScript(script, nil)
		if err != nil {
			return false, nil
		}
		ok, _ := result.(bool)
		return ok, nil
	}
	return s.wd.WaitWithTimeoutAndInterval(cond, time.Until(deadline), 500*time.Millisecond)
}

func (s *session) ElementText(ctx context.Context, strategy scrape.Strategy) (string, error) {
	by, err := byFor(strategy.Mechanism)
	if err != nil {
		return "", err
	}

	cond := func(wd selenium.WebDriver) (bool, error) {
		if cerr := ctx.Err(); cerr != nil {
			return false, cerr
		}
		_, ferr := wd.FindElement(by, strategy.Pattern)
		return ferr == nil, nil
	}
	if err := s.wd.WaitWithTimeoutAndInterval(cond, s.profile.StrategyWait, 500*time.Millisecond); err != nil {
		return "", fmt.Errorf("element %s %q: %w", strategy.Mechanism, strategy.Pattern, err)
	}

	// Settle: the element exists before its text is populated.
	sleepCtx(ctx, s.profile.SettleDelay)

	element, err := s.wd.FindElement(by, strategy.Pattern)
	if err != nil {
		return "", fmt.Errorf("re-find element %s %q: %w", strategy.Mechanism, strategy.Pattern, err)
	}
	text, err := element.Text()
	if err != nil {
		return "", fmt.Errorf("read element text: %w", err)
	}
	return text, nil
}

func (s *session) PageInfo(ctx context.Context) scrape.PageInfo {
	info := scrape.PageInfo{}
	if ctx.Err() != nil {
		return info
	}
	info.Title, _ = s.wd.Title()
	info.URL, _ = s.wd.CurrentURL()
	if source, err := s.wd.PageSource(); err == nil {
		info.SourceLen = len(source)
		info.MarkerPresent = s.profile.Marker != "" && strings.Contains(source, s.profile.Marker)
	}
	return info
}

// Close quits the session, stops chromedriver, sweeps stray processes owned
// by this session and removes its temp state. Safe to call once per session;
// reached on every attempt exit path.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.wd.Quit(); err != nil {
		errs = append(errs, fmt.Errorf("quit session: %w", err))
	}
	if err := s.service.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop chromedriver: %w", err))
	}
	if swept := scrape.SweepProcesses(s.dataDir, s.logger); swept > 0 {
		s.logger.Warn("swept lingering browser processes", zap.Int("count", swept))
	}
	if err := os.RemoveAll(s.dataDir); err != nil {
		errs = append(errs, fmt.Errorf("remove user data dir: %w", err))
	}
	return errors.Join(errs...)
}

func byFor(mechanism scrape.Mechanism) (string, error) {
	switch mechanism {
	case scrape.MechClassName:
		return selenium.ByClassName, nil
	case scrape.MechCSS:
		return selenium.ByCSSSelector, nil
	case scrape.MechXPath:
		return selenium.ByXPATH, nil
	default:
		return "", fmt.Errorf("unknown locator mechanism %q", mechanism)
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
