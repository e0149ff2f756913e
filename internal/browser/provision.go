// Package browser resolves and verifies the Chrome binary and a
// version-matched chromedriver before each scrape attempt.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/pranadao/prana-ticker/internal/scrape"
)

// defaultChromeCandidates is the ordered list of well-known install paths.
var defaultChromeCandidates = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/usr/bin/chrome",
	"/opt/google/chrome/google-chrome",
	"/app/.chrome-for-testing/chrome-linux64/chrome",
}

// Config controls discovery overrides, cache locations and endpoints. The
// endpoint bases exist so tests can point at local servers.
type Config struct {
	ChromePath       string
	DriverPath       string
	DriverDir        string
	ChromeCandidates []string
	LookupBase       string
	StorageBase      string
	LegacyBase       string
	ProbeTimeout     time.Duration
	DownloadTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.DriverDir == "" {
		c.DriverDir = "/tmp/chromedriver_new"
	}
	if len(c.ChromeCandidates) == 0 {
		c.ChromeCandidates = defaultChromeCandidates
	}
	if c.LookupBase == "" {
		c.LookupBase = "https://googlechromelabs.github.io/chrome-for-testing"
	}
	if c.StorageBase == "" {
		c.StorageBase = "https://storage.googleapis.com/chrome-for-testing-public"
	}
	if c.LegacyBase == "" {
		c.LegacyBase = "https://chromedriver.storage.googleapis.com"
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 120 * time.Second
	}
}

// Provisioner implements scrape.Provisioner. Resolve always re-downloads the
// driver rather than trusting a cached one, trading network cost for
// version-skew safety on hosts where Chrome auto-updates.
type Provisioner struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger

	// runCommand is a seam for tests covering version probing.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// New builds a Provisioner with a retrying HTTP client.
func New(cfg Config, logger *zap.Logger) *Provisioner {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(cfg.DownloadTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryConditions(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Provisioner{
		cfg:    cfg,
		client: client,
		logger: logger,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Close releases the underlying HTTP client.
func (p *Provisioner) Close() error {
	return p.client.Close()
}

// Resolve locates the browser, probes its version and acquires a matching
// driver. The caller must not open a session unless both paths verified.
func (p *Provisioner) Resolve(ctx context.Context) (scrape.Paths, error) {
	chromePath, err := p.findChrome()
	if err != nil {
		return scrape.Paths{}, err
	}

	version, major, err := p.chromeVersion(ctx, chromePath)
	if err != nil {
		return scrape.Paths{}, err
	}
	p.logger.Info("chrome resolved",
		zap.String("path", chromePath),
		zap.String("version", version),
		zap.Int("major", major),
	)

	driverPath, err := p.acquireDriver(ctx, major)
	if err != nil {
		return scrape.Paths{}, err
	}

	return scrape.Paths{Browser: chromePath, Driver: driverPath}, nil
}

func (p *Provisioner) findChrome() (string, error) {
	if p.cfg.ChromePath != "" {
		if _, err := os.Stat(p.cfg.ChromePath); err == nil {
			return p.cfg.ChromePath, nil
		}
		p.logger.Warn("chrome override path does not exist",
			zap.String("path", p.cfg.ChromePath),
		)
	}
	for _, candidate := range p.cfg.ChromeCandidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no chrome binary found in %d known locations", len(p.cfg.ChromeCandidates))
}

func (p *Provisioner) chromeVersion(ctx context.Context, chromePath string) (string, int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	out, err := p.runCommand(probeCtx, chromePath, "--version")
	if err != nil {
		return "", 0, fmt.Errorf("probe chrome version: %w", err)
	}
	return parseVersionOutput(string(out))
}
