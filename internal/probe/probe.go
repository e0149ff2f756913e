// Package probe performs a static pre-flight fetch of the target page. It
// cannot extract the price (the page renders client-side), but it is a cheap
// signal that the host is reachable before a multi-minute browser attempt,
// and its diagnostics help separate "site down" from "markup changed".
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Marker    string
	Timeout   time.Duration
}

// Probe checks static reachability of the price page.
type Probe struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Probe.
func New(cfg Config, logger *zap.Logger) *Probe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{cfg: cfg, logger: logger}
}

// Check fetches the page once without JavaScript and logs what the static
// document looks like. An error means the host did not serve a document at
// all; callers treat this as advisory.
func (p *Probe) Check(ctx context.Context, url string) error {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = true
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)

	var (
		status     int
		bodyLen    int
		markerSeen bool
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		bodyLen = len(r.Body)
		markerSeen = p.cfg.Marker != "" && strings.Contains(string(r.Body), p.cfg.Marker)
	})

	var fetchErr error
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("probe %s: %w", url, err)
		}
	}
	if fetchErr != nil {
		return fmt.Errorf("probe %s: %w", url, fetchErr)
	}

	p.logger.Debug("static probe",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Int("body_len", bodyLen),
		zap.Bool("marker_present", markerSeen),
	)
	if status >= 400 {
		return fmt.Errorf("probe %s: status %d", url, status)
	}
	return nil
}
