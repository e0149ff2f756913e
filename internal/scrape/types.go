// Package scrape defines the price extraction pipeline: session contracts,
// locator strategies, normalization and the retry controller.
package scrape

import (
	"context"
	"time"
)

// Mechanism selects how a locator strategy finds an element.
type Mechanism string

// Supported location mechanisms.
const (
	MechClassName Mechanism = "class_name"
	MechCSS       Mechanism = "css"
	MechXPath     Mechanism = "xpath"
)

// Strategy is one (mechanism, pattern) pair. Order in a strategy list
// defines precedence; the list is static configuration.
type Strategy struct {
	Mechanism Mechanism
	Pattern   string
}

// DefaultStrategies returns the ordered fallback list for the price element.
// The page's class names are build-generated, so the list degrades from the
// exact generated name to progressively looser matches.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{MechClassName, "DataPoint_dataPointValue__Bzf_E"},
		{MechCSS, "[class*='DataPoint_dataPointValue']"},
		{MechCSS, "[class*='dataPointValue']"},
		{MechCSS, "[data-testid*='price']"},
		{MechCSS, ".price-value"},
		{MechCSS, "[class*='price']"},
		{MechXPath, "//span[contains(@class, 'DataPoint')]"},
		{MechXPath, "//div[contains(@class, 'DataPoint')]//span"},
	}
}

// Paths locates the verified browser and driver executables for one attempt.
type Paths struct {
	Browser string
	Driver  string
}

// Provisioner resolves and verifies executables before session creation.
type Provisioner interface {
	Resolve(ctx context.Context) (Paths, error)
}

// Profile is the fixed configuration applied to every browser session.
type Profile struct {
	UserAgent        string
	WindowWidth      int
	WindowHeight     int
	UserDataBase     string
	PageLoadTimeout  time.Duration
	ImplicitWait     time.Duration
	ReadyGateTimeout time.Duration
	SettleDelay      time.Duration
	StrategyWait     time.Duration
	Marker           string
}

// userAgents is rotated across attempts to reduce fingerprint correlation.
var userAgents = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
}

// DefaultProfile builds the session profile used by both backends.
func DefaultProfile() Profile {
	return Profile{
		UserAgent:        userAgents[0],
		WindowWidth:      1920,
		WindowHeight:     1080,
		PageLoadTimeout:  90 * time.Second,
		ImplicitWait:     30 * time.Second,
		ReadyGateTimeout: 20 * time.Second,
		SettleDelay:      5 * time.Second,
		StrategyWait:     15 * time.Second,
		Marker:           "DataPoint",
	}
}

// WithUserAgent returns a copy with the user agent rotated by attempt index.
func (p Profile) WithUserAgent(attempt int) Profile {
	if attempt < 0 {
		attempt = 0
	}
	p.UserAgent = userAgents[attempt%len(userAgents)]
	return p
}

// PageInfo carries diagnostics recorded when no strategy matches.
type PageInfo struct {
	Title         string
	URL           string
	SourceLen     int
	MarkerPresent bool
}

// Session is one live browser automation session. Implementations own all
// underlying resources; Close must be reachable on every exit path and must
// terminate the session, sweep stray OS processes and remove temp state.
type Session interface {
	Navigate(ctx context.Context, url string) error
	AwaitReady(ctx context.Context) error
	ElementText(ctx context.Context, strategy Strategy) (string, error)
	PageInfo(ctx context.Context) PageInfo
	Close() error
}

// SessionFactory opens sessions against provisioned executables.
type SessionFactory interface {
	Open(ctx context.Context, paths Paths, profile Profile) (Session, error)
}
