package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pranadao/prana-ticker/internal/api"
	"github.com/pranadao/prana-ticker/internal/browser"
	"github.com/pranadao/prana-ticker/internal/config"
	"github.com/pranadao/prana-ticker/internal/logging"
	"github.com/pranadao/prana-ticker/internal/metrics"
	"github.com/pranadao/prana-ticker/internal/probe"
	"github.com/pranadao/prana-ticker/internal/publish"
	"github.com/pranadao/prana-ticker/internal/scrape"
	"github.com/pranadao/prana-ticker/internal/scrape/headless"
	"github.com/pranadao/prana-ticker/internal/scrape/webdriver"
	"github.com/pranadao/prana-ticker/internal/ticker"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts the ticker daemon",
		Long: `Runs the fetch/publish loop until interrupted: provision a browser,
scrape the price, and update the Discord presence and voice channel name
whenever the price changes.`,
		RunE: runDaemon,
	}
	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retrier, stats, err := buildFetcher(cfg, logger)
	if err != nil {
		return err
	}

	pub, err := publish.NewDiscord(publish.DiscordConfig{
		Token:          cfg.Discord.Token,
		VoiceChannelID: cfg.Discord.VoiceChannelID,
		RenameEvery:    time.Duration(cfg.Discord.RenamePerSeconds) * time.Second,
		RenameBurst:    cfg.Discord.RenameBurst,
	}, logger)
	if err != nil {
		return fmt.Errorf("build discord publisher: %w", err)
	}
	if err := pub.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	defer func() {
		if cerr := pub.Close(); cerr != nil {
			logger.Warn("discord session close failed", zap.Error(cerr))
		}
	}()

	scheduler := ticker.New(retrier, pub, pub, stats, ticker.Config{
		Period:           cfg.Period(),
		FailureThreshold: cfg.Ticker.FailureThreshold,
		BackoffStep:      time.Duration(cfg.Ticker.BackoffStepSec) * time.Second,
		BackoffCap:       time.Duration(cfg.Ticker.BackoffCapSec) * time.Second,
		PresencePrefix:   cfg.Discord.PresencePrefix,
	}, logger)

	if cfg.Server.Enabled {
		srv := api.NewServer(scheduler, pub, logger)
		go func() {
			if serr := srv.Run(ctx, cfg.Server.Port); serr != nil {
				logger.Error("status server failed", zap.Error(serr))
			}
		}()
	}

	logger.Info("ticker started",
		zap.String("target", cfg.Target.URL),
		zap.String("ticker", cfg.Target.Ticker),
		zap.String("backend", cfg.Scrape.Backend),
		zap.Duration("period", cfg.Period()),
	)

	// First update runs immediately; the loop then paces itself.
	scheduler.RunCycle(ctx)
	scheduler.Run(ctx)

	logger.Info("shutdown complete")
	return nil
}

// buildFetcher assembles the provision/session/locate pipeline.
func buildFetcher(cfg config.Config, logger *zap.Logger) (*scrape.Retrier, *scrape.Stats, error) {
	provisioner := browser.New(browser.Config{
		ChromePath:      cfg.Browser.ChromePath,
		DriverPath:      cfg.Browser.DriverPath,
		DriverDir:       cfg.Browser.DriverDir,
		ProbeTimeout:    time.Duration(cfg.Browser.VersionProbeTimeoutSec) * time.Second,
		DownloadTimeout: time.Duration(cfg.Browser.DownloadTimeoutSec) * time.Second,
	}, logger)

	profile := scrape.DefaultProfile()
	profile.PageLoadTimeout = cfg.PageLoadTimeout()
	profile.ImplicitWait = time.Duration(cfg.Browser.ImplicitWaitSec) * time.Second
	profile.ReadyGateTimeout = time.Duration(cfg.Browser.ReadyGateTimeoutSec) * time.Second
	profile.SettleDelay = time.Duration(cfg.Browser.SettleDelaySec) * time.Second
	profile.StrategyWait = time.Duration(cfg.Scrape.StrategyWaitSec) * time.Second

	var factory scrape.SessionFactory
	switch cfg.Scrape.Backend {
	case "webdriver":
		factory = webdriver.NewFactory(logger)
	case "chromedp":
		factory = headless.NewFactory(logger)
	default:
		return nil, nil, fmt.Errorf("unknown scrape backend %q", cfg.Scrape.Backend)
	}

	var prober scrape.Prober
	if cfg.Scrape.ProbeFirst {
		prober = probe.New(probe.Config{
			UserAgent: profile.UserAgent,
			Marker:    profile.Marker,
		}, logger)
	}

	stats := &scrape.Stats{}
	retrier := scrape.NewRetrier(
		provisioner,
		factory,
		scrape.NewLocator(nil, logger),
		prober,
		profile,
		scrape.RetryConfig{
			TargetURL:        cfg.Target.URL,
			MaxAttempts:      cfg.Scrape.MaxAttempts,
			BaseDelay:        time.Duration(cfg.Scrape.BaseDelaySec * float64(time.Second)),
			JitterLow:        time.Duration(cfg.Scrape.JitterLowSec * float64(time.Second)),
			JitterHigh:       time.Duration(cfg.Scrape.JitterHighSec * float64(time.Second)),
			RotateUserAgents: cfg.Scrape.RotateUserAgents,
		},
		stats,
		logger,
	)
	return retrier, stats, nil
}
