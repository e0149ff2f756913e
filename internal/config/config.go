// Package config loads and validates ticker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all daemon configuration knobs loaded via Viper.
type Config struct {
	Discord Discord `mapstructure:"discord"`
	Target  Target  `mapstructure:"target"`
	Browser Browser `mapstructure:"browser"`
	Scrape  Scrape  `mapstructure:"scrape"`
	Ticker  Ticker  `mapstructure:"ticker"`
	Server  Server  `mapstructure:"server"`
	Logging Logging `mapstructure:"logging"`
}

// Discord holds the bot credential and the voice channel to rename.
type Discord struct {
	Token            string `mapstructure:"token"`
	VoiceChannelID   string `mapstructure:"voice_channel_id"`
	PresencePrefix   string `mapstructure:"presence_prefix"`
	RenamePerSeconds int    `mapstructure:"rename_per_seconds"`
	RenameBurst      int    `mapstructure:"rename_burst"`
}

// Target identifies the single price page this daemon watches.
type Target struct {
	URL    string `mapstructure:"url"`
	Ticker string `mapstructure:"ticker"`
}

// Browser configures executable discovery and session timeouts.
type Browser struct {
	ChromePath             string `mapstructure:"chrome_path"`
	DriverPath             string `mapstructure:"driver_path"`
	DriverDir              string `mapstructure:"driver_dir"`
	PageLoadTimeoutSec     int    `mapstructure:"page_load_timeout_seconds"`
	ImplicitWaitSec        int    `mapstructure:"implicit_wait_seconds"`
	ReadyGateTimeoutSec    int    `mapstructure:"ready_gate_timeout_seconds"`
	SettleDelaySec         int    `mapstructure:"settle_delay_seconds"`
	DownloadTimeoutSec     int    `mapstructure:"download_timeout_seconds"`
	VersionProbeTimeoutSec int    `mapstructure:"version_probe_timeout_seconds"`
}

// Scrape governs the fetch-with-retry pipeline.
type Scrape struct {
	Backend          string  `mapstructure:"backend"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BaseDelaySec     float64 `mapstructure:"base_delay_seconds"`
	JitterLowSec     float64 `mapstructure:"jitter_low_seconds"`
	JitterHighSec    float64 `mapstructure:"jitter_high_seconds"`
	StrategyWaitSec  int     `mapstructure:"strategy_wait_seconds"`
	ProbeFirst       bool    `mapstructure:"probe_first"`
	RotateUserAgents bool    `mapstructure:"rotate_user_agents"`
}

// Ticker controls the periodic update loop.
type Ticker struct {
	PeriodSec        int `mapstructure:"period_seconds"`
	FailureThreshold int `mapstructure:"failure_threshold"`
	BackoffStepSec   int `mapstructure:"backoff_step_seconds"`
	BackoffCapSec    int `mapstructure:"backoff_cap_seconds"`
}

// Server controls the local status/metrics HTTP listener.
type Server struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Logging toggles zap development features.
type Logging struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy deployment env names take priority over the prefixed forms.
	bindRequired(v)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindRequired(v *viper.Viper) {
	_ = v.BindEnv("discord.token", "DISCORD_BOT_TOKEN", "TICKER_DISCORD_TOKEN")
	_ = v.BindEnv("discord.voice_channel_id", "VOICE_CHANNEL_ID", "TICKER_DISCORD_VOICE_CHANNEL_ID")
	_ = v.BindEnv("browser.chrome_path", "GOOGLE_CHROME_BIN", "TICKER_BROWSER_CHROME_PATH")
	_ = v.BindEnv("browser.driver_path", "CHROMEDRIVER_PATH", "TICKER_BROWSER_DRIVER_PATH")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.presence_prefix", "prANA: $")
	v.SetDefault("discord.rename_per_seconds", 300)
	v.SetDefault("discord.rename_burst", 2)
	v.SetDefault("target.url", "https://mainnet.nirvana.finance/realize")
	v.SetDefault("target.ticker", "prANA")
	v.SetDefault("browser.driver_dir", "/tmp/chromedriver_new")
	v.SetDefault("browser.page_load_timeout_seconds", 90)
	v.SetDefault("browser.implicit_wait_seconds", 30)
	v.SetDefault("browser.ready_gate_timeout_seconds", 20)
	v.SetDefault("browser.settle_delay_seconds", 5)
	v.SetDefault("browser.download_timeout_seconds", 120)
	v.SetDefault("browser.version_probe_timeout_seconds", 10)
	v.SetDefault("scrape.backend", "webdriver")
	v.SetDefault("scrape.max_attempts", 3)
	v.SetDefault("scrape.base_delay_seconds", 2.0)
	v.SetDefault("scrape.jitter_low_seconds", 1.0)
	v.SetDefault("scrape.jitter_high_seconds", 4.0)
	v.SetDefault("scrape.strategy_wait_seconds", 15)
	v.SetDefault("scrape.probe_first", true)
	v.SetDefault("scrape.rotate_user_agents", true)
	v.SetDefault("ticker.period_seconds", 120)
	v.SetDefault("ticker.failure_threshold", 3)
	v.SetDefault("ticker.backoff_step_seconds", 30)
	v.SetDefault("ticker.backoff_cap_seconds", 300)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required (set DISCORD_BOT_TOKEN)")
	}
	if c.Discord.VoiceChannelID == "" {
		return fmt.Errorf("discord.voice_channel_id is required (set VOICE_CHANNEL_ID)")
	}
	for _, r := range c.Discord.VoiceChannelID {
		if r < '0' || r > '9' {
			return fmt.Errorf("discord.voice_channel_id must be numeric, got %q", c.Discord.VoiceChannelID)
		}
	}
	if c.Target.URL == "" {
		return fmt.Errorf("target.url must be set")
	}
	switch c.Scrape.Backend {
	case "webdriver", "chromedp":
	default:
		return fmt.Errorf("scrape.backend must be webdriver or chromedp, got %q", c.Scrape.Backend)
	}
	if c.Scrape.MaxAttempts <= 0 {
		return fmt.Errorf("scrape.max_attempts must be > 0")
	}
	if c.Scrape.JitterHighSec < c.Scrape.JitterLowSec {
		return fmt.Errorf("scrape.jitter_high_seconds must be >= scrape.jitter_low_seconds")
	}
	if c.Ticker.PeriodSec <= 0 {
		return fmt.Errorf("ticker.period_seconds must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// Period returns the scheduler tick interval.
func (c Config) Period() time.Duration {
	return time.Duration(c.Ticker.PeriodSec) * time.Second
}

// PageLoadTimeout returns the per-session navigation budget.
func (c Config) PageLoadTimeout() time.Duration {
	return time.Duration(c.Browser.PageLoadTimeoutSec) * time.Second
}
