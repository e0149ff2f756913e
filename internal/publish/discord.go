package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pranadao/prana-ticker/internal/metrics"
)

// DiscordConfig configures the Discord publisher.
type DiscordConfig struct {
	Token          string
	VoiceChannelID string
	// RenameEvery and RenameBurst shape the local guard limiter on channel
	// renames. Discord's own bucket for renames is 2 per 10 minutes and is
	// shared; guarding locally keeps a scheduler cycle from blocking on it.
	RenameEvery time.Duration
	RenameBurst int
}

// Discord publishes through a discordgo gateway session.
type Discord struct {
	session    *discordgo.Session
	channelID  string
	limiter    *rate.Limiter
	ready      atomic.Bool
	reconnects chan struct{}
	logger     *zap.Logger
}

// NewDiscord builds the client and registers lifecycle handlers. Open must be
// called before publishing.
func NewDiscord(cfg DiscordConfig, logger *zap.Logger) (*Discord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	// Surface 429s as errors instead of blocking a scheduler cycle inside
	// the client's internal wait.
	session.ShouldRetryOnRateLimit = false

	if cfg.RenameEvery <= 0 {
		cfg.RenameEvery = 5 * time.Minute
	}
	if cfg.RenameBurst <= 0 {
		cfg.RenameBurst = 2
	}

	d := &Discord{
		session:    session,
		channelID:  cfg.VoiceChannelID,
		limiter:    rate.NewLimiter(rate.Every(cfg.RenameEvery), cfg.RenameBurst),
		reconnects: make(chan struct{}, 1),
		logger:     logger,
	}

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		d.ready.Store(true)
		d.logger.Info("discord gateway ready",
			zap.String("user", r.User.String()),
			zap.Int("guilds", len(r.Guilds)),
		)
		d.verifyChannel()
		d.signalReconnect()
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		d.ready.Store(true)
		d.logger.Info("discord gateway resumed")
		d.signalReconnect()
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.ready.Store(false)
		d.logger.Warn("discord gateway disconnected")
	})

	return d, nil
}

// Open connects the gateway.
func (d *Discord) Open() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close shuts the gateway down.
func (d *Discord) Close() error {
	return d.session.Close()
}

// Ready reports gateway connection state.
func (d *Discord) Ready() bool {
	return d.ready.Load()
}

// Reconnects yields one signal per ready/resume.
func (d *Discord) Reconnects() <-chan struct{} {
	return d.reconnects
}

func (d *Discord) signalReconnect() {
	select {
	case d.reconnects <- struct{}{}:
	default:
	}
}

// verifyChannel is a startup self-check that the configured channel exists
// and is a voice channel. A mismatch is loud but not fatal; renames will fail
// with their own errors.
func (d *Discord) verifyChannel() {
	channel, err := d.session.Channel(d.channelID)
	if err != nil {
		d.logger.Error("target channel lookup failed",
			zap.String("channel_id", d.channelID),
			zap.Error(err),
		)
		return
	}
	if channel.Type != discordgo.ChannelTypeGuildVoice {
		d.logger.Error("target channel is not a voice channel",
			zap.String("channel_id", d.channelID),
			zap.String("name", channel.Name),
		)
		return
	}
	d.logger.Info("target channel verified",
		zap.String("channel_id", d.channelID),
		zap.String("name", channel.Name),
	)
}

// SetPresence updates the bot's activity line. Best-effort by contract.
func (d *Discord) SetPresence(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindInternal, Message: "presence canceled", Cause: err}
	}
	if err := d.session.UpdateGameStatus(0, text); err != nil {
		metrics.ObservePublish("presence", false)
		return classify("update presence", err)
	}
	metrics.ObservePublish("presence", true)
	return nil
}

// RenameChannel renames the voice channel. This is the authoritative publish:
// the scheduler updates its last-published state only when this succeeds.
func (d *Discord) RenameChannel(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindInternal, Message: "rename canceled", Cause: err}
	}
	if !d.limiter.Allow() {
		metrics.ObservePublish("rename", false)
		return &Error{Kind: KindRateLimited, Message: "local rename budget exhausted"}
	}
	if _, err := d.session.ChannelEdit(d.channelID, &discordgo.ChannelEdit{Name: name}); err != nil {
		metrics.ObservePublish("rename", false)
		return classify("rename channel", err)
	}
	metrics.ObservePublish("rename", true)
	return nil
}

// classify maps discordgo errors onto the closed publish error kinds.
func classify(op string, err error) *Error {
	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		return &Error{Kind: KindRateLimited, Message: op, Cause: err}
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return &Error{Kind: KindForbidden, Message: op, Cause: err}
		case http.StatusNotFound:
			return &Error{Kind: KindNotFound, Message: op, Cause: err}
		case http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Message: op, Cause: err}
		}
	}
	return &Error{Kind: KindInternal, Message: op, Cause: err}
}
