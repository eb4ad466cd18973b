package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/overlay-bot/telemetry"
	"github.com/onnwee/overlay-bot/user"
)

// Client is the subset of *twitch.Client the bot uses.
type Client interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnConnect(func())
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// BotConfig holds IRC credentials and chat behaviour.
type BotConfig struct {
	Channel  string
	Username string
	Token    string
	Prefix   string
	// RatePer30s caps outgoing messages per 30 seconds.
	RatePer30s int
}

// Bot reads commands from a Twitch channel and answers through a paced outbox.
type Bot struct {
	cfg    BotConfig
	client Client
	reg    *Registry
	out    *Outbox
}

// NewBot builds a bot on a real Twitch IRC client.
func NewBot(cfg BotConfig, reg *Registry) *Bot {
	return newBot(cfg, reg, twitch.NewClient(cfg.Username, cfg.Token))
}

func newBot(cfg BotConfig, reg *Registry, client Client) *Bot {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	return &Bot{cfg: cfg, client: client, reg: reg, out: NewOutbox(cfg.RatePer30s, 0, 0)}
}

// Run connects and blocks until ctx is cancelled or the connection fails.
func (b *Bot) Run(ctx context.Context) error {
	log := slog.Default().With(slog.String("component", "chat"), slog.String("channel", b.cfg.Channel))
	b.client.OnConnect(func() { log.Info("connected to twitch chat") })
	b.client.OnPrivateMessage(func(msg twitch.PrivateMessage) { b.handle(ctx, msg) })

	go b.out.Run(ctx, b.client.Say)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := b.client.Disconnect(); err != nil {
				log.Debug("twitch disconnect", slog.Any("err", err))
			}
		case <-done:
		}
	}()

	b.client.Join(b.cfg.Channel)
	err := b.client.Connect()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return nil
}

func (b *Bot) handle(ctx context.Context, msg twitch.PrivateMessage) {
	cmd, ok := Parse(b.cfg.Prefix, msg.Message)
	if !ok {
		return
	}
	cmd.User = UserFromIRC(msg.User)
	cmd.Channel = msg.Channel
	if msg.ID != "" {
		ctx = telemetry.WithCorrelation(ctx, msg.ID)
	}

	reply, err := b.reg.Dispatch(ctx, cmd)
	switch {
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrForbidden):
		return
	case err != nil:
		telemetry.LoggerWithCorr(ctx).Warn("chat command failed",
			slog.String("component", "chat"),
			slog.String("command", cmd.Name),
			slog.String("user", cmd.User.Key()),
			slog.Any("err", err))
	}
	if reply != "" {
		b.out.Send(Message{Channel: msg.Channel, Text: reply})
	}
}

// UserFromIRC converts an IRC user tag set.
func UserFromIRC(u twitch.User) user.User {
	return user.User{
		ID:     u.ID,
		Login:  u.Name,
		Name:   u.DisplayName,
		Status: user.StatusFromBadges(u.Badges),
	}
}
