package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/onnwee/overlay-bot/cooldown"
	"github.com/onnwee/overlay-bot/playback"
	"github.com/onnwee/overlay-bot/queue"
	"github.com/onnwee/overlay-bot/user"
)

// Player is the playback surface the built-in commands drive.
type Player interface {
	Play(ctx context.Context, req playback.Request) (playback.Ticket, error)
	SkipAll() int
	Pause()
	Resume()
	Active() []playback.Info
	Queue() *queue.Queue
}

// Lister exposes catalog names.
type Lister interface {
	Names() []string
}

const maxReply = 450

// RegisterBuiltins installs the media and moderation commands.
func RegisterBuiltins(r *Registry, p Player, sounds, videos Lister) error {
	specs := []Spec{
		{Name: "sound", Aliases: []string{"sfx"}, Handler: playHandler(r, p, playback.KindSound)},
		{Name: "tts", Aliases: []string{"say"}, Handler: playHandler(r, p, playback.KindTTS)},
		{Name: "video", Aliases: []string{"clip"}, Handler: playHandler(r, p, playback.KindVideo)},
		{Name: "sounds", Handler: listHandler("Sounds", sounds), Throttled: true},
		{Name: "videos", Handler: listHandler("Videos", videos), Throttled: true},
		{Name: "queue", Handler: queueHandler(p), Throttled: true},
		{Name: "cooldown", Aliases: []string{"cd"}, Handler: cooldownHandler(r)},
		{Name: "skip", Handler: func(context.Context, Command) (string, error) {
			return fmt.Sprintf("Skipped %d.", p.SkipAll()), nil
		}, Allow: user.Privileged},
		{Name: "pause", Handler: func(context.Context, Command) (string, error) {
			p.Pause()
			return "", nil
		}, Allow: user.Privileged},
		{Name: "resume", Handler: func(context.Context, Command) (string, error) {
			p.Resume()
			return "", nil
		}, Allow: user.Privileged},
	}
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}

func playHandler(r *Registry, p Player, kind playback.Kind) Handler {
	return func(ctx context.Context, cmd Command) (string, error) {
		req := playback.Request{
			Kind:   kind,
			User:   cmd.User,
			Exempt: cmd.User.Has(user.Broadcaster),
		}
		if kind == playback.KindTTS {
			req.Text = cmd.Raw
		} else {
			req.Name = cmd.Arg(0)
			if req.Name == "" {
				return fmt.Sprintf("@%s usage: !%s <name>", cmd.User.DisplayName(), cmd.Name), nil
			}
		}

		_, err := p.Play(ctx, req)
		var (
			throttled *playback.ThrottledError
			recent    *playback.RecentlyPlayedError
		)
		switch {
		case err == nil:
			return "", nil
		case errors.As(err, &throttled):
			return r.throttleReply(throttled.Response), nil
		case errors.As(err, &recent):
			return fmt.Sprintf("@%s %s was played recently. Try again in %ds.", cmd.User.DisplayName(), recent.Name, recent.RetrySeconds()), nil
		case errors.Is(err, playback.ErrNotFound):
			return fmt.Sprintf("@%s there is no %s called %q.", cmd.User.DisplayName(), kind, req.Name), nil
		case errors.Is(err, playback.ErrEmptyText):
			return fmt.Sprintf("@%s usage: !%s <message>", cmd.User.DisplayName(), cmd.Name), nil
		case errors.Is(err, playback.ErrRejected), errors.Is(err, playback.ErrTTSDisabled):
			return "", nil
		}
		return "", err
	}
}

func listHandler(label string, l Lister) Handler {
	return func(context.Context, Command) (string, error) {
		if l == nil {
			return label + ": none", nil
		}
		names := l.Names()
		if len(names) == 0 {
			return label + ": none", nil
		}
		return truncate(label+": "+strings.Join(names, ", "), maxReply), nil
	}
}

func queueHandler(p Player) Handler {
	return func(context.Context, Command) (string, error) {
		active := p.Active()
		waiting := p.Queue().Len() - len(active)
		if waiting < 0 {
			waiting = 0
		}
		if len(active) == 0 {
			return "Nothing is playing.", nil
		}
		names := make([]string, 0, len(active))
		for _, a := range active {
			names = append(names, a.Name)
		}
		return truncate(fmt.Sprintf("Playing: %s. %d waiting.", strings.Join(names, ", "), waiting), maxReply), nil
	}
}

// cooldownHandler reports the caller's remaining cooldowns, optionally
// narrowed to one category such as "media" or "video".
func cooldownHandler(r *Registry) Handler {
	return func(_ context.Context, cmd Command) (string, error) {
		who := cmd.User.DisplayName()
		if r.cooldowns == nil {
			return fmt.Sprintf("@%s cooldowns are off.", who), nil
		}
		q := cooldown.Any
		if arg := cmd.Arg(0); arg != "" {
			c, err := cooldown.ParseCategory(arg)
			if err != nil {
				return fmt.Sprintf("@%s unknown category %q.", who, arg), nil
			}
			q = c
		}
		var parts []string
		for _, leaf := range q.Leaves() {
			if n := r.cooldowns.RemainingSeconds(cmd.User, leaf); n > 0 {
				parts = append(parts, fmt.Sprintf("%s %ds", leaf, n))
			}
		}
		if len(parts) == 0 {
			return fmt.Sprintf("@%s no active %s cooldowns.", who, q), nil
		}
		return fmt.Sprintf("@%s %s", who, strings.Join(parts, ", ")), nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
