package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/overlay-bot/cooldown"
	"github.com/onnwee/overlay-bot/telemetry"
	"github.com/onnwee/overlay-bot/user"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrForbidden      = errors.New("command not permitted")
	ErrDuplicate      = errors.New("command already registered")
)

// Handler runs a command and returns the chat reply, if any.
type Handler func(ctx context.Context, cmd Command) (string, error)

// Permission is the set of roles allowed to run a command; zero means everyone.
type Permission = user.Status

// Everyone may run commands registered with this permission.
const Everyone Permission = 0

// Spec describes a registered command.
type Spec struct {
	Name    string
	Aliases []string
	Handler Handler
	Allow   Permission
	// Throttled commands are gated by the caller's Command cooldown.
	Throttled bool
}

type entry struct {
	spec  Spec
	count int
}

// Registry maps command names and aliases to handlers.
type Registry struct {
	cooldowns *cooldown.Table
	throttle  time.Duration
	quiet     bool

	mu      sync.RWMutex
	byName  map[string]*entry
	primary []string
}

// NewRegistry returns an empty registry. When cooldowns is non-nil and
// throttle is positive, Throttled commands start a Command cooldown on use.
func NewRegistry(cooldowns *cooldown.Table, throttle time.Duration) *Registry {
	return &Registry{cooldowns: cooldowns, throttle: throttle, byName: make(map[string]*entry)}
}

// SetThrottleReplies controls whether throttled users are told how long to
// wait. When off they are ignored silently.
func (r *Registry) SetThrottleReplies(on bool) {
	r.mu.Lock()
	r.quiet = !on
	r.mu.Unlock()
}

func (r *Registry) throttleReply(msg string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.quiet {
		return ""
	}
	return msg
}

// Register adds a command. Names and aliases are case-insensitive and must be unique.
func (r *Registry) Register(s Spec) error {
	if s.Handler == nil {
		return fmt.Errorf("register %q: nil handler", s.Name)
	}
	names := append([]string{s.Name}, s.Aliases...)
	for i := range names {
		names[i] = strings.ToLower(strings.TrimSpace(names[i]))
		if names[i] == "" {
			return fmt.Errorf("register %q: empty name", s.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if _, ok := r.byName[n]; ok {
			return fmt.Errorf("register %q: %w", n, ErrDuplicate)
		}
	}
	s.Name = names[0]
	e := &entry{spec: s}
	for _, n := range names {
		r.byName[n] = e
	}
	r.primary = append(r.primary, s.Name)
	return nil
}

// Dispatch runs cmd. Unknown commands return ErrUnknownCommand, commands the
// user may not run return ErrForbidden. A throttled user gets the cooldown
// reply instead of the command.
func (r *Registry) Dispatch(ctx context.Context, cmd Command) (string, error) {
	r.mu.RLock()
	e, ok := r.byName[cmd.Name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%q: %w", cmd.Name, ErrUnknownCommand)
	}
	if e.spec.Allow != Everyone && !cmd.User.Has(e.spec.Allow) {
		return "", fmt.Errorf("%q by %s: %w", cmd.Name, cmd.User.Key(), ErrForbidden)
	}

	gated := e.spec.Throttled && r.cooldowns != nil && r.throttle > 0 && !cmd.User.Has(user.Privileged)
	if gated && r.cooldowns.IsActive(cmd.User, cooldown.Command) {
		telemetry.RecordThrottled(cooldown.Command.String())
		return r.throttleReply(r.cooldowns.Response(cmd.User, cooldown.Command, "before using another command.")), nil
	}

	r.mu.Lock()
	e.count++
	r.mu.Unlock()
	telemetry.RecordChatCommand(e.spec.Name)
	telemetry.LoggerWithCorr(ctx).Debug("chat command",
		slog.String("component", "chat"),
		slog.String("command", e.spec.Name),
		slog.String("user", cmd.User.Key()))

	reply, err := e.spec.Handler(ctx, cmd)
	if gated {
		r.cooldowns.Set(cmd.User, cooldown.Command, r.throttle)
	}
	return reply, err
}

// ExecuteCount returns how many times name (or its alias) was dispatched.
func (r *Registry) ExecuteCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byName[strings.ToLower(name)]; ok {
		return e.count
	}
	return 0
}

// Names returns primary command names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.primary)
}
