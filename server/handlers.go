package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/onnwee/overlay-bot/overlay"
	"github.com/onnwee/overlay-bot/playback"
)

const defaultKeepalive = 15 * time.Second

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx       context.Context
	db        *sql.DB
	playback  *playback.Coordinator
	hub       *overlay.Hub
	reload    func(ctx context.Context) error
	keepalive time.Duration
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// Long-lived streams end when ctx does.
func NewHandlers(ctx context.Context, opts Options) *Handlers {
	keepalive := opts.Keepalive
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	return &Handlers{
		ctx:       ctx,
		db:        opts.DB,
		playback:  opts.Playback,
		hub:       opts.Hub,
		reload:    opts.Reload,
		keepalive: keepalive,
	}
}
