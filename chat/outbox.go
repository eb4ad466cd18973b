package chat

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/overlay-bot/telemetry"
)

// Message is an outgoing chat line.
type Message struct {
	Channel string
	Text    string
}

// Outbox paces outgoing messages below the chat server's limit. Send never
// blocks; messages beyond the buffer are dropped.
type Outbox struct {
	limiter *rate.Limiter
	queue   chan Message
}

// NewOutbox allows perWindow messages every window with a burst of the same size.
func NewOutbox(perWindow int, window time.Duration, buffer int) *Outbox {
	if perWindow <= 0 {
		perWindow = 20
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Outbox{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(perWindow)), perWindow),
		queue:   make(chan Message, buffer),
	}
}

// Send enqueues m and reports whether it was accepted.
func (o *Outbox) Send(m Message) bool {
	if m.Text == "" {
		return false
	}
	select {
	case o.queue <- m:
		return true
	default:
		telemetry.RecordChatDropped()
		slog.Warn("chat outbox full; reply dropped", slog.String("component", "chat"), slog.String("channel", m.Channel))
		return false
	}
}

// Run delivers queued messages through say until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context, say func(channel, text string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-o.queue:
			if err := o.limiter.Wait(ctx); err != nil {
				return
			}
			say(m.Channel, m.Text)
		}
	}
}
