// Package overlay fans playback events out to connected browser overlays.
package overlay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/overlay-bot/telemetry"
)

// EventType names what the overlay should do.
type EventType string

const (
	// EventPlay asks the overlay to start rendering a playback.
	EventPlay EventType = "play"
	// EventCancel stops a playback early.
	EventCancel EventType = "cancel"
	EventPause  EventType = "pause"
	EventResume EventType = "resume"
)

// Event is one message on the overlay stream. Token identifies the playback
// and is echoed back by the overlay when rendering ends.
type Event struct {
	Type   EventType `json:"type"`
	Token  string    `json:"token,omitempty"`
	Kind   string    `json:"kind,omitempty"`
	Name   string    `json:"name,omitempty"`
	URI    string    `json:"uri,omitempty"`
	Text   string    `json:"text,omitempty"`
	Volume float64   `json:"volume,omitempty"`
	Width  int       `json:"width,omitempty"`
	Height int       `json:"height,omitempty"`
	User   string    `json:"user,omitempty"`
	At     time.Time `json:"at"`
}

const subscriberBuffer = 32

// Hub is a non-blocking broadcaster. Publish never waits on a subscriber; a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]chan Event
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]chan Event)}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (uuid.UUID, <-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	n := len(h.subs)
	h.mu.Unlock()
	telemetry.SetOverlaySubscribers(n)
	slog.Debug("overlay subscribed", slog.String("component", "overlay"), slog.String("subscriber", id.String()), slog.Int("subscribers", n))

	var once sync.Once
	return id, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			n := len(h.subs)
			close(ch)
			h.mu.Unlock()
			telemetry.SetOverlaySubscribers(n)
			slog.Debug("overlay unsubscribed", slog.String("component", "overlay"), slog.String("subscriber", id.String()), slog.Int("subscribers", n))
		})
	}
}

// Publish delivers ev to every subscriber and returns how many received it.
func (h *Hub) Publish(ev Event) int {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for id, ch := range h.subs {
		select {
		case ch <- ev:
			delivered++
		default:
			slog.Warn("overlay subscriber lagging; event dropped",
				slog.String("component", "overlay"),
				slog.String("subscriber", id.String()),
				slog.String("type", string(ev.Type)),
				slog.String("token", ev.Token))
		}
	}
	return delivered
}

// Subscribers returns the number of connected listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
