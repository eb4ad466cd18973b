package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/overlay-bot/overlay"
	"github.com/onnwee/overlay-bot/playback"
	"github.com/onnwee/overlay-bot/telemetry"
)

// HandleOverlayEvents streams overlay events as Server-Sent Events. Each event
// is one "data:" line of JSON. A late subscriber is sent a pause event first
// when playback is paused.
func (h *Handlers) HandleOverlayEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "overlay_sse"))

	// the stream outlives the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn("failed to clear write deadline", slog.Any("err", err))
	}

	id, events, cancel := h.hub.Subscribe()
	defer cancel()
	log = log.With(slog.String("subscriber", id.String()))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("retry: 2000\n\n")); err != nil {
		return
	}
	if h.playback.Paused() {
		if err := writeEvent(w, overlay.Event{Type: overlay.EventPause, At: time.Now()}); err != nil {
			return
		}
	}
	flusher.Flush()
	log.Info("overlay connected")
	defer log.Info("overlay disconnected")

	ping := time.NewTicker(h.keepalive)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				log.Debug("sse ping failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				log.Warn("failed to write SSE event", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev overlay.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

// HandlePlaybackEnded is the overlay completion callback.
func (h *Handlers) HandlePlaybackEnded(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if err := h.playback.Ended(token); err != nil {
		if errors.Is(err, playback.ErrUnknownPlayback) {
			writeError(w, http.StatusNotFound, "unknown playback token")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
