package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/overlay-bot/playback"
	"github.com/onnwee/overlay-bot/queue"
	"github.com/onnwee/overlay-bot/telemetry"
	"github.com/onnwee/overlay-bot/user"
)

type adminPlayRequest struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Text string `json:"text"`
	Mode string `json:"mode"`
	User string `json:"user"`
	// Wait holds the response until the playback has left the queue.
	Wait bool `json:"wait"`
}

// HandleAdminPlay queues a sound, tts message or video on behalf of the operator.
// Admin plays are exempt from user cooldowns but not from the replay guard.
func (h *Handlers) HandleAdminPlay(w http.ResponseWriter, r *http.Request) {
	var req adminPlayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind, err := playback.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := queue.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	login := req.User
	if login == "" {
		login = "admin"
	}

	ticket, err := h.playback.Play(r.Context(), playback.Request{
		Kind:   kind,
		Name:   req.Name,
		Text:   req.Text,
		User:   user.User{Login: login, Name: login, Status: user.Broadcaster},
		Mode:   mode,
		Exempt: true,
	})
	if err != nil {
		writePlayError(w, err)
		return
	}
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, ticket)
		return
	}

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		telemetry.LoggerWithCorr(r.Context()).Warn("failed to clear write deadline", slog.Any("err", err))
	}
	if err := h.playback.Wait(r.Context(), ticket.ID); err != nil {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func writePlayError(w http.ResponseWriter, err error) {
	var throttled *playback.ThrottledError
	var recent *playback.RecentlyPlayedError
	switch {
	case errors.As(err, &throttled):
		w.Header().Set("Retry-After", strconv.Itoa(throttled.Remaining))
		writeError(w, http.StatusTooManyRequests, throttled.Response)
	case errors.As(err, &recent):
		w.Header().Set("Retry-After", strconv.Itoa(recent.RetrySeconds()))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, playback.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, playback.ErrRejected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, playback.ErrEmptyText), errors.Is(err, playback.ErrTTSDisabled), errors.Is(err, playback.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, playback.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type adminSkipRequest struct {
	Token string `json:"token"`
	// ID is the queue id as shown by /status.
	ID string `json:"id"`
}

// HandleAdminSkip cancels one playback by token or queue id, or every Active
// playback when neither is given.
func (h *Handlers) HandleAdminSkip(w http.ResponseWriter, r *http.Request) {
	var req adminSkipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var match func(playback.Info) bool
	switch {
	case req.Token != "":
		match = func(i playback.Info) bool { return i.Token == req.Token }
	case req.ID != "":
		id, err := queue.ParseID(req.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		match = func(i playback.Info) bool { return i.ID == id }
	}
	var n int
	if match == nil {
		n = h.playback.SkipAll()
	} else if n = h.playback.Skip(match); n == 0 {
		writeError(w, http.StatusNotFound, "no active playback matches")
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("admin skip", slog.Int("skipped", n), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]int{"skipped": n})
}

// HandleAdminPause tells overlays to pause.
func (h *Handlers) HandleAdminPause(w http.ResponseWriter, r *http.Request) {
	h.playback.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// HandleAdminResume tells overlays to resume.
func (h *Handlers) HandleAdminResume(w http.ResponseWriter, r *http.Request) {
	h.playback.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// HandleAdminReload re-reads catalogs and phrase pools.
func (h *Handlers) HandleAdminReload(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		writeError(w, http.StatusNotImplemented, "reload not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()
	if err := h.reload(ctx); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("admin reload failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
