package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/overlay-bot/db"
	"github.com/onnwee/overlay-bot/playback"
	"github.com/onnwee/overlay-bot/queue"
	"github.com/onnwee/overlay-bot/telemetry"
)

type statusResponse struct {
	Queue              []queue.JobInfo `json:"queue"`
	Active             []playback.Info `json:"active"`
	NextID             queue.ID        `json:"next_id"`
	Paused             bool            `json:"paused"`
	OverlaySubscribers int             `json:"overlay_subscribers"`
}

// HandleStatus reports the queue in priority order and what is playing.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	q := h.playback.Queue()
	writeJSON(w, http.StatusOK, statusResponse{
		Queue:              q.Snapshot(),
		Active:             h.playback.Active(),
		NextID:             q.NextID(),
		Paused:             h.playback.Paused(),
		OverlaySubscribers: h.hub.Subscribers(),
	})
}

// HandleHistory lists recent playbacks, newest first. ?limit defaults to 50.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	entries, err := h.playback.History().Recent(r.Context(), limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("history query failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if entries == nil {
		entries = []db.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
