// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Scheduler
	QueuePushes      *prometheus.CounterVec // labels: mode, outcome
	QueuePops        prometheus.Counter
	QueueDepthGauge  prometheus.Gauge
	QueueActiveGauge prometheus.Gauge

	// Cooldown gate
	CooldownThrottled *prometheus.CounterVec // labels: category
	CooldownUsers     prometheus.Gauge

	// Playback lifecycle
	PlaybacksStarted  *prometheus.CounterVec // labels: kind
	PlaybacksEnded    *prometheus.CounterVec // labels: kind, reason
	PlaybackDuration  *prometheus.HistogramVec
	OverlaySubscribed prometheus.Gauge

	// Chat
	ChatCommands *prometheus.CounterVec // labels: command
	ChatDropped  prometheus.Counter
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		QueuePushes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_queue_pushes_total", Help: "Queue pushes by insertion mode and outcome"}, []string{"mode", "outcome"})
		QueuePops = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_queue_pops_total", Help: "Jobs removed from the playback queue"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_queue_depth", Help: "Jobs currently held by the playback queue"})
		QueueActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_queue_active", Help: "Jobs currently occupying an output"})
		CooldownThrottled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_cooldown_throttled_total", Help: "Requests refused by an active user cooldown"}, []string{"category"})
		CooldownUsers = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_cooldown_users", Help: "Users holding at least one cooldown record"})
		PlaybacksStarted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_playbacks_started_total", Help: "Playbacks handed to the overlay"}, []string{"kind"})
		PlaybacksEnded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_playbacks_ended_total", Help: "Playbacks finished, by reason"}, []string{"kind", "reason"})
		PlaybackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "overlay_playback_duration_seconds", Help: "Time between trigger and completion", Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300}}, []string{"kind"})
		OverlaySubscribed = promauto.NewGauge(prometheus.GaugeOpts{Name: "overlay_subscribers", Help: "Connected overlay event streams"})
		ChatCommands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "overlay_chat_commands_total", Help: "Chat commands dispatched"}, []string{"command"})
		ChatDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "overlay_chat_replies_dropped_total", Help: "Chat replies dropped because the outbox was full"})
	})
}

// RecordQueuePush counts a Push call.
func RecordQueuePush(mode, outcome string) {
	if QueuePushes != nil {
		QueuePushes.WithLabelValues(mode, outcome).Inc()
	}
}

// RecordQueuePop counts a successful Pop.
func RecordQueuePop() {
	if QueuePops != nil {
		QueuePops.Inc()
	}
}

// SetQueueState records queue depth and the number of Active jobs.
func SetQueueState(depth, active int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(depth))
	}
	if QueueActiveGauge != nil {
		QueueActiveGauge.Set(float64(active))
	}
}

// RecordThrottled counts a request refused by a cooldown.
func RecordThrottled(category string) {
	if CooldownThrottled != nil {
		CooldownThrottled.WithLabelValues(category).Inc()
	}
}

// RecordPlaybackStart counts a playback handed to the overlay.
func RecordPlaybackStart(kind string) {
	if PlaybacksStarted != nil {
		PlaybacksStarted.WithLabelValues(kind).Inc()
	}
}

// RecordPlaybackEnd counts a finished playback and observes how long it held its outputs.
func RecordPlaybackEnd(kind, reason string, d time.Duration) {
	if PlaybacksEnded != nil {
		PlaybacksEnded.WithLabelValues(kind, reason).Inc()
	}
	if PlaybackDuration != nil {
		PlaybackDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetCooldownUsers records how many users hold cooldown records.
func SetCooldownUsers(n int) {
	if CooldownUsers != nil {
		CooldownUsers.Set(float64(n))
	}
}

// SetOverlaySubscribers records connected overlay streams.
func SetOverlaySubscribers(n int) {
	if OverlaySubscribed != nil {
		OverlaySubscribed.Set(float64(n))
	}
}

// RecordChatCommand counts a dispatched chat command.
func RecordChatCommand(name string) {
	if ChatCommands != nil {
		ChatCommands.WithLabelValues(name).Inc()
	}
}

// RecordChatDropped counts a reply that never reached chat.
func RecordChatDropped() {
	if ChatDropped != nil {
		ChatDropped.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
