// Package server exposes the HTTP API: the overlay event stream and completion
// callback, queue status, playback history, admin controls, health probes and
// metrics. Every request carries a correlation ID and, when tracing is enabled,
// a server span.
package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/overlay-bot/overlay"
	"github.com/onnwee/overlay-bot/playback"
	"github.com/onnwee/overlay-bot/telemetry"
)

// Options are the collaborators the HTTP handlers drive. Playback and Hub are
// required; DB and Reload are optional.
type Options struct {
	Playback *playback.Coordinator
	Hub      *overlay.Hub
	// DB is pinged by /readyz when set.
	DB *sql.DB
	// Reload re-reads catalogs and phrase pools for POST /admin/reload.
	Reload func(ctx context.Context) error
	// Keepalive is the SSE comment interval. Defaults to 15s.
	Keepalive time.Duration
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, opts Options) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	corsCfg := loadCORSConfig()

	handlers := NewHandlers(ctx, opts)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /healthz", handlers.HandleHealthz)
	mux.HandleFunc("GET /readyz", handlers.HandleReadyz)

	mux.HandleFunc("GET /status", handlers.HandleStatus)
	mux.HandleFunc("GET /history", handlers.HandleHistory)

	mux.HandleFunc("GET /overlay/events", handlers.HandleOverlayEvents)
	mux.HandleFunc("POST /overlay/playback/{token}/ended", handlers.HandlePlaybackEnded)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/play", handlers.HandleAdminPlay)
	admin.HandleFunc("POST /admin/skip", handlers.HandleAdminSkip)
	admin.HandleFunc("POST /admin/pause", handlers.HandleAdminPause)
	admin.HandleFunc("POST /admin/resume", handlers.HandleAdminResume)
	admin.HandleFunc("POST /admin/reload", handlers.HandleAdminReload)
	// auth, then per-IP rate limit
	mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, rateLimiter), authCfg))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values while letting shutdown finish
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
