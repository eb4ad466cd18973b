// Command overlay-bot runs the stream overlay backend.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Optionally connects to Postgres for playback history (versioned migrations).
//   - Loads the sound and video catalogs and the cooldown phrase pool, and
//     watches local files for changes.
//   - Runs the playback coordinator in front of the mutual-exclusion queue.
//   - Connects the Twitch chat bot when credentials are configured.
//   - Serves the overlay event stream, status, admin API, /healthz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/overlay-bot/catalog"
	"github.com/onnwee/overlay-bot/chat"
	"github.com/onnwee/overlay-bot/config"
	"github.com/onnwee/overlay-bot/cooldown"
	"github.com/onnwee/overlay-bot/db"
	"github.com/onnwee/overlay-bot/overlay"
	"github.com/onnwee/overlay-bot/playback"
	"github.com/onnwee/overlay-bot/queue"
	"github.com/onnwee/overlay-bot/server"
	"github.com/onnwee/overlay-bot/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	logCloser := setupLogging(cfg)
	defer func() { _ = logCloser.Close() }()

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("overlay-bot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Playback history: Postgres when DB_DSN is set, memory otherwise
	var history playback.History = playback.NewMemoryHistory()
	var database *sql.DB
	if cfg.DBDsn != "" {
		database, err = openDatabase(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		history = db.NewHistory(database)
	} else {
		slog.Info("DB_DSN not set; playback history kept in memory", slog.String("component", "db"))
	}

	// Catalogs and phrases; a missing file leaves the catalog empty until it appears
	sounds := catalog.NewSounds(cfg.SoundsURI)
	videos := catalog.NewVideos(cfg.VideosURI)
	phrases, err := cooldown.LoadPhrases(ctx, cfg.PhrasesURI)
	if err != nil {
		slog.Warn("phrase pool load failed; using built-in phrases", slog.String("uri", cfg.PhrasesURI), slog.Any("err", err))
	}
	reload := func(ctx context.Context) error {
		return errors.Join(sounds.Reload(ctx), videos.Reload(ctx), phrases.Reload(ctx))
	}
	for _, c := range []catalog.Reloader{sounds, videos} {
		if err := c.Reload(ctx); err != nil {
			slog.Warn("catalog load failed", slog.String("uri", c.URI()), slog.Any("err", err))
		}
	}
	slog.Info("catalogs loaded", slog.Int("sounds", sounds.Len()), slog.Int("videos", videos.Len()), slog.Int("phrases", phrases.Len()))

	if cfg.CatalogWatch {
		w := catalog.NewWatcher(sounds, videos, phrases)
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("catalog watcher exited", slog.Any("err", err))
			}
		}()
	}

	cooldowns := cooldown.New(cooldown.WithPhrases(phrases))
	go purgeCooldowns(ctx, cooldowns, time.Minute)

	hub := overlay.NewHub()
	coord := playback.New(playback.Config{
		CooldownEnabled: cfg.CooldownEnabled,
		Cooldowns: map[cooldown.Category]time.Duration{
			cooldown.SoundFile: cfg.CooldownSound,
			cooldown.SoundTTS:  cfg.CooldownTTS,
			cooldown.Video:     cfg.CooldownVideo,
		},
		Timeout: cfg.PlaybackTimeout,
		TTSURI:  cfg.TTSURI,
	}, playback.Deps{
		Queue:     queue.New(queue.WithName("overlay")),
		Cooldowns: cooldowns,
		Sounds:    sounds,
		Videos:    videos,
		Hub:       hub,
		History:   history,
	})
	defer coord.Close()

	// Chat bot
	var commandCooldown time.Duration
	if cfg.CooldownEnabled {
		commandCooldown = cfg.CooldownCommand
	}
	registry := chat.NewRegistry(cooldowns, commandCooldown)
	registry.SetThrottleReplies(cfg.CooldownResponseEnabled)
	if err := chat.RegisterBuiltins(registry, coord, sounds, videos); err != nil {
		slog.Error("failed to register chat commands", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat bot disabled", slog.Any("reason", err))
	} else {
		bot := chat.NewBot(chat.BotConfig{
			Channel:    cfg.TwitchChannel,
			Username:   cfg.TwitchBotUsername,
			Token:      cfg.TwitchOAuthToken,
			Prefix:     cfg.CommandPrefix,
			RatePer30s: cfg.ChatRatePer30s,
		}, registry)
		go func() {
			if err := bot.Run(ctx); err != nil {
				slog.Error("chat bot exited", slog.Any("err", err))
			}
		}()
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	handler := server.NewMux(ctx, server.Options{
		Playback: coord,
		Hub:      hub,
		DB:       database,
		Reload:   reload,
	})
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, handler); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}

// openDatabase connects and applies versioned migrations, falling back to the
// idempotent embedded schema when golang-migrate cannot run.
func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}
	return database, nil
}

func purgeCooldowns(ctx context.Context, t *cooldown.Table, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.PurgeExpired(); n > 0 {
				slog.Debug("purged expired cooldowns", slog.Int("count", n), slog.String("component", "cooldown"))
			}
			telemetry.SetCooldownUsers(t.Users())
		}
	}
}
