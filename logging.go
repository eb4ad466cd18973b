package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/onnwee/overlay-bot/config"
)

// setupLogging installs the default slog logger. Level and format come from
// LOG_LEVEL and LOG_FORMAT (defaults: info, text). When LOG_FILE is set, output
// is also written to that file, rotated at LOG_FILE_MAX_MB.
func setupLogging(cfg *config.Config) io.Closer {
	lvl := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", cfg.LogLevel))
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogFile != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxMB,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	format := "text"
	if cfg.LogFormat == "json" {
		format = "json"
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format), slog.String("file", cfg.LogFile))
	return closer
}
