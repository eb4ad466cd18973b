// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Twitch chat
	TwitchChannel     string
	TwitchBotUsername string
	TwitchOAuthToken  string
	CommandPrefix     string
	ChatRatePer30s    int

	// Catalogs
	SoundsURI    string
	VideosURI    string
	PhrasesURI   string
	TTSURI       string
	CatalogWatch bool

	// Cooldowns
	CooldownEnabled         bool
	CooldownResponseEnabled bool
	CooldownSound           time.Duration
	CooldownTTS             time.Duration
	CooldownVideo           time.Duration
	CooldownCommand         time.Duration

	// PlaybackTimeout releases playbacks the overlay never reports as ended; 0 disables it.
	PlaybackTimeout time.Duration

	// Database; empty keeps playback history in memory.
	DBDsn string

	HTTPAddr string

	// Logging
	LogLevel     string
	LogFormat    string
	LogFile      string
	LogFileMaxMB int
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require the chat bot. Malformed numbers and durations are errors.
func Load() (*Config, error) {
	cfg := &Config{
		TwitchChannel:     strings.TrimPrefix(strings.ToLower(os.Getenv("TWITCH_CHANNEL")), "#"),
		TwitchBotUsername: os.Getenv("TWITCH_BOT_USERNAME"),
		TwitchOAuthToken:  os.Getenv("TWITCH_OAUTH_TOKEN"),
		CommandPrefix:     envString("COMMAND_PREFIX", "!"),

		SoundsURI:  envString("SOUNDS_URI", "data/sounds.json"),
		VideosURI:  envString("VIDEOS_URI", "data/videos.json"),
		PhrasesURI: envString("PHRASES_URI", "data/phrases.txt"),
		TTSURI:     os.Getenv("TTS_URI"),

		DBDsn:    os.Getenv("DB_DSN"),
		HTTPAddr: envString("HTTP_ADDR", ":8080"),

		LogLevel:  strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFormat: strings.ToLower(os.Getenv("LOG_FORMAT")),
		LogFile:   os.Getenv("LOG_FILE"),
	}

	var err error
	if cfg.ChatRatePer30s, err = envInt("CHAT_RATE_PER_30S", 20); err != nil {
		return nil, err
	}
	if cfg.LogFileMaxMB, err = envInt("LOG_FILE_MAX_MB", 20); err != nil {
		return nil, err
	}

	cfg.CatalogWatch = envBool("CATALOG_WATCH", true)
	cfg.CooldownEnabled = envBool("COOLDOWN_ENABLED", true)
	cfg.CooldownResponseEnabled = envBool("COOLDOWN_RESPONSE_ENABLED", true)

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"COOLDOWN_SOUND", 30 * time.Second, &cfg.CooldownSound},
		{"COOLDOWN_TTS", 60 * time.Second, &cfg.CooldownTTS},
		{"COOLDOWN_VIDEO", 120 * time.Second, &cfg.CooldownVideo},
		{"COOLDOWN_COMMAND", 5 * time.Second, &cfg.CooldownCommand},
		{"PLAYBACK_TIMEOUT", 5 * time.Minute, &cfg.PlaybackTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ValidateChatReady checks required fields when the chat bot is enabled.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative integer", key, v)
	}
	return n, nil
}

// envDuration accepts Go durations ("90s", "2m") or bare seconds ("90").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid %s %q: negative", key, v)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", key, v)
	}
	return d, nil
}
