package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Mai assistant server.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	BrainMode    string
	BrainHTTPURL string
	BrainTimeout time.Duration
	BrainModel   string

	StoreBaseURL string
	StoreTimeout time.Duration

	DatabaseURL string

	MaxHistory      int
	KeepRecent      int
	ConfirmationTTL time.Duration

	QueueMaxAttempts int
	QueueRetryBase   time.Duration
	QueueRetryCap    time.Duration
	QueueJobGap      time.Duration

	OpRetryAttempts int
	OpRetryDelay    time.Duration

	AudioEnabled   bool
	AudioOutputDir string
	TTSURL         string
	LipSyncCmd     string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "mai"),
		AllowAnyOrigin:   false,
		BrainMode:        envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:     stringsTrimSpace("BRAIN_HTTP_URL"),
		BrainModel:       envOrDefault("BRAIN_MODEL", "gpt-4o-mini"),
		StoreBaseURL:     envOrDefault("TASK_STORE_URL", "http://localhost:8000"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		AudioOutputDir:   envOrDefault("AUDIO_OUTPUT_DIR", "audios"),
		TTSURL:           stringsTrimSpace("TTS_HTTP_URL"),
		LipSyncCmd:       stringsTrimSpace("LIPSYNC_CMD"),

		ShutdownTimeout: 15 * time.Second,
		BrainTimeout:    60 * time.Second,
		StoreTimeout:    10 * time.Second,

		MaxHistory:      20,
		KeepRecent:      15,
		ConfirmationTTL: 30 * time.Minute,

		QueueMaxAttempts: 3,
		QueueRetryBase:   2 * time.Second,
		QueueRetryCap:    time.Minute,
		QueueJobGap:      100 * time.Millisecond,

		OpRetryAttempts: 2,
		OpRetryDelay:    500 * time.Millisecond,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BrainTimeout, err = durationFromEnv("BRAIN_TIMEOUT", cfg.BrainTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationFromEnv("TASK_STORE_TIMEOUT", cfg.StoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ConfirmationTTL, err = durationFromEnv("CONFIRMATION_TTL", cfg.ConfirmationTTL); err != nil {
		return Config{}, err
	}
	if cfg.QueueRetryBase, err = durationFromEnv("QUEUE_RETRY_BASE", cfg.QueueRetryBase); err != nil {
		return Config{}, err
	}
	if cfg.QueueRetryCap, err = durationFromEnv("QUEUE_RETRY_CAP", cfg.QueueRetryCap); err != nil {
		return Config{}, err
	}
	if cfg.QueueJobGap, err = durationFromEnv("QUEUE_JOB_GAP", cfg.QueueJobGap); err != nil {
		return Config{}, err
	}
	if cfg.OpRetryDelay, err = durationFromEnv("OP_RETRY_DELAY", cfg.OpRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.MaxHistory, err = intFromEnv("SESSION_MAX_HISTORY", cfg.MaxHistory); err != nil {
		return Config{}, err
	}
	if cfg.KeepRecent, err = intFromEnv("SESSION_KEEP_RECENT", cfg.KeepRecent); err != nil {
		return Config{}, err
	}
	if cfg.QueueMaxAttempts, err = intFromEnv("QUEUE_MAX_ATTEMPTS", cfg.QueueMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OpRetryAttempts, err = intFromEnv("OP_RETRY_ATTEMPTS", cfg.OpRetryAttempts); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.AudioEnabled, err = boolFromEnv("AUDIO_ENABLED", cfg.AudioEnabled); err != nil {
		return Config{}, err
	}

	if cfg.KeepRecent < 1 {
		return Config{}, fmt.Errorf("SESSION_KEEP_RECENT must be at least 1")
	}
	if cfg.MaxHistory <= cfg.KeepRecent {
		return Config{}, fmt.Errorf("SESSION_MAX_HISTORY must be greater than SESSION_KEEP_RECENT")
	}
	if cfg.ConfirmationTTL < time.Minute {
		return Config{}, fmt.Errorf("CONFIRMATION_TTL must be at least 1m")
	}
	if cfg.QueueMaxAttempts < 1 {
		return Config{}, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.QueueRetryBase <= 0 {
		return Config{}, fmt.Errorf("QUEUE_RETRY_BASE must be positive")
	}
	if cfg.OpRetryAttempts < 0 {
		return Config{}, fmt.Errorf("OP_RETRY_ATTEMPTS must be >= 0")
	}
	if strings.TrimSpace(cfg.StoreBaseURL) == "" {
		return Config{}, fmt.Errorf("TASK_STORE_URL must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
