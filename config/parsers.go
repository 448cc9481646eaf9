package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides cfg with any CHATCORE_* variable that is set.
func applyEnv(cfg *Config) error {
	envs := map[string]string{
		"USER":                os.Getenv(envPrefix + "USER"),
		"ROOM":                os.Getenv(envPrefix + "ROOM"),
		"SOUND_ENABLED":       os.Getenv(envPrefix + "SOUND_ENABLED"),
		"DATABASE_URL":        os.Getenv(envPrefix + "DATABASE_URL"),
		"MIGRATE":             os.Getenv(envPrefix + "MIGRATE"),
		"RELAY_ADDRESS":       os.Getenv(envPrefix + "RELAY_ADDRESS"),
		"RELAY_LISTEN":        os.Getenv(envPrefix + "RELAY_LISTEN"),
		"RELAY_TLS_CERT":      os.Getenv(envPrefix + "RELAY_TLS_CERT"),
		"RELAY_TLS_KEY":       os.Getenv(envPrefix + "RELAY_TLS_KEY"),
		"RELAY_RATE_RPS":      os.Getenv(envPrefix + "RELAY_RATE_RPS"),
		"RELAY_RATE_BURST":    os.Getenv(envPrefix + "RELAY_RATE_BURST"),
		"PREFS_PATH":          os.Getenv(envPrefix + "PREFS_PATH"),
		"LOG_LEVEL":           os.Getenv(envPrefix + "LOG_LEVEL"),
		"METRICS_ADDRESS":     os.Getenv(envPrefix + "METRICS_ADDRESS"),
		"POLL_INTERVAL":       os.Getenv(envPrefix + "POLL_INTERVAL"),
		"HEARTBEAT_INTERVAL":  os.Getenv(envPrefix + "HEARTBEAT_INTERVAL"),
		"LOOKBACK_BUFFER":     os.Getenv(envPrefix + "LOOKBACK_BUFFER"),
		"POLL_BATCH_SIZE":     os.Getenv(envPrefix + "POLL_BATCH_SIZE"),
		"TYPING_QUIET":        os.Getenv(envPrefix + "TYPING_QUIET"),
		"ACTIVE_WINDOW":       os.Getenv(envPrefix + "ACTIVE_WINDOW"),
		"TYPING_STALE_WINDOW": os.Getenv(envPrefix + "TYPING_STALE_WINDOW"),
	}

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(envs[key]); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		v := strings.TrimSpace(envs[key])
		if v == "" {
			return
		}
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			*dst = true
		default:
			*dst = false
		}
	}
	var firstErr error
	setDuration := func(key string, dst *time.Duration) {
		v := strings.TrimSpace(envs[key])
		if v == "" || firstErr != nil {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			firstErr = fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, envPrefix, key, err)
			return
		}
		*dst = d
	}
	setInt := func(key string, dst *int) {
		v := strings.TrimSpace(envs[key])
		if v == "" || firstErr != nil {
			return
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			firstErr = fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, envPrefix, key, err)
			return
		}
		*dst = i
	}
	setFloat := func(key string, dst *float64) {
		v := strings.TrimSpace(envs[key])
		if v == "" || firstErr != nil {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			firstErr = fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, envPrefix, key, err)
			return
		}
		*dst = f
	}

	setString("USER", &cfg.Session.User)
	setString("ROOM", &cfg.Session.Room)
	setBool("SOUND_ENABLED", &cfg.Session.SoundEnabled)
	setString("DATABASE_URL", &cfg.Store.DatabaseURL)
	setBool("MIGRATE", &cfg.Store.Migrate)
	setString("RELAY_ADDRESS", &cfg.Relay.Address)
	setString("RELAY_LISTEN", &cfg.Relay.ListenAddress)
	setString("RELAY_TLS_CERT", &cfg.Relay.TLS.CertFile)
	setString("RELAY_TLS_KEY", &cfg.Relay.TLS.KeyFile)
	setFloat("RELAY_RATE_RPS", &cfg.Relay.RateLimit.RPS)
	setInt("RELAY_RATE_BURST", &cfg.Relay.RateLimit.Burst)
	setString("PREFS_PATH", &cfg.Prefs.Path)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("METRICS_ADDRESS", &cfg.Metrics.Address)
	setDuration("POLL_INTERVAL", &cfg.Timing.PollInterval)
	setDuration("HEARTBEAT_INTERVAL", &cfg.Timing.HeartbeatInterval)
	setDuration("LOOKBACK_BUFFER", &cfg.Timing.LookbackBuffer)
	setInt("POLL_BATCH_SIZE", &cfg.Timing.PollBatchSize)
	setDuration("TYPING_QUIET", &cfg.Timing.TypingQuiet)
	setDuration("ACTIVE_WINDOW", &cfg.Timing.ActiveWindow)
	setDuration("TYPING_STALE_WINDOW", &cfg.Timing.TypingStaleWindow)

	if cfg.Relay.TLS.CertFile != "" && cfg.Relay.TLS.KeyFile != "" {
		cfg.Relay.TLS.Enabled = true
	}
	return firstErr
}
