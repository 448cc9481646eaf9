package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chatcore/roomkey"
)

// Defaults for the delivery core timing.
const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultTypingQuiet       = 2 * time.Second
	defaultPollInterval      = 3 * time.Second
	defaultPollSafetyDelay   = 2 * time.Second
	defaultPollBatchSize     = 200
	defaultLookbackBuffer    = 30 * time.Second
	defaultActiveWindow      = 5 * time.Minute
	defaultTypingStaleWindow = 60 * time.Second
	defaultReclaimWindow     = 10 * time.Minute
	defaultDeregisterTimeout = 3 * time.Second

	defaultRelayListen      = "localhost:50051"
	defaultRelayRPS         = 20
	defaultRelayBurst       = 50
	defaultSubscriberBuffer = 64

	envPrefix = "CHATCORE_"
)

var ErrInvalidConfig = errors.New("invalid config")

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Session.Room = string(roomkey.Default)
	cfg.Session.SoundEnabled = true
	cfg.Relay.ListenAddress = defaultRelayListen
	cfg.Relay.RateLimit.RPS = defaultRelayRPS
	cfg.Relay.RateLimit.Burst = defaultRelayBurst
	cfg.Relay.SubscriberBuffer = defaultSubscriberBuffer
	cfg.Timing = DefaultTiming()
	cfg.Logging.Level = "info"
	return cfg
}

// DefaultTiming returns the timing defaults on their own, for tests and
// embedders that construct sessions directly.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		HeartbeatInterval: defaultHeartbeatInterval,
		TypingQuiet:       defaultTypingQuiet,
		PollInterval:      defaultPollInterval,
		PollSafetyDelay:   defaultPollSafetyDelay,
		PollBatchSize:     defaultPollBatchSize,
		LookbackBuffer:    defaultLookbackBuffer,
		ActiveWindow:      defaultActiveWindow,
		TypingStaleWindow: defaultTypingStaleWindow,
		ReclaimWindow:     defaultReclaimWindow,
		DeregisterTimeout: defaultDeregisterTimeout,
	}
}

// Load builds the effective config: defaults, then the yaml file at path
// (missing file is fine), then .env and CHATCORE_* environment variables.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// LocalOnly reports whether no collaborator is configured at all.
func (c *Config) LocalOnly() bool {
	return strings.TrimSpace(c.Store.DatabaseURL) == "" && strings.TrimSpace(c.Relay.Address) == ""
}

// Validate rejects timing values the delivery core cannot run with.
func (c *Config) Validate() error {
	return c.Timing.Validate()
}

func (t TimingConfig) Validate() error {
	durations := map[string]time.Duration{
		"heartbeat_interval":  t.HeartbeatInterval,
		"typing_quiet":        t.TypingQuiet,
		"poll_interval":       t.PollInterval,
		"poll_safety_delay":   t.PollSafetyDelay,
		"active_window":       t.ActiveWindow,
		"typing_stale_window": t.TypingStaleWindow,
		"reclaim_window":      t.ReclaimWindow,
		"deregister_timeout":  t.DeregisterTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: timing.%s must be positive", ErrInvalidConfig, name)
		}
	}
	if t.LookbackBuffer < 0 {
		return fmt.Errorf("%w: timing.lookback_buffer must not be negative", ErrInvalidConfig)
	}
	if t.PollBatchSize <= 0 {
		return fmt.Errorf("%w: timing.poll_batch_size must be positive", ErrInvalidConfig)
	}
	if t.ReclaimWindow < t.ActiveWindow {
		return fmt.Errorf("%w: timing.reclaim_window must not be shorter than active_window", ErrInvalidConfig)
	}
	return nil
}
