package config

import "time"

// Config is the main configuration struct.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Relay   RelayConfig   `yaml:"relay"`
	Timing  TimingConfig  `yaml:"timing"`
	Prefs   PrefsConfig   `yaml:"prefs"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SessionConfig identifies the local user of the terminal client.
type SessionConfig struct {
	User         string `yaml:"user"`
	Room         string `yaml:"room"`
	SoundEnabled bool   `yaml:"sound_enabled"`
}

// StoreConfig points at the durable store. An empty url means local-only mode.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
	Migrate     bool   `yaml:"migrate"`
}

// RelayConfig holds both sides of the broadcast relay.
type RelayConfig struct {
	Address       string    `yaml:"address"`
	ListenAddress string    `yaml:"listen_address"`
	TLS           TLSConfig `yaml:"tls"`
	RateLimit     struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TimingConfig holds the empirically tuned intervals of the delivery core.
type TimingConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	TypingQuiet       time.Duration `yaml:"typing_quiet"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollSafetyDelay   time.Duration `yaml:"poll_safety_delay"`
	PollBatchSize     int           `yaml:"poll_batch_size"`
	LookbackBuffer    time.Duration `yaml:"lookback_buffer"`
	ActiveWindow      time.Duration `yaml:"active_window"`
	TypingStaleWindow time.Duration `yaml:"typing_stale_window"`
	ReclaimWindow     time.Duration `yaml:"reclaim_window"`
	DeregisterTimeout time.Duration `yaml:"deregister_timeout"`
}

// PrefsConfig locates the local preference database. Empty path keeps
// preferences in memory only.
type PrefsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// MetricsConfig holds the http listen address for /metrics. Empty disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}
