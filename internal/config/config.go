// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Layering and validation live in Load.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects json or console output.
	LogFormat string `koanf:"log_format" validate:"omitempty,oneof=json console"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// HTTP server timeouts. WriteTimeout is lifted for push streams.
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"gt=0"`

	// DBPath is the DuckDB database file. Empty means in-memory.
	DBPath string `koanf:"db_path"`

	// BatchInterval is the aggregator flush cadence.
	BatchInterval time.Duration `koanf:"batch_interval" validate:"gt=0"`

	// RetryBackoff is the pause after a storage-busy outcome.
	RetryBackoff time.Duration `koanf:"retry_backoff" validate:"gt=0"`

	// MaxFastRetries bounds back-to-back retries before the normal cadence resumes.
	MaxFastRetries int `koanf:"max_fast_retries" validate:"gte=0"`

	// MaxAttempts moves documents to the dead-letter file after this many failed
	// parses or writes. Zero keeps requeueing failed writes forever and drops
	// documents that do not parse.
	MaxAttempts int `koanf:"max_attempts" validate:"gte=0"`

	// DeadLetterPath receives dead-lettered documents as JSON lines.
	DeadLetterPath string `koanf:"dead_letter_path"`

	// QueueCapacity bounds pending documents; zero means unbounded.
	QueueCapacity int `koanf:"queue_capacity" validate:"gte=0"`

	// StopTimeout bounds how long shutdown waits for an in-flight batch.
	StopTimeout time.Duration `koanf:"stop_timeout" validate:"gt=0"`

	// MaxPayloadBytes caps a POST /livescore body.
	MaxPayloadBytes int64 `koanf:"max_payload_bytes" validate:"gt=0"`

	// MaxDocuments caps documents extracted from one payload.
	MaxDocuments int `koanf:"max_documents" validate:"gt=0"`

	// CredentialsPath is the YAML key file. Required.
	CredentialsPath string `koanf:"credentials_path"`

	// ReplayWindow is the allowed clock skew for signed requests.
	ReplayWindow time.Duration `koanf:"replay_window" validate:"gt=0"`

	// Per-key sliding thresholds. Zero disables a window.
	LimitPerMinute int `koanf:"limit_per_minute" validate:"gte=0"`
	LimitPerHour   int `koanf:"limit_per_hour" validate:"gte=0"`
	LimitPerDay    int `koanf:"limit_per_day" validate:"gte=0"`

	// CORSOrigins may read /events, /ws, /rates and /health from a browser.
	CORSOrigins []string `koanf:"cors_origins"`

	// IPRequestsPerMinute guards /livescore per client address before auth.
	// Zero disables it.
	IPRequestsPerMinute int `koanf:"ip_requests_per_minute" validate:"gte=0"`

	// RateWindows lists the windows (minutes) evaluated together; see Windows.
	RateWindows []int `koanf:"rate_windows" validate:"dive,gt=0"`

	// RateTolerance is how far past the window an earlier snapshot may lie.
	RateTolerance time.Duration `koanf:"rate_tolerance" validate:"gte=0"`

	// RateDefaultWindow (minutes) backs the first-hour band fallback.
	RateDefaultWindow int `koanf:"rate_default_window" validate:"gt=0"`

	// PushInterval and PushHeartbeat drive live subscriber loops.
	PushInterval  time.Duration `koanf:"push_interval" validate:"gt=0"`
	PushHeartbeat time.Duration `koanf:"push_heartbeat" validate:"gt=0"`

	// GeoPath is the YAML prefix table; empty disables geography completion.
	GeoPath      string `koanf:"geo_path"`
	GeoCacheSize int    `koanf:"geo_cache_size" validate:"gt=0"`

	// Broker settings.
	BrokerEnabled       bool          `koanf:"broker_enabled"`
	BrokerURL           string        `koanf:"broker_url" validate:"required_if=BrokerEnabled true"`
	BrokerStream        string        `koanf:"broker_stream" validate:"required_if=BrokerEnabled true"`
	BrokerSubjectPrefix string        `koanf:"broker_subject_prefix"`
	BrokerTimeout       time.Duration `koanf:"broker_timeout" validate:"gt=0"`
}

// DefaultRateWindows are the sprint and sustained windows in minutes.
var DefaultRateWindows = []int{15, 60}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "json",
		Addr:                ":9080",
		ReadTimeout:         10 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         60 * time.Second,
		DBPath:              "livescore.duckdb",
		BatchInterval:       60 * time.Second,
		RetryBackoff:        time.Second,
		MaxFastRetries:      3,
		MaxAttempts:         5,
		DeadLetterPath:      "livescore.deadletter.jsonl",
		QueueCapacity:       0,
		StopTimeout:         30 * time.Second,
		MaxPayloadBytes:     1 << 20,
		MaxDocuments:        64,
		CredentialsPath:     "credentials.yaml",
		ReplayWindow:        300 * time.Second,
		LimitPerMinute:      30,
		LimitPerHour:        600,
		LimitPerDay:         5000,
		IPRequestsPerMinute: 600,
		CORSOrigins:         []string{"*"},
		RateTolerance:       5 * time.Minute,
		RateDefaultWindow:   60,
		PushInterval:        30 * time.Second,
		PushHeartbeat:       15 * time.Second,
		GeoCacheSize:        10_000,
		BrokerEnabled:       false,
		BrokerURL:           "nats://127.0.0.1:4222",
		BrokerStream:        "CONTEST_LIVE",
		BrokerSubjectPrefix: "",
		BrokerTimeout:       5 * time.Second,
	}
}

// Windows returns the configured rate windows or the defaults.
func (c *Config) Windows() []int {
	if len(c.RateWindows) == 0 {
		return append([]int(nil), DefaultRateWindows...)
	}
	return append([]int(nil), c.RateWindows...)
}
