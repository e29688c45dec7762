package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MaxMessageBytes    int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	OutboundQueueSize  int    `mapstructure:"outbound_queue_size" yaml:"outbound_queue_size"`
	OverflowPolicy     string `mapstructure:"overflow_policy" yaml:"overflow_policy"`

	Presence PresenceConfig `mapstructure:"presence" yaml:"presence"`
	Media    MediaConfig    `mapstructure:"media" yaml:"media"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
}

// PresenceConfig tunes presence tracking.
type PresenceConfig struct {
	MultiSession    bool   `mapstructure:"multi_session" yaml:"multi_session"`
	InitialSnapshot bool   `mapstructure:"initial_snapshot" yaml:"initial_snapshot"`
	DefaultAvatar   string `mapstructure:"default_avatar" yaml:"default_avatar"`
}

// MediaConfig selects where chat images are stored.
type MediaConfig struct {
	Driver  string        `mapstructure:"driver" yaml:"driver"`
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	S3      S3MediaConfig `mapstructure:"s3" yaml:"s3"`
}

// S3MediaConfig configures the s3 media driver.
type S3MediaConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
	PublicURL       string `mapstructure:"public_url" yaml:"public_url"`
}

// RelayConfig selects the cross-instance broker. Driver is none, redis or nats.
// Each instance republishes its online set every HeartbeatInterval; peers forget a set
// not refreshed within three intervals.
type RelayConfig struct {
	Driver            string        `mapstructure:"driver" yaml:"driver"`
	RedisAddr         string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	NATSURL           string        `mapstructure:"nats_url" yaml:"nats_url"`
	Channel           string        `mapstructure:"channel" yaml:"channel"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// Enabled reports whether a broker driver is selected.
func (c RelayConfig) Enabled() bool {
	d := strings.ToLower(c.Driver)
	return d != "" && d != "none"
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		DatabasePath:       "dmchat.db",
		JWTSecret:          "change-me",
		JWTIssuer:          "dmchat",
		JWTAudience:        "dmchat",
		JWTTTL:             24 * time.Hour,
		MaxMessageBytes:    10 << 20,
		RateLimitPerMinute: 120,
		OutboundQueueSize:  256,
		OverflowPolicy:     "drop_newest",
		Presence: PresenceConfig{
			MultiSession:    true,
			InitialSnapshot: true,
			DefaultAvatar:   "/static/images/profile-icon.png",
		},
		Media: MediaConfig{
			Driver:  "local",
			Dir:     "media",
			BaseURL: "/media",
			S3:      S3MediaConfig{Region: "us-east-1"},
		},
		Relay: RelayConfig{
			Driver:            "none",
			RedisAddr:         "localhost:6379",
			NATSURL:           "nats://localhost:4222",
			Channel:           "dmchat.fanout",
			HeartbeatInterval: 15 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the flat keys settable from the command line are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt_secret must not be empty"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, fmt.Errorf("jwt_ttl must be positive, got %s", c.JWTTTL))
	}
	if c.OutboundQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("outbound_queue_size must be positive, got %d", c.OutboundQueueSize))
	}
	switch c.OverflowPolicy {
	case "drop_newest", "drop_oldest":
	default:
		errs = append(errs, fmt.Errorf("overflow_policy %q: want drop_newest or drop_oldest", c.OverflowPolicy))
	}
	switch strings.ToLower(c.Media.Driver) {
	case "local":
		if c.Media.Dir == "" {
			errs = append(errs, errors.New("media.dir is required for the local driver"))
		}
	case "s3":
		if c.Media.S3.Bucket == "" {
			errs = append(errs, errors.New("media.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("media.driver %q: want local or s3", c.Media.Driver))
	}
	switch strings.ToLower(c.Relay.Driver) {
	case "none", "":
	case "redis":
		if c.Relay.RedisAddr == "" {
			errs = append(errs, errors.New("relay.redis_addr is required for the redis driver"))
		}
	case "nats":
		if c.Relay.NATSURL == "" {
			errs = append(errs, errors.New("relay.nats_url is required for the nats driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("relay.driver %q: want none, redis or nats", c.Relay.Driver))
	}
	if c.Relay.Enabled() && c.Relay.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("relay.heartbeat_interval must be positive"))
	}
	return errors.Join(errs...)
}
