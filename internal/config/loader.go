package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "DMCHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("DMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.JWTSecret == Default().JWTSecret && logger != nil {
		logger.Warn().Msg("jwt_secret is the built-in default; set DMCHAT_JWT_SECRET in production")
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so that AutomaticEnv can override nested values.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("jwt_secret", cfg.JWTSecret)
	v.SetDefault("jwt_issuer", cfg.JWTIssuer)
	v.SetDefault("jwt_audience", cfg.JWTAudience)
	v.SetDefault("jwt_ttl", cfg.JWTTTL)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("rate_limit_per_minute", cfg.RateLimitPerMinute)
	v.SetDefault("outbound_queue_size", cfg.OutboundQueueSize)
	v.SetDefault("overflow_policy", cfg.OverflowPolicy)

	v.SetDefault("presence.multi_session", cfg.Presence.MultiSession)
	v.SetDefault("presence.initial_snapshot", cfg.Presence.InitialSnapshot)
	v.SetDefault("presence.default_avatar", cfg.Presence.DefaultAvatar)

	v.SetDefault("media.driver", cfg.Media.Driver)
	v.SetDefault("media.dir", cfg.Media.Dir)
	v.SetDefault("media.base_url", cfg.Media.BaseURL)
	v.SetDefault("media.s3.bucket", cfg.Media.S3.Bucket)
	v.SetDefault("media.s3.region", cfg.Media.S3.Region)
	v.SetDefault("media.s3.endpoint", cfg.Media.S3.Endpoint)
	v.SetDefault("media.s3.prefix", cfg.Media.S3.Prefix)
	v.SetDefault("media.s3.access_key_id", cfg.Media.S3.AccessKeyID)
	v.SetDefault("media.s3.secret_access_key", cfg.Media.S3.SecretAccessKey)
	v.SetDefault("media.s3.use_path_style", cfg.Media.S3.UsePathStyle)
	v.SetDefault("media.s3.public_url", cfg.Media.S3.PublicURL)

	v.SetDefault("relay.driver", cfg.Relay.Driver)
	v.SetDefault("relay.redis_addr", cfg.Relay.RedisAddr)
	v.SetDefault("relay.nats_url", cfg.Relay.NATSURL)
	v.SetDefault("relay.channel", cfg.Relay.Channel)
	v.SetDefault("relay.heartbeat_interval", cfg.Relay.HeartbeatInterval)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
