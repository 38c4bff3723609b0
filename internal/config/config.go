// Package config loads s3contents configuration from defaults, an optional
// YAML file, S3CONTENTS_* environment variables and runtime overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/pkg/auth"
	"github.com/3leaps/s3contents/pkg/match"
)

// Storage backends.
const (
	BackendREST = "rest"
	BackendSDK  = "sdk"
)

// Config is the complete application configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Auth     auth.Config    `mapstructure:"auth" yaml:"auth"`
	Contents ContentsConfig `mapstructure:"contents" yaml:"contents"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

// StorageConfig selects and tunes the object-store client.
type StorageConfig struct {
	Backend           string        `mapstructure:"backend" yaml:"backend"`
	Bucket            string        `mapstructure:"bucket" yaml:"bucket"`
	Region            string        `mapstructure:"region" yaml:"region"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Prefix            string        `mapstructure:"prefix" yaml:"prefix"`
	Profile           string        `mapstructure:"profile" yaml:"profile"`
	ForcePathStyle    bool          `mapstructure:"force_path_style" yaml:"force_path_style"`
	MaxKeys           int           `mapstructure:"max_keys" yaml:"max_keys"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
}

// ContentsConfig tunes the contents manager.
type ContentsConfig struct {
	HideGlobs  []string      `mapstructure:"hide_globs" yaml:"hide_globs"`
	HideDotted bool          `mapstructure:"hide_dotted" yaml:"hide_dotted"`
	UploadTTL  time.Duration `mapstructure:"upload_ttl" yaml:"upload_ttl"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// defaults mirrors Config with every key the loader knows about.
func defaults() map[string]any {
	return map[string]any{
		"storage.backend":             BackendREST,
		"storage.bucket":              "",
		"storage.region":              "",
		"storage.endpoint":            "",
		"storage.prefix":              "",
		"storage.profile":             "",
		"storage.force_path_style":    false,
		"storage.max_keys":            1000,
		"storage.max_attempts":        4,
		"storage.max_backoff":         "4s",
		"storage.request_timeout":     "0s",
		"storage.requests_per_second": 0.0,
		"storage.burst":               0,

		"auth.strategy":                 string(auth.StrategyStatic),
		"auth.static.access_key_id":     "",
		"auth.static.secret_access_key": "",
		"auth.static.session_token":     "",
		"auth.role.source":              string(auth.RoleSourceContainer),
		"auth.role.endpoint":            "",
		"auth.role.relative_uri":        "",
		"auth.role.refresh_margin":      auth.DefaultRefreshMargin.String(),
		"auth.role.timeout":             auth.DefaultFetchTimeout.String(),

		"contents.hide_globs":  append([]string(nil), match.DefaultHidePatterns...),
		"contents.hide_dotted": false,
		"contents.upload_ttl":  "1h",

		"server.host":             "localhost",
		"server.port":             8888,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "60s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",

		"logging.level":   "info",
		"logging.profile": observability.ProfileStructured,

		"metrics.enabled": true,
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the settings needed to reach the store.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendREST, BackendSDK:
	default:
		return &ConfigError{Field: "storage.backend", Message: fmt.Sprintf("unknown backend %q (want rest or sdk)", c.Storage.Backend)}
	}
	if c.Storage.Bucket == "" {
		return &ConfigError{Field: "storage.bucket", Message: "bucket name is required"}
	}
	if c.Storage.Backend == BackendREST && c.Storage.Region == "" {
		return &ConfigError{Field: "storage.region", Message: "region is required for request signing"}
	}
	if strings.Contains(c.Storage.Prefix, "..") {
		return &ConfigError{Field: "storage.prefix", Message: "must not contain parent references"}
	}

	if c.usesAuth() {
		if err := c.Auth.WithDefaults().Validate(); err != nil {
			return err
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: fmt.Sprintf("out of range: %d", c.Server.Port)}
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}
	switch strings.ToLower(c.Logging.Profile) {
	case observability.ProfileStructured, observability.ProfileConsole:
	default:
		return &ConfigError{Field: "logging.profile", Message: fmt.Sprintf("unknown profile %q", c.Logging.Profile)}
	}
	return nil
}

// UsesSDKCredentialChain reports whether the sdk backend should fall back to
// the AWS default credential chain instead of the configured provider.
func (c *Config) UsesSDKCredentialChain() bool {
	return !c.usesAuth()
}

// usesAuth reports whether credentials come from the auth section. The rest
// backend always signs with it; the sdk backend only when a role or key pair
// is configured explicitly.
func (c *Config) usesAuth() bool {
	if c.Storage.Backend != BackendSDK {
		return true
	}
	return c.Auth.Strategy == auth.StrategyRole ||
		c.Auth.Static.AccessKeyID != "" ||
		c.Auth.Static.SecretAccessKey != ""
}
