package auth

import (
	"fmt"
	"time"
)

// Strategy selects how credentials are obtained.
type Strategy string

const (
	// StrategyStatic uses a fixed key pair from configuration.
	StrategyStatic Strategy = "static"

	// StrategyRole fetches short-lived credentials from a local metadata endpoint.
	StrategyRole Strategy = "role"
)

// RoleSource selects the metadata endpoint used by StrategyRole.
type RoleSource string

const (
	// RoleSourceContainer is the container credentials endpoint (ECS task roles).
	RoleSourceContainer RoleSource = "container"

	// RoleSourceEC2 is the EC2 instance metadata service.
	RoleSourceEC2 RoleSource = "ec2"
)

// Defaults for role-fetched credentials.
const (
	DefaultContainerHost = "http://169.254.170.2"
	DefaultRefreshMargin = 5 * time.Minute
	DefaultFetchTimeout  = 5 * time.Second

	// RelativeURIEnv is read when no relative URI or endpoint is configured.
	RelativeURIEnv = "AWS_CONTAINER_CREDENTIALS_RELATIVE_URI"
)

// Config holds credential provider configuration.
type Config struct {
	// Strategy is "static" or "role". Defaults to "static".
	Strategy Strategy `mapstructure:"strategy"`

	Static StaticConfig `mapstructure:"static"`
	Role   RoleConfig   `mapstructure:"role"`
}

// StaticConfig holds a fixed key pair.
type StaticConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// RoleConfig configures role-fetched credentials.
type RoleConfig struct {
	// Source is "container" (default) or "ec2".
	Source RoleSource `mapstructure:"source"`

	// Endpoint overrides the metadata endpoint.
	// For container, a full URL; otherwise DefaultContainerHost + RelativeURI is used.
	// For ec2, the IMDS base URL.
	Endpoint string `mapstructure:"endpoint"`

	// RelativeURI is appended to DefaultContainerHost.
	// Falls back to $AWS_CONTAINER_CREDENTIALS_RELATIVE_URI.
	RelativeURI string `mapstructure:"relative_uri"`

	// RefreshMargin refreshes credentials this long before they expire.
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`

	// Timeout bounds a single metadata fetch.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConfigError indicates invalid credential configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("auth config: %s: %s", e.Field, e.Message)
}

// WithDefaults returns a copy with empty fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyStatic
	}
	if c.Role.Source == "" {
		c.Role.Source = RoleSourceContainer
	}
	if c.Role.RefreshMargin <= 0 {
		c.Role.RefreshMargin = DefaultRefreshMargin
	}
	if c.Role.Timeout <= 0 {
		c.Role.Timeout = DefaultFetchTimeout
	}
	return c
}

// Validate checks the configuration for errors.
// Validate does not consult the environment; see New for relative URI resolution.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyStatic, "":
		if c.Static.AccessKeyID == "" {
			return &ConfigError{Field: "static.access_key_id", Message: "required for static strategy"}
		}
		if c.Static.SecretAccessKey == "" {
			return &ConfigError{Field: "static.secret_access_key", Message: "required for static strategy"}
		}
	case StrategyRole:
		switch c.Role.Source {
		case RoleSourceContainer, RoleSourceEC2, "":
		default:
			return &ConfigError{Field: "role.source", Message: fmt.Sprintf("unknown source %q (want container or ec2)", c.Role.Source)}
		}
		if c.Role.RefreshMargin < 0 {
			return &ConfigError{Field: "role.refresh_margin", Message: "must not be negative"}
		}
	default:
		return &ConfigError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q (want static or role)", c.Strategy)}
	}
	return nil
}
