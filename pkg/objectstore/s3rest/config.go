// Package s3rest implements objectstore.Client over the S3 REST API with
// hand-built, SigV4-signed requests.
package s3rest

import (
	"net/url"
	"time"
)

// Config configures a REST client.
//
// Credentials are supplied separately as an aws.CredentialsProvider; see
// WithCredentials.
//
// For S3-compatible stores (MinIO, Wasabi, local fakes), set Endpoint and
// typically ForcePathStyle.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string

	// Region is the signing region (required).
	Region string

	// Endpoint is the base URL of the store.
	// Leave empty for AWS S3 (https://s3.<region>.amazonaws.com).
	Endpoint string

	// ForcePathStyle puts the bucket in the path instead of the host name.
	ForcePathStyle bool

	// MaxKeys is the default page size for List operations.
	// Zero uses DefaultMaxKeys. Values over MaxAllowedKeys are clamped.
	MaxKeys int

	// MaxAttempts bounds the attempts for a request that fails transiently.
	// Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// MaxBackoff caps the jittered delay between attempts.
	// Zero uses DefaultMaxBackoff.
	MaxBackoff time.Duration

	// RequestTimeout bounds a single attempt. Zero means no per-attempt timeout.
	RequestTimeout time.Duration

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Zero uses 1 when limiting is enabled.
	Burst int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultMaxAttempts is the default attempt budget for transient failures.
const DefaultMaxAttempts = 4

// DefaultMaxBackoff is the default cap on the delay between attempts.
const DefaultMaxBackoff = 4 * time.Second

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if c.Region == "" {
		return &ConfigError{Field: "Region", Message: "region is required for request signing"}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: "Endpoint", Message: "must be an absolute URL like https://host[:port]"}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return &ConfigError{Field: "Endpoint", Message: "scheme must be http or https"}
		}
	}
	if c.MaxAttempts < 0 {
		return &ConfigError{Field: "MaxAttempts", Message: "must not be negative"}
	}
	if c.RequestsPerSecond < 0 {
		return &ConfigError{Field: "RequestsPerSecond", Message: "must not be negative"}
	}
	return nil
}

// withDefaults returns a copy with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.MaxKeys <= 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Endpoint == "" {
		c.Endpoint = "https://s3." + c.Region + ".amazonaws.com"
	}
	return c
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3rest config: " + e.Field + ": " + e.Message
}
