// Package s3sdk implements objectstore.Client on the AWS SDK v2 S3 client.
//
// It is the alternative to the hand-signed s3rest backend for deployments
// that want the SDK's own endpoint resolution, retry policy and credential
// chain. Error mapping follows the same taxonomy.
package s3sdk

import (
	"time"
)

// Config configures a Client.
//
// Credentials come from WithCredentials when given. Otherwise the AWS SDK v2
// default chain applies: environment variables, shared config and
// credentials files (optionally with Profile), then container or instance
// roles.
//
// For S3-compatible stores set Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region. When empty the SDK resolves it from the
	// environment or profile, falling back to us-east-1 for AWS endpoints.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the shared config profile to load.
	Profile string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// MaxKeys is the page size for List. Zero uses 1000; larger values are clamped.
	MaxKeys int

	// MaxAttempts bounds SDK retries of transient failures. Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// MaxBackoff caps the delay between retries. Zero uses DefaultMaxBackoff.
	MaxBackoff time.Duration
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Retry defaults, matching the REST backend.
const (
	DefaultMaxAttempts = 4
	DefaultMaxBackoff  = 4 * time.Second
)

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if c.MaxAttempts < 0 {
		return &ConfigError{Field: "MaxAttempts", Message: "must not be negative"}
	}
	if c.MaxBackoff < 0 {
		return &ConfigError{Field: "MaxBackoff", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3sdk config: " + e.Field + ": " + e.Message
}
