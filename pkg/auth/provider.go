// Package auth supplies signing credentials for object-store requests.
//
// Two strategies are supported. Static credentials come from configuration and never
// expire. Role credentials are fetched from a local metadata endpoint (the container
// credentials endpoint or EC2 IMDS) and cached until shortly before they expire.
// Concurrent callers that observe expired credentials share a single refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go-v2/credentials/endpointcreds"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/pkg/objectstore"
)

// RefreshObserver is notified after every credential fetch attempt.
type RefreshObserver interface {
	ObserveCredentialRefresh(strategy string, err error)
}

// Provider implements aws.CredentialsProvider for the configured strategy.
// Every retrieval failure wraps objectstore.ErrCredentialUnavailable.
type Provider struct {
	strategy Strategy
	source   RoleSource
	inner    aws.CredentialsProvider
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
	observer   RefreshObserver
	getenv     func(string) string
	now        func() time.Time
}

// WithLogger sets the logger for refresh events.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient sets the HTTP client used for metadata fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithObserver sets a hook called after each fetch attempt.
func WithObserver(observer RefreshObserver) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithGetenv overrides environment lookup (used for the relative URI).
func WithGetenv(getenv func(string) string) Option {
	return func(o *options) {
		o.getenv = getenv
	}
}

// New creates a credential provider from cfg.
func New(cfg Config, opts ...Option) (*Provider, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: zap.NewNop(),
		getenv: os.Getenv,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Role.Timeout}
	}

	switch cfg.Strategy {
	case StrategyStatic:
		return &Provider{
			strategy: StrategyStatic,
			inner: credentials.NewStaticCredentialsProvider(
				cfg.Static.AccessKeyID,
				cfg.Static.SecretAccessKey,
				cfg.Static.SessionToken,
			),
		}, nil

	case StrategyRole:
		fetcher, err := newRoleFetcher(cfg.Role, o)
		if err != nil {
			return nil, err
		}
		cache := aws.NewCredentialsCache(fetcher, func(co *aws.CredentialsCacheOptions) {
			co.ExpiryWindow = cfg.Role.RefreshMargin
		})
		return &Provider{
			strategy: StrategyRole,
			source:   cfg.Role.Source,
			inner:    cache,
		}, nil
	}

	return nil, &ConfigError{Field: "strategy", Message: fmt.Sprintf("unknown strategy %q", cfg.Strategy)}
}

// Retrieve returns valid credentials, refreshing role credentials when they are
// within the refresh margin of expiry.
func (p *Provider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	creds, err := p.inner.Retrieve(ctx)
	if err != nil {
		if errors.Is(err, objectstore.ErrCredentialUnavailable) {
			return aws.Credentials{}, err
		}
		return aws.Credentials{}, fmt.Errorf("%w: %v", objectstore.ErrCredentialUnavailable, err)
	}
	return creds, nil
}

// Strategy returns the configured strategy.
func (p *Provider) Strategy() Strategy {
	return p.strategy
}

// Describe returns a human-readable summary for diagnostics.
func (p *Provider) Describe() string {
	if p.strategy == StrategyRole {
		return fmt.Sprintf("role (%s)", p.source)
	}
	return string(p.strategy)
}

// Invalidate forces the next Retrieve to refetch role credentials.
// It is a no-op for static credentials.
func (p *Provider) Invalidate() {
	if cache, ok := p.inner.(*aws.CredentialsCache); ok {
		cache.Invalidate()
	}
}

// roleFetcher wraps an SDK metadata provider with validation, logging and metrics.
type roleFetcher struct {
	source   RoleSource
	endpoint string
	fetch    aws.CredentialsProvider
	logger   *zap.Logger
	observer RefreshObserver
	now      func() time.Time
}

func newRoleFetcher(cfg RoleConfig, o *options) (*roleFetcher, error) {
	f := &roleFetcher{
		source:   cfg.Source,
		logger:   o.logger,
		observer: o.observer,
		now:      o.now,
	}

	switch cfg.Source {
	case RoleSourceContainer:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			rel := cfg.RelativeURI
			if rel == "" {
				rel = o.getenv(RelativeURIEnv)
			}
			if rel == "" {
				return nil, &ConfigError{
					Field:   "role.relative_uri",
					Message: "container source needs an endpoint, a relative URI or $" + RelativeURIEnv,
				}
			}
			if !strings.HasPrefix(rel, "/") {
				rel = "/" + rel
			}
			endpoint = DefaultContainerHost + rel
		}
		f.endpoint = endpoint
		f.fetch = endpointcreds.New(endpoint, func(eo *endpointcreds.Options) {
			eo.HTTPClient = o.httpClient
			eo.Retryer = aws.NopRetryer{}
		})

	case RoleSourceEC2:
		f.endpoint = cfg.Endpoint
		client := imds.New(imds.Options{
			Endpoint:   cfg.Endpoint,
			HTTPClient: o.httpClient,
			Retryer:    aws.NopRetryer{},
		})
		f.fetch = ec2rolecreds.New(func(eo *ec2rolecreds.Options) {
			eo.Client = client
		})
	}

	return f, nil
}

// Retrieve fetches fresh credentials from the metadata endpoint.
func (f *roleFetcher) Retrieve(ctx context.Context) (aws.Credentials, error) {
	creds, err := f.fetch.Retrieve(ctx)
	if err == nil {
		err = f.validate(creds)
	}
	if f.observer != nil {
		f.observer.ObserveCredentialRefresh(string(StrategyRole), err)
	}
	if err != nil {
		f.logger.Warn("Credential refresh failed",
			zap.String("source", string(f.source)),
			zap.String("endpoint", f.endpoint),
			zap.Error(err))
		return aws.Credentials{}, fmt.Errorf("%w: %s: %v", objectstore.ErrCredentialUnavailable, f.source, err)
	}

	f.logger.Info("Refreshed credentials",
		zap.String("source", string(f.source)),
		zap.String("access_key_id", MaskAccessKey(creds.AccessKeyID)),
		zap.Time("expires", creds.Expires))
	return creds, nil
}

func (f *roleFetcher) validate(creds aws.Credentials) error {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return errors.New("malformed credentials payload: missing access key id or secret")
	}
	if creds.CanExpire && !creds.Expires.After(f.now()) {
		return fmt.Errorf("credentials already expired at %s", creds.Expires.UTC().Format(time.RFC3339))
	}
	return nil
}

// MaskAccessKey hides all but the last four characters of an access key id.
func MaskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
