package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/s3contents/internal/config"
	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/pkg/auth"
	"github.com/3leaps/s3contents/pkg/contents"
	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/objectstore/s3rest"
	"github.com/3leaps/s3contents/pkg/objectstore/s3sdk"
)

// newCredentials builds the configured credential provider. metrics may be nil.
func newCredentials(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*auth.Provider, error) {
	opts := []auth.Option{auth.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, auth.WithObserver(metrics))
	}
	return auth.New(cfg.Auth, opts...)
}

// openStore builds the object-store client selected by storage.backend.
// metrics may be nil.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (objectstore.Client, error) {
	st := cfg.Storage

	switch st.Backend {
	case config.BackendREST:
		creds, err := newCredentials(cfg, logger, metrics)
		if err != nil {
			return nil, err
		}
		opts := []s3rest.Option{
			s3rest.WithCredentials(creds),
			s3rest.WithLogger(logger),
		}
		if metrics != nil {
			opts = append(opts, s3rest.WithObserver(metrics))
		}
		return s3rest.New(s3rest.Config{
			Bucket:            st.Bucket,
			Region:            st.Region,
			Endpoint:          st.Endpoint,
			ForcePathStyle:    st.ForcePathStyle,
			MaxKeys:           st.MaxKeys,
			MaxAttempts:       st.MaxAttempts,
			MaxBackoff:        st.MaxBackoff,
			RequestTimeout:    st.RequestTimeout,
			RequestsPerSecond: st.RequestsPerSecond,
			Burst:             st.Burst,
		}, opts...)

	case config.BackendSDK:
		opts := []s3sdk.Option{s3sdk.WithLogger(logger)}
		if !cfg.UsesSDKCredentialChain() {
			creds, err := newCredentials(cfg, logger, metrics)
			if err != nil {
				return nil, err
			}
			opts = append(opts, s3sdk.WithCredentials(creds))
		}
		return s3sdk.New(ctx, s3sdk.Config{
			Bucket:         st.Bucket,
			Region:         st.Region,
			Endpoint:       st.Endpoint,
			Profile:        st.Profile,
			ForcePathStyle: st.ForcePathStyle,
			MaxKeys:        st.MaxKeys,
			MaxAttempts:    st.MaxAttempts,
			MaxBackoff:     st.MaxBackoff,
		}, opts...)
	}
	return nil, &config.ConfigError{Field: "storage.backend", Message: fmt.Sprintf("unknown backend %q", st.Backend)}
}

// openManager validates the loaded configuration and returns a contents
// manager over a fresh client. The caller must Close it.
func openManager(ctx context.Context, metrics *observability.Metrics) (*contents.Manager, *config.Config, error) {
	cfg, err := validConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := observability.CLILogger

	client, err := openStore(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, nil, storeError("Failed to connect to storage", err)
	}
	m, err := contents.New(client, contents.Config{
		Prefix:     cfg.Storage.Prefix,
		HideGlobs:  cfg.Contents.HideGlobs,
		HideDotted: cfg.Contents.HideDotted,
		UploadTTL:  cfg.Contents.UploadTTL,
	}, contents.WithLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, nil, storeError("Failed to create contents manager", err)
	}
	return m, cfg, nil
}

// credentialsChecker reports whether signing credentials can be retrieved.
type credentialsChecker struct {
	provider *auth.Provider
}

func (c credentialsChecker) CheckHealth(ctx context.Context) error {
	if c.provider == nil {
		return errors.New("no credential provider")
	}
	_, err := c.provider.Retrieve(ctx)
	return err
}
