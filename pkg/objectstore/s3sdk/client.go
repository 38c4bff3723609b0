package s3sdk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/encoding/httpbinding"
	"go.uber.org/zap"

	"github.com/3leaps/s3contents/pkg/objectstore"
)

// Client implements objectstore.Client over *s3.Client.
type Client struct {
	api     *s3.Client
	bucket  string
	maxKeys int
	logger  *zap.Logger

	creds      aws.CredentialsProvider
	httpClient aws.HTTPClient
}

var _ objectstore.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithCredentials replaces the SDK default credential chain.
func WithCredentials(creds aws.CredentialsProvider) Option {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(hc aws.HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client. Loading the SDK configuration may read the
// environment and shared config files.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		bucket:  cfg.Bucket,
		maxKeys: clampMaxKeys(cfg.MaxKeys, DefaultMaxKeys),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	awsCfg, err := c.loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &objectstore.StoreError{
			Op:      "New",
			Backend: objectstore.BackendSDK,
			Bucket:  cfg.Bucket,
			Err:     fmt.Errorf("%w: %w", objectstore.ErrCredentialUnavailable, err),
		}
	}

	c.api = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// S3-compatible stores reject the default CRC trailers.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return c, nil
}

func (c *Client) loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = DefaultMaxBackoff
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
				o.MaxBackoff = maxBackoff
			})
		}),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if c.creds != nil {
		opts = append(opts, config.WithCredentialsProvider(c.creds))
	}
	if c.httpClient != nil {
		opts = append(opts, config.WithHTTPClient(c.httpClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Get downloads an object.
func (c *Client) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.wrapError("Get", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, c.wrapError("Get", key, fmt.Errorf("%w: read body: %w", objectstore.ErrTransient, err))
	}
	return &objectstore.Object{
		ObjectMeta: objectstore.ObjectMeta{
			ObjectSummary: objectstore.ObjectSummary{
				Key:          key,
				Size:         int64(len(body)),
				ETag:         cleanETag(aws.ToString(out.ETag)),
				LastModified: aws.ToTime(out.LastModified),
			},
			ContentType: aws.ToString(out.ContentType),
		},
		Body: body,
	}, nil
}

// Head returns metadata for a single object.
func (c *Client) Head(ctx context.Context, key string) (*objectstore.ObjectMeta, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, c.wrapError("Head", key, err)
	}
	return &objectstore.ObjectMeta{
		ObjectSummary: objectstore.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         cleanETag(aws.ToString(out.ETag)),
			LastModified: aws.ToTime(out.LastModified),
		},
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Exists reports whether key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if objectstore.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Put uploads body to key.
func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) (*objectstore.ObjectMeta, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := c.api.PutObject(ctx, input)
	if err != nil {
		return nil, c.wrapError("Put", key, err)
	}
	return &objectstore.ObjectMeta{
		ObjectSummary: objectstore.ObjectSummary{
			Key:          key,
			Size:         int64(len(body)),
			ETag:         cleanETag(aws.ToString(out.ETag)),
			LastModified: time.Now().UTC(),
		},
		ContentType: contentType,
	}, nil
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		wrapped := c.wrapError("Delete", key, err)
		if objectstore.IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

// Copy duplicates srcKey to dstKey server-side.
func (c *Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(httpbinding.EscapePath(c.bucket+"/"+srcKey, false)),
	})
	if err != nil {
		wrapped := c.wrapError("Copy", dstKey, err)
		if objectstore.IsNotFound(wrapped) {
			wrapped.Key = srcKey
		}
		return wrapped
	}
	return nil
}

// List pages through ListObjectsV2 until the listing is exhausted or
// opts.Limit entries were collected.
func (c *Client) List(ctx context.Context, opts objectstore.ListOptions) (*objectstore.ListResult, error) {
	page := clampMaxKeys(opts.MaxKeys, c.maxKeys)
	result := &objectstore.ListResult{}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}

	for {
		size := page
		if opts.Limit > 0 {
			if remaining := opts.Limit - result.Len(); remaining < size {
				size = remaining
			}
		}
		input.MaxKeys = aws.Int32(int32(size))

		out, err := c.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, c.wrapError("List", opts.Prefix, err)
		}
		for _, obj := range out.Contents {
			result.Objects = append(result.Objects, objectstore.ObjectSummary{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         cleanETag(aws.ToString(obj.ETag)),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		for _, cp := range out.CommonPrefixes {
			result.CommonPrefixes = append(result.CommonPrefixes, aws.ToString(cp.Prefix))
		}

		truncated := aws.ToBool(out.IsTruncated)
		if !truncated {
			return result, nil
		}
		if opts.Limit > 0 && result.Len() >= opts.Limit {
			result.Truncated = true
			return result, nil
		}
		token := aws.ToString(out.NextContinuationToken)
		if token == "" {
			return nil, &objectstore.StoreError{
				Op:      "List",
				Backend: objectstore.BackendSDK,
				Bucket:  c.bucket,
				Key:     opts.Prefix,
				Err:     fmt.Errorf("%w: truncated listing without continuation token", objectstore.ErrProtocol),
			}
		}
		input.ContinuationToken = aws.String(token)
	}
}

// Close releases idle connections of the SDK's HTTP client.
func (c *Client) Close() error {
	if ci, ok := c.httpClient.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
	return nil
}

// wrapError converts SDK errors to store errors with the matching sentinel.
func (c *Client) wrapError(op, key string, err error) *objectstore.StoreError {
	wrapped := &objectstore.StoreError{
		Op:      op,
		Backend: objectstore.BackendSDK,
		Bucket:  c.bucket,
		Key:     key,
		Err:     err,
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, objectstore.ErrCredentialUnavailable),
		errors.Is(err, objectstore.ErrTransient):
		return wrapped
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		wrapped.StatusCode = respErr.HTTPStatusCode()
	}

	// Check specific S3 error types first
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		wrapped.Code = "NoSuchKey"
		wrapped.Err = fmt.Errorf("%w: %w", objectstore.ErrNotFound, err)
		return wrapped
	}

	sentinel := objectstore.StatusError(wrapped.StatusCode)
	if wrapped.StatusCode == 0 {
		// No response: the request never completed.
		sentinel = objectstore.ErrTransient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		wrapped.Code = apiErr.ErrorCode()
		if wrapped.StatusCode == 0 {
			sentinel = objectstore.ErrProtocol
		}
		sentinel = objectstore.CodeError(wrapped.Code, sentinel)
	}
	if sentinel == nil {
		sentinel = objectstore.ErrProtocol
	}

	wrapped.Err = fmt.Errorf("%w: %w", sentinel, err)
	return wrapped
}

// cleanETag removes surrounding quotes from an ETag value.
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

// clampMaxKeys applies defaults and limits to maxKeys values.
func clampMaxKeys(requested, clientDefault int) int {
	if requested <= 0 {
		requested = clientDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion applies the us-east-1 fallback for AWS endpoints only;
// S3-compatible stores (endpoint set) get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
