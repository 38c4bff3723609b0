package s3rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go/encoding/httpbinding"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/sigv4"
)

// Observer receives per-attempt request outcomes, typically for metrics.
type Observer interface {
	// ObserveRequest is called once per attempt. kind is empty on success.
	ObserveRequest(op string, status int, kind string, elapsed time.Duration)

	// ObserveRetry is called before each retry delay.
	ObserveRetry(op string, kind string)
}

// Client implements objectstore.Client for S3 over signed REST calls.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	signer   *sigv4.Signer
	creds    aws.CredentialsProvider
	backoff  retry.BackoffDelayer
	limiter  *rate.Limiter
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

var _ objectstore.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets the credential source used to sign requests.
func WithCredentials(provider aws.CredentialsProvider) Option {
	return func(c *Client) {
		c.creds = provider
	}
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithBackoff replaces the jittered exponential backoff between attempts.
func WithBackoff(backoff retry.BackoffDelayer) Option {
	return func(c *Client) {
		if backoff != nil {
			c.backoff = backoff
		}
	}
}

// WithLogger sets the logger for retries and failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets a hook notified of every attempt.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a REST client for cfg.Bucket.
// A credentials provider must be supplied with WithCredentials.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	base, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil {
		return nil, &ConfigError{Field: "Endpoint", Message: err.Error()}
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    newHTTPClient(),
		signer:  sigv4.New(cfg.Region),
		backoff: retry.NewExponentialJitterBackoff(cfg.MaxBackoff),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.creds == nil {
		return nil, &ConfigError{Field: "Credentials", Message: "a credentials provider is required"}
	}
	return c, nil
}

// newHTTPClient returns a client with a connection pool sized for concurrent
// listing and copying against a single host.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 128
	transport.MaxIdleConnsPerHost = 64
	transport.MaxConnsPerHost = 64
	return &http.Client{Transport: transport}
}

// Bucket returns the bucket this client addresses.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// request describes one logical S3 call; it is rebuilt and re-signed per attempt.
type request struct {
	op          string
	method      string
	key         string
	query       url.Values
	body        []byte
	contentType string
	copySource  string

	// prefix is reported in errors for bucket-level calls such as List.
	prefix string
}

// response is a fully read S3 response.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes req, retrying transient failures with jittered backoff.
func (c *Client) do(ctx context.Context, req request) (*response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !objectstore.IsTransient(err) || attempt >= c.cfg.MaxAttempts || ctx.Err() != nil {
			if !objectstore.IsNotFound(err) {
				c.logger.Debug("S3 request failed",
					zap.String("op", req.op),
					zap.String("key", req.key),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
			return nil, err
		}

		delay, derr := c.backoff.BackoffDelay(attempt, err)
		if derr != nil {
			return nil, err
		}
		if c.observer != nil {
			c.observer.ObserveRetry(req.op, objectstore.Kind(err))
		}
		c.logger.Warn("Retrying S3 request",
			zap.String("op", req.op),
			zap.String("key", req.key),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, c.storeErr(req, 0, "", "", ctx.Err())
		case <-timer.C:
		}
	}
}

type attemptResult struct {
	resp *response
	err  error
}

// attempt performs one signed round trip.
//
// The request runs detached from ctx: if ctx ends first the call returns the
// context error at once and the in-flight request finishes in the background with
// its result discarded.
func (c *Client) attempt(ctx context.Context, req request) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.storeErr(req, 0, "", "", err)
		}
	}

	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		if !objectstore.IsCredentialUnavailable(err) {
			err = fmt.Errorf("%w: %w", objectstore.ErrCredentialUnavailable, err)
		}
		return nil, c.storeErr(req, 0, "", "", err)
	}

	detached := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if c.cfg.RequestTimeout > 0 {
		detached, cancel = context.WithTimeout(detached, c.cfg.RequestTimeout)
	}

	httpReq, err := c.newHTTPRequest(detached, req)
	if err != nil {
		cancel()
		return nil, c.storeErr(req, 0, "", "", fmt.Errorf("%w: %w", objectstore.ErrProtocol, err))
	}
	if err := c.signer.Sign(ctx, creds, httpReq, sigv4.PayloadHash(req.body), c.now()); err != nil {
		cancel()
		return nil, c.storeErr(req, 0, "", "", fmt.Errorf("%w: %w", objectstore.ErrCredentialUnavailable, err))
	}

	start := time.Now()
	done := make(chan attemptResult, 1)
	go func() {
		defer cancel()
		resp, err := c.roundTrip(req, httpReq)
		done <- attemptResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, c.storeErr(req, 0, "", "", ctx.Err())
	case res := <-done:
		status := 0
		var storeErr *objectstore.StoreError
		switch {
		case res.resp != nil:
			status = res.resp.status
		case errors.As(res.err, &storeErr):
			status = storeErr.StatusCode
		}
		if c.observer != nil {
			c.observer.ObserveRequest(req.op, status, objectstore.Kind(res.err), time.Since(start))
		}
		return res.resp, res.err
	}
}

// roundTrip sends httpReq and classifies the outcome.
func (c *Client) roundTrip(req request, httpReq *http.Request) (*response, error) {
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.storeErr(req, 0, "", "", fmt.Errorf("%w: %w", objectstore.ErrTransient, err))
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.storeErr(req, httpResp.StatusCode, "", "", fmt.Errorf("%w: read body: %w", objectstore.ErrTransient, err))
	}

	resp := &response{status: httpResp.StatusCode, header: httpResp.Header, body: body}
	sentinel := objectstore.StatusError(resp.status)
	if sentinel == nil {
		return resp, nil
	}

	code, message := parseErrorDocument(body)
	if code == "" {
		code = http.StatusText(resp.status)
	}
	sentinel = objectstore.CodeError(code, sentinel)
	if sentinel == objectstore.ErrAccessDenied && isExpiredTokenCode(code) {
		if inv, ok := c.creds.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	}

	err = sentinel
	if message != "" {
		err = fmt.Errorf("%w: %s", sentinel, message)
	}
	return nil, c.storeErr(req, resp.status, code, string(body), err)
}

// newHTTPRequest builds the unsigned request for one attempt.
func (c *Client) newHTTPRequest(ctx context.Context, req request) (*http.Request, error) {
	u := c.objectURL(req.key)
	if len(req.query) > 0 {
		u.RawQuery = strings.ReplaceAll(req.query.Encode(), "+", "%20")
	}

	var body io.Reader = http.NoBody
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	// http.NewRequest re-parses the URL; keep the pre-escaped path that was signed.
	httpReq.URL.Path = u.Path
	httpReq.URL.RawPath = u.RawPath

	if req.body != nil {
		httpReq.ContentLength = int64(len(req.body))
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.copySource != "" {
		httpReq.Header.Set("X-Amz-Copy-Source", req.copySource)
	}
	return httpReq, nil
}

// objectURL returns the URL for key in the configured addressing style.
func (c *Client) objectURL(key string) *url.URL {
	u := *c.base
	path := strings.TrimSuffix(u.Path, "/")
	if c.cfg.ForcePathStyle {
		path += "/" + c.cfg.Bucket
		if key != "" {
			path += "/" + key
		}
	} else {
		u.Host = c.cfg.Bucket + "." + u.Host
		path += "/" + key
	}
	u.Path = path
	u.RawPath = httpbinding.EscapePath(path, false)
	return &u
}

// copySourceHeader returns the x-amz-copy-source value for key.
func (c *Client) copySourceHeader(key string) string {
	return "/" + httpbinding.EscapePath(c.cfg.Bucket+"/"+key, false)
}

func (c *Client) storeErr(req request, status int, code, body string, err error) *objectstore.StoreError {
	key := req.key
	if key == "" {
		key = req.prefix
	}
	return &objectstore.StoreError{
		Op:         req.op,
		Backend:    objectstore.BackendREST,
		Bucket:     c.cfg.Bucket,
		Key:        key,
		StatusCode: status,
		Code:       code,
		Body:       body,
		Err:        err,
	}
}

func isExpiredTokenCode(code string) bool {
	return code == "ExpiredToken" || code == "TokenRefreshRequired"
}
