package s3rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/test/s3fake"
)

const testBucket = "notebooks"

type noBackoff struct{}

func (noBackoff) BackoffDelay(int, error) (time.Duration, error) { return 0, nil }

type countingObserver struct {
	mu       sync.Mutex
	requests int
	retries  int
	kinds    []string
}

func (o *countingObserver) ObserveRequest(_ string, _ int, kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests++
	o.kinds = append(o.kinds, kind)
}

func (o *countingObserver) ObserveRetry(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func newTestClient(t *testing.T, fake *s3fake.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithCredentials(credentials.NewStaticCredentialsProvider("AKIDTESTFAKE", "secret", "")),
		WithBackoff(noBackoff{}),
	}
	c, err := New(Config{
		Bucket:         testBucket,
		Region:         "us-east-1",
		Endpoint:       fake.URL,
		ForcePathStyle: true,
	}, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{Bucket: "b", Region: "us-east-1"}, ""},
		{"valid endpoint", Config{Bucket: "b", Region: "us-east-1", Endpoint: "http://localhost:9000"}, ""},
		{"missing bucket", Config{Region: "us-east-1"}, "Bucket"},
		{"missing region", Config{Bucket: "b"}, "Region"},
		{"relative endpoint", Config{Bucket: "b", Region: "r", Endpoint: "localhost:9000"}, "Endpoint"},
		{"bad scheme", Config{Bucket: "b", Region: "r", Endpoint: "ftp://host"}, "Endpoint"},
		{"negative attempts", Config{Bucket: "b", Region: "r", MaxAttempts: -1}, "MaxAttempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.wantErr, cfgErr.Field)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Bucket: "b", Region: "eu-west-1"}.withDefaults()
	assert.Equal(t, DefaultMaxKeys, cfg.MaxKeys)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultMaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com", cfg.Endpoint)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Bucket: "b", Region: "us-east-1"})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Credentials", cfgErr.Field)
}

func TestObjectURL(t *testing.T) {
	creds := WithCredentials(credentials.NewStaticCredentialsProvider("a", "b", ""))

	pathStyle, err := New(Config{Bucket: "bkt", Region: "us-east-1", Endpoint: "http://localhost:9000/", ForcePathStyle: true}, creds)
	require.NoError(t, err)
	u := pathStyle.objectURL("dir/a b+c.txt")
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/bkt/dir/a b+c.txt", u.Path)
	assert.Equal(t, "/bkt/dir/a%20b%2Bc.txt", u.EscapedPath())
	assert.Equal(t, "/bkt", pathStyle.objectURL("").Path)

	virtual, err := New(Config{Bucket: "bkt", Region: "us-west-2"}, creds)
	require.NoError(t, err)
	u = virtual.objectURL("k.txt")
	assert.Equal(t, "bkt.s3.us-west-2.amazonaws.com", u.Host)
	assert.Equal(t, "/k.txt", u.Path)

	assert.Equal(t, "/bkt/dir/a%20b.txt", pathStyle.copySourceHeader("dir/a b.txt"))
}

func TestPutGetHead(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	c := newTestClient(t, fake)
	ctx := context.Background()

	meta, err := c.Put(ctx, "dir/hello.txt", []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", meta.ETag)

	obj, err := c.Get(ctx, "dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), obj.Body)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, int64(5), obj.Size)
	assert.Equal(t, s3fake.Epoch.Add(time.Second), obj.LastModified)

	head, err := c.Head(ctx, "dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), head.Size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", head.ETag)
	assert.Equal(t, s3fake.Epoch.Add(time.Second), head.LastModified)

	ok, err := c.Exists(ctx, "dir/hello.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	reqs := fake.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, "AKIDTESTFAKE", reqs[0].AccessKeyID)
	assert.Equal(t, "text/plain", reqs[0].ContentType)
}

func TestPut_EmptyBody(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	c := newTestClient(t, fake)

	_, err := c.Put(context.Background(), "dir/", nil, "")
	require.NoError(t, err)

	body, ok := fake.Object("dir/")
	require.True(t, ok)
	assert.Empty(t, body)
}

func TestSpecialCharacterKeys(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	c := newTestClient(t, fake)
	ctx := context.Background()

	keys := []string{"a b/c+d.txt", "unicodé/ñ.ipynb", "q?x#y=z&w.txt", "semi;colon/'quote'.txt"}
	for _, key := range keys {
		_, err := c.Put(ctx, key, []byte(key), "text/plain")
		require.NoError(t, err, key)
		assert.True(t, fake.Has(key), key)

		obj, err := c.Get(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, key, string(obj.Body))

		require.NoError(t, c.Copy(ctx, key, key+".copy"))
		assert.True(t, fake.Has(key+".copy"), key)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		check  func(error) bool
		calls  int
	}{
		{"404 not found", http.StatusNotFound, "NoSuchKey", objectstore.IsNotFound, 1},
		{"404 missing bucket", http.StatusNotFound, "NoSuchBucket", objectstore.IsProtocol, 1},
		{"403 access denied", http.StatusForbidden, "AccessDenied", objectstore.IsAccessDenied, 1},
		{"400 protocol", http.StatusBadRequest, "InvalidArgument", objectstore.IsProtocol, 1},
		{"409 protocol", http.StatusConflict, "OperationAborted", objectstore.IsProtocol, 1},
		{"500 transient", http.StatusInternalServerError, "InternalError", objectstore.IsTransient, DefaultMaxAttempts},
		{"503 transient", http.StatusServiceUnavailable, "ServiceUnavailable", objectstore.IsTransient, DefaultMaxAttempts},
		{"429 transient", http.StatusTooManyRequests, "SlowDown", objectstore.IsTransient, DefaultMaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := s3fake.New(t, testBucket)
			fake.PutObject("k", []byte("v"), "")
			fake.InjectFault(s3fake.Fault{Method: http.MethodGet, Key: "k", Status: tt.status, Code: tt.code})
			c := newTestClient(t, fake)

			_, err := c.Get(context.Background(), "k")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)

			var storeErr *objectstore.StoreError
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, tt.status, storeErr.StatusCode)
			assert.Equal(t, tt.code, storeErr.Code)
			assert.Equal(t, "Get", storeErr.Op)
			assert.Equal(t, objectstore.BackendREST, storeErr.Backend)
			assert.Equal(t, tt.calls, fake.CountFor(http.MethodGet, "k"))
		})
	}
}

func TestGet_MissingKey(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	c := newTestClient(t, fake)

	_, err := c.Get(context.Background(), "missing.txt")
	require.Error(t, err)
	assert.True(t, objectstore.IsNotFound(err))
	assert.Equal(t, objectstore.KindNotFound, objectstore.Kind(err))

	_, err = c.Head(context.Background(), "missing.txt")
	assert.True(t, objectstore.IsNotFound(err))

	ok, err := c.Exists(context.Background(), "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists_AccessDeniedIsNotFalse(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	fake.DenyAccessKey("AKIDTESTFAKE")
	c := newTestClient(t, fake)

	ok, err := c.Exists(context.Background(), "anything")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, objectstore.IsAccessDenied(err))
	assert.False(t, objectstore.IsNotFound(err))
}

func TestRetry_RecoversFromTransientFailures(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	fake.PutObject("k", []byte("v"), "")
	fake.InjectFault(s3fake.Fault{Method: http.MethodGet, Key: "k", Status: http.StatusServiceUnavailable, Times: 2})
	obs := &countingObserver{}
	c := newTestClient(t, fake, WithObserver(obs))

	obj, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), obj.Body)
	assert.Equal(t, 3, fake.CountFor(http.MethodGet, "k"))
	assert.Equal(t, 2, obs.retries)
	assert.Equal(t, 3, obs.requests)
	assert.Equal(t, []string{objectstore.KindTransient, objectstore.KindTransient, ""}, obs.kinds)
}

func TestRetry_UsesBackoffDelays(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	fake.InjectFault(s3fake.Fault{Method: http.MethodHead, Status: http.StatusServiceUnavailable})

	var attempts []int
	backoff := backoffFunc(func(attempt int, _ error) (time.Duration, error) {
		attempts = append(attempts, attempt)
		return time.Millisecond, nil
	})
	c := newTestClient(t, fake, WithBackoff(backoff))

	_, err := c.Head(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, objectstore.IsTransient(err))
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

type backoffFunc func(int, error) (time.Duration, error)

func (f backoffFunc) BackoffDelay(attempt int, err error) (time.Duration, error) {
	return f(attempt, err)
}

func TestDelete(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	fake.PutObject("a.txt", []byte("a"), "")
	c := newTestClient(t, fake)

	require.NoError(t, c.Delete(context.Background(), "a.txt"))
	assert.False(t, fake.Has("a.txt"))

	require.NoError(t, c.Delete(context.Background(), "never-existed.txt"))
}

func TestCopy_ServerSide(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	fake.PutObject("src/nb.ipynb", []byte(`{"cells":[]}`), "application/x-ipynb+json")
	c := newTestClient(t, fake)

	require.NoError(t, c.Copy(context.Background(), "src/nb.ipynb", "dst/nb.ipynb"))

	body, ok := fake.Object("dst/nb.ipynb")
	require.True(t, ok)
	assert.Equal(t, `{"cells":[]}`, string(body))
	assert.Equal(t, "application/x-ipynb+json", fake.ContentType("dst/nb.ipynb"))
	assert.Equal(t, 0, fake.Count(http.MethodGet), "copy must not download the source")
	assert.Equal(t, 1, fake.Count("COPY"))

	reqs := fake.Requests()
	assert.Equal(t, "/"+testBucket+"/src/nb.ipynb", reqs[len(reqs)-1].CopySource)
}

func TestCopy_MissingSource(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	c := newTestClient(t, fake)

	err := c.Copy(context.Background(), "nope.txt", "dst.txt")
	require.Error(t, err)
	assert.True(t, objectstore.IsNotFound(err))

	var storeErr *objectstore.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "nope.txt", storeErr.Key)
}

func TestCopy_ErrorInSuccessResponse(t *testing.T) {
	t.Run("transient code retried", func(t *testing.T) {
		fake := s3fake.New(t, testBucket)
		fake.PutObject("a", []byte("x"), "")
		fake.InjectFault(s3fake.Fault{Method: http.MethodPut, Key: "b", Status: http.StatusOK, Code: "InternalError", Times: 1})
		c := newTestClient(t, fake)

		require.NoError(t, c.Copy(context.Background(), "a", "b"))
		assert.True(t, fake.Has("b"))
		assert.Equal(t, 2, fake.Count("COPY"))
	})

	t.Run("other code fails", func(t *testing.T) {
		fake := s3fake.New(t, testBucket)
		fake.PutObject("a", []byte("x"), "")
		fake.InjectFault(s3fake.Fault{Method: http.MethodPut, Key: "b", Status: http.StatusOK, Code: "InvalidRequest"})
		c := newTestClient(t, fake)

		err := c.Copy(context.Background(), "a", "b")
		require.Error(t, err)
		assert.True(t, objectstore.IsProtocol(err))
		assert.Equal(t, 1, fake.Count("COPY"))
	})
}

func TestList_Pagination(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	for i := 0; i < 25; i++ {
		fake.PutObject(fmt.Sprintf("data/file-%02d.txt", i), []byte("x"), "")
	}
	fake.PutObject("other/skip.txt", []byte("x"), "")

	c := newTestClient(t, fake)
	res, err := c.List(context.Background(), objectstore.ListOptions{Prefix: "data/", MaxKeys: 10})
	require.NoError(t, err)

	require.Len(t, res.Objects, 25)
	assert.False(t, res.Truncated)
	for i, obj := range res.Objects {
		assert.Equal(t, fmt.Sprintf("data/file-%02d.txt", i), obj.Key)
		assert.Equal(t, int64(1), obj.Size)
		assert.False(t, obj.LastModified.IsZero())
	}
	assert.Equal(t, 3, fake.Count(http.MethodGet))

	for _, r := range fake.Requests() {
		assert.Equal(t, "data/", r.Query.Get("prefix"), "every page re-sends the prefix")
	}
}

func TestList_Delimiter(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	for _, k := range []string{"root/", "root/a.txt", "root/b/", "root/b/x.txt", "root/c/y/z.txt", "root/d.ipynb"} {
		fake.PutObject(k, []byte(""), "")
	}

	c := newTestClient(t, fake)
	res, err := c.List(context.Background(), objectstore.ListOptions{Prefix: "root/", Delimiter: "/", MaxKeys: 2})
	require.NoError(t, err)

	var keys []string
	for _, o := range res.Objects {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"root/", "root/a.txt", "root/d.ipynb"}, keys)
	assert.Equal(t, []string{"root/b/", "root/c/"}, res.CommonPrefixes)

	for _, r := range fake.Requests() {
		assert.Equal(t, "/", r.Query.Get("delimiter"), "every page re-sends the delimiter")
	}
}

func TestList_Limit(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	for i := 0; i < 10; i++ {
		fake.PutObject(fmt.Sprintf("k%d", i), []byte("x"), "")
	}
	c := newTestClient(t, fake)

	res, err := c.List(context.Background(), objectstore.ListOptions{MaxKeys: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Len())
	assert.True(t, res.Truncated)
	assert.Equal(t, 3, fake.Count(http.MethodGet))

	res, err = c.List(context.Background(), objectstore.ListOptions{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Len())
	assert.False(t, res.Truncated)
}

func TestList_Empty(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	c := newTestClient(t, fake)

	res, err := c.List(context.Background(), objectstore.ListOptions{Prefix: "nothing/", Delimiter: "/"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
}

func TestCancellation_ReturnsContextError(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	fake.PutObject("slow", []byte("v"), "")
	fake.InjectFault(s3fake.Fault{Method: http.MethodGet, Key: "slow", Delay: 300 * time.Millisecond})
	c := newTestClient(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Get(ctx, "slow")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, objectstore.KindCanceled, objectstore.Kind(err))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

type failingProvider struct{ calls int }

func (f *failingProvider) Retrieve(context.Context) (aws.Credentials, error) {
	f.calls++
	return aws.Credentials{}, errors.New("metadata endpoint unreachable")
}

func TestCredentialUnavailable(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	provider := &failingProvider{}
	c := newTestClient(t, fake, WithCredentials(provider))

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, objectstore.IsCredentialUnavailable(err))
	assert.False(t, objectstore.IsAccessDenied(err))
	assert.Equal(t, 1, provider.calls, "credential failures are not retried")
	assert.Empty(t, fake.Requests(), "nothing is sent without credentials")
}

type invalidatingProvider struct {
	aws.CredentialsProvider
	invalidated int
}

func (p *invalidatingProvider) Invalidate() { p.invalidated++ }

func TestExpiredToken_InvalidatesCredentials(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	fake.InjectFault(s3fake.Fault{Method: http.MethodGet, Status: http.StatusBadRequest, Code: "ExpiredToken", Times: 1})
	provider := &invalidatingProvider{CredentialsProvider: credentials.NewStaticCredentialsProvider("AKIDTESTFAKE", "secret", "tok")}
	c := newTestClient(t, fake, WithCredentials(provider))

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, objectstore.IsAccessDenied(err))
	assert.Equal(t, 1, provider.invalidated)
	assert.Equal(t, "tok", fake.Requests()[0].SecurityToken)
}

func TestRateLimiter(t *testing.T) {
	fake := s3fake.New(t, testBucket)
	c, err := New(Config{
		Bucket:            testBucket,
		Region:            "us-east-1",
		Endpoint:          fake.URL,
		ForcePathStyle:    true,
		RequestsPerSecond: 1000,
	}, WithCredentials(credentials.NewStaticCredentialsProvider("AKIDTESTFAKE", "secret", "")))
	require.NoError(t, err)
	require.NotNil(t, c.limiter)

	for i := 0; i < 5; i++ {
		_, err := c.Put(context.Background(), fmt.Sprintf("k%d", i), []byte("x"), "")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, fake.Count(http.MethodPut))
}

func TestParseErrorDocument(t *testing.T) {
	code, msg := parseErrorDocument([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>gone</Message></Error>`))
	assert.Equal(t, "NoSuchKey", code)
	assert.Equal(t, "gone", msg)

	code, _ = parseErrorDocument([]byte(`<CopyObjectResult><ETag>"x"</ETag></CopyObjectResult>`))
	assert.Empty(t, code)

	code, _ = parseErrorDocument(nil)
	assert.Empty(t, code)
}
