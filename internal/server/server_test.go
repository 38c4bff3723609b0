package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/s3contents/internal/errors"
	"github.com/3leaps/s3contents/internal/observability"
	"github.com/3leaps/s3contents/internal/server/handlers"
	"github.com/3leaps/s3contents/internal/server/middleware"
	"github.com/3leaps/s3contents/pkg/contents"
	"github.com/3leaps/s3contents/pkg/objectstore/s3rest"
	"github.com/3leaps/s3contents/test/s3fake"
)

func newContentsServer(t *testing.T, opts ...Option) (*Server, *s3fake.Server) {
	t.Helper()
	fake := s3fake.New(t, "bucket")
	client, err := s3rest.New(s3rest.Config{
		Bucket:         "bucket",
		Region:         "us-east-1",
		Endpoint:       fake.URL,
		ForcePathStyle: true,
	}, s3rest.WithCredentials(credentials.NewStaticCredentialsProvider("AKIDTEST", "secret", "")))
	require.NoError(t, err)

	m, err := contents.New(client, contents.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return New("127.0.0.1", 0, append([]Option{WithContents(m)}, opts...)...), fake
}

func serve(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func TestServer_UsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := serve(t, srv, http.MethodGet, "/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
	assert.Equal(t, body.Error.RequestID, rec.Header().Get(middleware.RequestIDHeader))
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := serve(t, srv, http.MethodPost, "/version", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_PortAndAddr(t *testing.T) {
	for _, port := range []int{8888, 9000, 0} {
		srv := New("127.0.0.1", port)
		assert.Equal(t, port, srv.Port())
		assert.NotNil(t, srv.Handler())
	}
	assert.Equal(t, "[::1]:8888", New("::1", 8888).Addr())
}

func TestServer_RoutesRegistered(t *testing.T) {
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0,
		WithMetrics(observability.NewMetrics()),
		WithVersionInfo(handlers.VersionInfo{Version: "1.0.0"}))

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := serve(t, srv, http.MethodGet, path, "")
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestServer_NoMetricsRouteWithoutMetrics(t *testing.T) {
	srv := New("127.0.0.1", 0)
	rec := serve(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_NoContentsRouteWithoutManager(t *testing.T) {
	srv := New("127.0.0.1", 0)
	rec := serve(t, srv, http.MethodGet, "/api/contents", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ContentsRoundTrip(t *testing.T) {
	srv, fake := newContentsServer(t)

	rec := serve(t, srv, http.MethodPut, "/api/contents/dir", `{"type":"directory"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, fake.Has("dir/"))

	rec = serve(t, srv, http.MethodPut, "/api/contents/dir/a.txt", `{"type":"file","format":"text","content":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(t, srv, http.MethodGet, "/api/contents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var root contents.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	assert.Equal(t, contents.TypeDirectory, root.Type)

	rec = serve(t, srv, http.MethodGet, "/api/contents/dir/a.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var file contents.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.Equal(t, "hi", file.Content)

	rec = serve(t, srv, http.MethodPatch, "/api/contents/dir", `{"path":"moved"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, fake.Has("moved/a.txt"))
	assert.False(t, fake.Has("dir/a.txt"))

	rec = serve(t, srv, http.MethodDelete, "/api/contents/moved", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, fake.Keys())
}

func TestServer_ContentsMetricsUseRoutePattern(t *testing.T) {
	metrics := observability.NewMetrics()
	srv, _ := newContentsServer(t, WithMetrics(metrics))

	serve(t, srv, http.MethodGet, "/api/contents/a/b/c.txt", "")
	serve(t, srv, http.MethodGet, "/api/contents/x.txt", "")

	rec := serve(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/contents/*"`)
	assert.NotContains(t, rec.Body.String(), "c.txt")
}

func TestServer_RunShutsDownOnCancel(t *testing.T) {
	handlers.InitHealthManager("test")
	srv := New("127.0.0.1", 0, WithTimeouts(0, 0, 0, time.Second))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
