package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_StoreObservations(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest("Get", 200, "", 10*time.Millisecond)
	m.ObserveRequest("Get", 503, "Transient", time.Millisecond)
	m.ObserveRequest("Get", 503, "Transient", time.Millisecond)
	m.ObserveRetry("Get", "Transient")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRequests.WithLabelValues("Get", "200", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.storeRequests.WithLabelValues("Get", "503", "Transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRetries.WithLabelValues("Get", "Transient")))
}

func TestMetrics_CredentialRefresh(t *testing.T) {
	m := NewMetrics()

	m.ObserveCredentialRefresh("role", nil)
	m.ObserveCredentialRefresh("role", errors.New("endpoint down"))
	m.ObserveCredentialRefresh("role", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.credRefreshes.WithLabelValues("role", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.credRefreshes.WithLabelValues("role", "failure")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest(http.MethodGet, "/api/contents/*", 200, time.Millisecond)
	m.ObserveBulkFailure("delete", "Transient")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "s3contents_http_requests_total")
	assert.Contains(t, body, "s3contents_bulk_failed_keys_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.ObserveRetry("Put", "Transient")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.storeRetries.WithLabelValues("Put", "Transient")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.storeRetries.WithLabelValues("Put", "Transient")))
	assert.NotSame(t, a.Registry(), b.Registry())
}
