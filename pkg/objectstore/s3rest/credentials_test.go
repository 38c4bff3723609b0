package s3rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/s3contents/pkg/auth"
	"github.com/3leaps/s3contents/test/s3fake"
)

// metadataServer serves container-style role credentials, returning keys[i] on
// the i-th fetch and the last key once the list is exhausted.
type metadataServer struct {
	*httptest.Server
	hits atomic.Int32

	mu      sync.Mutex
	keys    []string
	expires []time.Time
}

func newMetadataServer(t *testing.T) *metadataServer {
	t.Helper()
	ms := &metadataServer{}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(ms.hits.Add(1)) - 1
		ms.mu.Lock()
		i := min(n, len(ms.keys)-1)
		key, expires := ms.keys[i], ms.expires[i]
		ms.mu.Unlock()
		// Let concurrent callers queue behind the refresh.
		if n > 0 {
			time.Sleep(50 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"AccessKeyId":     key,
			"SecretAccessKey": "role-secret",
			"Token":           "role-token-" + key,
			"Expiration":      expires.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}))
	t.Cleanup(ms.Close)
	return ms
}

func (ms *metadataServer) serve(key string, expires time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.keys = append(ms.keys, key)
	ms.expires = append(ms.expires, expires)
}

func TestRoleCredentials_ConcurrentRefreshAfterExpiry(t *testing.T) {
	const margin = 5 * time.Minute

	meta := newMetadataServer(t)
	// Inside the refresh margin by a minute: the cached copy is already stale.
	meta.serve("AKIAONE00000001", time.Now().Add(margin-time.Minute))
	meta.serve("AKIATWO00000002", time.Now().Add(2*time.Hour))

	provider, err := auth.New(auth.Config{
		Strategy: auth.StrategyRole,
		Role: auth.RoleConfig{
			Source:        auth.RoleSourceContainer,
			Endpoint:      meta.URL,
			RefreshMargin: margin,
			Timeout:       2 * time.Second,
		},
	})
	require.NoError(t, err)

	fake := s3fake.New(t, testBucket)
	fake.PutObject("shared.txt", []byte("payload"), "text/plain")
	c := newTestClient(t, fake, WithCredentials(provider))
	ctx := context.Background()

	_, err = c.Get(ctx, "shared.txt")
	require.NoError(t, err)
	require.Equal(t, int32(1), meta.hits.Load())
	require.Len(t, fake.Requests(), 1)
	assert.Equal(t, "AKIAONE00000001", fake.Requests()[0].AccessKeyID)
	fake.ResetRequests()

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obj, err := c.Get(ctx, "shared.txt")
			if err == nil {
				assert.Equal(t, "payload", string(obj.Body))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), meta.hits.Load(), "one refresh shared by every caller")
	reqs := fake.Requests()
	require.Len(t, reqs, callers)
	for _, req := range reqs {
		assert.Equal(t, "AKIATWO00000002", req.AccessKeyID)
		assert.Equal(t, "role-token-AKIATWO00000002", req.SecurityToken)
	}
}
