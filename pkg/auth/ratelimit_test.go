package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-weather/pkg/jsonrpc"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := NewRateLimiter(1000, 10, 0)
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow("test-key"), "request %d within burst", i)
	}
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2, 0)
	assert.True(t, limiter.Allow("test-key"))
	assert.True(t, limiter.Allow("test-key"))
	assert.False(t, limiter.Allow("test-key"))
}

func TestRateLimiterPerKeyIsolation(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2, 0)
	limiter.Allow("key1")
	limiter.Allow("key1")
	assert.False(t, limiter.Allow("key1"))

	assert.True(t, limiter.Allow("key2"))
	assert.True(t, limiter.Allow("key2"))
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 1, time.Hour)
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(30 * time.Minute)
	limiter.Allow("fresh")
	assert.Equal(t, 2, limiter.Len())

	limiter.Cleanup(20 * time.Minute)
	assert.Equal(t, 1, limiter.Len())
}

func TestRateLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 1, time.Minute)
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	limiter.Allow("b")
	now = now.Add(2 * time.Minute)
	limiter.Allow("c")
	assert.Equal(t, 1, limiter.Len())
}

func TestRateLimiterConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(10000, 100, 0)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			limiter.Allow("key-" + string(rune('0'+i%10)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, limiter.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(0.1, 1, 0)
	h := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(tenantID, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/mcp", http.NoBody)
		req.RemoteAddr = remote
		if tenantID != "" {
			req = req.WithContext(WithIdentity(req.Context(), &Identity{TenantID: tenantID}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("tenant-a", "10.0.0.1:1000").Code)
	rec := send("tenant-a", "10.0.0.2:1000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	resp := decodeRPCError(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeRateLimited, resp.Error.Code)
	assert.Equal(t, msgRateLimited, resp.Error.Message)

	assert.Equal(t, http.StatusOK, send("tenant-b", "10.0.0.1:1000").Code)

	assert.Equal(t, http.StatusOK, send("", "192.168.1.5:4000").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("", "192.168.1.5:4001").Code)
}
