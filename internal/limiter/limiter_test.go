package limiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowPerIPBurst(t *testing.T) {
	rl := NewRateLimiter(1000, 0.001, 2, 100)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestAllowConcurrencyCap(t *testing.T) {
	rl := NewRateLimiter(1000, 1000, 100, 1)

	require.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.2"))

	rl.Done()
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestEvictIdleClients(t *testing.T) {
	rl := NewRateLimiter(1000, 1000, 100, 100)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	rl.Done()
	now = now.Add(10 * time.Minute)
	rl.Allow("fresh")
	rl.Done()

	assert.Equal(t, 1, rl.evict(5*time.Minute))
	assert.Contains(t, rl.clients, "fresh")
	assert.NotContains(t, rl.clients, "old")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/run", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}

func TestMiddlewareRejectsWithTooManyRequests(t *testing.T) {
	rl := NewRateLimiter(1000, 0.001, 1, 100)
	h := rl.Middleware(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/run", nil))
		assert.Equal(t, want, rec.Code, "request %d", i)
	}
	assert.Zero(t, rl.currentConc)
}
