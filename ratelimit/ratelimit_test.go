package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *engine.RateLimitConfig {
	return &engine.RateLimitConfig{
		Enabled:          true,
		IPRateLimit:      2,
		IPWindowMinutes:  1,
		IPBurstSize:      1,
		Backend:          "memory",
		CleanupInterval:  10,
		RetryAfterHeader: true,
	}
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	rl := NewRateLimiter(&engine.RateLimitConfig{}, nil)
	defer rl.Close()
	for i := 0; i < 100; i++ {
		assert.True(t, rl.AllowIP("10.0.0.1").Allowed)
	}
}

func TestRedisBackendWithoutClientFallsBack(t *testing.T) {
	config := testConfig()
	config.Backend = "redis"
	rl := NewRateLimiter(config, nil)
	defer rl.Close()
	_, ok := rl.(*memoryRateLimiter)
	assert.True(t, ok)
}

func TestMemoryLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(testConfig())
	rl.now = func() time.Time { return now }
	defer rl.Close()

	// limit + burst submissions go through, the next one is refused.
	for i := 0; i < 3; i++ {
		d := rl.AllowIP("10.0.0.1")
		require.True(t, d.Allowed, "submission %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d := rl.AllowIP("10.0.0.1")
	assert.False(t, d.Allowed)
	assert.InDelta(t, float64(30*time.Second), float64(d.RetryAfter), float64(time.Millisecond))

	// Other clients are unaffected.
	assert.True(t, rl.AllowIP("10.0.0.2").Allowed)

	// Two tokens per minute: one is back after about 30 seconds.
	now = now.Add(31 * time.Second)
	assert.True(t, rl.AllowIP("10.0.0.1").Allowed)
	assert.False(t, rl.AllowIP("10.0.0.1").Allowed)

	rl.ResetIP("10.0.0.1")
	assert.True(t, rl.AllowIP("10.0.0.1").Allowed)
}

func TestMemoryLimiterCleanup(t *testing.T) {
	now := time.Now()
	rl := newMemoryRateLimiter(testConfig())
	rl.now = func() time.Time { return now }
	defer rl.Close()

	rl.AllowIP("10.0.0.1")
	now = now.Add(3 * time.Minute)
	rl.AllowIP("10.0.0.2")
	rl.cleanupBuckets()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "10.0.0.1")
	assert.Contains(t, rl.buckets, "10.0.0.2")
}

func TestExclusions(t *testing.T) {
	assert.True(t, IsIPExcluded("192.168.1.20", "10.0.0.1, 192.168.1.0/24"))
	assert.True(t, IsIPExcluded("10.0.0.1", "10.0.0.1"))
	assert.False(t, IsIPExcluded("172.16.0.1", "10.0.0.1,192.168.1.0/24"))
	assert.False(t, IsIPExcluded("not-an-ip", "10.0.0.0/8"))
	assert.False(t, IsIPExcluded("10.0.0.1", ""))

	assert.True(t, IsPathExcluded("/health", "/health,/metrics"))
	assert.False(t, IsPathExcluded("/sample", "/health,/metrics"))
	assert.False(t, IsPathExcluded("/sample", ""))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/sample", nil)
	req.RemoteAddr = "10.1.1.1:5555"
	assert.Equal(t, "10.1.1.1", getClientIP(req))

	req.RemoteAddr = "[::1]:5555"
	assert.Equal(t, "::1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", getClientIP(req))
}

func TestMiddleware(t *testing.T) {
	config := testConfig()
	config.IPBurstSize = 0
	config.IPRateLimit = 1
	config.ExcludedPaths = "/health"
	rl := NewRateLimiter(config, nil)
	defer rl.Close()

	e := echo.New()
	e.Use(Middleware(config, rl))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.POST("/sample", ok)
	e.GET("/health", ok)

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/sample")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = do(http.MethodPost, "/sample")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "retry_after")

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(http.MethodGet, "/health").Code)
	}
}
