// Package ratelimit throttles sample submissions per client address.
package ratelimit

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/go-redis/redis"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter decides whether a client may submit another sample.
type RateLimiter interface {
	// AllowIP consumes one submission for ip when available.
	AllowIP(ip string) Decision

	// ResetIP forgets the history of ip.
	ResetIP(ip string)

	// Close stops background work.
	Close()
}

// NewRateLimiter creates the limiter selected by config. The redis backend
// falls back to memory when no client is available.
func NewRateLimiter(config *engine.RateLimitConfig, redisClient *redis.Client) RateLimiter {
	if !config.Enabled {
		return noopRateLimiter{}
	}

	switch strings.ToLower(config.Backend) {
	case "redis":
		if redisClient == nil {
			logger.Warn("Redis client not available, rate limiting falls back to memory")
			return newMemoryRateLimiter(config)
		}
		return newRedisRateLimiter(config, redisClient)
	default:
		return newMemoryRateLimiter(config)
	}
}

func window(config *engine.RateLimitConfig) time.Duration {
	if config.IPWindowMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(config.IPWindowMinutes) * time.Minute
}

type noopRateLimiter struct{}

func (noopRateLimiter) AllowIP(string) Decision { return Decision{Allowed: true} }

func (noopRateLimiter) ResetIP(string) {}

func (noopRateLimiter) Close() {}

// memoryRateLimiter keeps one token bucket per address. Buckets hold up to
// limit+burst tokens and refill at limit tokens per window.
type memoryRateLimiter struct {
	config    *engine.RateLimitConfig
	window    time.Duration
	buckets   map[string]*bucket
	mu        sync.Mutex
	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

func newMemoryRateLimiter(config *engine.RateLimitConfig) *memoryRateLimiter {
	rl := &memoryRateLimiter{
		config:  config,
		window:  window(config),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	interval := time.Duration(config.CleanupInterval) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	rl.ticker = time.NewTicker(interval)
	go rl.cleanup()
	return rl
}

func (m *memoryRateLimiter) capacity() float64 {
	return float64(m.config.IPRateLimit + m.config.IPBurstSize)
}

func (m *memoryRateLimiter) AllowIP(ip string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[ip]
	if !ok {
		b = &bucket{tokens: m.capacity(), lastFill: now}
		m.buckets[ip] = b
	}

	rate := float64(m.config.IPRateLimit) / float64(m.window)
	if elapsed := now.Sub(b.lastFill); elapsed > 0 {
		b.tokens += float64(elapsed) * rate
		if b.tokens > m.capacity() {
			b.tokens = m.capacity()
		}
		b.lastFill = now
	}

	d := Decision{Limit: m.config.IPRateLimit}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(b.tokens)
		return d
	}
	if rate > 0 {
		d.RetryAfter = time.Duration((1 - b.tokens) / rate)
	} else {
		d.RetryAfter = m.window
	}
	return d
}

func (m *memoryRateLimiter) ResetIP(ip string) {
	m.mu.Lock()
	delete(m.buckets, ip)
	m.mu.Unlock()
}

func (m *memoryRateLimiter) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.ticker.Stop()
	})
}

func (m *memoryRateLimiter) cleanup() {
	for {
		select {
		case <-m.ticker.C:
			m.cleanupBuckets()
		case <-m.done:
			return
		}
	}
}

// cleanupBuckets drops buckets idle long enough to be full again.
func (m *memoryRateLimiter) cleanupBuckets() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for ip, b := range m.buckets {
		if now.Sub(b.lastFill) > m.window*2 {
			delete(m.buckets, ip)
		}
	}
	logger.Verbosef("Rate limiter cleanup: %d buckets", len(m.buckets))
}

// redisRateLimiter is a sliding window log shared by every server using the
// same redis database.
type redisRateLimiter struct {
	config *engine.RateLimitConfig
	window time.Duration
	client *redis.Client
}

func newRedisRateLimiter(config *engine.RateLimitConfig, client *redis.Client) *redisRateLimiter {
	return &redisRateLimiter{config: config, window: window(config), client: client}
}

func redisKey(ip string) string {
	return "wshbox:ratelimit:" + ip
}

func (r *redisRateLimiter) AllowIP(ip string) Decision {
	key := redisKey(ip)
	limit := r.config.IPRateLimit + r.config.IPBurstSize
	now := time.Now()
	windowStart := now.Add(-r.window)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	count := pipe.ZCard(key)
	oldest := pipe.ZRangeWithScores(key, 0, 0)
	if _, err := pipe.Exec(); err != nil {
		logger.Error("Redis rate limit error: ", err)
		return Decision{Allowed: true, Limit: r.config.IPRateLimit}
	}

	d := Decision{Limit: r.config.IPRateLimit}
	if n := int(count.Val()); n >= limit {
		d.RetryAfter = r.window
		if first := oldest.Val(); len(first) > 0 {
			d.RetryAfter = time.Unix(0, int64(first[0].Score)).Add(r.window).Sub(now)
		}
		return d
	}

	pipe = r.client.TxPipeline()
	pipe.ZAdd(key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(key, r.window)
	if _, err := pipe.Exec(); err != nil {
		logger.Error("Redis rate limit error: ", err)
	}
	d.Allowed = true
	d.Remaining = limit - int(count.Val()) - 1
	return d
}

func (r *redisRateLimiter) ResetIP(ip string) {
	r.client.Del(redisKey(ip))
}

// Close leaves the client open; it belongs to the caller.
func (r *redisRateLimiter) Close() {}

// IsIPExcluded reports whether ip matches a comma separated list of
// addresses and CIDR blocks.
func IsIPExcluded(ip string, excludedIPs string) bool {
	if excludedIPs == "" {
		return false
	}
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, excluded := range strings.Split(excludedIPs, ",") {
		excluded = strings.TrimSpace(excluded)
		if excluded == "" {
			continue
		}
		if strings.Contains(excluded, "/") {
			_, ipNet, err := net.ParseCIDR(excluded)
			if err == nil && ipNet.Contains(clientIP) {
				return true
			}
		} else if other := net.ParseIP(excluded); other != nil && other.Equal(clientIP) {
			return true
		}
	}
	return false
}

// IsPathExcluded reports whether path starts with one of the comma
// separated prefixes.
func IsPathExcluded(path string, excludedPaths string) bool {
	for _, excluded := range strings.Split(excludedPaths, ",") {
		excluded = strings.TrimSpace(excluded)
		if excluded != "" && strings.HasPrefix(path, excluded) {
			return true
		}
	}
	return false
}
