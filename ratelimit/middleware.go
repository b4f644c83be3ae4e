package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/labstack/echo/v4"
)

// Middleware throttles the routes it wraps with rateLimiter.
func Middleware(config *engine.RateLimitConfig, rateLimiter RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !config.Enabled {
				return next(c)
			}

			path := c.Request().URL.Path
			if IsPathExcluded(path, config.ExcludedPaths) {
				return next(c)
			}

			ip := getClientIP(c.Request())
			if IsIPExcluded(ip, config.ExcludedIPs) {
				return next(c)
			}

			d := rateLimiter.AllowIP(ip)
			header := c.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.Allowed {
				return next(c)
			}

			logger.Verbosef("Rate limit exceeded for %s on %s", ip, path)
			seconds := int(d.RetryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			if config.RetryAfterHeader {
				header.Set("Retry-After", strconv.Itoa(seconds))
			}
			header.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.RetryAfter).Unix(), 10))

			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error":       "Too many submissions. Please try again later.",
				"retry_after": seconds,
			})
		}
	}
}

// getClientIP prefers the proxy headers over the connection address.
func getClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
