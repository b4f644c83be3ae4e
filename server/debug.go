package server

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/ratelimit"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// debugMiddleware restricts the debug endpoints to the allowed addresses.
func (s *Server) debugMiddleware() echo.MiddlewareFunc {
	allowed := s.config.Server.DebugIPs
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if allowed == "" {
				return next(c)
			}
			ip := c.RealIP()
			if !ratelimit.IsIPExcluded(ip, allowed) {
				return c.JSON(http.StatusForbidden, echo.Map{
					"error": fmt.Sprintf("IP %s not allowed", ip),
				})
			}
			return next(c)
		}
	}
}

func (s *Server) registerDebug(e *echo.Echo) {
	logger.Info("Registering debug endpoints")
	debug := e.Group("/debug", s.authMiddleware(), s.debugMiddleware())

	debug.GET("/info", s.handleDebugInfo)
	debug.GET("/config", s.handleDebugConfig)
	debug.GET("/patterns", s.handleDebugPatterns)
	debug.POST("/rewrite", s.handleDebugRewrite, middleware.BodyLimit(fmt.Sprintf("%dM", s.maxSampleMB())))
}

func (s *Server) handleDebugInfo(c echo.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return c.JSON(http.StatusOK, echo.Map{
		"service":    "wshbox",
		"version":    Version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
		"alloc_mb":   m.Alloc / 1024 / 1024,
		"uptime":     time.Since(s.metrics.startTime).String(),
		"queue": echo.Map{
			"pending":  len(s.queue),
			"capacity": cap(s.queue),
		},
		"jobs": s.jobs.Active(),
	})
}

// handleDebugConfig returns the configuration without credentials.
func (s *Server) handleDebugConfig(c echo.Context) error {
	config := *s.config
	config.Database.DSN = redact(config.Database.DSN)
	config.Redis.Password = redact(config.Redis.Password)
	config.Server.AuthToken = redact(config.Server.AuthToken)
	return c.JSON(http.StatusOK, config)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

func (s *Server) handleDebugPatterns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.analyzer.Scanner().Patterns())
}

// handleDebugRewrite returns what the interpreter would run for the posted
// sample, without running it.
func (s *Server) handleDebugRewrite(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	name := c.QueryParam("name")
	if name == "" {
		name = defaultSampleName
	}

	res, err := s.analyzer.Inspect(c.Request().Context(), name, data)
	out := echo.Map{
		"sample":                  res.Sample,
		"sha256":                  res.SHA256,
		"encoding":                res.Encoding,
		"wsf":                     res.WSF,
		"conditional_compilation": res.ConditionalCompilation,
		"passes":                  res.Passes,
		"findings":                nonNil(res.Findings),
		"source":                  res.Source,
		"rewritten":               res.Rewritten,
	}
	if err != nil {
		out["error"] = err.Error()
		return c.JSON(http.StatusUnprocessableEntity, out)
	}
	return c.JSON(http.StatusOK, out)
}
