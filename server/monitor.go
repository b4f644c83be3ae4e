package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/labstack/echo/v4"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Metrics counts requests and analyses for the metrics endpoint.
type Metrics struct {
	requestsTotal    uint64
	requestsDuration uint64 // microseconds
	requestsErrors   uint64
	activeRequests   int64

	samplesSubmitted uint64
	samplesRejected  uint64

	analysesTotal     uint64
	analysesDuration  uint64 // microseconds
	analysesCompleted uint64
	analysesTimedOut  uint64
	analysesFaulted   uint64
	analysesCancelled uint64
	eventsTotal       uint64
	sinkErrors        uint64

	startTime time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) analysisFinished(res *engine.Result, cancelled bool) {
	atomic.AddUint64(&m.analysesTotal, 1)
	if res == nil {
		atomic.AddUint64(&m.analysesCancelled, 1)
		return
	}
	atomic.AddUint64(&m.analysesDuration, uint64(res.Duration.Microseconds()))
	atomic.AddUint64(&m.eventsTotal, uint64(len(res.Events)))
	switch {
	case cancelled:
		atomic.AddUint64(&m.analysesCancelled, 1)
	case res.State == engine.StateCompleted:
		atomic.AddUint64(&m.analysesCompleted, 1)
	case res.State == engine.StateTimedOut:
		atomic.AddUint64(&m.analysesTimedOut, 1)
	default:
		atomic.AddUint64(&m.analysesFaulted, 1)
	}
}

// metricsMiddleware counts every request except the monitoring ones.
func (s *Server) metricsMiddleware() echo.MiddlewareFunc {
	m := s.metrics
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == s.config.Server.MetricsPath || c.Path() == s.config.Server.HealthPath {
				return next(c)
			}

			start := time.Now()
			atomic.AddInt64(&m.activeRequests, 1)
			atomic.AddUint64(&m.requestsTotal, 1)

			err := next(c)

			atomic.AddUint64(&m.requestsDuration, uint64(time.Since(start).Microseconds()))
			atomic.AddInt64(&m.activeRequests, -1)
			if err != nil || c.Response().Status >= 400 {
				atomic.AddUint64(&m.requestsErrors, 1)
			}
			return err
		}
	}
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  int64                      `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Version    string                     `json:"version"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is the state of one dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	health := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().Unix(),
		Uptime:     time.Since(s.metrics.startTime).Round(time.Second).String(),
		Version:    Version,
		Components: make(map[string]ComponentHealth),
	}
	degrade := func(name string, h ComponentHealth) {
		health.Components[name] = h
		if h.Status == "unhealthy" {
			health.Status = "degraded"
		}
	}

	degrade("queue", s.checkQueue())
	degrade("memory", checkMemory())

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if s.db != nil {
		h := ComponentHealth{Status: "healthy"}
		if err := s.db.PingContext(ctx); err != nil {
			h = ComponentHealth{Status: "unhealthy", Message: fmt.Sprintf("Database ping failed: %v", err)}
		}
		degrade("database", h)
	}
	if s.redis != nil {
		h := ComponentHealth{Status: "healthy"}
		if err := s.redis.Ping().Err(); err != nil {
			h = ComponentHealth{Status: "unhealthy", Message: fmt.Sprintf("Redis ping failed: %v", err)}
		}
		degrade("redis", h)
	}

	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, health)
}

func (s *Server) checkQueue() ComponentHealth {
	if s.closed.Load() {
		return ComponentHealth{Status: "unhealthy", Message: "Server is shutting down"}
	}
	pending, size := len(s.queue), cap(s.queue)
	if size > 0 && pending*10 >= size*9 {
		return ComponentHealth{Status: "warning", Message: fmt.Sprintf("Queue almost full: %d/%d", pending, size)}
	}
	return ComponentHealth{Status: "healthy"}
}

func checkMemory() ComponentHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc > 1024*1024*1024 {
		return ComponentHealth{Status: "warning", Message: fmt.Sprintf("High memory usage: %d MB", m.Alloc/1024/1024)}
	}
	return ComponentHealth{Status: "healthy"}
}

type metricsWriter struct {
	strings.Builder
}

func (w *metricsWriter) metric(name, kind, help string, value interface{}) {
	fmt.Fprintf(w, "# HELP wshbox_%s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE wshbox_%s %s\n", name, kind)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(w, "wshbox_%s %f\n\n", name, v)
	default:
		fmt.Fprintf(w, "wshbox_%s %d\n\n", name, v)
	}
}

// handleMetrics writes the counters in the Prometheus text format.
func (s *Server) handleMetrics(c echo.Context) error {
	m := s.metrics
	var w metricsWriter

	w.metric("up", "gauge", "Whether the sandbox server is up", 1)
	w.metric("uptime_seconds", "counter", "Seconds since the server started", time.Since(m.startTime).Seconds())

	w.metric("requests_total", "counter", "Total number of HTTP requests", atomic.LoadUint64(&m.requestsTotal))
	w.metric("requests_errors_total", "counter", "Total number of HTTP request errors", atomic.LoadUint64(&m.requestsErrors))
	w.metric("requests_active", "gauge", "Number of active HTTP requests", atomic.LoadInt64(&m.activeRequests))
	if total := atomic.LoadUint64(&m.requestsTotal); total > 0 {
		avg := float64(atomic.LoadUint64(&m.requestsDuration)) / float64(total) / 1000.0
		w.metric("request_duration_milliseconds", "gauge", "Average HTTP request duration", avg)
	}

	w.metric("samples_submitted_total", "counter", "Samples accepted for analysis", atomic.LoadUint64(&m.samplesSubmitted))
	w.metric("samples_rejected_total", "counter", "Samples refused because the queue was full", atomic.LoadUint64(&m.samplesRejected))
	w.metric("queue_pending", "gauge", "Samples waiting for a worker", len(s.queue))
	w.metric("jobs_active", "gauge", "Queued and running analyses", len(s.jobs.Active()))

	w.metric("analyses_total", "counter", "Finished analyses", atomic.LoadUint64(&m.analysesTotal))
	w.metric("analyses_completed_total", "counter", "Analyses that ran to completion", atomic.LoadUint64(&m.analysesCompleted))
	w.metric("analyses_timed_out_total", "counter", "Analyses stopped by the timeout", atomic.LoadUint64(&m.analysesTimedOut))
	w.metric("analyses_faulted_total", "counter", "Analyses that failed", atomic.LoadUint64(&m.analysesFaulted))
	w.metric("analyses_cancelled_total", "counter", "Analyses cancelled by a client", atomic.LoadUint64(&m.analysesCancelled))
	if total := atomic.LoadUint64(&m.analysesTotal); total > 0 {
		avg := float64(atomic.LoadUint64(&m.analysesDuration)) / float64(total) / 1000.0
		w.metric("analysis_duration_milliseconds", "gauge", "Average analysis duration", avg)
	}
	w.metric("ioc_events_total", "counter", "IOC events recorded", atomic.LoadUint64(&m.eventsTotal))
	w.metric("sink_errors_total", "counter", "Failed result deliveries", atomic.LoadUint64(&m.sinkErrors))

	if s.db != nil {
		stats := s.db.Stats()
		w.metric("db_connections_open", "gauge", "Number of open database connections", stats.OpenConnections)
		w.metric("db_connections_in_use", "gauge", "Number of database connections in use", stats.InUse)
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	w.metric("go_goroutines", "gauge", "Number of goroutines", runtime.NumGoroutine())
	w.metric("go_memory_alloc_bytes", "gauge", "Current memory allocation", ms.Alloc)
	w.metric("go_gc_runs_total", "counter", "Number of GC runs", ms.NumGC)

	c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4")
	return c.String(http.StatusOK, w.String())
}
