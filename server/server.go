// Package server exposes the analyzer over HTTP: clients submit samples,
// a worker pool analyses them, and results stay available for a while.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/ratelimit"
	"github.com/arturoeanton/wshbox/report"

	"github.com/go-redis/redis"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// ErrQueueFull is returned when no more submissions can be queued.
var ErrQueueFull = errors.New("analysis queue is full")

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("server is shutting down")

// Sink receives every finished analysis.
type Sink func(ctx context.Context, res *engine.Result) error

// Options wires the optional collaborators.
type Options struct {
	Sinks  []Sink
	Runner engine.Runner // Runs the submitted samples (default: the analyzer, in process)
	DB     *sql.DB       // Checked by the health endpoint
	Redis  *redis.Client // Checked by the health endpoint, shared with the rate limiter
}

// Server owns the HTTP routes, the job registry and the worker pool.
type Server struct {
	config   *engine.Config
	analyzer *engine.Analyzer
	runner   engine.Runner
	echo     *echo.Echo
	jobs     *Registry
	queue    chan *Job
	limiter  ratelimit.RateLimiter
	metrics  *Metrics
	sinks    []Sink
	db       *sql.DB
	redis    *redis.Client

	wg       sync.WaitGroup
	closed   atomic.Bool
	mu       sync.RWMutex
	stopOnce sync.Once
}

// New builds the server and starts its workers.
func New(config *engine.Config, analyzer *engine.Analyzer, opts Options) *Server {
	sc := config.Server
	workers := sc.Workers
	if workers <= 0 {
		workers = 1
	}
	ttl := time.Duration(sc.ResultTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	s := &Server{
		config:   config,
		analyzer: analyzer,
		runner:   opts.Runner,
		echo:     echo.New(),
		jobs:     NewRegistry(ttl, 4096),
		queue:    make(chan *Job, sc.QueueSize),
		limiter:  ratelimit.NewRateLimiter(&config.RateLimit, opts.Redis),
		metrics:  newMetrics(),
		sinks:    opts.Sinks,
		db:       opts.DB,
		redis:    opts.Redis,
	}
	if s.runner == nil {
		s.runner = analyzer
	}
	if dir := config.Output.Directory; dir != "" {
		s.sinks = append(s.sinks, directorySink(dir, config.Output))
	}

	s.routes()
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("Sandbox server ready: %d worker(s), queue of %d", workers, cap(s.queue))
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metricsMiddleware())

	e.GET(s.config.Server.HealthPath, s.handleHealth)
	e.HEAD(s.config.Server.HealthPath, s.handleHealth)
	e.GET(s.config.Server.MetricsPath, s.handleMetrics)

	auth := s.authMiddleware()
	e.GET("/samples", s.handleList, auth)

	sample := e.Group("/sample", auth)
	sample.POST("", s.handleSubmit,
		middleware.BodyLimit(fmt.Sprintf("%dM", s.maxSampleMB())),
		ratelimit.Middleware(&s.config.RateLimit, s.limiter))
	sample.GET("/:id", s.handleStatus)
	sample.DELETE("/:id", s.handleDelete)
	sample.GET("/:id/iocs", s.handleIOCs)
	sample.GET("/:id/urls", s.handleURLs)
	sample.GET("/:id/static", s.handleStatic)
	sample.GET("/:id/snippets", s.handleSnippets)
	sample.GET("/:id/resources", s.handleResources)
	sample.GET("/:id/resources/:rid", s.handleResource)
	sample.GET("/:id/summary", s.handleSummary)
	sample.GET("/:id/events", s.handleEvents)

	if s.config.Server.Debug {
		s.registerDebug(e)
	}
}

func (s *Server) maxSampleMB() int {
	if s.config.Server.MaxSampleMB <= 0 {
		return 16
	}
	return s.config.Server.MaxSampleMB
}

// authMiddleware requires the configured bearer token, when there is one.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	token := s.config.Server.AuthToken
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(echo.Context) bool { return token == "" },
		Validator: func(key string, c echo.Context) (bool, error) {
			return key == token, nil
		},
	})
}

// Submit queues a sample for analysis.
func (s *Server) Submit(name string, data []byte) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	j := newJob(filepath.Base(name), data)
	s.jobs.add(j)
	select {
	case s.queue <- j:
		atomic.AddUint64(&s.metrics.samplesSubmitted, 1)
		logger.Verbosef("Queued %s as %s", j.Sample, j.ID)
		return j, nil
	default:
		s.jobs.Remove(j.ID)
		atomic.AddUint64(&s.metrics.samplesRejected, 1)
		return nil, ErrQueueFull
	}
}

// Jobs returns the job registry.
func (s *Server) Jobs() *Registry { return s.jobs }

func (s *Server) worker(n int) {
	defer s.wg.Done()
	for j := range s.queue {
		s.process(j)
	}
	logger.Verbosef("Worker %d stopped", n)
}

func (s *Server) process(j *Job) {
	if !j.start() {
		s.jobs.retire(j)
		return
	}

	res, err := s.runner.Analyze(j.ctx, j.Sample, j.data, j.observe)
	res.ID = j.ID
	cancelled := j.ctx.Err() != nil
	if err != nil {
		logger.Verbosef("Analysis %s ended with %v", j.ID, err)
	}
	state := JobDone
	if cancelled {
		state = JobCancelled
	}
	j.finish(state, res)
	s.metrics.analysisFinished(res, cancelled)

	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := sink(ctx, res); err != nil {
			atomic.AddUint64(&s.metrics.sinkErrors, 1)
			logger.Errorf("Delivering analysis %s: %v", j.ID, err)
		}
		cancel()
	}
	s.jobs.retire(j)
}

// Start serves on the configured address until Shutdown.
func (s *Server) Start() error {
	logger.Infof("Starting sandbox server on %s", s.config.Server.Addr)
	if err := s.echo.Start(s.config.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting submissions, cancels the pending analyses and
// waits for the workers.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.queue)
		s.mu.Unlock()

		err = s.echo.Shutdown(ctx)
		s.jobs.KillAll()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}
		s.limiter.Close()
		s.jobs.Close()
		logger.Info("Sandbox server stopped")
	})
	return err
}

// directorySink writes every result to dir/<analysis id>.
func directorySink(dir string, out engine.OutputConfig) Sink {
	return func(_ context.Context, res *engine.Result) error {
		return report.WriteDirectory(filepath.Join(dir, res.ID), res, report.Options{
			Summary:   out.Summary,
			Overwrite: out.Overwrite,
		})
	}
}
