// Package main implements the wshbox command line.
// wshbox deobfuscates and runs Windows Script Host JScript samples inside an
// emulated host, recording every action the sample attempts as an IOC.
// Samples given as arguments are analysed in turn; with -serve the same
// analyzer is exposed over HTTP. Every analysis runs in a worker process,
// the same binary started with -worker, unless isolation is disabled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/arturoeanton/gocommons/utils"
	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/report"
	"github.com/arturoeanton/wshbox/server"

	"github.com/go-redis/redis"
)

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

var (
	configPath = flag.String("config", "", "TOML configuration file (default: config.toml when present)")
	outputDir  = flag.String("output", "", "Results directory")
	overwrite  = flag.Bool("overwrite", false, "Reuse a non-empty results directory")
	noSummary  = flag.Bool("no-summary", false, "Do not render summary.txt")
	timeout    = flag.Int("timeout", 0, "Execution budget in seconds")
	maxMemory  = flag.Int("max-memory", -1, "Heap growth budget in MB, 0 disables")
	scriptHost = flag.String("engine", "", "Reported host executable (wscript.exe or cscript.exe)")
	encoding   = flag.String("encoding", "", "Sample charset, detected when empty")
	sampleURL  = flag.String("url", "", "document.location of the emulated browser")

	loops             = flag.Bool("loops", false, "Collapse recognised wait and counted loops")
	calls             = flag.Bool("calls", false, "Rewrite call sites through the call helper")
	dumbConcat        = flag.Bool("dumb-concat", false, "Collapse literal string concatenations")
	noMemberFunctions = flag.Bool("no-member-functions", false, "Do not rewrite 'function A.B()' declarations")
	noTypeof          = flag.Bool("no-typeof", false, "Do not rewrite typeof")
	noEval            = flag.Bool("no-eval", false, "Do not rewrite eval")
	noCatch           = flag.Bool("no-catch", false, "Do not rewrite catch clauses")
	noCC              = flag.Bool("no-cc", false, "Do not expand conditional compilation")

	useDB    = flag.Bool("db", false, "Store events in the configured database")
	useRedis = flag.Bool("redis", false, "Publish events on the configured redis channel")
	serve    = flag.Bool("serve", false, "Run the sample submission server")
	addr     = flag.String("addr", "", "Server listen address")

	noIsolate = flag.Bool("no-isolate", false, "Run analyses in this process instead of a worker process")
	worker    = flag.Bool(strings.TrimPrefix(engine.WorkerFlag, "-"), false, "Internal: run the analysis requested on stdin")

	verbose = flag.Bool("v", false, "Enable verbose logging")
	debug   = flag.Bool("debug", false, "Enable debug logging")

	scriptArgs stringList
)

func init() {
	flag.Var(&scriptArgs, "arg", "WScript.Arguments entry (repeatable)")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] sample.js [sample.js ...]\n       %s [flags] -serve\n\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *worker {
		os.Exit(runWorker())
	}

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(engine.ExitCode(err))
	}
	logger.Initialize(config.LogLevel())
	logger.Debugf("Configuration: %+v", config.Sandbox)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		os.Exit(runServer(ctx, config))
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(engine.ExitInputError)
	}
	os.Exit(analyzeFiles(ctx, config, flag.Args()))
}

// loadConfig reads the configuration file and the environment, then
// applies the flags given on the command line.
func loadConfig() (*engine.Config, error) {
	path := *configPath
	if path == "" {
		if utils.Exists("config.toml") {
			path = "config.toml"
		}
	}
	config, err := engine.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			config.Output.Directory = *outputDir
		case "overwrite":
			config.Output.Overwrite = *overwrite
		case "no-summary":
			config.Output.Summary = !*noSummary
		case "timeout":
			config.Sandbox.TimeoutSeconds = *timeout
		case "max-memory":
			config.Sandbox.MaxMemoryMB = *maxMemory
		case "engine":
			config.Sandbox.ScriptEngine = *scriptHost
		case "encoding":
			config.Sandbox.Encoding = *encoding
		case "url":
			config.Sandbox.SampleURL = *sampleURL
		case "arg":
			config.Sandbox.Arguments = scriptArgs
		case "loops":
			config.Rewrite.Loops = *loops
		case "calls":
			config.Rewrite.Calls = *calls
		case "dumb-concat":
			config.Rewrite.DumbConcat = *dumbConcat
		case "no-member-functions":
			config.Rewrite.MemberFunctions = !*noMemberFunctions
		case "no-typeof":
			config.Rewrite.Typeof = !*noTypeof
		case "no-eval":
			config.Rewrite.Eval = !*noEval
		case "no-catch":
			config.Rewrite.Catch = !*noCatch
		case "no-cc":
			config.Rewrite.ConditionalCompilation = !*noCC
		case "db":
			config.Database.Enabled = *useDB
		case "redis":
			config.Redis.Enabled = *useRedis
		case "addr":
			config.Server.Addr = *addr
		case "no-isolate":
			config.Sandbox.Isolate = !*noIsolate
		case "v":
			if *verbose {
				config.Log.Level = "verbose"
			}
		case "debug":
			if *debug {
				config.Log.Level = "debug"
			}
		}
	})
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// sinks holds the optional result destinations.
type sinks struct {
	list   []server.Sink
	db     *report.SQLSink
	redis  *report.RedisPublisher
	client *redis.Client
}

func openSinks(ctx context.Context, config *engine.Config) (*sinks, error) {
	s := &sinks{}
	if config.Database.Enabled {
		db, err := report.OpenDB(ctx, config.Database)
		if err != nil {
			return nil, err
		}
		s.db = report.NewSQLSink(db, config.Database.Driver, config.Database.BatchSize)
		if err := s.db.Migrate(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.list = append(s.list, s.db.Store)
		logger.Infof("Storing events in %s database", config.Database.Driver)
	}
	if config.Redis.Enabled {
		p, err := report.NewRedisPublisher(config.Redis)
		if err != nil {
			s.close()
			return nil, err
		}
		s.redis = p
		s.client = p.Client()
		s.list = append(s.list, func(_ context.Context, res *engine.Result) error {
			return p.Publish(res)
		})
		logger.Infof("Publishing events on redis channel %s", p.Channel())
	}
	return s, nil
}

func (s *sinks) close() {
	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}

// runWorker serves one analysis request read from stdin. The process exits
// with ExitTimeout if the script is still running once the kill deadline
// has passed, even when it is stuck in native code.
func runWorker() int {
	req, err := engine.ReadWorkerRequest(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return engine.ExitCode(err)
	}
	logger.Initialize(req.Config.LogLevel())
	alarm(req.Config, req.Name)
	return req.Serve(context.Background(), os.Stdout)
}

// alarm ends the process at the kill deadline of a run.
func alarm(config *engine.Config, name string) *time.Timer {
	deadline := config.KillDeadline()
	return time.AfterFunc(deadline, func() {
		logger.Errorf("%s still running %s after the start, exiting", name, deadline)
		os.Exit(engine.ExitTimeout)
	})
}

// newRunner returns the worker process runner, or the in-process analyzer
// when isolation is disabled. The analyzer also serves the debug routes and
// must be closed by the caller.
func newRunner(config *engine.Config) (runner engine.Runner, analyzer *engine.Analyzer, err error) {
	analyzer = engine.NewAnalyzer(config, nil)
	if !config.Sandbox.Isolate {
		return analyzer, analyzer, nil
	}
	ir, err := engine.NewIsolatedRunner(config, engine.IsolationOptions{})
	if err != nil {
		analyzer.Close()
		return nil, nil, err
	}
	return ir, analyzer, nil
}

func analyzeFiles(ctx context.Context, config *engine.Config, paths []string) int {
	out, err := openSinks(ctx, config)
	if err != nil {
		logger.Error(err)
		return engine.ExitInputError
	}
	defer out.close()

	runner, analyzer, err := newRunner(config)
	if err != nil {
		logger.Error(err)
		return engine.ExitInputError
	}
	defer analyzer.Close()

	exit := engine.ExitOK
	for _, path := range paths {
		code := analyzeFile(ctx, config, runner, out, path, len(paths) > 1)
		if exit == engine.ExitOK {
			exit = code
		}
		if ctx.Err() != nil {
			break
		}
	}
	return exit
}

func analyzeFile(ctx context.Context, config *engine.Config, runner engine.Runner, out *sinks, path string, many bool) int {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Errorf("Reading %s: %v", path, err)
		return engine.ExitInputError
	}

	if !config.Sandbox.Isolate {
		defer alarm(config, path).Stop()
	}
	res, err := runner.Analyze(ctx, filepath.Base(path), data)
	if err != nil {
		logger.Errorf("%s: %v", path, err)
	}

	if dir := config.Output.Directory; dir != "" {
		if many {
			dir = filepath.Join(dir, filepath.Base(path)+".results")
		}
		opts := report.Options{Summary: config.Output.Summary, Overwrite: config.Output.Overwrite}
		if err := report.WriteDirectory(dir, res, opts); err != nil {
			logger.Errorf("Writing results of %s: %v", path, err)
		}
	} else if text, err := report.RenderSummary(res); err == nil {
		fmt.Print(text)
	}

	for _, sink := range out.list {
		sinkCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := sink(sinkCtx, res); err != nil {
			logger.Errorf("Delivering results of %s: %v", path, err)
		}
		cancel()
	}
	return res.ExitCode
}

func runServer(ctx context.Context, config *engine.Config) int {
	out, err := openSinks(ctx, config)
	if err != nil {
		logger.Error(err)
		return engine.ExitInputError
	}
	defer out.close()

	runner, analyzer, err := newRunner(config)
	if err != nil {
		logger.Error(err)
		return engine.ExitInputError
	}
	defer analyzer.Close()

	opts := server.Options{Sinks: out.list, Runner: runner, Redis: out.client}
	if out.db != nil {
		opts.DB = out.db.DB()
	}
	srv := server.New(config, analyzer, opts)
	if config.RateLimit.Enabled {
		logger.Infof("Rate limiting enabled: %d submissions per %d minute(s)",
			config.RateLimit.IPRateLimit, config.RateLimit.IPWindowMinutes)
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	code := engine.ExitOK
	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			logger.Error("Server failed: ", err)
			code = engine.ExitInputError
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown: ", err)
	}
	return code
}
