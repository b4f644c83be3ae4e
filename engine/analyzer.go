package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/arturoeanton/wshbox/analyzer"
	"github.com/arturoeanton/wshbox/cache"
	"github.com/arturoeanton/wshbox/emulator"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/literals"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/preprocess"
	"github.com/arturoeanton/wshbox/rewrite"

	"github.com/google/uuid"
)

// Result is everything an analysis produced.
type Result struct {
	ID                     string             `json:"id"`
	Sample                 string             `json:"sample"`
	SHA256                 string             `json:"sha256"`
	Size                   int                `json:"size"`
	Encoding               string             `json:"encoding"`
	WSF                    bool               `json:"wsf"`
	ConditionalCompilation bool               `json:"conditional_compilation"`
	Passes                 []string           `json:"passes"`
	State                  State              `json:"state"`
	StartedAt              time.Time          `json:"started_at"`
	Duration               time.Duration      `json:"duration"`
	Error                  string             `json:"error,omitempty"`
	ExitCode               int                `json:"exit_code"`
	QuitCode               *int               `json:"quit_code,omitempty"`
	Findings               []analyzer.Finding `json:"findings"`
	Events                 []ioc.Event        `json:"events"`
	URLs                   []string           `json:"urls"`
	Resources              []ioc.Resource     `json:"resources"`
	Snippets               []ioc.Snippet      `json:"snippets"`

	Source    string `json:"-"` // Prepared source, before rewriting
	Rewritten string `json:"-"` // Code handed to the interpreter
	Err       error  `json:"-"`
}

func (r *Result) fail(err error) {
	r.Err = err
	r.Error = err.Error()
	r.ExitCode = ExitCode(err)
	if r.State == StateIdle {
		r.State = StateFaulted
	}
}

// Analyzer runs samples through preprocessing, the static scan, the
// rewrite pipeline and the sandbox. An Analyzer may run many samples
// concurrently; every run gets its own interpreter and recorder.
type Analyzer struct {
	config    *Config
	log       *logger.Logger
	scanner   *analyzer.Scanner
	pipeline  *rewrite.Pipeline
	cache     *cache.Cache
	runner    preprocess.ToolRunner
	listeners []ioc.Listener
}

// NewAnalyzer creates an analyzer for config. log may be nil.
func NewAnalyzer(config *Config, log *logger.Logger) *Analyzer {
	if log == nil {
		log = logger.Std()
	}
	return &Analyzer{
		config:   config,
		log:      log,
		scanner:  analyzer.NewScanner(),
		pipeline: rewrite.NewPipeline(config.RewriteOptions(), log),
		cache:    cache.NewCache(10*time.Minute, 1024),
	}
}

// SetToolRunner replaces the runner used for conditional compilation.
func (a *Analyzer) SetToolRunner(r preprocess.ToolRunner) { a.runner = r }

// OnEvent registers a listener notified of every IOC event of every run.
// It must be called before the first Analyze.
func (a *Analyzer) OnEvent(l ioc.Listener) { a.listeners = append(a.listeners, l) }

// Scanner returns the static indicator scanner.
func (a *Analyzer) Scanner() *analyzer.Scanner { return a.scanner }

// Close releases the rewrite cache.
func (a *Analyzer) Close() { a.cache.Close() }

// Analyze runs one sample. The returned Result is never nil; the error is
// also stored in it. listeners only observe this run.
func (a *Analyzer) Analyze(ctx context.Context, name string, data []byte, listeners ...ioc.Listener) (*Result, error) {
	res := a.newResult(name, data)
	defer func() { res.Duration = time.Since(res.StartedAt) }()
	a.log.Infof("Analyzing %s (%s)", name, res.SHA256)

	if err := a.prepare(ctx, res, data); err != nil {
		res.fail(err)
		return res, err
	}
	rec := ioc.NewMemoryRecorder()
	rec.OnEvent(func(e ioc.Event) {
		a.log.Verbosef("IOC %s: %s", e.Category, e.Description)
	})
	for _, l := range a.listeners {
		rec.OnEvent(l)
	}
	for _, l := range listeners {
		rec.OnEvent(l)
	}

	sb, err := NewSandbox(rec, SandboxOptions{
		Host:          a.hostOptions(name),
		Limits:        a.config.Limits(),
		HiddenGlobals: a.config.Sandbox.HiddenGlobals,
		Logger:        a.log,
	})
	if err != nil {
		res.fail(err)
		return res, err
	}

	runErr := sb.Run(ctx, name, res.Rewritten)
	res.State = sb.State()
	if code, ok := sb.QuitCode(); ok {
		res.QuitCode = &code
	}
	res.Events = rec.Events()
	res.URLs = rec.URLs()
	res.Resources = rec.Resources()
	res.Snippets = rec.Snippets()
	if runErr != nil {
		res.fail(runErr)
		return res, runErr
	}
	a.log.Infof("Analysis of %s completed: %d event(s), %d URL(s), %d resource(s)",
		name, len(res.Events), len(res.URLs), len(res.Resources))
	return res, nil
}

// Inspect prepares, scans and rewrites a sample without running it.
func (a *Analyzer) Inspect(ctx context.Context, name string, data []byte) (*Result, error) {
	res := a.newResult(name, data)
	defer func() { res.Duration = time.Since(res.StartedAt) }()
	if err := a.prepare(ctx, res, data); err != nil {
		res.fail(err)
		return res, err
	}
	return res, nil
}

func (a *Analyzer) newResult(name string, data []byte) *Result {
	sum := sha256.Sum256(data)
	return &Result{
		ID:        uuid.NewString(),
		Sample:    name,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      len(data),
		Passes:    a.pipeline.PassNames(),
		StartedAt: time.Now().UTC(),
	}
}

// prepare decodes the sample, runs the static scan and the rewrite
// pipeline, filling Source, Findings and Rewritten.
func (a *Analyzer) prepare(ctx context.Context, res *Result, data []byte) error {
	prepared, err := preprocess.Prepare(ctx, data, preprocess.Options{
		Encoding:               a.config.Sandbox.Encoding,
		ConditionalCompilation: a.config.Rewrite.ConditionalCompilation,
		Runner:                 a.runner,
	})
	if err != nil {
		return err
	}
	res.Source = prepared.Source
	res.Encoding = prepared.Encoding
	res.WSF = prepared.WSF
	res.ConditionalCompilation = prepared.CCOn

	res.Findings = a.scanner.Scan(prepared.Source)
	a.log.Verbosef("Static scan found %d indicator(s)", len(res.Findings))

	a.log.Info("Rewriting code...")
	rewritten, err := a.pipeline.Rewrite(prepared.Source)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) && perr.Hint == "" && strings.HasSuffix(strings.ToLower(res.Sample), ".jse") {
			perr.Hint = rewrite.EncodedScriptHint
		}
		return err
	}
	res.Rewritten = rewritten
	return nil
}

func (a *Analyzer) hostOptions(name string) emulator.Options {
	opts := emulator.DefaultOptions()
	sc := a.config.Sandbox
	if sc.ScriptEngine != "" {
		opts.ScriptEngine = sc.ScriptEngine
	}
	if sc.ScriptName != "" {
		opts.ScriptName = sc.ScriptName
		opts.ScriptFullName = strings.TrimSuffix(literals.SCRIPT_FULLNAME, literals.SCRIPT_NAME) + sc.ScriptName
	}
	if sc.SampleURL != "" {
		opts.LocationURL = sc.SampleURL
	}
	if sc.UserAgent != "" {
		opts.UserAgent = sc.UserAgent
	}
	opts.Arguments = sc.Arguments
	opts.Rewrite = a.pipeline.Rewrite
	opts.Cache = a.cache
	return opts
}
