package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/rewrite"

	"github.com/google/uuid"
)

// WorkerFlag is the command line flag that starts a binary as an analysis
// worker.
const WorkerFlag = "-worker"

const (
	frameEvent  = "event"
	frameResult = "result"
)

// Runner analyses one sample. *Analyzer runs it in process; *IsolatedRunner
// runs it in a worker process.
type Runner interface {
	Analyze(ctx context.Context, name string, data []byte, listeners ...ioc.Listener) (*Result, error)
}

// WorkerRequest is what a worker process reads on stdin.
type WorkerRequest struct {
	Name   string  `json:"name"`
	Data   []byte  `json:"data"`
	Config *Config `json:"config"`
}

// workerFrame is one line a worker writes on stdout: an event as soon as
// it is recorded, then the result.
type workerFrame struct {
	Type   string        `json:"type"`
	Event  *ioc.Event    `json:"event,omitempty"`
	Result *workerResult `json:"result,omitempty"`
}

type workerResult struct {
	Result    *Result           `json:"result"`
	Source    string            `json:"source"`
	Rewritten string            `json:"rewritten"`
	Resources map[string][]byte `json:"resources"`
	Error     *WorkerError      `json:"error,omitempty"`
}

// ReadWorkerRequest decodes the request a worker process received.
func ReadWorkerRequest(r io.Reader) (*WorkerRequest, error) {
	var req WorkerRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("reading worker request: %w", err)}
	}
	if req.Config == nil {
		req.Config = DefaultConfig()
	}
	return &req, nil
}

// Serve analyses the requested sample in this process and writes the
// frames to w. It returns the exit code of the analysis.
func (req *WorkerRequest) Serve(ctx context.Context, w io.Writer) int {
	log := logger.New("worker", req.Config.LogLevel())
	a := NewAnalyzer(req.Config, log)
	defer a.Close()

	var mu sync.Mutex
	enc := json.NewEncoder(w)
	send := func(f workerFrame) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(f)
	}

	res, err := a.Analyze(ctx, req.Name, req.Data, func(e ioc.Event) {
		if err := send(workerFrame{Type: frameEvent, Event: &e}); err != nil {
			log.Errorf("Streaming event: %v", err)
		}
	})

	out := &workerResult{
		Result:    res,
		Source:    res.Source,
		Rewritten: res.Rewritten,
		Resources: make(map[string][]byte, len(res.Resources)),
	}
	for _, r := range res.Resources {
		out.Resources[r.ID] = r.Data
	}
	if err != nil {
		out.Error = &WorkerError{Code: ExitCode(err), Message: err.Error()}
	}
	if err := send(workerFrame{Type: frameResult, Result: out}); err != nil {
		log.Errorf("Writing result: %v", err)
		return ExitRuntimeFault
	}
	return res.ExitCode
}

// IsolationOptions configures an IsolatedRunner.
type IsolationOptions struct {
	Command []string       // Worker command line (default: this executable with -worker)
	Env     []string       // Added to the environment of the worker
	Logger  *logger.Logger // Receives the worker's log output
}

// IsolatedRunner runs every analysis in its own worker process. The
// worker's watchdog interrupts the script at the timeout; native code the
// interpreter cannot interrupt is stopped by killing the process once
// Config.KillDeadline has passed. Events recorded before the kill are kept.
type IsolatedRunner struct {
	config  *Config
	command []string
	env     []string
	log     *logger.Logger
	passes  []string
}

// NewIsolatedRunner creates a runner for config.
func NewIsolatedRunner(config *Config, opts IsolationOptions) (*IsolatedRunner, error) {
	command := opts.Command
	if len(command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating the worker executable: %w", err)
		}
		command = []string{exe, WorkerFlag}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Std()
	}
	return &IsolatedRunner{
		config:  config,
		command: command,
		env:     opts.Env,
		log:     log,
		passes:  rewrite.NewPipeline(config.RewriteOptions(), log).PassNames(),
	}, nil
}

// Analyze runs one sample in a worker process. listeners observe the events
// while the worker records them. The returned Result is never nil.
func (ir *IsolatedRunner) Analyze(ctx context.Context, name string, data []byte, listeners ...ioc.Listener) (*Result, error) {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, ir.config.KillDeadline())
	defer cancel()

	req, err := json.Marshal(WorkerRequest{Name: name, Data: data, Config: ir.config})
	if err != nil {
		return ir.failed(name, data, started, nil, err)
	}

	cmd := exec.CommandContext(runCtx, ir.command[0], ir.command[1:]...)
	cmd.Env = append(os.Environ(), ir.env...)
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stderr = ir.log.Writer()
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ir.failed(name, data, started, nil, err)
	}
	if err := cmd.Start(); err != nil {
		return ir.failed(name, data, started, nil, fmt.Errorf("starting worker: %w", err))
	}
	ir.log.Verbosef("Worker %d analyzing %s", cmd.Process.Pid, name)

	var (
		events []ioc.Event
		final  *workerResult
	)
	dec := json.NewDecoder(stdout)
	for {
		var f workerFrame
		if err := dec.Decode(&f); err != nil {
			if !errors.Is(err, io.EOF) && runCtx.Err() == nil {
				ir.log.Errorf("Reading worker output: %v", err)
			}
			break
		}
		switch {
		case f.Type == frameEvent && f.Event != nil:
			events = append(events, *f.Event)
			for _, l := range listeners {
				l(*f.Event)
			}
		case f.Type == frameResult && f.Result != nil:
			final = f.Result
		}
	}
	waitErr := cmd.Wait()

	if final != nil && final.Result != nil {
		return final.restore()
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return ir.failed(name, data, started, events, ctx.Err())
	case runCtx.Err() != nil:
		ir.log.Errorf("Worker for %s killed %s after the start", name, ir.config.KillDeadline())
		res := ir.partial(name, data, started, events)
		res.State = StateTimedOut
		res.fail(ErrTimeout)
		return res, ErrTimeout
	default:
		return ir.failed(name, data, started, events, &RuntimeFault{Message: fmt.Sprintf("worker process failed: %v", waitErr)})
	}
}

func (out *workerResult) restore() (*Result, error) {
	res := out.Result
	res.Source = out.Source
	res.Rewritten = out.Rewritten
	for i := range res.Resources {
		res.Resources[i].Data = out.Resources[res.Resources[i].ID]
	}
	if out.Error == nil {
		return res, nil
	}
	res.Err = out.Error
	return res, out.Error
}

// partial rebuilds a result from the events streamed before the worker
// died. Dropped file contents and snippet texts are lost with the worker.
func (ir *IsolatedRunner) partial(name string, data []byte, started time.Time, events []ioc.Event) *Result {
	sum := sha256.Sum256(data)
	res := &Result{
		ID:        uuid.NewString(),
		Sample:    name,
		SHA256:    hex.EncodeToString(sum[:]),
		Size:      len(data),
		Passes:    ir.passes,
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
		Events:    events,
	}
	seen := make(map[string]bool)
	for _, e := range events {
		if e.Category != ioc.CategoryURLContacted {
			continue
		}
		if url, ok := e.Payload["url"].(string); ok && !seen[url] {
			seen[url] = true
			res.URLs = append(res.URLs, url)
		}
	}
	return res
}

func (ir *IsolatedRunner) failed(name string, data []byte, started time.Time, events []ioc.Event, err error) (*Result, error) {
	res := ir.partial(name, data, started, events)
	res.fail(err)
	return res, err
}
