package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arturoeanton/wshbox/emulator"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/logger"

	"github.com/dop251/goja"
)

// State is the lifecycle position of a Sandbox.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateFaulted
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateRunning:   "running",
	StateCompleted: "completed",
	StateTimedOut:  "timed out",
	StateFaulted:   "faulted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown sandbox state %q", text)
}

// SandboxOptions configures a Sandbox.
type SandboxOptions struct {
	Host          emulator.Options
	Limits        Limits
	HiddenGlobals []string
	Logger        *logger.Logger
}

// Sandbox owns one interpreter instance with the emulated host installed
// and runs a single script in it under the watchdog.
type Sandbox struct {
	mu    sync.Mutex
	state State
	vm    *goja.Runtime
	scope *emulator.Scope
	opts  SandboxOptions
	log   *logger.Logger
	stats WatchdogStats
	quit  *emulator.QuitSignal
}

// NewSandbox builds a fresh interpreter whose side effects go to rec.
func NewSandbox(rec ioc.Recorder, opts SandboxOptions) (*Sandbox, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Std()
	}
	opts.Host.Logger = log

	vm := goja.New()
	scope, err := emulator.NewScope(vm, rec, opts.Host)
	if err != nil {
		return nil, fmt.Errorf("building the execution scope: %w", err)
	}
	hideGlobals(vm, opts.HiddenGlobals, log)

	return &Sandbox{
		vm:    vm,
		scope: scope,
		opts:  opts,
		log:   log,
	}, nil
}

// Run executes code. It may be called once; later calls return
// ErrAlreadyRan. WScript.Quit counts as a normal completion.
func (sb *Sandbox) Run(ctx context.Context, name, code string) error {
	sb.mu.Lock()
	if sb.state != StateIdle {
		sb.mu.Unlock()
		return ErrAlreadyRan
	}
	sb.state = StateRunning
	sb.mu.Unlock()

	sb.log.Infof("Executing %s in the sandbox...", name)
	wd := StartWatchdog(ctx, sb.vm, sb.opts.Limits)
	runErr := sb.execute(name, code)
	wd.Stop()
	sb.vm.ClearInterrupt()
	sb.scope.Close()

	state, err := sb.classify(runErr)

	sb.mu.Lock()
	sb.state = state
	sb.stats = wd.Stats()
	sb.mu.Unlock()

	switch state {
	case StateCompleted:
		sb.log.Verbosef("Sample finished in %s", sb.stats.ElapsedTime)
	case StateTimedOut:
		sb.log.Errorf("Sample timed out after %s", sb.opts.Limits.Timeout)
	default:
		sb.log.Errorf("Sample failed: %v", err)
	}
	return err
}

func (sb *Sandbox) execute(name, code string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RuntimeFault{Message: fmt.Sprintf("interpreter panic: %v", r)}
		}
	}()
	prg, err := goja.Compile(name, code, false)
	if err != nil {
		return &ParseError{Err: err}
	}
	_, err = sb.vm.RunProgram(prg)
	return err
}

// classify maps an interpreter outcome to a final state and the error
// reported to the caller.
func (sb *Sandbox) classify(err error) (State, error) {
	if err == nil {
		return StateCompleted, nil
	}

	var quit *emulator.QuitSignal
	if errors.As(err, &quit) {
		sb.mu.Lock()
		sb.quit = quit
		sb.mu.Unlock()
		sb.log.Infof("Script called WScript.Quit(%d)", quit.Code)
		return StateCompleted, nil
	}
	if errors.Is(err, ErrTimeout) {
		return StateTimedOut, ErrTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StateTimedOut, fmt.Errorf("%w: %v", ErrTimeout, context.DeadlineExceeded)
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return StateFaulted, cause
		}
		return StateFaulted, &RuntimeFault{Message: fmt.Sprint(interrupted.Value())}
	}

	var perr *ParseError
	if errors.As(err, &perr) {
		return StateFaulted, perr
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return StateFaulted, &RuntimeFault{Message: exception.Error(), Stack: exception.String()}
	}

	var fault *RuntimeFault
	if errors.As(err, &fault) {
		return StateFaulted, fault
	}
	return StateFaulted, &RuntimeFault{Message: err.Error()}
}

// State returns the current lifecycle state.
func (sb *Sandbox) State() State {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.state
}

// Stats returns the watchdog statistics of the finished run.
func (sb *Sandbox) Stats() WatchdogStats {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.stats
}

// QuitCode returns the WScript.Quit exit code when the script called it.
func (sb *Sandbox) QuitCode() (int, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.quit == nil {
		return 0, false
	}
	return sb.quit.Code, true
}

// Scope returns the emulated host installed in the interpreter.
func (sb *Sandbox) Scope() *emulator.Scope { return sb.scope }

// Runtime returns the interpreter.
func (sb *Sandbox) Runtime() *goja.Runtime { return sb.vm }
