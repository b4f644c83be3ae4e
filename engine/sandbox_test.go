package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arturoeanton/wshbox/emulator"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T, limits Limits) (*Sandbox, *ioc.MemoryRecorder) {
	t.Helper()
	log := logger.New("test", logger.LevelError)
	log.SetOutput(&bytes.Buffer{})
	rec := ioc.NewMemoryRecorder()
	sb, err := NewSandbox(rec, SandboxOptions{
		Host:          emulator.DefaultOptions(),
		Limits:        limits,
		HiddenGlobals: DefaultHiddenGlobals,
		Logger:        log,
	})
	require.NoError(t, err)
	return sb, rec
}

func TestSandboxCompletes(t *testing.T) {
	sb, rec := newTestSandbox(t, Limits{Timeout: 5 * time.Second})
	assert.Equal(t, StateIdle, sb.State())

	err := sb.Run(context.Background(), "sample.js", `
		var x = new ActiveXObject("MSXML2.XMLHTTP");
		x.open("GET", "http://example.test/payload");
		x.send();
	`)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, sb.State())
	assert.Len(t, rec.EventsByCategory(ioc.CategoryNetworkRequest), 1)
	assert.Len(t, rec.EventsByCategory(ioc.CategoryURLContacted), 1)
	assert.Equal(t, []string{"http://example.test/payload"}, rec.URLs())
}

func TestSandboxRunsOnce(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: time.Second})
	require.NoError(t, sb.Run(context.Background(), "a.js", `1`))
	assert.ErrorIs(t, sb.Run(context.Background(), "a.js", `1`), ErrAlreadyRan)
	assert.Equal(t, StateCompleted, sb.State())
}

func TestSandboxTimeout(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: 100 * time.Millisecond})

	start := time.Now()
	err := sb.Run(context.Background(), "loop.js", `while (true) {}`)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateTimedOut, sb.State())
	assert.Equal(t, ExitTimeout, ExitCode(err))
	assert.True(t, sb.Stats().Interrupted)
}

func TestSandboxTimeoutCannotBeCaught(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: 100 * time.Millisecond})
	err := sb.Run(context.Background(), "loop.js", `
		while (true) {
			try { while (true) {} } catch (e) {}
		}
	`)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSandboxUnknownObject(t *testing.T) {
	sb, rec := newTestSandbox(t, Limits{Timeout: time.Second})
	err := sb.Run(context.Background(), "unknown.js", `
		try { new ActiveXObject("Outlook.Application"); } catch (e) {}
		new ActiveXObject("WScript.Shell").Run("calc.exe");
	`)

	var unknown *UnknownObjectError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Outlook.Application", unknown.Name)
	assert.Equal(t, StateFaulted, sb.State())
	assert.Equal(t, ExitUnknownObject, ExitCode(err))
	assert.Empty(t, rec.EventsByCategory(ioc.CategoryCommandRun))
}

func TestSandboxQuitCompletes(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: time.Second})
	err := sb.Run(context.Background(), "quit.js", `WScript.Quit(5); throw new Error("unreachable");`)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, sb.State())

	code, ok := sb.QuitCode()
	assert.True(t, ok)
	assert.Equal(t, 5, code)
}

func TestSandboxRuntimeFault(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: time.Second})
	err := sb.Run(context.Background(), "fault.js", `function f() { throw new Error("boom"); } f();`)

	var fault *RuntimeFault
	require.True(t, errors.As(err, &fault))
	assert.Contains(t, fault.Message, "boom")
	assert.Contains(t, fault.Stack, "fault.js")
	assert.Equal(t, StateFaulted, sb.State())
	assert.Equal(t, ExitRuntimeFault, ExitCode(err))
}

func TestSandboxSyntaxError(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: time.Second})
	err := sb.Run(context.Background(), "broken.js", `var = ;`)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	var fault *RuntimeFault
	assert.False(t, errors.As(err, &fault))
	assert.Equal(t, ExitParseError, ExitCode(err))
	assert.Equal(t, StateFaulted, sb.State())
}

func TestSandboxTimeoutKeepsRecordedEvents(t *testing.T) {
	sb, rec := newTestSandbox(t, Limits{Timeout: 200 * time.Millisecond})
	err := sb.Run(context.Background(), "stall.js", `
		var x = new ActiveXObject("MSXML2.XMLHTTP");
		x.open("GET", "http://example.test/before-loop", false);
		while (true) {}
	`)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateTimedOut, sb.State())
	assert.Equal(t, []string{"http://example.test/before-loop"}, rec.URLs())
	assert.Len(t, rec.EventsByCategory(ioc.CategoryNetworkRequest), 1)
}

func TestSandboxCancelledIsRuntimeFault(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: 10 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err := sb.Run(ctx, "loop.js", `while (true) {}`)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFaulted, sb.State())
	assert.Equal(t, ExitRuntimeFault, ExitCode(err))
}

func TestSandboxDefaultLogger(t *testing.T) {
	saved := logger.Default
	t.Cleanup(func() { logger.Default = saved })
	custom := logger.New("custom", logger.LevelError)
	custom.SetOutput(&bytes.Buffer{})
	logger.Default = custom

	sb, err := NewSandbox(ioc.NewMemoryRecorder(), SandboxOptions{
		Host:   emulator.DefaultOptions(),
		Limits: Limits{Timeout: time.Second},
	})
	require.NoError(t, err)
	assert.Same(t, custom, sb.log)
	assert.Same(t, custom, logger.Std())
}

func TestSandboxHidesInterpreterGlobals(t *testing.T) {
	sb, _ := newTestSandbox(t, Limits{Timeout: time.Second})
	err := sb.Run(context.Background(), "hidden.js", `
		if (typeof Proxy !== "undefined" || typeof Promise !== "undefined") {
			throw new Error("interpreter globals visible");
		}
	`)
	assert.NoError(t, err)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "timed out", StateTimedOut.String())
	text, err := StateCompleted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "completed", string(text))
	assert.Equal(t, "state(42)", State(42).String())
}

func TestExitCodes(t *testing.T) {
	cases := map[error]int{
		nil:                                    ExitOK,
		ErrTimeout:                             ExitTimeout,
		ErrMemoryLimit:                         ExitMemoryLimit,
		&UnknownObjectError{Name: "X"}:         ExitUnknownObject,
		&MissingToolError{Tool: "m4"}:          ExitMissingTool,
		&ParseError{Err: errors.New("x")}:      ExitParseError,
		&RewriteError{Pass: "hoist", Err: nil}: ExitRewriteError,
		&ConfigError{Err: errors.New("bad")}:   ExitInputError,
		&RuntimeFault{Message: "x"}:            ExitRuntimeFault,
		errors.New("anything else"):            ExitRuntimeFault,
		context.DeadlineExceeded:               ExitTimeout,
		context.Canceled:                       ExitRuntimeFault,
		&WorkerError{Code: ExitParseError}:     ExitParseError,
	}
	for err, want := range cases {
		assert.Equal(t, want, ExitCode(err), "%v", err)
	}
}
