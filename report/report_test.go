package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arturoeanton/wshbox/analyzer"
	"github.com/arturoeanton/wshbox/engine"
	"github.com/arturoeanton/wshbox/ioc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult() *engine.Result {
	quit := 3
	return &engine.Result{
		ID:        "a1",
		Sample:    "dropper.js",
		SHA256:    "abc",
		Size:      42,
		Encoding:  "utf-8",
		Passes:    []string{"hoist", "eval"},
		State:     engine.StateCompleted,
		StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		QuitCode:  &quit,
		Findings: []analyzer.Finding{
			{Type: "shell_command", Severity: analyzer.SeverityHigh, Description: "Shell command", Value: "cmd /c", Line: 2, Column: 5},
			{Type: "url", Severity: analyzer.SeverityMedium, Description: "URL", Value: "http://x.test/", Line: 1, Column: 1},
		},
		Events: []ioc.Event{
			ioc.NewEvent(ioc.CategoryURLContacted, map[string]interface{}{"url": "http://x.test/"}, "The script contacted a URL."),
			ioc.NewEvent(ioc.CategoryCommandRun, map[string]interface{}{"command": "cmd /c start a.exe"}, "The script ran a command."),
			ioc.NewEvent(ioc.CategoryCommandRun, map[string]interface{}{"command": "cmd /c start a.exe"}, "The script ran a command."),
		},
		URLs:      []string{"http://x.test/"},
		Resources: []ioc.Resource{{ID: "r1", Path: `C:\Users\User\AppData\Local\Temp\a.exe`, SHA256: "def", MIMEType: "application/x-dosexec", Size: 2, Data: []byte("MZ")}},
		Snippets:  []ioc.Snippet{{ID: "s1", Source: "WScript.Echo(1)", Origin: "eval"}},
		Source:    "var a = 1;",
		Rewritten: "var a = 1;",
	}
}

func readJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestWriteDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	res := testResult()
	require.NoError(t, WriteDirectory(dir, res, Options{Summary: true}))

	var summary Summary
	readJSON(t, filepath.Join(dir, "analysis.json"), &summary)
	assert.Equal(t, "a1", summary.ID)
	assert.Equal(t, "completed", summary.State)
	assert.Equal(t, int64(1500), summary.DurationMS)
	assert.Equal(t, 3, summary.Events)
	assert.Equal(t, 2, summary.Categories[ioc.CategoryCommandRun])
	require.NotNil(t, summary.QuitCode)
	assert.Equal(t, 3, *summary.QuitCode)

	var events []ioc.Event
	readJSON(t, filepath.Join(dir, "IOC.json"), &events)
	require.Len(t, events, 3)
	assert.Equal(t, ioc.CategoryURLContacted, events[0].Category)

	var urls []string
	readJSON(t, filepath.Join(dir, "urls.json"), &urls)
	assert.Equal(t, []string{"http://x.test/"}, urls)

	snippet, err := os.ReadFile(filepath.Join(dir, "snippets", "s1.js"))
	require.NoError(t, err)
	assert.Equal(t, "WScript.Echo(1)", string(snippet))

	var snippets map[string]map[string]interface{}
	readJSON(t, filepath.Join(dir, "snippets.json"), &snippets)
	assert.Equal(t, "eval", snippets["s1.js"]["as"])

	resource, err := os.ReadFile(filepath.Join(dir, "resources", "r1"))
	require.NoError(t, err)
	assert.Equal(t, "MZ", string(resource))

	for _, name := range []string{"static.json", "resources.json", "source.js", "rewritten.js", "summary.txt"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestWriteDirectoryEmptyLists(t *testing.T) {
	dir := t.TempDir()
	res := &engine.Result{ID: "empty", State: engine.StateFaulted}
	require.NoError(t, WriteDirectory(dir, res, Options{}))

	data, err := os.ReadFile(filepath.Join(dir, "urls.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.NoFileExists(t, filepath.Join(dir, "summary.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "snippets"))
}

func TestWriteDirectoryRefusesNonEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep"), []byte("x"), 0o644))

	err := WriteDirectory(dir, testResult(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not empty")

	assert.NoError(t, WriteDirectory(dir, testResult(), Options{Overwrite: true}))
}

func TestRenderSummary(t *testing.T) {
	text, err := RenderSummary(testResult())
	require.NoError(t, err)

	assert.Contains(t, text, "Analysis a1")
	assert.Contains(t, text, "State:     completed")
	assert.Contains(t, text, "Quit code: 3")
	assert.Contains(t, text, "  - http://x.test/")
	assert.Contains(t, text, `C:\Users\User\AppData\Local\Temp\a.exe`)
	assert.Contains(t, text, "2:5 Shell command: cmd /c")
	assert.NotContains(t, text, "1:1 URL")
	assert.Equal(t, 1, strings.Count(text, "cmd /c start a.exe"))

	// Category lines are ordered by count.
	assert.Less(t, strings.Index(text, ioc.CategoryCommandRun), strings.Index(text, ioc.CategoryURLContacted))
}

func TestRenderSummaryWithoutEvents(t *testing.T) {
	text, err := RenderSummary(&engine.Result{ID: "x", State: engine.StateTimedOut, Error: "script execution timed out"})
	require.NoError(t, err)
	assert.Contains(t, text, "State:     timed out (script execution timed out)")
	assert.NotContains(t, text, "Events:")
	assert.NotContains(t, text, "Quit code")
}

func TestSQLSink(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDB(ctx, engine.DatabaseConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "wshbox.db"),
	})
	require.NoError(t, err)

	sink := NewSQLSink(db, "sqlite3", 2)
	defer sink.Close()
	require.NoError(t, sink.Migrate(ctx))
	require.NoError(t, sink.Migrate(ctx))

	res := testResult()
	require.NoError(t, sink.Store(ctx, res))

	events, err := sink.Events(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, events, len(res.Events))
	for i, e := range events {
		assert.Equal(t, res.Events[i].ID, e.ID)
		assert.Equal(t, res.Events[i].Category, e.Category)
	}
	assert.Equal(t, "cmd /c start a.exe", events[1].Payload["command"])

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.Analyses)
	assert.Equal(t, int64(3), stats.Events)
	assert.Equal(t, int64(2), stats.Batches)

	var state string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT state FROM analyses WHERE id = ?", res.ID).Scan(&state))
	assert.Equal(t, "completed", state)

	// Duplicate analysis ids are rejected.
	assert.Error(t, sink.Store(ctx, res))
	assert.Equal(t, int64(1), sink.Stats().Errors)
}

func TestRebind(t *testing.T) {
	pg := &SQLSink{driver: "postgres"}
	assert.Equal(t, "VALUES ($1, $2, $3)", pg.rebind("VALUES (?, ?, ?)"))
	lite := &SQLSink{driver: "sqlite3"}
	assert.Equal(t, "VALUES (?, ?)", lite.rebind("VALUES (?, ?)"))
}

func TestEncodeMessages(t *testing.T) {
	res := testResult()
	messages, err := encodeMessages(res)
	require.NoError(t, err)
	require.Len(t, messages, len(res.Events)+1)

	var first Message
	require.NoError(t, json.Unmarshal([]byte(messages[0]), &first))
	assert.Equal(t, MessageEvent, first.Type)
	assert.Equal(t, "a1", first.AnalysisID)
	require.NotNil(t, first.Event)
	assert.Equal(t, res.Events[0].ID, first.Event.ID)
	assert.Nil(t, first.Summary)

	var last Message
	require.NoError(t, json.Unmarshal([]byte(messages[len(messages)-1]), &last))
	assert.Equal(t, MessageAnalysis, last.Type)
	require.NotNil(t, last.Summary)
	assert.Equal(t, 3, last.Summary.Events)
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("WSHBOX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WSHBOX_TEST_REDIS_ADDR not set")
	}
	p, err := NewRedisPublisher(engine.RedisConfig{Addr: addr, Channel: "wshbox:test"})
	require.NoError(t, err)
	defer p.Close()

	sub := p.Client().Subscribe(p.Channel())
	defer sub.Close()
	_, err = sub.Receive()
	require.NoError(t, err)

	res := testResult()
	require.NoError(t, p.Publish(res))

	ch := sub.Channel()
	for i := 0; i <= len(res.Events); i++ {
		select {
		case msg := <-ch:
			assert.Contains(t, msg.Payload, `"analysis_id":"a1"`)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for published message")
		}
	}
}
