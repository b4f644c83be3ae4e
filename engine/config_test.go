package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arturoeanton/wshbox/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, config.Limits().Timeout)
	assert.Equal(t, "wscript.exe", config.Sandbox.ScriptEngine)
	assert.True(t, config.Rewrite.ConditionalCompilation)

	opts := config.RewriteOptions()
	assert.True(t, opts.MemberFunctions)
	assert.True(t, opts.Eval)
	assert.False(t, opts.Loops)
	assert.False(t, opts.Calls)
	assert.Equal(t, logger.LevelInfo, config.LogLevel())
	assert.True(t, config.Sandbox.Isolate)
	assert.Equal(t, 12*time.Second, config.KillDeadline())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
[sandbox]
timeout_seconds = 3
script_engine = "cscript.exe"
arguments = ["-x", "payload"]

[rewrite]
loops = true
eval = false

[database]
enabled = true
driver = "postgres"
dsn = "postgres://localhost/wshbox"

[log]
level = "debug"
`)
	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, config.Limits().Timeout)
	assert.Equal(t, "cscript.exe", config.Sandbox.ScriptEngine)
	assert.Equal(t, []string{"-x", "payload"}, config.Sandbox.Arguments)
	assert.True(t, config.RewriteOptions().Loops)
	assert.False(t, config.RewriteOptions().Eval)
	// untouched keys keep their defaults
	assert.True(t, config.RewriteOptions().Catch)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, logger.LevelDebug, config.LogLevel())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "[sandbox]\ntimeout_seconds = 3\n")
	t.Setenv("WSHBOX_SANDBOX_TIMEOUT_SECONDS", "7")
	t.Setenv("WSHBOX_REWRITE_DUMB_CONCAT", "true")
	t.Setenv("WSHBOX_RATE_LIMIT_IP_RATE_LIMIT", "99")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, config.Sandbox.TimeoutSeconds)
	assert.True(t, config.Rewrite.DumbConcat)
	assert.Equal(t, 99, config.RateLimit.IPRateLimit)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ExitInputError, ExitCode(err))

	_, err = LoadConfig(writeConfig(t, "[sandbox\n"))
	assert.True(t, errors.As(err, &cerr))

	_, err = LoadConfig(writeConfig(t, "[sandbox]\ntimeout_seconds = 0\n"))
	assert.True(t, errors.As(err, &cerr))

	_, err = LoadConfig(writeConfig(t, "[database]\nenabled = true\ndriver = \"mysql\"\n"))
	assert.True(t, errors.As(err, &cerr))

	_, err = LoadConfig(writeConfig(t, "[log]\nlevel = \"loud\"\n"))
	assert.True(t, errors.As(err, &cerr))
}
