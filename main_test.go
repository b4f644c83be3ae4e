package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadConfigUsesLocalFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile("config.toml", []byte("[sandbox]\ntimeout_seconds = 4\nisolate = false\n"), 0o644))

	config, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, config.Limits().Timeout)
	assert.False(t, config.Sandbox.Isolate)
}

func TestLoadConfigWithoutLocalFile(t *testing.T) {
	chdir(t, t.TempDir())

	config, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, config.Limits().Timeout)
	assert.True(t, config.Sandbox.Isolate)
}
