package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "python3", cfg.Worker.Command)
	assert.Equal(t, []string{"-u", "chatbot.py"}, cfg.Worker.CommandArgs())
	assert.Equal(t, []string{"PYTHON_SHELL=1"}, cfg.Worker.Env)
	assert.Equal(t, "arg", cfg.Worker.InputStyle)
	assert.Equal(t, 2*time.Minute, cfg.Worker.Timeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEBCHAT_LISTEN_ADDR", "127.0.0.1:4000")
	t.Setenv("WEBCHAT_WORKER_TIMEOUT", "15s")
	t.Setenv("WEBCHAT_WORKER_INPUT_STYLE", "stdin")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.ListenAddr)
	assert.Equal(t, 15*time.Second, cfg.Worker.Timeout)
	assert.Equal(t, "stdin", cfg.Worker.InputStyle)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: 127.0.0.1:5000
worker:
  command: /usr/bin/env
  args: [python3]
  script: bot/chatbot.py
  timeout: 0s
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", cfg.ListenAddr)
	assert.Equal(t, "/usr/bin/env", cfg.Worker.Command)
	assert.Equal(t, []string{"python3", "bot/chatbot.py"}, cfg.Worker.CommandArgs())
	assert.Equal(t, time.Duration(0), cfg.Worker.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	v.Set("worker.input_style", "carrier-pigeon")
	_, err = Unmarshal(v)
	require.ErrorContains(t, err, "worker.input_style")

	v, err = New("")
	require.NoError(t, err)
	v.Set("worker.command", "")
	_, err = Unmarshal(v)
	require.ErrorContains(t, err, "worker.command is required")
}
