package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sampleConfig = `
listen = ":4800"
base_path = "/api"
metrics_listen = ":9105"
store_dsn = "conductor.db"
startup_policy = "continue"
parallel_noncritical = true
env = ["ORPHEUS_HOME=/opt/orpheus", "PYTHONUNBUFFERED=1"]

[log]
dir = "/var/log/orpheus"

[[services]]
name = "backend"
command = "uvicorn"
args = ["main:app", "--port", "${BACKEND_PORT}"]
workdir = "/opt/orpheus/backend"
port = 8000
health_url = "http://127.0.0.1:8000/health"
critical = true
ready_timeout = "45s"
poll_interval = "250ms"
stop_grace = "5s"

[[services]]
name = "frontend"
command = "npm"
args = ["run", "dev"]
port = 5173
category = "ui"

[services.env]
NODE_ENV = "development"
`

func TestLoad(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, ":4800", fc.Listen)
	require.Equal(t, "/api", fc.BasePath)
	require.Equal(t, ":9105", fc.MetricsListen)
	require.Equal(t, "conductor.db", fc.StoreDSN)
	require.Equal(t, "continue", fc.StartupPolicy)
	require.True(t, fc.ParallelNonCritical)
	require.NotNil(t, fc.Log)
	require.Equal(t, "/var/log/orpheus", fc.Log.Dir)
	require.Len(t, fc.Services, 2)

	backend := fc.Services[0]
	require.Equal(t, "backend", backend.Name)
	require.Equal(t, "uvicorn", backend.Command)
	require.Equal(t, []string{"main:app", "--port", "${BACKEND_PORT}"}, backend.Args)
	require.Equal(t, 8000, backend.Port)
	require.True(t, backend.Critical)
	require.Equal(t, 45*time.Second, backend.ReadyTimeout)
	require.Equal(t, 250*time.Millisecond, backend.PollInterval)
	require.Equal(t, 5*time.Second, backend.StopGrace)

	frontend := fc.Services[1]
	require.Equal(t, "ui", frontend.Category)
	require.Equal(t, "development", frontend.Env["NODE_ENV"])
}

func TestDescriptorsInheritGlobalLog(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	ds := fc.Descriptors()
	require.Len(t, ds, 2)
	for _, d := range ds {
		require.Equal(t, "/var/log/orpheus", d.Log.Dir, d.Name)
	}
	require.Equal(t, "BACKEND_PORT", ds[0].PortEnvKey())
}

func TestGlobalEnv(t *testing.T) {
	fc, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	env := fc.GlobalEnv()
	require.Equal(t, "/opt/orpheus", env["ORPHEUS_HOME"])
	require.Equal(t, "1", env["PYTHONUNBUFFERED"])
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	_, err := Load(writeConfig(t, `
startup_policy = "yolo"
`))
	require.Error(t, err)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	_, err := Load(writeConfig(t, `
[[services]]
name = "backend"
command = "sleep"

[[services]]
name = "backend"
command = "sleep"
`))
	require.Error(t, err)
}

func TestLoadRejectsInvalidService(t *testing.T) {
	_, err := Load(writeConfig(t, `
[[services]]
name = "backend"
`))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
