package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/Sicomore-Engine/engine"
	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "sicomore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	fit, err := cfg.Fit.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig().Selection, fit.Selection)
	assert.Equal(t, engine.DefaultConfig().CV.Folds, fit.CV.Folds)
	assert.True(t, fit.MainEffects)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
server:
  address: "127.0.0.1:7000"
  workers: 3
  request_timeout: 45s
  shutdown_timeout: 5s
zmq:
  enabled: true
  port: 6000
fit:
  selection: mlgl
  choice: lambda.1se
  compression: pc1
  linkage: average
  folds: 5
  main_effects: false
log:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Server.Workers)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.ZMQ.Enabled)
	assert.Equal(t, 6000, cfg.ZMQ.Port)
	assert.Equal(t, "sicomore-1", cfg.ZMQ.NodeID)
	assert.Equal(t, "console", cfg.Log.Format)

	fit, err := cfg.Fit.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, engine.SelectMLGL, fit.Selection)
	assert.Equal(t, penalized.LambdaOneSE, fit.Choice)
	assert.Equal(t, engine.CompressPC1, fit.Compression)
	assert.Equal(t, hierarchy.Average, fit.Hierarchy.Linkage)
	assert.Equal(t, 5, fit.CV.Folds)
	assert.False(t, fit.MainEffects)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "fit:\n  folds: 5\nauth:\n  enabled: false\n")
	t.Setenv("SICOMORE_FIT_FOLDS", "8")
	t.Setenv("SICOMORE_AUTH_ENABLED", "true")
	t.Setenv("SICOMORE_AUTH_TOKEN", "abc")
	t.Setenv("SICOMORE_SERVER_REQUEST_TIMEOUT", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Fit.Folds)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "abc", cfg.Auth.Token)
	assert.Equal(t, 2*time.Minute, cfg.Server.RequestTimeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "server: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "fit:\n  selection: stepwise\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, engine.ErrUnknownSelection)

	t.Setenv("SICOMORE_SERVER_WORKERS", "many")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = ""
	cfg.Server.Workers = -1
	cfg.Server.ShutdownTimeout = -time.Second
	cfg.ZMQ.Enabled = true
	cfg.ZMQ.Port = 70000
	cfg.Log.Format = "xml"
	cfg.Fit.LambdaRatio = 1.5

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"server.address", "server.workers", "server.shutdown_timeout", "zmq.port", "log.format", "lambda_ratio"} {
		assert.Contains(t, err.Error(), want)
	}
}
