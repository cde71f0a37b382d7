package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/config"
)

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "wildwatch.yaml")

	cmd := rootCommand()
	cmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: onnx")

	// Existing files are never overwritten.
	cmd = rootCommand()
	cmd.SetArgs([]string{"config", "init", path})
	assert.Error(t, cmd.Execute())
}

func TestClassesUsesConfiguredThresholds(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "wildwatch.yaml")
	cfg := config.DefaultConfig()
	cfg.Thresholds = map[string]float64{"elephant": 0.9}
	require.NoError(t, config.Write(cfgPath, cfg))

	cmd := rootCommand()
	cmd.SetArgs([]string{"classes", "--config", cfgPath, "--log-level", "silent"})
	require.NoError(t, cmd.Execute())
}

func TestImageRequiresPath(t *testing.T) {
	cmd := rootCommand()
	cmd.SetArgs([]string{"image"})
	cmd.SetErr(new(discard))
	assert.Error(t, cmd.Execute())
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
