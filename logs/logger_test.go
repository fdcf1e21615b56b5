package logs

import (
	"os"
	"path/filepath"
	"testing"

	"grid_hedge_bot/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "hedge.log")
	cfg := &config.LogConfig{LogLevel: "debug", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}

	require.NoError(t, Init(cfg, path))
	Infof("[Test] cycle %d closed", 7)
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Test] cycle 7 closed")
}

func TestInit_ConsoleOnly(t *testing.T) {
	require.NoError(t, Init(&config.LogConfig{LogLevel: "not-a-level"}, ""))
	assert.Equal(t, "info", log.GetLevel().String())
	WithField("cycle", "abc").Debug("hidden at info level")
}

func TestInit_FileLevelFollowsLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hedge.log")
	require.NoError(t, Init(&config.LogConfig{LogLevel: "warn", MaxSizeMB: 1}, path))
	Info("[Test] below level")
	WithFields(map[string]interface{}{"cycle": "c1"}).Warn("[Test] close retry")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "below level")
	assert.Contains(t, string(data), "[Test] close retry")
	assert.Contains(t, string(data), "cycle=c1")
	assert.NotContains(t, string(data), "\x1b[", "file output carries no colors")
}

func TestInit_UnwritableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := Init(&config.LogConfig{LogLevel: "info"}, filepath.Join(blocker, "sub", "hedge.log"))
	require.Error(t, err)
}
