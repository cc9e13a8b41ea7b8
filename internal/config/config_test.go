package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
device: laptop
root: /srv/sync
storage:
  driver: sqlite
peer:
  peers:
    - http://10.0.0.2:7070
engine:
  publish_delay: 2s
log:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "laptop", string(cfg.Device))
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, []string{"http://10.0.0.2:7070"}, cfg.Peer.Peers)
	assert.Equal(t, 2*time.Second, cfg.Engine.PublishDelay)
	assert.True(t, cfg.Log.JSON)

	// значения, не указанные в файле, берутся по умолчанию
	assert.Equal(t, DefaultDBFile, cfg.Storage.Path)
	assert.Equal(t, DefaultScanInterval, cfg.Engine.ScanInterval)
	assert.Equal(t, DefaultListenAddress, cfg.Peer.Listen)
	assert.Equal(t, filepath.Join("/srv/sync", DefaultDBFile), cfg.DBPath())

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: [unclosed"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default("/srv/sync")
	cfg.Device = "desktop"
	cfg.Storage.Path = "/var/lib/gophsync.db"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, "/var/lib/gophsync.db", loaded.DBPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "missing device",
			modify: func(c *Config) { c.Device = "" },
			errMsg: "device id is not set",
		},
		{
			name:   "missing root",
			modify: func(c *Config) { c.Root = "" },
			errMsg: "sync root is not set",
		},
		{
			name:   "unknown driver",
			modify: func(c *Config) { c.Storage.Driver = "postgres" },
			errMsg: "unknown storage driver",
		},
		{
			name:   "bad block size",
			modify: func(c *Config) { c.Hash.BlockSize = 0 },
			errMsg: "hash block size must be positive",
		},
		{
			name:   "bad interval",
			modify: func(c *Config) { c.Engine.ScanInterval = 0 },
			errMsg: "engine intervals must be positive",
		},
		{
			name:   "bad log level",
			modify: func(c *Config) { c.Log.Level = "loud" },
			errMsg: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/srv/sync")
			cfg.Device = "laptop"
			require.NoError(t, cfg.Validate())

			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
