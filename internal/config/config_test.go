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
	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "warn", c.Log.Level)
	assert.True(t, c.Log.Color)
	assert.Equal(t, 5*time.Second, c.Exec.Timeout)
	assert.Equal(t, 100*time.Millisecond, c.Kill.SettleDelay)
	assert.Empty(t, c.Store.DSN)
	assert.Empty(t, c.History.DSN)
	assert.Equal(t, 10, c.Log.Logger().MaxSizeMB)
}

func TestLoadTOML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "portctl.toml")
	data := `
[store]
dsn = "sqlite:///tmp/portctl.db"

[history]
dsn = "clickhouse://localhost:9000/default?table=kills"

[log]
level = "debug"
file = "/tmp/portctl.log"
max_backups = 5
compress = true

[exec]
timeout = "2s"

[kill]
settle_delay = "250ms"

[metrics]
file = "/var/lib/node_exporter/portctl.prom"
`
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))

	c, err := Load(New(), p)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/portctl.db", c.Store.DSN)
	assert.Equal(t, "clickhouse://localhost:9000/default?table=kills", c.History.DSN)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 5, c.Log.MaxBackups)
	assert.Equal(t, 7, c.Log.MaxAgeDays)
	assert.True(t, c.Log.Compress)
	assert.Equal(t, 2*time.Second, c.Exec.Timeout)
	assert.Equal(t, 250*time.Millisecond, c.Kill.SettleDelay)
	assert.Equal(t, "/var/lib/node_exporter/portctl.prom", c.Metrics.File)
}

func TestEnvOverridesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "portctl.toml")
	require.NoError(t, os.WriteFile(p, []byte("[log]\nlevel = \"info\"\n"), 0o644))
	t.Setenv("PORTCTL_LOG_LEVEL", "error")
	t.Setenv("PORTCTL_EXEC_TIMEOUT", "750ms")

	c, err := Load(New(), p)
	require.NoError(t, err)
	assert.Equal(t, "error", c.Log.Level)
	assert.Equal(t, 750*time.Millisecond, c.Exec.Timeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(p, []byte("[log]\nlevel = \"chatty\"\n[exec]\ntimeout = \"0s\"\n"), 0o644))
	_, err = Load(New(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
	assert.Contains(t, err.Error(), "exec.timeout")
}
