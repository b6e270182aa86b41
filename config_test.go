package tradepost

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[log]
level = "warn"
add_source = true

[web]
host = "127.0.0.1"
port = 9090
allow_origins = "http://localhost:3000"

[db]
host = "localhost"
port = 5432
user = "u"
password = "p"
database = "d"
pool_size = 4
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelWarn, cfg.Log.Level)
	assert.True(t, cfg.Log.AddSource)
	assert.Equal(t, "127.0.0.1", cfg.Web.Host)
	assert.Equal(t, 9090, cfg.Web.Port)
	assert.Equal(t, "d", cfg.DB.Database)
	assert.Equal(t, 4, cfg.DB.PoolSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
