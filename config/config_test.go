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

const sample = `
store: neo4j
neo4j:
  uri: bolt://graph:7687
  username: snitch
  password: secret
data_dir: /var/lib/snitch
redis:
  url: redis://localhost:6379/0
  connect_timeout: 2s
sync:
  concurrency: 4
  filter: account_number == "1"
lock:
  lease: 30m
prune:
  delete_limit: 100
log:
  level: debug
  format: json
telemetry:
  exporter: stdout
`

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, FileName, sample)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, "snitch", cfg.Neo4j.Username)
	assert.Equal(t, "/var/lib/snitch", cfg.DataDir)
	assert.Equal(t, 2*time.Second, cfg.Redis.GetConnectTimeout())
	assert.Equal(t, 4, cfg.Sync.GetConcurrency())
	assert.Equal(t, `account_number == "1"`, cfg.Sync.Filter)
	assert.Equal(t, 30*time.Minute, cfg.Lock.GetLease())
	assert.Equal(t, 100, cfg.Prune.GetDeleteLimit())
	assert.Equal(t, 2000, cfg.Terminate.GetLimit())
	assert.Equal(t, slog.LevelDebug, cfg.Log.GetLevel())
	assert.Equal(t, "stdout", cfg.Telemetry.Exporter)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, AltFileName, "data_dir: /data\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.DataDir)
	// Unset fields keep their defaults.
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, StoreNeo4j, cfg.Store)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(dir)
	assert.Error(t, err)

	bad := writeConfig(t, dir, "bad.yaml", "neo4j: [unterminated")
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestLoadFromDir_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, FileName, "data_dir: /from-root\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := LoadFromDir(nested)
	require.NoError(t, err)
	assert.Equal(t, "/from-root", cfg.DataDir)
}

func TestGetters_Defaults(t *testing.T) {
	var cfg Config
	assert.Equal(t, 5*time.Second, cfg.Redis.GetConnectTimeout())
	assert.Equal(t, 1, cfg.Sync.GetConcurrency())
	assert.Equal(t, time.Duration(0), cfg.Lock.GetLease())
	assert.Equal(t, 5000, cfg.Prune.GetDeleteLimit())
	assert.Equal(t, 2000, cfg.Terminate.GetLimit())
	assert.Equal(t, slog.LevelInfo, cfg.Log.GetLevel())

	cfg.Redis.ConnectTimeout = "soon"
	assert.Equal(t, 5*time.Second, cfg.Redis.GetConnectTimeout())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvNeo4jURI:      "neo4j://cluster:7687",
		EnvNeo4jPassword: "hunter2",
		EnvDataDir:       "/env/data",
		EnvRedisURL:      "redis://cache:6379/1",
	}
	cfg := Default()
	cfg.Neo4j.Username = "kept"
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "neo4j://cluster:7687", cfg.Neo4j.URI)
	assert.Equal(t, "kept", cfg.Neo4j.Username)
	assert.Equal(t, "hunter2", cfg.Neo4j.Password)
	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "memory store needs no uri", mutate: func(c *Config) { c.Store = StoreMemory; c.Neo4j.URI = "" }},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "sqlite" }, wantErr: true},
		{name: "missing uri", mutate: func(c *Config) { c.Neo4j.URI = "" }, wantErr: true},
		{name: "missing data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: true},
		{name: "bad lease", mutate: func(c *Config) { c.Lock.Lease = "forever" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, FileName, "data_dir: /explicit\n")

	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvConfig, "")
	cfg, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, "/explicit", cfg.DataDir)

	other := t.TempDir()
	envPath := writeConfig(t, other, FileName, "data_dir: /via-env\n")
	t.Setenv(EnvConfig, envPath)
	cfg, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "/via-env", cfg.DataDir)

	t.Setenv(EnvDataDir, "/override")
	cfg, err = Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, "/override", cfg.DataDir)
}
