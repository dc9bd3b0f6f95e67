package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJSONAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"basic_config": {"api_base_url": "http://api.local/api/"}, "databases": {"sqlite3": {"dsn": "data/dm.db"}}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://api.local/api", cfg.BasicConfig.APIBaseURL)
	assert.Equal(t, ":8090", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "sqlite3", cfg.BasicConfig.Database)
	assert.Equal(t, 10, cfg.BasicConfig.MaxUploadMB)
	assert.Equal(t, 2000, cfg.BasicConfig.SimulateDelayMillis)
	assert.Equal(t, DefaultOAuthURL, cfg.BasicConfig.OAuthURL)
	assert.Equal(t, DefaultContractAddress, cfg.Ledger.ContractAddress)
	assert.Equal(t, filepath.Join(dir, "data/dm.db"), cfg.Databases["sqlite3"].DSN)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
basic_config:
  server_address: ":9000"
  simulate_processing: true
databases:
  sqlite3:
    dsn: ":memory:"
ledger:
  rpc_url: "http://127.0.0.1:8545"
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.True(t, cfg.BasicConfig.SimulateProcessing)
	assert.Equal(t, ":memory:", cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATAMASK_API_BASE_URL", "https://remote.example/api")
	t.Setenv("DATAMASK_SIMULATE_PROCESSING", "true")
	t.Setenv("DATAMASK_LEDGER_RPC_URL", "http://node:8545")

	cfg := &Config{}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	assert.Equal(t, "https://remote.example/api", cfg.BasicConfig.APIBaseURL)
	assert.True(t, cfg.BasicConfig.SimulateProcessing)
	assert.Equal(t, "http://node:8545", cfg.Ledger.RPCURL)
}

func TestValidateRejectsUnknownDatabase(t *testing.T) {
	cfg := &Config{BasicConfig: BasicConfig{Database: "postgres"}}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate())

	cfg = &Config{BasicConfig: BasicConfig{Database: "mysql"}}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate(), "mysql without a databases entry")
}
