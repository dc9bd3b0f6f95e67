package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the web front-end.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Ledger      LedgerConfig              `json:"ledger" yaml:"ledger"`
	Logging     LoggingConfig             `json:"logging" yaml:"logging"`
}

type BasicConfig struct {
	ServerAddress       string `json:"server_address" yaml:"server_address"`
	APIBaseURL          string `json:"api_base_url" yaml:"api_base_url"`
	APITimeoutSeconds   int    `json:"api_timeout_seconds" yaml:"api_timeout_seconds"`
	OAuthURL            string `json:"oauth_url" yaml:"oauth_url"`
	Database            string `json:"database" yaml:"database"`
	SessionTTLHours     int    `json:"session_ttl_hours" yaml:"session_ttl_hours"`
	SecureCookies       bool   `json:"secure_cookies" yaml:"secure_cookies"`
	SimulateProcessing  bool   `json:"simulate_processing" yaml:"simulate_processing"`
	SimulateDelayMillis int    `json:"simulate_delay_ms" yaml:"simulate_delay_ms"`
	EnforceUploadLimits bool   `json:"enforce_upload_limits" yaml:"enforce_upload_limits"`
	MaxUploadMB         int    `json:"max_upload_mb" yaml:"max_upload_mb"`
	MaxWorkers          int    `json:"max_workers" yaml:"max_workers"`
	QueueSize           int    `json:"queue_size" yaml:"queue_size"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// LedgerConfig describes the wallet provider backing the ledger client.
// An empty RPCURL means no provider is present.
type LedgerConfig struct {
	RPCURL          string `json:"rpc_url" yaml:"rpc_url"`
	ChainID         int64  `json:"chain_id" yaml:"chain_id"`
	ContractAddress string `json:"contract_address" yaml:"contract_address"`
	KeystoreDir     string `json:"keystore_dir" yaml:"keystore_dir"`
	Passphrase      string `json:"passphrase" yaml:"passphrase"`
	Account         string `json:"account" yaml:"account"`
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

const (
	DefaultAPIBaseURL      = "http://localhost:8000/api"
	DefaultOAuthURL        = "http://localhost:8000/auth/google"
	DefaultContractAddress = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
)

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, &cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") {
		if !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases["sqlite3"] = db
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.APIBaseURL == "" {
		b.APIBaseURL = DefaultAPIBaseURL
	}
	b.APIBaseURL = strings.TrimRight(b.APIBaseURL, "/")
	if b.APITimeoutSeconds <= 0 {
		b.APITimeoutSeconds = 30
	}
	if b.OAuthURL == "" {
		b.OAuthURL = DefaultOAuthURL
	}
	b.Database = strings.ToLower(b.Database)
	if b.Database == "" || b.Database == "sqlite" {
		b.Database = "sqlite3"
	}
	if b.SessionTTLHours <= 0 {
		b.SessionTTLHours = 24 * 7
	}
	if b.SimulateDelayMillis <= 0 {
		b.SimulateDelayMillis = 2000
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 10
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "datamask.db"}
	}
	if c.Ledger.ContractAddress == "" {
		c.Ledger.ContractAddress = DefaultContractAddress
	}
	if c.Ledger.ChainID == 0 {
		c.Ledger.ChainID = 31337
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnvOverrides lets deployments override the file without editing it.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("DATAMASK_ADDR")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("DATAMASK_API_BASE_URL")); v != "" {
		c.BasicConfig.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATAMASK_OAUTH_URL")); v != "" {
		c.BasicConfig.OAuthURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATAMASK_DB")); v != "" {
		c.BasicConfig.Database = v
	}
	if v, ok := parseBoolEnv("DATAMASK_SIMULATE_PROCESSING"); ok {
		c.BasicConfig.SimulateProcessing = v
	}
	if v := strings.TrimSpace(os.Getenv("DATAMASK_LEDGER_RPC_URL")); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATAMASK_LEDGER_PASSPHRASE")); v != "" {
		c.Ledger.Passphrase = v
	}
	if v := strings.TrimSpace(os.Getenv("DATAMASK_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

func parseBoolEnv(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.BasicConfig.Database {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported database %q", c.BasicConfig.Database)
	}
	if _, ok := c.Databases[c.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	if !strings.HasPrefix(c.BasicConfig.APIBaseURL, "http://") && !strings.HasPrefix(c.BasicConfig.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be an http(s) url")
	}
	return nil
}
