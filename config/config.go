// Package config handles the vault daemon's configuration.
//
// Settings come from three layers, each overriding the previous one:
// built-in defaults, the key = value config file in the data directory and
// command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// BackendType selects what the vault's collaborators are bound to.
type BackendType string

const (
	// BackendSim runs against the in-process devnet.
	BackendSim BackendType = "sim"
	// BackendEVM binds to deployed contracts over JSON-RPC.
	BackendEVM BackendType = "evm"
)

// =============================================================================
// Daemon Configuration
// =============================================================================

// Config holds the daemon's runtime configuration.
type Config struct {
	// Core
	DataDir string      `conf:"datadir"`
	Backend BackendType `conf:"backend"`

	// Vault identity
	Vault VaultConfig

	// Chain binding (backend = evm)
	EVM EVMConfig

	// RPC server
	RPC RPCConfig

	// Prometheus metrics
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// VaultConfig fixes the vault's pool and roles. These cannot change while
// the vault holds deposits.
type VaultConfig struct {
	Pid             uint64   `conf:"vault.pid"`
	Operator        string   `conf:"vault.operator"`
	RewardRecipient string   `conf:"vault.rewardrecipient"` // Empty keeps rewards in the vault.
	Whitelist       []string `conf:"vault.whitelist"`       // Seeded at startup via the operator.
}

// EVMConfig holds the contract bindings for the evm backend.
type EVMConfig struct {
	RPCURL     string `conf:"evm.rpc"`
	Booster    string `conf:"evm.booster"`
	SwapRouter string `conf:"evm.swaprouter"`
	KeyFile    string `conf:"evm.keyfile"` // Encrypted key of the vault's own account.
	ChainID    uint64 `conf:"evm.chainid"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// MetricsConfig holds the /metrics endpoint settings. Metrics are served
// by the RPC server.
type MetricsConfig struct {
	Enabled bool `conf:"metrics.enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-vault
//	macOS:   ~/Library/Application Support/KlingnetVault
//	Windows: %APPDATA%\KlingnetVault
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-vault"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetVault")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetVault")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetVault")
	default:
		return filepath.Join(home, ".klingnet-vault")
	}
}

// BackendDataDir returns the backend-specific data directory. Sim and evm
// state never share a database.
func (c *Config) BackendDataDir() string {
	return filepath.Join(c.DataDir, string(c.Backend))
}

// DBDir returns the vault database directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.BackendDataDir(), "db")
}

// KeysDir returns the key file directory.
func (c *Config) KeysDir() string {
	return filepath.Join(c.DataDir, "keys")
}

// DefaultKeyFile returns the default path of the vault account key.
func (c *Config) DefaultKeyFile() string {
	return filepath.Join(c.KeysDir(), "vault.key")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "vault.conf")
}
