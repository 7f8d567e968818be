package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "datadir":
		cfg.DataDir = value
	case "backend":
		cfg.Backend = BackendType(strings.ToLower(value))

	// Vault
	case "vault.pid":
		pid, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Vault.Pid = pid
	case "vault.operator":
		cfg.Vault.Operator = value
	case "vault.rewardrecipient":
		cfg.Vault.RewardRecipient = value
	case "vault.whitelist":
		cfg.Vault.Whitelist = parseStringList(value)

	// EVM
	case "evm.rpc":
		cfg.EVM.RPCURL = value
	case "evm.booster":
		cfg.EVM.Booster = value
	case "evm.swaprouter":
		cfg.EVM.SwapRouter = value
	case "evm.keyfile":
		cfg.EVM.KeyFile = value
	case "evm.chainid":
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.EVM.ChainID = id

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = port
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string) error {
	content := `# Klingnet Vault Configuration
#
# The vault's pool id and roles are fixed once it holds deposits.
# Changing them later leaves existing balances bound to the old pool.

# Data directory (default: ~/.klingnet-vault)
# datadir = ~/.klingnet-vault

# Backend: sim (in-process devnet) or evm (deployed contracts)
backend = sim

# ============================================================================
# Vault
# ============================================================================

# Reward pool id
vault.pid = 0

# Operator address (required): may whitelist assets and harvest rewards
# vault.operator = 0x...

# Where harvested rewards go (empty keeps them in the vault)
# vault.rewardrecipient = 0x...

# Assets to whitelist at startup (comma-separated)
# vault.whitelist = 0x...,0x...

# ============================================================================
# EVM backend
# ============================================================================

evm.rpc = http://127.0.0.1:8545
evm.chainid = 1
evm.booster = ` + DefaultBooster + `
evm.swaprouter = ` + DefaultSwapRouter + `

# Encrypted key of the vault account (default: <datadir>/keys/vault.key)
# evm.keyfile =

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = 8645
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000

# Serve Prometheus metrics on /metrics
metrics.enabled = true

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
