package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is the daemon version reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string
	Backend string

	// Vault
	Pid             uint64
	Operator        string
	RewardRecipient string
	Whitelist       string

	// EVM
	EVMRPC     string
	Booster    string
	SwapRouter string
	KeyFile    string
	ChainID    uint64

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string

	// Metrics
	Metrics bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set flags (for zero and false overrides).
	SetPid     bool
	SetRPC     bool
	SetMetrics bool
	SetLogJSON bool
}

// ParseFlags parses command-line flags from args (without the program
// name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("vaultd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")
	fs.StringVar(&f.Backend, "backend", "", "Backend: sim or evm")

	// Vault
	fs.Uint64Var(&f.Pid, "pid", 0, "Reward pool id")
	fs.StringVar(&f.Operator, "operator", "", "Operator address")
	fs.StringVar(&f.RewardRecipient, "reward-recipient", "", "Harvested reward recipient")
	fs.StringVar(&f.Whitelist, "whitelist", "", "Assets to whitelist at startup (comma-separated)")

	// EVM
	fs.StringVar(&f.EVMRPC, "evm-rpc", "", "Ethereum JSON-RPC endpoint")
	fs.StringVar(&f.Booster, "evm-booster", "", "Booster contract address")
	fs.StringVar(&f.SwapRouter, "evm-router", "", "Swap router contract address")
	fs.StringVar(&f.KeyFile, "evm-keyfile", "", "Vault account key file")
	fs.Uint64Var(&f.ChainID, "evm-chainid", 0, "Chain id for transaction signing")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")

	// Metrics
	fs.BoolVar(&f.Metrics, "metrics", true, "Serve Prometheus metrics on /metrics")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			f.Help = true
			return f, nil
		}
		return nil, err
	}

	f.SetPid = isFlagSet(fs, "pid")
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetMetrics = isFlagSet(fs, "metrics")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the parser.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Backend != "" {
		cfg.Backend = BackendType(strings.ToLower(f.Backend))
	}

	// Vault
	if f.SetPid {
		cfg.Vault.Pid = f.Pid
	}
	if f.Operator != "" {
		cfg.Vault.Operator = f.Operator
	}
	if f.RewardRecipient != "" {
		cfg.Vault.RewardRecipient = f.RewardRecipient
	}
	if f.Whitelist != "" {
		cfg.Vault.Whitelist = parseStringList(f.Whitelist)
	}

	// EVM
	if f.EVMRPC != "" {
		cfg.EVM.RPCURL = f.EVMRPC
	}
	if f.Booster != "" {
		cfg.EVM.Booster = f.Booster
	}
	if f.SwapRouter != "" {
		cfg.EVM.SwapRouter = f.SwapRouter
	}
	if f.KeyFile != "" {
		cfg.EVM.KeyFile = f.KeyFile
	}
	if f.ChainID != 0 {
		cfg.EVM.ChainID = f.ChainID
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}

	// Metrics
	if f.SetMetrics {
		cfg.Metrics.Enabled = f.Metrics
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the daemon's help text to stdout.
func PrintUsage() {
	usage := `Klingnet Vault - LP staking vault daemon

Usage:
  vaultd [options]
  vaultd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --datadir       Data directory (default: ~/.klingnet-vault)
  --config, -c    Config file path (default: <datadir>/vault.conf)
  --backend       sim (in-process devnet, default) or evm

Vault Options:
  --pid               Reward pool id
  --operator          Operator address (whitelists assets, harvests)
  --reward-recipient  Where harvested rewards are sent
  --whitelist         Assets to whitelist at startup (comma-separated)

EVM Options:
  --evm-rpc       Ethereum JSON-RPC endpoint (default: http://127.0.0.1:8545)
  --evm-chainid   Chain id for transaction signing (default: 1)
  --evm-booster   Booster contract address
  --evm-router    Swap router contract address
  --evm-keyfile   Vault account key file (default: <datadir>/keys/vault.key)

RPC Options:
  --rpc           Enable RPC server (default: true)
  --rpc-addr      RPC listen address (default: 127.0.0.1)
  --rpc-port      RPC port (default: 8645)
  --rpc-allowed   Allowed IPs for RPC (comma-separated)
  --rpc-cors      Allowed CORS origins for RPC (comma-separated)
  --metrics       Serve Prometheus metrics on /metrics (default: true)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Devnet vault
  vaultd --operator=0x...

  # Convex pool 9 on mainnet
  vaultd --backend=evm --pid=9 --operator=0x... --evm-rpc=https://...
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
//
// When the flags ask for help or the version, Load returns them with a nil
// config.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help || flags.Version {
		return nil, flags, nil
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	// Apply flags (highest precedence)
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. It is safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.KeysDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
