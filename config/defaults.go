package config

// Default contract addresses on Ethereum mainnet.
const (
	DefaultBooster    = "0xF403C135812408BFbE8713b5A23a04b3D48AAE31" // Convex booster
	DefaultSwapRouter = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D" // Uniswap V2 router
)

// Default returns the default daemon configuration.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Backend: BackendSim,
		EVM: EVMConfig{
			RPCURL:     "http://127.0.0.1:8545",
			Booster:    DefaultBooster,
			SwapRouter: DefaultSwapRouter,
			ChainID:    1,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8645,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
