package config

import (
	"fmt"
	"strings"

	"github.com/Klingon-tech/klingnet-vault/pkg/types"
)

// Validate checks the configuration for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error", "disabled", "off":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}

	if strings.TrimSpace(cfg.Vault.Operator) == "" {
		return fmt.Errorf("vault.operator is required")
	}
	if _, err := types.ParseAddress(cfg.Vault.Operator); err != nil {
		return fmt.Errorf("vault.operator: %w", err)
	}
	if cfg.Vault.RewardRecipient != "" {
		if _, err := types.ParseAddress(cfg.Vault.RewardRecipient); err != nil {
			return fmt.Errorf("vault.rewardrecipient: %w", err)
		}
	}
	if err := validateAddressList(cfg.Vault.Whitelist, "vault.whitelist"); err != nil {
		return err
	}

	switch cfg.Backend {
	case BackendSim:
	case BackendEVM:
		if cfg.EVM.RPCURL == "" {
			return fmt.Errorf("evm.rpc is required with backend=evm")
		}
		if cfg.EVM.ChainID == 0 {
			return fmt.Errorf("evm.chainid must be set with backend=evm")
		}
		if _, err := types.ParseAddress(cfg.EVM.Booster); err != nil {
			return fmt.Errorf("evm.booster: %w", err)
		}
		if _, err := types.ParseAddress(cfg.EVM.SwapRouter); err != nil {
			return fmt.Errorf("evm.swaprouter: %w", err)
		}
	default:
		return fmt.Errorf("backend must be %q or %q", BackendSim, BackendEVM)
	}

	return nil
}

func validateAddressList(list []string, field string) error {
	seen := make(map[string]struct{}, len(list))
	for i, s := range list {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		key := addr.Hex()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%s has duplicate address %s", field, key)
		}
		seen[key] = struct{}{}
		list[i] = key
	}
	return nil
}
