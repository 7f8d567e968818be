package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-vault/config"
	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/Klingon-tech/klingnet-vault/internal/evm"
	"github.com/Klingon-tech/klingnet-vault/internal/keys"
	"github.com/Klingon-tech/klingnet-vault/internal/sim"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// backend is the set of collaborators the vault is bound to.
type backend struct {
	vault   common.Address
	lpToken common.Address
	tokens  contracts.TokenSet
	venue   contracts.SwapVenue
	pool    contracts.RewardPool
	devnet  *sim.Devnet // nil unless backend = sim
	close   func()
}

// openBackend binds the collaborators selected by cfg.Backend.
func openBackend(ctx context.Context, cfg *config.Config, keyPassword []byte) (*backend, error) {
	switch cfg.Backend {
	case config.BackendSim:
		return simBackend(), nil
	case config.BackendEVM:
		return evmBackend(ctx, cfg, keyPassword)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func simBackend() *backend {
	d := sim.NewDevnet(sim.DevVault)
	return &backend{
		vault:   d.Vault,
		lpToken: sim.DevLPToken,
		tokens:  d.Tokens(),
		venue:   d.Venue,
		pool:    d.Pool,
		devnet:  d,
		close:   func() {},
	}
}

func evmBackend(ctx context.Context, cfg *config.Config, keyPassword []byte) (*backend, error) {
	keyFile := cfg.EVM.KeyFile
	if keyFile == "" {
		keyFile = cfg.DefaultKeyFile()
	}
	key, err := keys.Load(expandHome(keyFile), keyPassword)
	if err != nil {
		return nil, fmt.Errorf("load vault key %s: %w", keyFile, err)
	}

	booster, err := types.ParseAddress(cfg.EVM.Booster)
	if err != nil {
		return nil, fmt.Errorf("evm.booster: %w", err)
	}
	routerAddr, err := types.ParseAddress(cfg.EVM.SwapRouter)
	if err != nil {
		return nil, fmt.Errorf("evm.swaprouter: %w", err)
	}

	client, err := evm.Dial(ctx, cfg.EVM.RPCURL, key, cfg.EVM.ChainID)
	if err != nil {
		return nil, err
	}
	pool, err := evm.NewConvexPool(ctx, client, booster, cfg.Vault.Pid)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve pool %d: %w", cfg.Vault.Pid, err)
	}
	tokens := evm.NewTokens(client)

	return &backend{
		vault:   client.Address(),
		lpToken: pool.LPToken(),
		tokens:  tokens,
		venue:   evm.NewRouter(client, routerAddr, tokens),
		pool:    pool,
		close:   client.Close,
	}, nil
}

// parseOptionalAddress parses s, returning the zero address for "".
func parseOptionalAddress(s string) (common.Address, error) {
	if strings.TrimSpace(s) == "" {
		return common.Address{}, nil
	}
	return types.ParseAddress(s)
}
