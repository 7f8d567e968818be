// Package contracts defines the call contracts of the vault's external
// collaborators: token contracts, the swap venue and the reward pool.
//
// The vault never talks to a chain directly. It is handed implementations
// of these interfaces at construction time: internal/evm binds them to
// deployed contracts, internal/sim provides in-process stand-ins.
package contracts

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeAsset is the sentinel address used for the chain's native currency.
var NativeAsset = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// ErrUnknownToken is returned by TokenSet.Token for assets it cannot serve.
var ErrUnknownToken = errors.New("unknown token")

// Token is an ERC20-style token seen from the vault's account.
type Token interface {
	Address() common.Address
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	// Transfer moves amount from the vault to `to`.
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	// TransferFrom pulls amount from `from` into `to` using an allowance
	// granted to the vault.
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// TokenSet resolves asset addresses to Token handles.
type TokenSet interface {
	Token(asset common.Address) (Token, error)
}

// SwapVenue exchanges one asset for another. The returned amount is what the
// vault actually received. A failing swap must not move any funds.
type SwapVenue interface {
	Swap(ctx context.Context, from, to common.Address, amount *uint256.Int) (*uint256.Int, error)
}

// Reward is an amount of a single reward token.
type Reward struct {
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

// RewardPool is the external staking contract that accrues rewards on
// staked LP tokens.
type RewardPool interface {
	// Stake deposits amount LP tokens held by the vault into the pool.
	Stake(ctx context.Context, amount *uint256.Int) error
	// Withdraw releases amount LP tokens from the pool back to the vault.
	Withdraw(ctx context.Context, amount *uint256.Int) error
	// Earned reports the rewards accrued to account, one entry per reward
	// token, in RewardTokens order.
	Earned(ctx context.Context, account common.Address) ([]Reward, error)
	// GetReward pays out everything accrued to account.
	GetReward(ctx context.Context, account common.Address) error
	// RewardTokens lists the reward tokens the pool distributes.
	RewardTokens(ctx context.Context) ([]common.Address, error)
}
