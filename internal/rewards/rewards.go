// Package rewards forwards stake, unstake and claim calls to the external
// reward pool and derives a depositor's share of what the vault has earned.
package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrPoolCall wraps every reward pool failure.
var ErrPoolCall = errors.New("reward pool call failed")

// Adapter talks to the reward pool on behalf of the vault account.
type Adapter struct {
	pool   contracts.RewardPool
	tokens contracts.TokenSet
	vault  common.Address
}

// New creates an adapter for the pool the vault stakes into.
func New(pool contracts.RewardPool, tokens contracts.TokenSet, vault common.Address) *Adapter {
	return &Adapter{pool: pool, tokens: tokens, vault: vault}
}

// Stake deposits amount LP tokens held by the vault into the pool.
func (a *Adapter) Stake(ctx context.Context, amount *uint256.Int) error {
	if err := a.pool.Stake(ctx, amount); err != nil {
		return fmt.Errorf("%w: stake %s: %v", ErrPoolCall, amount.Dec(), err)
	}
	return nil
}

// Unstake withdraws amount LP tokens from the pool back to the vault.
func (a *Adapter) Unstake(ctx context.Context, amount *uint256.Int) error {
	if err := a.pool.Withdraw(ctx, amount); err != nil {
		return fmt.Errorf("%w: withdraw %s: %v", ErrPoolCall, amount.Dec(), err)
	}
	return nil
}

// Earned returns everything the vault has accrued in the pool.
func (a *Adapter) Earned(ctx context.Context) ([]contracts.Reward, error) {
	earned, err := a.pool.Earned(ctx, a.vault)
	if err != nil {
		return nil, fmt.Errorf("%w: earned: %v", ErrPoolCall, err)
	}
	return earned, nil
}

// PendingRewards returns the part of the vault's accrued rewards owed to a
// depositor holding balance out of supply, rounded down. Every amount is
// zero when supply is zero.
func (a *Adapter) PendingRewards(ctx context.Context, balance, supply *uint256.Int) ([]contracts.Reward, error) {
	earned, err := a.Earned(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.Reward, len(earned))
	for i, r := range earned {
		out[i] = contracts.Reward{Token: r.Token, Amount: Share(r.Amount, balance, supply)}
	}
	return out, nil
}

// Harvest claims the vault's rewards and returns the amount of each reward
// token actually received.
func (a *Adapter) Harvest(ctx context.Context) ([]contracts.Reward, error) {
	rewardTokens, err := a.pool.RewardTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reward tokens: %v", ErrPoolCall, err)
	}

	handles := make([]contracts.Token, len(rewardTokens))
	before := make([]*uint256.Int, len(rewardTokens))
	for i, addr := range rewardTokens {
		tok, err := a.tokens.Token(addr)
		if err != nil {
			return nil, fmt.Errorf("reward token %s: %w", addr, err)
		}
		bal, err := tok.BalanceOf(ctx, a.vault)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", addr, err)
		}
		handles[i], before[i] = tok, bal
	}

	if err := a.pool.GetReward(ctx, a.vault); err != nil {
		return nil, fmt.Errorf("%w: get reward: %v", ErrPoolCall, err)
	}

	out := make([]contracts.Reward, len(rewardTokens))
	for i, tok := range handles {
		after, err := tok.BalanceOf(ctx, a.vault)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", tok.Address(), err)
		}
		received := new(uint256.Int)
		if after.Gt(before[i]) {
			received.Sub(after, before[i])
		}
		out[i] = contracts.Reward{Token: tok.Address(), Amount: received}
	}
	return out, nil
}

// Share computes floor(amount * balance / supply) with a 512-bit
// intermediate product. Returns zero when supply is zero.
func Share(amount, balance, supply *uint256.Int) *uint256.Int {
	if supply == nil || supply.IsZero() || amount == nil || balance == nil {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(amount, balance, supply)
	if overflow {
		// Only possible when balance > supply, which the ledger forbids.
		return new(uint256.Int).Set(amount)
	}
	return z
}
