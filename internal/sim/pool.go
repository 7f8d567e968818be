package sim

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RewardPool is a staking pool whose rewards are accrued explicitly with
// Accrue instead of by an emission schedule.
type RewardPool struct {
	chain        *Chain
	address      common.Address
	holder       common.Address
	lpToken      common.Address
	rewardTokens []common.Address
	staked       map[common.Address]*uint256.Int
	earned       map[common.Address]map[common.Address]*uint256.Int
}

// NewRewardPool deploys a pool at address that holder stakes lpToken into.
func (c *Chain) NewRewardPool(address, holder, lpToken common.Address, rewardTokens ...common.Address) *RewardPool {
	for _, t := range rewardTokens {
		c.Deploy(t, "")
	}
	return &RewardPool{
		chain:        c,
		address:      address,
		holder:       holder,
		lpToken:      lpToken,
		rewardTokens: append([]common.Address(nil), rewardTokens...),
		staked:       make(map[common.Address]*uint256.Int),
		earned:       make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Address returns the pool's own account.
func (p *RewardPool) Address() common.Address {
	return p.address
}

// StakedOf returns the LP amount account has staked.
func (p *RewardPool) StakedOf(account common.Address) *uint256.Int {
	p.chain.mu.Lock()
	defer p.chain.mu.Unlock()
	return p.stakedOf(account).Clone()
}

// Accrue adds amount of rewardToken to what account has earned.
func (p *RewardPool) Accrue(account, rewardToken common.Address, amount *uint256.Int) error {
	p.chain.mu.Lock()
	defer p.chain.mu.Unlock()

	if !p.isRewardToken(rewardToken) {
		return fmt.Errorf("%w: %s is not a reward token", contracts.ErrUnknownToken, rewardToken)
	}
	byToken, ok := p.earned[account]
	if !ok {
		byToken = make(map[common.Address]*uint256.Int)
		p.earned[account] = byToken
	}
	cur, ok := byToken[rewardToken]
	if !ok {
		cur = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("accrue %s: overflow", rewardToken)
	}
	byToken[rewardToken] = sum
	return nil
}

func (p *RewardPool) Stake(ctx context.Context, amount *uint256.Int) error {
	if err := p.chain.enter(ctx, OpStake, p.lpToken); err != nil {
		return err
	}
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.move(p.lpToken, p.holder, p.address, amount); err != nil {
		return fmt.Errorf("stake: %w", err)
	}
	p.staked[p.holder] = new(uint256.Int).Add(p.stakedOf(p.holder), amount)
	return nil
}

func (p *RewardPool) Withdraw(ctx context.Context, amount *uint256.Int) error {
	if err := p.chain.enter(ctx, OpWithdraw, p.lpToken); err != nil {
		return err
	}
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	staked := p.stakedOf(p.holder)
	if staked.Lt(amount) {
		return fmt.Errorf("withdraw: %w: staked %s, requested %s", ErrInsufficientBalance, staked.Dec(), amount.Dec())
	}
	if err := c.move(p.lpToken, p.address, p.holder, amount); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	p.staked[p.holder] = new(uint256.Int).Sub(staked, amount)
	return nil
}

func (p *RewardPool) Earned(ctx context.Context, account common.Address) ([]contracts.Reward, error) {
	if err := p.chain.enter(ctx, OpEarned, common.Address{}); err != nil {
		return nil, err
	}
	p.chain.mu.Lock()
	defer p.chain.mu.Unlock()

	out := make([]contracts.Reward, 0, len(p.rewardTokens))
	for _, t := range p.rewardTokens {
		amount := new(uint256.Int)
		if v, ok := p.earned[account][t]; ok {
			amount.Set(v)
		}
		out = append(out, contracts.Reward{Token: t, Amount: amount})
	}
	return out, nil
}

func (p *RewardPool) GetReward(ctx context.Context, account common.Address) error {
	if err := p.chain.enter(ctx, OpGetReward, common.Address{}); err != nil {
		return err
	}
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	for t, amount := range p.earned[account] {
		if amount.IsZero() {
			continue
		}
		if err := c.credit(t, account, amount); err != nil {
			return fmt.Errorf("pay %s: %w", t, err)
		}
	}
	delete(p.earned, account)
	return nil
}

func (p *RewardPool) RewardTokens(context.Context) ([]common.Address, error) {
	return append([]common.Address(nil), p.rewardTokens...), nil
}

func (p *RewardPool) stakedOf(account common.Address) *uint256.Int {
	if v, ok := p.staked[account]; ok {
		return v
	}
	return new(uint256.Int)
}

func (p *RewardPool) isRewardToken(t common.Address) bool {
	for _, rt := range p.rewardTokens {
		if rt == t {
			return true
		}
	}
	return false
}
