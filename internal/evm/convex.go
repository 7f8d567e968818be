package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CVX emission parameters of the Convex minter.
const cvxTotalCliffs = 1000

var (
	cvxReductionPerCliff = new(uint256.Int).Mul(uint256.NewInt(100_000), uint256.NewInt(1e18))
	cvxMaxSupply         = new(uint256.Int).Mul(uint256.NewInt(100_000_000), uint256.NewInt(1e18))
)

// ConvexPool stakes LP tokens through a Convex booster and reads rewards from
// the pool's BaseRewardPool. Rewards are reported as CRV, CVX, then any extra
// reward tokens.
type ConvexPool struct {
	client      *Client
	pid         uint64
	boosterAddr common.Address
	booster     *bind.BoundContract
	lpToken     *erc20Token
	rewardsAddr common.Address
	rewards     *bind.BoundContract
	crv         common.Address
	cvx         *erc20Token
}

// NewConvexPool resolves pid's LP token and reward contract from the booster.
func NewConvexPool(ctx context.Context, c *Client, boosterAddr common.Address, pid uint64) (*ConvexPool, error) {
	b := c.contract(boosterAddr, booster)
	info, err := c.call(ctx, b, "poolInfo", new(big.Int).SetUint64(pid))
	if err != nil {
		return nil, fmt.Errorf("pool %d: %w", pid, err)
	}
	lp, err := outAddress(info, 0)
	if err != nil {
		return nil, fmt.Errorf("pool %d lptoken: %w", pid, err)
	}
	crvRewards, err := outAddress(info, 3)
	if err != nil {
		return nil, fmt.Errorf("pool %d crvRewards: %w", pid, err)
	}
	if shutdown, ok := info[len(info)-1].(bool); ok && shutdown {
		return nil, fmt.Errorf("pool %d is shut down", pid)
	}

	out, err := c.call(ctx, b, "minter")
	if err != nil {
		return nil, err
	}
	cvx, err := outAddress(out, 0)
	if err != nil {
		return nil, err
	}

	rewards := c.contract(crvRewards, rewardPool)
	out, err = c.call(ctx, rewards, "rewardToken")
	if err != nil {
		return nil, err
	}
	crv, err := outAddress(out, 0)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Uint64("pid", pid).
		Str("lp_token", lp.Hex()).
		Str("reward_pool", crvRewards.Hex()).
		Msg("Resolved Convex pool")

	return &ConvexPool{
		client:      c,
		pid:         pid,
		boosterAddr: boosterAddr,
		booster:     b,
		lpToken:     &erc20Token{client: c, addr: lp, contract: c.contract(lp, erc20)},
		rewardsAddr: crvRewards,
		rewards:     rewards,
		crv:         crv,
		cvx:         &erc20Token{client: c, addr: cvx, contract: c.contract(cvx, erc20)},
	}, nil
}

// LPToken returns the pool's LP token.
func (p *ConvexPool) LPToken() common.Address {
	return p.lpToken.addr
}

// RewardContract returns the BaseRewardPool address.
func (p *ConvexPool) RewardContract() common.Address {
	return p.rewardsAddr
}

func (p *ConvexPool) Stake(ctx context.Context, amount *uint256.Int) error {
	if err := p.lpToken.approve(ctx, p.boosterAddr, amount); err != nil {
		return fmt.Errorf("approve booster: %w", err)
	}
	return p.client.transact(ctx, p.booster, nil, "deposit", new(big.Int).SetUint64(p.pid), amount.ToBig(), true)
}

func (p *ConvexPool) Withdraw(ctx context.Context, amount *uint256.Int) error {
	return p.client.transact(ctx, p.rewards, nil, "withdrawAndUnwrap", amount.ToBig(), false)
}

func (p *ConvexPool) GetReward(ctx context.Context, account common.Address) error {
	return p.client.transact(ctx, p.rewards, nil, "getReward", account, true)
}

func (p *ConvexPool) RewardTokens(ctx context.Context) ([]common.Address, error) {
	extras, err := p.extraPools(ctx)
	if err != nil {
		return nil, err
	}
	tokens := []common.Address{p.crv, p.cvx.addr}
	for _, x := range extras {
		tokens = append(tokens, x.token)
	}
	return tokens, nil
}

func (p *ConvexPool) Earned(ctx context.Context, account common.Address) ([]contracts.Reward, error) {
	out, err := p.client.call(ctx, p.rewards, "earned", account)
	if err != nil {
		return nil, err
	}
	crvEarned, err := outBig(out, 0)
	if err != nil {
		return nil, err
	}
	cvxSupply, err := p.cvx.totalSupply(ctx)
	if err != nil {
		return nil, fmt.Errorf("cvx supply: %w", err)
	}

	rewards := []contracts.Reward{
		{Token: p.crv, Amount: crvEarned},
		{Token: p.cvx.addr, Amount: CvxMinted(crvEarned, cvxSupply)},
	}

	extras, err := p.extraPools(ctx)
	if err != nil {
		return nil, err
	}
	for _, x := range extras {
		out, err := p.client.call(ctx, x.contract, "earned", account)
		if err != nil {
			return nil, err
		}
		amount, err := outBig(out, 0)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, contracts.Reward{Token: x.token, Amount: amount})
	}
	return rewards, nil
}

type extraPool struct {
	contract *bind.BoundContract
	token    common.Address
}

func (p *ConvexPool) extraPools(ctx context.Context) ([]extraPool, error) {
	out, err := p.client.call(ctx, p.rewards, "extraRewardsLength")
	if err != nil {
		return nil, err
	}
	n, err := outBig(out, 0)
	if err != nil {
		return nil, err
	}
	if !n.IsUint64() || n.Uint64() > 16 {
		return nil, fmt.Errorf("implausible extra reward count %s", n.Dec())
	}

	extras := make([]extraPool, 0, n.Uint64())
	for i := uint64(0); i < n.Uint64(); i++ {
		out, err := p.client.call(ctx, p.rewards, "extraRewards", new(big.Int).SetUint64(i))
		if err != nil {
			return nil, err
		}
		addr, err := outAddress(out, 0)
		if err != nil {
			return nil, err
		}
		vb := p.client.contract(addr, rewardPool)
		out, err = p.client.call(ctx, vb, "rewardToken")
		if err != nil {
			return nil, err
		}
		token, err := outAddress(out, 0)
		if err != nil {
			return nil, err
		}
		extras = append(extras, extraPool{contract: vb, token: token})
	}
	return extras, nil
}

// CvxMinted returns the CVX the Convex minter issues for crvEarned at the
// given CVX total supply. Emission drops linearly over 1000 cliffs of
// 100k CVX and stops at the 100M max supply.
func CvxMinted(crvEarned, cvxSupply *uint256.Int) *uint256.Int {
	cliff := new(uint256.Int).Div(cvxSupply, cvxReductionPerCliff)
	total := uint256.NewInt(cvxTotalCliffs)
	if !cliff.Lt(total) {
		return new(uint256.Int)
	}
	reduction := new(uint256.Int).Sub(total, cliff)
	amount, overflow := new(uint256.Int).MulDivOverflow(crvEarned, reduction, total)
	if overflow {
		return new(uint256.Int)
	}
	if cvxSupply.Lt(cvxMaxSupply) {
		tillMax := new(uint256.Int).Sub(cvxMaxSupply, cvxSupply)
		if amount.Gt(tillMax) {
			amount = tillMax
		}
	}
	return amount
}
