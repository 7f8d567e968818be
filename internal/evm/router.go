package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DefaultSwapDeadline bounds how long a submitted swap stays valid.
const DefaultSwapDeadline = 10 * time.Minute

// Router swaps through a UniswapV2-style router. The amount reported is the
// balance change of the output token on the vault account, so for native
// output it is net of the swap's gas cost.
type Router struct {
	client   *Client
	addr     common.Address
	contract *bind.BoundContract
	tokens   *Tokens
	deadline time.Duration

	mu   sync.Mutex
	weth common.Address
}

// NewRouter binds the router at addr.
func NewRouter(c *Client, addr common.Address, tokens *Tokens) *Router {
	return &Router{
		client:   c,
		addr:     addr,
		contract: c.contract(addr, router),
		tokens:   tokens,
		deadline: DefaultSwapDeadline,
	}
}

func (r *Router) Swap(ctx context.Context, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	out, err := r.tokens.Token(to)
	if err != nil {
		return nil, err
	}
	before, err := out.BalanceOf(ctx, r.client.from)
	if err != nil {
		return nil, err
	}

	deadline := big.NewInt(time.Now().Add(r.deadline).Unix())
	zero := new(big.Int)
	switch {
	case from == contracts.NativeAsset:
		weth, err := r.wrapped(ctx)
		if err != nil {
			return nil, err
		}
		err = r.client.transact(ctx, r.contract, amount, "swapExactETHForTokens",
			zero, []common.Address{weth, to}, r.client.from, deadline)
		if err != nil {
			return nil, err
		}
	case to == contracts.NativeAsset:
		weth, err := r.wrapped(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.approve(ctx, from, amount); err != nil {
			return nil, err
		}
		err = r.client.transact(ctx, r.contract, nil, "swapExactTokensForETH",
			amount.ToBig(), zero, []common.Address{from, weth}, r.client.from, deadline)
		if err != nil {
			return nil, err
		}
	default:
		if err := r.approve(ctx, from, amount); err != nil {
			return nil, err
		}
		err = r.client.transact(ctx, r.contract, nil, "swapExactTokensForTokens",
			amount.ToBig(), zero, []common.Address{from, to}, r.client.from, deadline)
		if err != nil {
			return nil, err
		}
	}

	after, err := out.BalanceOf(ctx, r.client.from)
	if err != nil {
		return nil, err
	}
	if !after.Gt(before) {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(after, before), nil
}

func (r *Router) approve(ctx context.Context, asset common.Address, amount *uint256.Int) error {
	tok, err := r.tokens.Token(asset)
	if err != nil {
		return err
	}
	erc, ok := tok.(*erc20Token)
	if !ok {
		return fmt.Errorf("cannot approve %s", asset)
	}
	return erc.approve(ctx, r.addr, amount)
}

func (r *Router) wrapped(ctx context.Context) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.weth != (common.Address{}) {
		return r.weth, nil
	}
	out, err := r.client.call(ctx, r.contract, "WETH")
	if err != nil {
		return common.Address{}, err
	}
	weth, err := outAddress(out, 0)
	if err != nil {
		return common.Address{}, err
	}
	r.weth = weth
	return weth, nil
}
