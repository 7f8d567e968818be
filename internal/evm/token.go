package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNativePull is returned by TransferFrom on the native asset: native
// currency cannot be pulled from another account.
var ErrNativePull = errors.New("native currency cannot be pulled; send it with the call")

// Tokens resolves assets to ERC20 handles acting as the client's account.
type Tokens struct {
	client *Client
	mu     sync.Mutex
	cache  map[common.Address]contracts.Token
}

// NewTokens returns a token set for c.
func NewTokens(c *Client) *Tokens {
	return &Tokens{client: c, cache: make(map[common.Address]contracts.Token)}
}

// Token returns the handle for asset. NativeAsset maps to the chain's
// native currency.
func (t *Tokens) Token(asset common.Address) (contracts.Token, error) {
	if asset == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", contracts.ErrUnknownToken)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if tok, ok := t.cache[asset]; ok {
		return tok, nil
	}
	var tok contracts.Token
	if asset == contracts.NativeAsset {
		tok = &nativeToken{client: t.client}
	} else {
		tok = &erc20Token{client: t.client, addr: asset, contract: t.client.contract(asset, erc20)}
	}
	t.cache[asset] = tok
	return tok, nil
}

type erc20Token struct {
	client   *Client
	addr     common.Address
	contract *bind.BoundContract
}

func (t *erc20Token) Address() common.Address {
	return t.addr
}

func (t *erc20Token) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	out, err := t.client.call(ctx, t.contract, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return outBig(out, 0)
}

func (t *erc20Token) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return t.client.transact(ctx, t.contract, nil, "transfer", to, amount.ToBig())
}

func (t *erc20Token) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return t.client.transact(ctx, t.contract, nil, "transferFrom", from, to, amount.ToBig())
}

// approve raises spender's allowance to at least amount.
func (t *erc20Token) approve(ctx context.Context, spender common.Address, amount *uint256.Int) error {
	out, err := t.client.call(ctx, t.contract, "allowance", t.client.from, spender)
	if err != nil {
		return err
	}
	current, err := outBig(out, 0)
	if err != nil {
		return err
	}
	if !current.Lt(amount) {
		return nil
	}
	return t.client.transact(ctx, t.contract, nil, "approve", spender, amount.ToBig())
}

func (t *erc20Token) totalSupply(ctx context.Context) (*uint256.Int, error) {
	out, err := t.client.call(ctx, t.contract, "totalSupply")
	if err != nil {
		return nil, err
	}
	return outBig(out, 0)
}

type nativeToken struct {
	client *Client
}

func (t *nativeToken) Address() common.Address {
	return contracts.NativeAsset
}

func (t *nativeToken) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	b, err := t.client.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("native balance overflows 256 bits")
	}
	return v, nil
}

func (t *nativeToken) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return t.client.send(ctx, to, amount)
}

func (t *nativeToken) TransferFrom(context.Context, common.Address, common.Address, *uint256.Int) error {
	return ErrNativePull
}
