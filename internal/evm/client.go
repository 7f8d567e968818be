// Package evm binds the vault's collaborators to deployed contracts: ERC20
// tokens, a Convex booster and its reward pools, and a UniswapV2-style
// router.
//
// All transactions are signed by a single key whose address acts as the
// vault account.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	klog "github.com/Klingon-tech/klingnet-vault/internal/log"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ErrReverted is returned when a mined transaction failed.
var ErrReverted = errors.New("transaction reverted")

// Backend is what the client needs from a node connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client signs and sends transactions from one account.
type Client struct {
	backend Backend
	auth    *bind.TransactOpts
	from    common.Address
	logger  zerolog.Logger
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, key *ecdsa.PrivateKey, chainID uint64) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewClient(ec, key, chainID)
}

// NewClient creates a client over an existing backend.
func NewClient(backend Backend, key *ecdsa.PrivateKey, chainID uint64) (*Client, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	return &Client{
		backend: backend,
		auth:    auth,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		logger:  klog.Backend.With().Str("backend", "evm").Logger(),
	}, nil
}

// Address returns the signing account, which is the vault's address.
func (c *Client) Address() common.Address {
	return c.from
}

// Close releases the node connection when the backend holds one.
func (c *Client) Close() {
	if cl, ok := c.backend.(interface{ Close() }); ok {
		cl.Close()
	}
}

func (c *Client) contract(addr common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsed, c.backend, c.backend, c.backend)
}

// call runs a read-only method and returns its outputs.
func (c *Client) call(ctx context.Context, contract *bind.BoundContract, method string, params ...any) ([]any, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx, From: c.from}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// transact sends a method call and waits for it to be mined successfully.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, value *uint256.Int, method string, params ...any) error {
	opts := *c.auth
	opts.Context = ctx
	if value != nil {
		opts.Value = value.ToBig()
	}
	tx, err := contract.Transact(&opts, method, params...)
	if err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return c.wait(ctx, tx, method)
}

// send transfers native currency to `to`.
func (c *Client) send(ctx context.Context, to common.Address, value *uint256.Int) error {
	opts := *c.auth
	opts.Context = ctx
	opts.Value = value.ToBig()
	tx, err := c.contract(to, abi.ABI{}).Transfer(&opts)
	if err != nil {
		return fmt.Errorf("send value: %w", err)
	}
	return c.wait(ctx, tx, "transfer")
}

func (c *Client) wait(ctx context.Context, tx *types.Transaction, what string) error {
	start := time.Now()
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return fmt.Errorf("wait for %s %s: %w", what, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s", ErrReverted, what, tx.Hash().Hex())
	}
	c.logger.Debug().
		Str("tx", tx.Hash().Hex()).
		Str("method", what).
		Uint64("gas", receipt.GasUsed).
		Dur("elapsed", time.Since(start)).
		Msg("Transaction mined")
	return nil
}

func outBig(out []any, i int) (*uint256.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	b, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d is %T, want *big.Int", i, out[i])
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("output %d overflows 256 bits", i)
	}
	return v, nil
}

func outAddress(out []any, i int) (common.Address, error) {
	if i >= len(out) {
		return common.Address{}, fmt.Errorf("missing output %d", i)
	}
	a, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d is %T, want address", i, out[i])
	}
	return a, nil
}
