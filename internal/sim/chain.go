// Package sim provides in-process stand-ins for the vault's external
// collaborators: ERC20-style tokens, a fixed-rate swap venue and a reward
// pool with operator-driven accrual.
//
// All state lives in a Chain. Every external call can be made to fail with
// Fail, and OnCall installs a hook that runs before each call, which lets
// tests call back into the vault from inside a collaborator.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Operation names used by Fail, OnCall and Calls.
const (
	OpTransfer     = "transfer"
	OpTransferFrom = "transferFrom"
	OpSwap         = "swap"
	OpStake        = "stake"
	OpWithdraw     = "withdraw"
	OpEarned       = "earned"
	OpGetReward    = "getReward"
)

// Simulation errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNoRoute               = errors.New("no swap route")
)

type faultKey struct {
	op    string
	token common.Address
}

type ledgerKey struct {
	token   common.Address
	account common.Address
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Chain holds the state shared by every simulated contract.
type Chain struct {
	mu         sync.Mutex
	tokens     map[common.Address]string
	balances   map[ledgerKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	faults     map[faultKey]error
	calls      map[string]int
	hook       func(ctx context.Context, op string)
}

// NewChain returns an empty simulated chain.
func NewChain() *Chain {
	return &Chain{
		tokens:     make(map[common.Address]string),
		balances:   make(map[ledgerKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		faults:     make(map[faultKey]error),
		calls:      make(map[string]int),
	}
}

// Deploy registers a token at addr. Deploying twice is a no-op.
func (c *Chain) Deploy(addr common.Address, symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[addr]; !ok {
		c.tokens[addr] = symbol
	}
}

// Symbol returns the symbol a token was deployed with.
func (c *Chain) Symbol(token common.Address) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[token]
}

// Mint credits amount of token to account.
func (c *Chain) Mint(token, to common.Address, amount *uint256.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tokens[token]; !ok {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownToken, token)
	}
	return c.credit(token, to, amount)
}

// Approve sets the amount spender may pull from owner.
func (c *Chain) Approve(token, owner, spender common.Address, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowances[allowanceKey{token, owner, spender}] = amount.Clone()
}

// Allowance returns what spender may still pull from owner.
func (c *Chain) Allowance(token, owner, spender common.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.allowances[allowanceKey{token, owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Balance returns account's balance of token.
func (c *Chain) Balance(token, account common.Address) *uint256.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceOf(token, account).Clone()
}

// Fail makes every subsequent call of op fail with err. A zero token applies
// to all tokens; a nil err clears the fault.
func (c *Chain) Fail(op string, token common.Address, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := faultKey{op, token}
	if err == nil {
		delete(c.faults, key)
		return
	}
	c.faults[key] = err
}

// OnCall installs fn to run before every external call.
func (c *Chain) OnCall(fn func(ctx context.Context, op string)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Calls returns how many times op has been invoked.
func (c *Chain) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Tokens returns a token set whose handles act on behalf of holder.
func (c *Chain) Tokens(holder common.Address) contracts.TokenSet {
	return &tokenSet{chain: c, holder: holder}
}

// enter records the call, runs the hook and reports an injected fault.
func (c *Chain) enter(ctx context.Context, op string, token common.Address) error {
	c.mu.Lock()
	c.calls[op]++
	hook := c.hook
	err := c.faults[faultKey{op, token}]
	if err == nil {
		err = c.faults[faultKey{op, common.Address{}}]
	}
	c.mu.Unlock()

	if hook != nil {
		hook(ctx, op)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *Chain) balanceOf(token, account common.Address) *uint256.Int {
	if b, ok := c.balances[ledgerKey{token, account}]; ok {
		return b
	}
	return new(uint256.Int)
}

func (c *Chain) credit(token, account common.Address, amount *uint256.Int) error {
	bal, overflow := new(uint256.Int).AddOverflow(c.balanceOf(token, account), amount)
	if overflow {
		return fmt.Errorf("mint %s: balance overflow", token)
	}
	c.balances[ledgerKey{token, account}] = bal
	return nil
}

func (c *Chain) debit(token, account common.Address, amount *uint256.Int) error {
	bal := c.balanceOf(token, account)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, account, bal.Dec(), amount.Dec())
	}
	c.balances[ledgerKey{token, account}] = new(uint256.Int).Sub(bal, amount)
	return nil
}

func (c *Chain) move(token, from, to common.Address, amount *uint256.Int) error {
	if err := c.debit(token, from, amount); err != nil {
		return err
	}
	return c.credit(token, to, amount)
}

type tokenSet struct {
	chain  *Chain
	holder common.Address
}

func (s *tokenSet) Token(asset common.Address) (contracts.Token, error) {
	s.chain.mu.Lock()
	_, ok := s.chain.tokens[asset]
	s.chain.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownToken, asset)
	}
	return &token{chain: s.chain, addr: asset, holder: s.holder}, nil
}

// token is a handle on a simulated token acting as holder.
type token struct {
	chain  *Chain
	addr   common.Address
	holder common.Address
}

func (t *token) Address() common.Address {
	return t.addr
}

func (t *token) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	return t.chain.Balance(t.addr, account), nil
}

func (t *token) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := t.chain.enter(ctx, OpTransfer, t.addr); err != nil {
		return err
	}
	t.chain.mu.Lock()
	defer t.chain.mu.Unlock()
	return t.chain.move(t.addr, t.holder, to, amount)
}

func (t *token) TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := t.chain.enter(ctx, OpTransferFrom, t.addr); err != nil {
		return err
	}
	c := t.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	key := allowanceKey{t.addr, from, t.holder}
	allowance, ok := c.allowances[key]
	if !ok || allowance.Lt(amount) {
		return fmt.Errorf("%w: %s -> %s", ErrInsufficientAllowance, from, t.holder)
	}
	if err := c.move(t.addr, from, to, amount); err != nil {
		return err
	}
	c.allowances[key] = new(uint256.Int).Sub(allowance, amount)
	return nil
}
