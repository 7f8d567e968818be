package evm

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callKey struct {
	to     common.Address
	method string
}

// fakeBackend answers eth_call from a table of canned results. Any
// transaction method panics through the nil embedded Backend.
type fakeBackend struct {
	Backend
	abis    []abi.ABI
	results map[callKey]func(args []any) []any
	native  map[common.Address]*big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		abis:    []abi.ABI{erc20, booster, rewardPool, router},
		results: make(map[callKey]func(args []any) []any),
		native:  make(map[common.Address]*big.Int),
	}
}

func (f *fakeBackend) on(to common.Address, method string, fn func(args []any) []any) {
	f.results[callKey{to, method}] = fn
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("bad call")
	}
	for _, parsed := range f.abis {
		method, err := parsed.MethodById(msg.Data[:4])
		if err != nil {
			continue
		}
		fn, ok := f.results[callKey{*msg.To, method.Name}]
		if !ok {
			continue
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(fn(args)...)
	}
	return nil, fmt.Errorf("no result for call to %s", msg.To.Hex())
}

func (f *fakeBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if b, ok := f.native[account]; ok {
		return b, nil
	}
	return new(big.Int), nil
}

func ret(v ...any) func([]any) []any {
	return func([]any) []any { return v }
}

func newTestClient(t *testing.T, f *fakeBackend) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(f, key, 1)
	require.NoError(t, err)
	return c
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestCvxMinted(t *testing.T) {
	e18 := uint256.NewInt(1e18)
	units := func(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), e18) }

	tests := []struct {
		name   string
		crv    *uint256.Int
		supply *uint256.Int
		want   *uint256.Int
	}{
		{"first cliff", units(100), new(uint256.Int), units(100)},
		{"half way", units(100), units(50_000_000), units(50)},
		{"last cliff", units(1000), units(99_900_000), units(1)},
		{"max supply", units(100), units(100_000_000), new(uint256.Int)},
		{"large claim at last cliff", units(100_000), units(99_900_000), units(100)},
		{"zero crv", new(uint256.Int), units(1), new(uint256.Int)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want.Dec(), CvxMinted(tt.crv, tt.supply).Dec())
		})
	}
}

func TestCvxMinted_ClampsToRemainingSupply(t *testing.T) {
	remaining := uint256.NewInt(10)
	supply := new(uint256.Int).Sub(cvxMaxSupply, remaining)
	crv := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1e18))
	assert.Equal(t, remaining.Dec(), CvxMinted(crv, supply).Dec())
}

func TestTokens(t *testing.T) {
	f := newFakeBackend()
	c := newTestClient(t, f)
	dai := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	holder := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	f.on(dai, "balanceOf", func(args []any) []any {
		if args[0].(common.Address) == holder {
			return []any{ether(42)}
		}
		return []any{new(big.Int)}
	})
	f.native[holder] = ether(3)

	tokens := NewTokens(c)
	tok, err := tokens.Token(dai)
	require.NoError(t, err)
	bal, err := tok.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	assert.Equal(t, uint256.MustFromBig(ether(42)), bal)

	again, err := tokens.Token(dai)
	require.NoError(t, err)
	assert.Same(t, tok, again)

	native, err := tokens.Token(contracts.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, contracts.NativeAsset, native.Address())
	bal, err = native.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	assert.Equal(t, uint256.MustFromBig(ether(3)), bal)
	assert.ErrorIs(t, native.TransferFrom(context.Background(), holder, c.Address(), uint256.NewInt(1)), ErrNativePull)

	_, err = tokens.Token(common.Address{})
	assert.ErrorIs(t, err, contracts.ErrUnknownToken)
}

func TestConvexPool(t *testing.T) {
	var (
		boosterAddr = common.HexToAddress("0xF403C135812408BFbE8713b5A23a04b3D48AAE31")
		lp          = common.HexToAddress("0x00000000000000000000000000000000000000c1")
		baseRewards = common.HexToAddress("0x00000000000000000000000000000000000000c2")
		extraPool   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
		crv         = common.HexToAddress("0xD533a949740bb3306d119CC777fa900bA034cd52")
		cvx         = common.HexToAddress("0x4e3FBD56CD56c3e72c1403e103b45Db9da5B9D2B")
		ldo         = common.HexToAddress("0x5A98FcBEA516Cf06857215779Fd812CA3beF1B32")
	)
	f := newFakeBackend()
	c := newTestClient(t, f)
	zero := common.Address{}

	f.on(boosterAddr, "poolInfo", func(args []any) []any {
		require.Equal(t, int64(4), args[0].(*big.Int).Int64())
		return []any{lp, zero, zero, baseRewards, zero, false}
	})
	f.on(boosterAddr, "minter", ret(cvx))
	f.on(baseRewards, "rewardToken", ret(crv))
	f.on(baseRewards, "earned", ret(ether(10)))
	f.on(baseRewards, "extraRewardsLength", ret(big.NewInt(1)))
	f.on(baseRewards, "extraRewards", ret(extraPool))
	f.on(extraPool, "rewardToken", ret(ldo))
	f.on(extraPool, "earned", ret(ether(2)))
	f.on(cvx, "totalSupply", ret(ether(50_000_000)))

	ctx := context.Background()
	p, err := NewConvexPool(ctx, c, boosterAddr, 4)
	require.NoError(t, err)
	assert.Equal(t, lp, p.LPToken())
	assert.Equal(t, baseRewards, p.RewardContract())

	tokens, err := p.RewardTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{crv, cvx, ldo}, tokens)

	earned, err := p.Earned(ctx, c.Address())
	require.NoError(t, err)
	require.Len(t, earned, 3)
	assert.Equal(t, crv, earned[0].Token)
	assert.Equal(t, uint256.MustFromBig(ether(10)), earned[0].Amount)
	assert.Equal(t, cvx, earned[1].Token)
	assert.Equal(t, uint256.MustFromBig(ether(5)), earned[1].Amount)
	assert.Equal(t, ldo, earned[2].Token)
	assert.Equal(t, uint256.MustFromBig(ether(2)), earned[2].Amount)
}

func TestConvexPool_Shutdown(t *testing.T) {
	boosterAddr := common.HexToAddress("0xF403C135812408BFbE8713b5A23a04b3D48AAE31")
	f := newFakeBackend()
	c := newTestClient(t, f)
	zero := common.Address{}
	f.on(boosterAddr, "poolInfo", ret(common.HexToAddress("0x01"), zero, zero, common.HexToAddress("0x02"), zero, true))

	_, err := NewConvexPool(context.Background(), c, boosterAddr, 1)
	assert.ErrorContains(t, err, "shut down")
}
