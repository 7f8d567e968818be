// Package conversion routes whitelisted assets through the swap venue into
// the vault's LP token and back.
package conversion

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/Klingon-tech/klingnet-vault/internal/ledger"
	"github.com/Klingon-tech/klingnet-vault/internal/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrConversionFailed wraps every swap venue failure.
var ErrConversionFailed = errors.New("conversion failed")

// Whitelist is the membership check the adapter needs from the registry.
type Whitelist interface {
	IsWhitelisted(asset common.Address) bool
}

// Adapter converts between accepted assets and the LP token. It holds no
// state of its own between calls.
type Adapter struct {
	whitelist Whitelist
	venue     contracts.SwapVenue
	lpToken   common.Address
}

// New creates an adapter swapping into and out of lpToken.
func New(whitelist Whitelist, venue contracts.SwapVenue, lpToken common.Address) *Adapter {
	return &Adapter{whitelist: whitelist, venue: venue, lpToken: lpToken}
}

// LPToken returns the token every conversion targets.
func (a *Adapter) LPToken() common.Address {
	return a.lpToken
}

// ConvertToLp swaps amount of asset into LP tokens and returns the LP amount
// received.
func (a *Adapter) ConvertToLp(ctx context.Context, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := a.check(asset, amount); err != nil {
		return nil, err
	}
	out, err := a.venue.Swap(ctx, asset, a.lpToken, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> lp: %v", ErrConversionFailed, asset, err)
	}
	if out == nil || out.IsZero() {
		return nil, fmt.Errorf("%w: %s -> lp: zero output", ErrConversionFailed, asset)
	}
	return out, nil
}

// ConvertFromLp swaps lpAmount LP tokens into asset and returns the asset
// amount received.
func (a *Adapter) ConvertFromLp(ctx context.Context, asset common.Address, lpAmount *uint256.Int) (*uint256.Int, error) {
	if err := a.check(asset, lpAmount); err != nil {
		return nil, err
	}
	out, err := a.venue.Swap(ctx, a.lpToken, asset, lpAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: lp -> %s: %v", ErrConversionFailed, asset, err)
	}
	if out == nil || out.IsZero() {
		return nil, fmt.Errorf("%w: lp -> %s: zero output", ErrConversionFailed, asset)
	}
	return out, nil
}

func (a *Adapter) check(asset common.Address, amount *uint256.Int) error {
	if asset != contracts.NativeAsset && !a.whitelist.IsWhitelisted(asset) {
		return fmt.Errorf("%w: %s", registry.ErrNotWhitelisted, asset)
	}
	if amount == nil || amount.IsZero() {
		return ledger.ErrInvalidAmount
	}
	return nil
}
