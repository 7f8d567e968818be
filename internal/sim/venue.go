package sim

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type pair struct {
	from common.Address
	to   common.Address
}

type rate struct {
	num *uint256.Int
	den *uint256.Int
}

// Venue is a swap venue with fixed per-pair exchange rates. Input tokens are
// burned from the holder and output tokens minted to it.
type Venue struct {
	chain  *Chain
	holder common.Address
	rates  map[pair]rate
}

// NewVenue returns a venue that swaps on behalf of holder.
func (c *Chain) NewVenue(holder common.Address) *Venue {
	return &Venue{chain: c, holder: holder, rates: make(map[pair]rate)}
}

// SetRate quotes num/den units of `to` per unit of `from`. The reverse
// direction is set to den/num.
func (v *Venue) SetRate(from, to common.Address, num, den uint64) {
	v.chain.mu.Lock()
	defer v.chain.mu.Unlock()
	v.rates[pair{from, to}] = rate{uint256.NewInt(num), uint256.NewInt(den)}
	v.rates[pair{to, from}] = rate{uint256.NewInt(den), uint256.NewInt(num)}
}

// Quote returns the output of swapping amount without executing it.
func (v *Venue) Quote(from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	v.chain.mu.Lock()
	defer v.chain.mu.Unlock()
	return v.quote(from, to, amount)
}

// Swap exchanges amount of `from` held by the holder for `to`.
func (v *Venue) Swap(ctx context.Context, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := v.chain.enter(ctx, OpSwap, from); err != nil {
		return nil, err
	}
	c := v.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := v.quote(from, to, amount)
	if err != nil {
		return nil, err
	}
	if out.IsZero() {
		return nil, fmt.Errorf("swap %s -> %s: insufficient output amount", from, to)
	}
	if err := c.debit(from, v.holder, amount); err != nil {
		return nil, err
	}
	if err := c.credit(to, v.holder, out); err != nil {
		// Restore the input so a failed swap moves nothing.
		_ = c.credit(from, v.holder, amount)
		return nil, err
	}
	return out, nil
}

func (v *Venue) quote(from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	r, ok := v.rates[pair{from, to}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, from, to)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amount, r.num, r.den)
	if overflow {
		return nil, fmt.Errorf("swap %s -> %s: output overflow", from, to)
	}
	return out, nil
}
