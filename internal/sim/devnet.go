package sim

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Fixed devnet deployment addresses.
var (
	DevVault      = common.HexToAddress("0x00000000000000000000000000000000000Da017")
	DevLPToken    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	DevDAI        = common.HexToAddress("0x0000000000000000000000000000000000001002")
	DevWBTC       = common.HexToAddress("0x0000000000000000000000000000000000001003")
	DevCRV        = common.HexToAddress("0x0000000000000000000000000000000000001004")
	DevCVX        = common.HexToAddress("0x0000000000000000000000000000000000001005")
	DevRewardPool = common.HexToAddress("0x0000000000000000000000000000000000002001")
)

// Devnet is a complete simulated deployment for a single vault: the LP
// token, two alternative assets, the native currency, a venue quoting all of
// them against the LP token and a reward pool paying CRV and CVX.
type Devnet struct {
	Chain *Chain
	Venue *Venue
	Pool  *RewardPool
	Vault common.Address
}

// NewDevnet deploys the devnet contracts for the vault at vault.
//
// Rates: 1 DAI = 0.5 LP, 1 WBTC = 30000 LP, 1 native = 2 LP.
func NewDevnet(vault common.Address) *Devnet {
	c := NewChain()
	c.Deploy(DevLPToken, "LP")
	c.Deploy(DevDAI, "DAI")
	c.Deploy(DevWBTC, "WBTC")
	c.Deploy(contracts.NativeAsset, "ETH")
	c.Deploy(DevCRV, "CRV")
	c.Deploy(DevCVX, "CVX")

	v := c.NewVenue(vault)
	v.SetRate(DevDAI, DevLPToken, 1, 2)
	v.SetRate(DevWBTC, DevLPToken, 30000, 1)
	v.SetRate(contracts.NativeAsset, DevLPToken, 2, 1)

	return &Devnet{
		Chain: c,
		Venue: v,
		Pool:  c.NewRewardPool(DevRewardPool, vault, DevLPToken, DevCRV, DevCVX),
		Vault: vault,
	}
}

// Tokens returns the token handles the vault acts through.
func (d *Devnet) Tokens() contracts.TokenSet {
	return d.Chain.Tokens(d.Vault)
}

// Mint credits amount of token to account and grants the vault an
// unlimited allowance over it.
func (d *Devnet) Mint(token, account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("mint %s: zero amount", token)
	}
	if err := d.Chain.Mint(token, account, amount); err != nil {
		return err
	}
	d.Chain.Approve(token, account, d.Vault, new(uint256.Int).SetAllOne())
	return nil
}

// Accrue adds amount of rewardToken to the rewards the vault has earned.
func (d *Devnet) Accrue(rewardToken common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("accrue %s: zero amount", rewardToken)
	}
	return d.Pool.Accrue(d.Vault, rewardToken, amount)
}

// Balance returns account's wallet balance of token.
func (d *Devnet) Balance(token, account common.Address) *uint256.Int {
	return d.Chain.Balance(token, account)
}
