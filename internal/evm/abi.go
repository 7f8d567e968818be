package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const boosterABI = `[
{"type":"function","name":"poolInfo","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"lptoken","type":"address"},{"name":"token","type":"address"},{"name":"gauge","type":"address"},{"name":"crvRewards","type":"address"},{"name":"stash","type":"address"},{"name":"shutdown","type":"bool"}]},
{"type":"function","name":"minter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"deposit","stateMutability":"nonpayable","inputs":[{"name":"_pid","type":"uint256"},{"name":"_amount","type":"uint256"},{"name":"_stake","type":"bool"}],"outputs":[{"name":"","type":"bool"}]}
]`

// rewardPoolABI covers both BaseRewardPool and the VirtualBalanceRewardPool
// used for extra rewards.
const rewardPoolABI = `[
{"type":"function","name":"earned","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"rewardToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"extraRewardsLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"extraRewards","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"withdrawAndUnwrap","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"},{"name":"claim","type":"bool"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getReward","stateMutability":"nonpayable","inputs":[{"name":"_account","type":"address"},{"name":"_claimExtras","type":"bool"}],"outputs":[{"name":"","type":"bool"}]}
]`

const routerABI = `[
{"type":"function","name":"WETH","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"type":"function","name":"swapExactETHForTokens","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"type":"function","name":"swapExactTokensForETH","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	erc20      = mustParseABI(erc20ABI)
	booster    = mustParseABI(boosterABI)
	rewardPool = mustParseABI(rewardPoolABI)
	router     = mustParseABI(routerABI)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
