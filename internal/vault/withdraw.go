package vault

import (
	"context"
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Withdraw debits amount from caller, unstakes it and transfers the LP
// tokens to caller.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.run(ctx, "withdraw", func(ctx context.Context) error {
		if err := e.withdrawLP(ctx, "withdraw", caller, amount); err != nil {
			return err
		}
		e.logger.Info().Str("account", caller.Hex()).Str("amount", amount.Dec()).Msg("Withdraw")
		e.emit(Event{Kind: EventWithdraw, Account: caller, Pid: e.cfg.Pid, Amount: amount})
		return nil
	})
}

// WithdrawLp is Withdraw reporting the LP token instead of the pool id.
func (e *Engine) WithdrawLp(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.run(ctx, "withdrawLp", func(ctx context.Context) error {
		if err := e.withdrawLP(ctx, "withdrawLp", caller, amount); err != nil {
			return err
		}
		e.logger.Info().Str("account", caller.Hex()).Str("amount", amount.Dec()).Msg("Withdraw LP")
		e.emit(Event{Kind: EventWithdrawLp, Account: caller, Asset: e.cfg.LPToken, Amount: amount})
		return nil
	})
}

// WithdrawSingle debits amount LP from caller, converts it into asset and
// transfers the proceeds, which it returns.
func (e *Engine) WithdrawSingle(ctx context.Context, caller, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var paid *uint256.Int
	err := e.run(ctx, "withdrawSingle", func(ctx context.Context) error {
		if asset != contracts.NativeAsset && !e.registry.IsWhitelisted(asset) {
			return fmt.Errorf("%w: %s", ErrNotWhitelisted, asset)
		}
		out, err := e.withdrawAsset(ctx, caller, asset, amount)
		if err != nil {
			return err
		}
		paid = out
		e.logger.Info().
			Str("account", caller.Hex()).
			Str("asset", asset.Hex()).
			Str("lp", amount.Dec()).
			Str("amount", out.Dec()).
			Msg("Withdraw single asset")
		e.emit(Event{Kind: EventWithdrawSingle, Account: caller, Asset: asset, Amount: out})
		return nil
	})
	return paid, err
}

// withdrawLP runs debit → unstake → transfer for the LP token.
func (e *Engine) withdrawLP(ctx context.Context, op string, caller common.Address, amount *uint256.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	lp, err := e.token(e.cfg.LPToken)
	if err != nil {
		return err
	}

	if err := e.ledger.Debit(caller, amount); err != nil {
		return err
	}
	if err := e.rewards.Unstake(ctx, amount); err != nil {
		return e.compensate(ctx, op, err, creditStep(e, caller, amount))
	}
	if err := lp.Transfer(ctx, caller, amount); err != nil {
		return e.compensate(ctx, op,
			fmt.Errorf("%w: send lp to %s: %w", ErrTransferFailed, caller, err),
			restakeStep(e, amount),
			creditStep(e, caller, amount))
	}
	return nil
}

// withdrawAsset runs debit → unstake → convert → transfer and returns the
// asset amount paid out.
func (e *Engine) withdrawAsset(ctx context.Context, caller, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	const op = "withdrawSingle"
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	tok, err := e.token(asset)
	if err != nil {
		return nil, err
	}

	if err := e.ledger.Debit(caller, amount); err != nil {
		return nil, err
	}
	if err := e.rewards.Unstake(ctx, amount); err != nil {
		return nil, e.compensate(ctx, op, err, creditStep(e, caller, amount))
	}
	out, err := e.conv.ConvertFromLp(ctx, asset, amount)
	if err != nil {
		return nil, e.compensate(ctx, op, err,
			restakeStep(e, amount),
			creditStep(e, caller, amount))
	}
	if err := tok.Transfer(ctx, caller, out); err != nil {
		restaked := new(uint256.Int)
		return nil, e.compensate(ctx, op,
			fmt.Errorf("%w: send %s to %s: %w", ErrTransferFailed, asset, caller, err),
			e.reconvertStep(asset, out, restaked),
			recreditStep(e, caller, amount, restaked))
	}
	return out, nil
}

// reconvertStep swaps proceeds that could not be paid out back into LP,
// stakes them and records the staked amount in restaked.
func (e *Engine) reconvertStep(asset common.Address, out, restaked *uint256.Int) step {
	return step{"reconvert", func(ctx context.Context) error {
		lp, err := e.conv.ConvertToLp(ctx, asset, out)
		if err != nil {
			return err
		}
		if err := e.rewards.Stake(ctx, lp); err != nil {
			return err
		}
		restaked.Set(lp)
		return nil
	}}
}

// recreditStep credits account with the LP actually restaked, so the ledger
// never claims more than the pool holds. A shortfall against debited is
// reported as a conversion failure.
func recreditStep(e *Engine, account common.Address, debited, restaked *uint256.Int) step {
	return step{"credit", func(context.Context) error {
		if restaked.IsZero() {
			return fmt.Errorf("%w: nothing restaked, %s LP of %s not credited back",
				ErrConversionFailed, debited.Dec(), account.Hex())
		}
		if err := e.ledger.Credit(account, restaked); err != nil {
			return err
		}
		if restaked.Lt(debited) {
			return fmt.Errorf("%w: restaked %s of %s LP for %s",
				ErrConversionFailed, restaked.Dec(), debited.Dec(), account.Hex())
		}
		return nil
	}}
}
