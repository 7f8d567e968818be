package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deposit pulls amount LP tokens from caller, credits them and stakes them.
func (e *Engine) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.run(ctx, "deposit", func(ctx context.Context) error {
		if err := e.depositLP(ctx, "deposit", caller, amount); err != nil {
			return err
		}
		e.logger.Info().Str("account", caller.Hex()).Str("amount", amount.Dec()).Msg("Deposit")
		e.emit(Event{Kind: EventDeposit, Account: caller, Pid: e.cfg.Pid, Amount: amount})
		return nil
	})
}

// DepositLp is Deposit reporting the LP token instead of the pool id.
func (e *Engine) DepositLp(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.run(ctx, "depositLp", func(ctx context.Context) error {
		if err := e.depositLP(ctx, "depositLp", caller, amount); err != nil {
			return err
		}
		e.logger.Info().Str("account", caller.Hex()).Str("amount", amount.Dec()).Msg("Deposit LP")
		e.emit(Event{Kind: EventDepositLp, Account: caller, Asset: e.cfg.LPToken, Amount: amount})
		return nil
	})
}

// DepositSingle pulls amount of a whitelisted asset from caller, converts it
// to LP tokens and credits the LP amount, which it returns.
func (e *Engine) DepositSingle(ctx context.Context, caller, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	var credited *uint256.Int
	err := e.run(ctx, "depositSingle", func(ctx context.Context) error {
		if !e.registry.IsWhitelisted(asset) {
			return fmt.Errorf("%w: %s", ErrNotWhitelisted, asset)
		}
		lp, err := e.depositAsset(ctx, "depositSingle", caller, asset, amount)
		if err != nil {
			return err
		}
		credited = lp
		e.logger.Info().
			Str("account", caller.Hex()).
			Str("asset", asset.Hex()).
			Str("amount", amount.Dec()).
			Str("lp", lp.Dec()).
			Msg("Deposit single asset")
		e.emit(Event{Kind: EventDepositSingle, Account: caller, Asset: asset, Amount: amount})
		return nil
	})
	return credited, err
}

// DepositETH deposits value of the native currency. It needs no whitelist
// entry and is reported as a DepositSingle of NativeAsset.
func (e *Engine) DepositETH(ctx context.Context, caller common.Address, value *uint256.Int) (*uint256.Int, error) {
	var credited *uint256.Int
	err := e.run(ctx, "depositETH", func(ctx context.Context) error {
		lp, err := e.depositAsset(ctx, "depositETH", caller, contracts.NativeAsset, value)
		if err != nil {
			return err
		}
		credited = lp
		e.logger.Info().
			Str("account", caller.Hex()).
			Str("value", value.Dec()).
			Str("lp", lp.Dec()).
			Msg("Deposit native")
		e.emit(Event{Kind: EventDepositSingle, Account: caller, Asset: contracts.NativeAsset, Amount: value})
		return nil
	})
	return credited, err
}

// depositLP runs pull → credit → stake for the LP token itself.
func (e *Engine) depositLP(ctx context.Context, op string, caller common.Address, amount *uint256.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	lp, err := e.token(e.cfg.LPToken)
	if err != nil {
		return err
	}
	if err := lp.TransferFrom(ctx, caller, e.cfg.Address, amount); err != nil {
		return fmt.Errorf("%w: pull lp from %s: %w", ErrTransferFailed, caller, err)
	}

	if err := e.ledger.Credit(caller, amount); err != nil {
		return e.compensate(ctx, op, err, refundStep(lp, caller, amount))
	}
	if err := e.rewards.Stake(ctx, amount); err != nil {
		return e.compensate(ctx, op, err,
			debitStep(e, caller, amount),
			refundStep(lp, caller, amount))
	}
	return nil
}

// depositAsset runs pull → convert → credit → stake for a non-LP asset and
// returns the credited LP amount.
func (e *Engine) depositAsset(ctx context.Context, op string, caller, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	tok, err := e.token(asset)
	if err != nil {
		return nil, err
	}
	if err := tok.TransferFrom(ctx, caller, e.cfg.Address, amount); err != nil {
		return nil, fmt.Errorf("%w: pull %s from %s: %w", ErrTransferFailed, asset, caller, err)
	}

	lpAmount, err := e.conv.ConvertToLp(ctx, asset, amount)
	if err != nil {
		return nil, e.compensate(ctx, op, err, refundStep(tok, caller, amount))
	}
	if err := e.ledger.Credit(caller, lpAmount); err != nil {
		return nil, e.compensate(ctx, op, err, e.unwindStep(tok, asset, caller, amount, lpAmount))
	}
	if err := e.rewards.Stake(ctx, lpAmount); err != nil {
		return nil, e.compensate(ctx, op, err,
			debitStep(e, caller, lpAmount),
			e.unwindStep(tok, asset, caller, amount, lpAmount))
	}
	return lpAmount, nil
}

// unwindStep swaps the LP of a deposit that could not complete back into the
// input asset and returns the proceeds to the depositor.
func (e *Engine) unwindStep(tok contracts.Token, asset, to common.Address, paid, lpAmount *uint256.Int) step {
	return step{"unwind", func(ctx context.Context) error {
		out, err := e.conv.ConvertFromLp(ctx, asset, lpAmount)
		if err != nil {
			return err
		}
		if out.Lt(paid) {
			e.logger.Warn().
				Str("asset", asset.Hex()).
				Str("paid", paid.Dec()).
				Str("returned", out.Dec()).
				Msg("Deposit unwound at a loss")
		}
		return tok.Transfer(ctx, to, out)
	}}
}

// step is a compensating action.
type step struct {
	name string
	fn   func(ctx context.Context) error
}

func refundStep(tok contracts.Token, to common.Address, amount *uint256.Int) step {
	return step{"refund", func(ctx context.Context) error { return tok.Transfer(ctx, to, amount) }}
}

func debitStep(e *Engine, account common.Address, amount *uint256.Int) step {
	return step{"debit", func(context.Context) error { return e.ledger.Debit(account, amount) }}
}

func creditStep(e *Engine, account common.Address, amount *uint256.Int) step {
	return step{"credit", func(context.Context) error { return e.ledger.Credit(account, amount) }}
}

func restakeStep(e *Engine, amount *uint256.Int) step {
	return step{"restake", func(ctx context.Context) error { return e.rewards.Stake(ctx, amount) }}
}

// compensate runs steps in order after cause and returns cause, joined with
// any compensation failure.
func (e *Engine) compensate(ctx context.Context, op string, cause error, steps ...step) error {
	errs := []error{cause}
	for _, s := range steps {
		e.metrics.rollback(op, s.name)
		if err := s.fn(ctx); err != nil {
			e.logger.Error().Err(err).Str("op", op).Str("step", s.name).Msg("Rollback step failed")
			errs = append(errs, fmt.Errorf("rollback %s: %w", s.name, err))
			continue
		}
		e.logger.Warn().Err(cause).Str("op", op).Str("step", s.name).Msg("Rolled back")
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}
