package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/ethereum/go-ethereum/common"
)

// AddWhitelist lets the operator accept asset in DepositSingle. It reports
// false without emitting an event when asset was already whitelisted.
func (e *Engine) AddWhitelist(ctx context.Context, caller, asset common.Address) (bool, error) {
	var added bool
	err := e.run(ctx, "addWhitelist", func(context.Context) error {
		var err error
		added, err = e.registry.AddWhitelist(caller, asset)
		if err != nil {
			return err
		}
		e.metrics.whitelisted.Set(float64(len(e.registry.List())))
		return nil
	})
	return added, err
}

// RemoveWhitelist lets the operator delist asset.
func (e *Engine) RemoveWhitelist(ctx context.Context, caller, asset common.Address) (bool, error) {
	var removed bool
	err := e.run(ctx, "removeWhitelist", func(context.Context) error {
		var err error
		removed, err = e.registry.RemoveWhitelist(caller, asset)
		if err != nil {
			return err
		}
		e.metrics.whitelisted.Set(float64(len(e.registry.List())))
		return nil
	})
	return removed, err
}

// PendingRewards returns account's share of the rewards the vault has
// accrued, one entry per reward token.
func (e *Engine) PendingRewards(ctx context.Context, account common.Address) ([]contracts.Reward, error) {
	balance, supply, err := e.ledger.Snapshot(account)
	if err != nil {
		return nil, err
	}
	return e.rewards.PendingRewards(ctx, balance, supply)
}

// Harvest claims the vault's rewards and forwards them to the configured
// reward recipient. Only the operator may call it. The claimed rewards are
// returned even when forwarding some of them fails; the error names the
// tokens that stayed in the vault.
func (e *Engine) Harvest(ctx context.Context, caller common.Address) ([]contracts.Reward, error) {
	var harvested []contracts.Reward
	err := e.run(ctx, "harvest", func(ctx context.Context) error {
		if caller != e.cfg.Operator {
			return fmt.Errorf("harvest: %w", ErrUnauthorized)
		}
		got, err := e.rewards.Harvest(ctx)
		if err != nil {
			return err
		}
		harvested = got

		if e.cfg.RewardRecipient == (common.Address{}) {
			return nil
		}
		var errs []error
		for _, r := range got {
			if r.Amount.IsZero() {
				continue
			}
			if err := e.forwardReward(ctx, r); err != nil {
				e.logger.Error().Err(err).
					Str("token", r.Token.Hex()).
					Str("amount", r.Amount.Dec()).
					Msg("Harvested rewards left in vault")
				errs = append(errs, err)
				continue
			}
			e.logger.Info().
				Str("token", r.Token.Hex()).
				Str("amount", r.Amount.Dec()).
				Str("recipient", e.cfg.RewardRecipient.Hex()).
				Msg("Harvested rewards forwarded")
		}
		return errors.Join(errs...)
	})
	return harvested, err
}

// forwardReward sends a claimed reward to the reward recipient.
func (e *Engine) forwardReward(ctx context.Context, r contracts.Reward) error {
	tok, err := e.token(r.Token)
	if err != nil {
		return err
	}
	if err := tok.Transfer(ctx, e.cfg.RewardRecipient, r.Amount); err != nil {
		return fmt.Errorf("%w: forward %s: %w", ErrTransferFailed, r.Token, err)
	}
	return nil
}
