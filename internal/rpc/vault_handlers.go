package rpc

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ── Signed endpoints ────────────────────────────────────────────────────
//
// Params are decoded and checked first; the nonce is consumed only once
// the call is well-formed and correctly signed, whatever the vault then
// returns.

// authenticate verifies p's signature for method and consumes its nonce.
func (s *Server) authenticate(method string, p Signable) (common.Address, *Error) {
	from, err := Verify(method, p)
	if err != nil {
		return common.Address{}, &Error{Code: CodeBadSignature, Message: err.Error()}
	}
	if err := s.nonces.Use(from, p.auth().Nonce); err != nil {
		if errors.Is(err, ErrBadNonce) {
			return common.Address{}, &Error{Code: CodeBadNonce, Message: err.Error()}
		}
		return common.Address{}, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return from, nil
}

// amountCall decodes, authenticates and runs a signed call taking an
// amount.
func (s *Server) amountCall(req *Request, run func(from common.Address, amount *uint256.Int) (*uint256.Int, error)) (interface{}, *Error) {
	var params AmountParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := s.authenticate(req.Method, &params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := run(from, amount)
	if err != nil {
		return nil, vaultError(err)
	}
	return &OpResult{Account: from, Nonce: params.Nonce, Amount: out}, nil
}

// assetAmountCall is amountCall for calls that also name an asset.
func (s *Server) assetAmountCall(req *Request, run func(from, asset common.Address, amount *uint256.Int) (*uint256.Int, error)) (interface{}, *Error) {
	var params AssetAmountParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := s.authenticate(req.Method, &params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	out, err := run(from, asset, amount)
	if err != nil {
		return nil, vaultError(err)
	}
	return &OpResult{Account: from, Nonce: params.Nonce, Amount: out}, nil
}

func (s *Server) handleDeposit(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.amountCall(req, func(from common.Address, amount *uint256.Int) (*uint256.Int, error) {
		return nil, s.vault.Deposit(ctx, from, amount)
	})
}

func (s *Server) handleDepositLp(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.amountCall(req, func(from common.Address, amount *uint256.Int) (*uint256.Int, error) {
		return nil, s.vault.DepositLp(ctx, from, amount)
	})
}

func (s *Server) handleDepositETH(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.amountCall(req, func(from common.Address, amount *uint256.Int) (*uint256.Int, error) {
		return s.vault.DepositETH(ctx, from, amount)
	})
}

func (s *Server) handleWithdraw(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.amountCall(req, func(from common.Address, amount *uint256.Int) (*uint256.Int, error) {
		return nil, s.vault.Withdraw(ctx, from, amount)
	})
}

func (s *Server) handleWithdrawLp(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.amountCall(req, func(from common.Address, amount *uint256.Int) (*uint256.Int, error) {
		return nil, s.vault.WithdrawLp(ctx, from, amount)
	})
}

func (s *Server) handleDepositSingle(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.assetAmountCall(req, func(from, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
		return s.vault.DepositSingle(ctx, from, asset, amount)
	})
}

func (s *Server) handleWithdrawSingle(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.assetAmountCall(req, func(from, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
		return s.vault.WithdrawSingle(ctx, from, asset, amount)
	})
}

func (s *Server) handleAddWhitelist(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.whitelistCall(req, func(from, asset common.Address) (bool, error) {
		return s.vault.AddWhitelist(ctx, from, asset)
	})
}

func (s *Server) handleRemoveWhitelist(ctx context.Context, req *Request) (interface{}, *Error) {
	return s.whitelistCall(req, func(from, asset common.Address) (bool, error) {
		return s.vault.RemoveWhitelist(ctx, from, asset)
	})
}

func (s *Server) whitelistCall(req *Request, run func(from, asset common.Address) (bool, error)) (interface{}, *Error) {
	var params WhitelistParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	from, rpcErr := s.authenticate(req.Method, &params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	changed, err := run(from, asset)
	if err != nil {
		return nil, vaultError(err)
	}
	return &OpResult{Account: from, Nonce: params.Nonce, Changed: &changed}, nil
}

func (s *Server) handleHarvest(ctx context.Context, req *Request) (interface{}, *Error) {
	var params HarvestParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	from, rpcErr := s.authenticate(req.Method, &params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rewards, err := s.vault.Harvest(ctx, from)
	if err != nil {
		return nil, vaultError(err)
	}
	cfg := s.vault.Config()
	recipient := cfg.RewardRecipient
	if recipient == (common.Address{}) {
		recipient = cfg.Address
	}
	return &RewardsResult{Account: recipient, Rewards: rewards}, nil
}
