package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-vault/internal/eventlog"
	"github.com/Klingon-tech/klingnet-vault/internal/vault"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ── Read endpoints ──────────────────────────────────────────────────────

func (s *Server) handleGetInfo(_ *Request) (interface{}, *Error) {
	info, err := s.vault.Info()
	if err != nil {
		return nil, vaultError(err)
	}
	return info, nil
}

func (s *Server) handleBalanceOf(req *Request) (interface{}, *Error) {
	var params AccountParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	account, rpcErr := parseAddress("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	bal, err := s.vault.BalanceOf(account)
	if err != nil {
		return nil, vaultError(err)
	}
	return &BalanceResult{Account: account, Balance: bal}, nil
}

func (s *Server) handleTotalSupply(_ *Request) (interface{}, *Error) {
	return &SupplyResult{TotalSupply: s.vault.TotalSupply()}, nil
}

func (s *Server) handleIsWhitelisted(req *Request) (interface{}, *Error) {
	var params AssetParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	asset, rpcErr := parseAddress("asset", params.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return &WhitelistedResult{Asset: asset, Whitelisted: s.vault.IsWhitelisted(asset)}, nil
}

func (s *Server) handleListWhitelist(_ *Request) (interface{}, *Error) {
	assets := s.vault.Whitelist()
	if assets == nil {
		assets = []common.Address{}
	}
	return &WhitelistResult{Assets: assets}, nil
}

func (s *Server) handlePendingRewards(ctx context.Context, req *Request) (interface{}, *Error) {
	var params AccountParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	account, rpcErr := parseAddress("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rewards, err := s.vault.PendingRewards(ctx, account)
	if err != nil {
		return nil, vaultError(err)
	}
	return &RewardsResult{Account: account, Rewards: rewards}, nil
}

func (s *Server) handleGetEvents(req *Request) (interface{}, *Error) {
	var params EventsParam
	if req.Params != nil {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	if params.Limit < 0 || params.Limit > eventlog.MaxRange {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("limit must be in [0, %d]", eventlog.MaxRange)}
	}
	events, err := s.vault.Events(params.From, params.Limit)
	if err != nil {
		return nil, vaultError(err)
	}
	next := params.From
	if len(events) > 0 {
		next = events[len(events)-1].Seq + 1
	} else {
		events = []vault.Event{}
	}
	return &EventsResult{Events: events, Next: next}, nil
}

func (s *Server) handleGetStateRoot(_ *Request) (interface{}, *Error) {
	root, err := s.vault.StateRoot()
	if err != nil {
		return nil, vaultError(err)
	}
	return &StateRootResult{Root: root, TotalSupply: s.vault.TotalSupply()}, nil
}

func (s *Server) handleGetNonce(req *Request) (interface{}, *Error) {
	var params AccountParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	account, rpcErr := parseAddress("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	nonce, err := s.nonces.Last(account)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &NonceResult{Account: account, Nonce: nonce}, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

func parseAddress(field, s string) (common.Address, *Error) {
	addr, err := types.ParseAddress(s)
	if err != nil {
		return common.Address{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("%s: %v", field, err)}
	}
	return addr, nil
}

// parseAmount parses a base-unit amount. Zero is left for the engine to
// reject so the caller sees the vault's own error.
func parseAmount(s string) (*uint256.Int, *Error) {
	v, err := types.ParseAmount(s)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("amount: %v", err)}
	}
	return v, nil
}

// vaultError maps engine errors to JSON-RPC errors.
func vaultError(err error) *Error {
	code := CodeInternalError
	switch {
	case errors.Is(err, vault.ErrInvalidAmount):
		code = CodeInvalidAmount
	case errors.Is(err, vault.ErrExceededAmount):
		code = CodeExceededAmount
	case errors.Is(err, vault.ErrNotWhitelisted):
		code = CodeNotWhitelisted
	case errors.Is(err, vault.ErrUnauthorized):
		code = CodeUnauthorized
	case errors.Is(err, vault.ErrConversionFailed):
		code = CodeConversionFailed
	case errors.Is(err, vault.ErrTransferFailed):
		code = CodeTransferFailed
	case errors.Is(err, vault.ErrReentrant):
		code = CodeReentrant
	case errors.Is(err, vault.ErrInvalidAsset):
		code = CodeInvalidParams
	}
	return &Error{Code: code, Message: err.Error()}
}
