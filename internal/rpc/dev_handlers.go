package rpc

import "fmt"

// ── Dev endpoints (simulated backend only) ──────────────────────────────

func (s *Server) requireDev(method string) *Error {
	if s.dev == nil {
		return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q requires the sim backend", method)}
	}
	return nil
}

func (s *Server) handleDevMint(req *Request) (interface{}, *Error) {
	if err := s.requireDev(req.Method); err != nil {
		return nil, err
	}
	var params MintParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	token, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAddress("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.dev.Mint(token, account, amount); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	s.logger.Debug().Str("token", token.Hex()).Str("account", account.Hex()).Str("amount", amount.Dec()).Msg("Dev mint")
	return &BalanceResult{Account: account, Balance: amount}, nil
}

func (s *Server) handleDevAccrueRewards(req *Request) (interface{}, *Error) {
	if err := s.requireDev(req.Method); err != nil {
		return nil, err
	}
	var params AccrueParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	token, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.dev.Accrue(token, amount); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	s.logger.Debug().Str("token", token.Hex()).Str("amount", amount.Dec()).Msg("Dev accrue")
	return true, nil
}
