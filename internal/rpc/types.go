package rpc

import (
	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/Klingon-tech/klingnet-vault/internal/vault"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Vault error codes.
const (
	CodeInvalidAmount    = -32010
	CodeExceededAmount   = -32011
	CodeNotWhitelisted   = -32012
	CodeUnauthorized     = -32013
	CodeConversionFailed = -32014
	CodeTransferFailed   = -32015
	CodeReentrant        = -32016
	CodeBadSignature     = -32017
	CodeBadNonce         = -32018
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Read params ─────────────────────────────────────────────────────────

// AccountParam is used by vault_balanceOf, vault_pendingRewards and
// vault_getNonce.
type AccountParam struct {
	Account string `json:"account"`
}

// AssetParam is used by vault_isWhitelisted.
type AssetParam struct {
	Asset string `json:"asset"`
}

// EventsParam is used by vault_getEvents. A zero limit returns the
// maximum page.
type EventsParam struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit,omitempty"`
}

// ── Signed params ───────────────────────────────────────────────────────

// Auth carries the caller's identity on signed methods. Signature is a
// 65-byte secp256k1 signature over the call's signing message.
type Auth struct {
	From      string `json:"from"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

func (a *Auth) auth() *Auth { return a }

// Signable is a signed-method parameter set. Args lists the call
// arguments the signature commits to, in order.
type Signable interface {
	auth() *Auth
	Args() []string
}

// AmountParam is used by vault_deposit, vault_depositLp, vault_depositETH,
// vault_withdraw and vault_withdrawLp.
type AmountParam struct {
	Auth
	Amount string `json:"amount"`
}

// Args implements Signable.
func (p *AmountParam) Args() []string { return []string{p.Amount} }

// AssetAmountParam is used by vault_depositSingle and vault_withdrawSingle.
type AssetAmountParam struct {
	Auth
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Args implements Signable.
func (p *AssetAmountParam) Args() []string { return []string{p.Asset, p.Amount} }

// WhitelistParam is used by vault_addWhitelist and vault_removeWhitelist.
type WhitelistParam struct {
	Auth
	Asset string `json:"asset"`
}

// Args implements Signable.
func (p *WhitelistParam) Args() []string { return []string{p.Asset} }

// HarvestParam is used by vault_harvest.
type HarvestParam struct {
	Auth
}

// Args implements Signable.
func (p *HarvestParam) Args() []string { return nil }

// ── Dev params ──────────────────────────────────────────────────────────

// MintParam is used by dev_mint.
type MintParam struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// AccrueParam is used by dev_accrueRewards.
type AccrueParam struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// ── Results ─────────────────────────────────────────────────────────────

// BalanceResult is returned by vault_balanceOf.
type BalanceResult struct {
	Account common.Address `json:"account"`
	Balance *uint256.Int   `json:"balance"`
}

// SupplyResult is returned by vault_totalSupply.
type SupplyResult struct {
	TotalSupply *uint256.Int `json:"total_supply"`
}

// WhitelistedResult is returned by vault_isWhitelisted.
type WhitelistedResult struct {
	Asset       common.Address `json:"asset"`
	Whitelisted bool           `json:"whitelisted"`
}

// WhitelistResult is returned by vault_listWhitelist.
type WhitelistResult struct {
	Assets []common.Address `json:"assets"`
}

// RewardsResult is returned by vault_pendingRewards and vault_harvest.
type RewardsResult struct {
	Account common.Address     `json:"account"`
	Rewards []contracts.Reward `json:"rewards"`
}

// EventsResult is returned by vault_getEvents. Next is the sequence to
// pass as From for the following page.
type EventsResult struct {
	Events []vault.Event `json:"events"`
	Next   uint64        `json:"next"`
}

// StateRootResult is returned by vault_getStateRoot.
type StateRootResult struct {
	Root        types.Hash   `json:"root"`
	TotalSupply *uint256.Int `json:"total_supply"`
}

// NonceResult is returned by vault_getNonce. Nonce is the last nonce
// accepted from the account; the next signed call must use a larger one.
type NonceResult struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
}

// OpResult is returned by the signed methods. Amount is the LP credited
// by single-asset deposits and the asset paid out by single-asset
// withdrawals. Changed reports whether a whitelist call altered the set.
type OpResult struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
	Amount  *uint256.Int   `json:"amount,omitempty"`
	Changed *bool          `json:"changed,omitempty"`
}
