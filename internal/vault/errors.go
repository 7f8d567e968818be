package vault

import (
	"errors"

	"github.com/Klingon-tech/klingnet-vault/internal/conversion"
	"github.com/Klingon-tech/klingnet-vault/internal/ledger"
	"github.com/Klingon-tech/klingnet-vault/internal/registry"
	"github.com/Klingon-tech/klingnet-vault/internal/rewards"
)

// Errors returned by the engine. Component errors are re-exported so
// callers can match every failure against this package.
var (
	ErrInvalidAmount    = ledger.ErrInvalidAmount
	ErrExceededAmount   = ledger.ErrExceededAmount
	ErrOverflow         = ledger.ErrOverflow
	ErrSupplyMismatch   = ledger.ErrSupplyMismatch
	ErrNotWhitelisted   = registry.ErrNotWhitelisted
	ErrUnauthorized     = registry.ErrUnauthorized
	ErrInvalidAsset     = registry.ErrInvalidAsset
	ErrConversionFailed = conversion.ErrConversionFailed
	ErrPoolCall         = rewards.ErrPoolCall

	ErrTransferFailed = errors.New("token transfer failed")
	ErrReentrant      = errors.New("reentrant call")
)
