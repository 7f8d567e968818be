// Package vault implements the staking vault engine.
//
// The engine accepts the LP token, whitelisted alternative assets and the
// native currency, converts non-LP deposits through the swap venue, credits
// depositors in the ledger and stakes everything it holds in the reward
// pool. Withdrawals run the same path in reverse. Every mutating operation
// either completes or leaves ledger state as it was before the call.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	"github.com/Klingon-tech/klingnet-vault/internal/conversion"
	"github.com/Klingon-tech/klingnet-vault/internal/eventlog"
	"github.com/Klingon-tech/klingnet-vault/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-vault/internal/log"
	"github.com/Klingon-tech/klingnet-vault/internal/registry"
	"github.com/Klingon-tech/klingnet-vault/internal/rewards"
	"github.com/Klingon-tech/klingnet-vault/internal/storage"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Storage prefixes of the engine's components.
var (
	prefixLedger   = []byte("l/")
	prefixRegistry = []byte("w/")
	prefixEvents   = []byte("e/")
)

// Config fixes the vault's identity. It cannot change after New.
type Config struct {
	Pid             uint64
	Address         common.Address // the vault's own account
	LPToken         common.Address
	Operator        common.Address
	RewardRecipient common.Address // zero keeps harvested rewards in the vault
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Address == (common.Address{}) {
		return errors.New("vault address is required")
	}
	if c.LPToken == (common.Address{}) {
		return errors.New("lp token is required")
	}
	if c.Operator == (common.Address{}) {
		return errors.New("operator is required")
	}
	return nil
}

// Deps are the engine's collaborators.
type Deps struct {
	DB         storage.DB
	Tokens     contracts.TokenSet
	Venue      contracts.SwapVenue
	Pool       contracts.RewardPool
	Registerer prometheus.Registerer // optional
	Logger     *zerolog.Logger       // optional
}

// Engine orchestrates deposits, withdrawals and the whitelist.
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	registry *registry.Registry
	conv     *conversion.Adapter
	rewards  *rewards.Adapter
	tokens   contracts.TokenSet
	events   *eventlog.Log
	feed     event.Feed
	metrics  *Metrics
	guard    guard
	now      func() time.Time
	logger   zerolog.Logger
}

// Info summarizes the vault's configuration and state.
type Info struct {
	Pid             uint64         `json:"pid"`
	Address         common.Address `json:"address"`
	LPToken         common.Address `json:"lp_token"`
	Operator        common.Address `json:"operator"`
	RewardRecipient common.Address `json:"reward_recipient"`
	TotalSupply     *uint256.Int   `json:"total_supply"`
	Accounts        int            `json:"accounts"`
	Whitelisted     int            `json:"whitelisted"`
	Events          uint64         `json:"events"`
}

// New opens the vault state in deps.DB and wires the collaborators.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vault config: %w", err)
	}
	if deps.DB == nil || deps.Tokens == nil || deps.Venue == nil || deps.Pool == nil {
		return nil, errors.New("vault: db, tokens, venue and pool are required")
	}

	lg, err := ledger.New(storage.NewPrefixDB(deps.DB, prefixLedger))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	reg, err := registry.New(storage.NewPrefixDB(deps.DB, prefixRegistry), cfg.Operator)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	evs, err := eventlog.Open(storage.NewPrefixDB(deps.DB, prefixEvents))
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	logger := klog.Vault.With().Uint64("pid", cfg.Pid).Logger()
	if deps.Logger != nil {
		logger = *deps.Logger
		lg.SetLogger(logger)
		reg.SetLogger(logger)
	}

	e := &Engine{
		cfg:      cfg,
		ledger:   lg,
		registry: reg,
		conv:     conversion.New(reg, deps.Venue, cfg.LPToken),
		rewards:  rewards.New(deps.Pool, deps.Tokens, cfg.Address),
		tokens:   deps.Tokens,
		events:   evs,
		metrics:  NewMetrics(deps.Registerer),
		guard:    newGuard(),
		now:      time.Now,
		logger:   logger,
	}
	reg.OnAdded(func(asset common.Address) {
		e.emit(Event{Kind: EventWhitelistAdded, Asset: asset})
	})
	e.metrics.setSupply(lg.TotalSupply())
	e.metrics.whitelisted.Set(float64(len(reg.List())))
	return e, nil
}

// Config returns the vault's immutable configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// BalanceOf returns account's LP balance in the vault.
func (e *Engine) BalanceOf(account common.Address) (*uint256.Int, error) {
	return e.ledger.BalanceOf(account)
}

// TotalSupply returns the sum of all depositor balances.
func (e *Engine) TotalSupply() *uint256.Int {
	return e.ledger.TotalSupply()
}

// IsWhitelisted reports whether asset is accepted by DepositSingle.
func (e *Engine) IsWhitelisted(asset common.Address) bool {
	return e.registry.IsWhitelisted(asset)
}

// Whitelist returns the whitelisted assets ordered by address.
func (e *Engine) Whitelist() []common.Address {
	return e.registry.List()
}

// StateRoot returns the commitment over all depositor balances.
func (e *Engine) StateRoot() (types.Hash, error) {
	return e.ledger.Commitment()
}

// Verify checks that the balances add up to the total supply.
func (e *Engine) Verify() error {
	return e.ledger.Verify()
}

// Info returns a snapshot of the vault.
func (e *Engine) Info() (*Info, error) {
	accounts, err := e.ledger.Accounts()
	if err != nil {
		return nil, err
	}
	return &Info{
		Pid:             e.cfg.Pid,
		Address:         e.cfg.Address,
		LPToken:         e.cfg.LPToken,
		Operator:        e.cfg.Operator,
		RewardRecipient: e.cfg.RewardRecipient,
		TotalSupply:     e.ledger.TotalSupply(),
		Accounts:        accounts,
		Whitelisted:     len(e.registry.List()),
		Events:          e.events.Len(),
	}, nil
}

// run executes a mutating operation under the guard and records metrics.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		e.metrics.observe(op, err, 0)
		return err
	}
	defer release()

	start := time.Now()
	err = fn(ctx)
	e.metrics.observe(op, err, time.Since(start))
	if err != nil {
		e.logger.Debug().Err(err).Str("op", op).Msg("Operation failed")
		return err
	}
	e.metrics.setSupply(e.ledger.TotalSupply())
	return nil
}

func (e *Engine) token(addr common.Address) (contracts.Token, error) {
	tok, err := e.tokens.Token(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAsset, err)
	}
	return tok, nil
}

func validAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
