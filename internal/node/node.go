// Package node wires a complete vault daemon: logging, storage, the chain
// backend, the vault engine and the RPC server.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-vault/config"
	klog "github.com/Klingon-tech/klingnet-vault/internal/log"
	"github.com/Klingon-tech/klingnet-vault/internal/rpc"
	"github.com/Klingon-tech/klingnet-vault/internal/storage"
	"github.com/Klingon-tech/klingnet-vault/internal/vault"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// prefixNonces holds the RPC server's signed-call nonces.
var prefixNonces = []byte("n/")

// seedTimeout bounds the startup whitelist seeding.
const seedTimeout = 30 * time.Second

// Node is a fully-initialized vault daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db       storage.DB
	backend  *backend
	engine   *vault.Engine
	registry *prometheus.Registry

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, storage, backend, engine, RPC) but does NOT start background
// goroutines. Call Start() for that. keyPassword unlocks the vault account
// key of the evm backend and is ignored by the sim backend.
func New(cfg *config.Config, keyPassword []byte) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "vault.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	operator, err := types.ParseAddress(cfg.Vault.Operator)
	if err != nil {
		return nil, fmt.Errorf("vault.operator: %w", err)
	}
	recipient, err := parseOptionalAddress(cfg.Vault.RewardRecipient)
	if err != nil {
		return nil, fmt.Errorf("vault.rewardrecipient: %w", err)
	}
	whitelist, err := types.ParseAddressList(cfg.Vault.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("vault.whitelist: %w", err)
	}

	logger.Info().
		Str("backend", string(cfg.Backend)).
		Uint64("pid", cfg.Vault.Pid).
		Str("operator", operator.Hex()).
		Msg("Starting Klingnet Vault")

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	fail := func(err error) (*Node, error) {
		n.Stop()
		return nil, err
	}

	// ── 2. Open storage ─────────────────────────────────────────────
	n.db, err = storage.NewBadger(cfg.DBDir())
	if err != nil {
		return fail(fmt.Errorf("open database at %s: %w", cfg.DBDir(), err))
	}
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	// ── 3. Backend ──────────────────────────────────────────────────
	n.backend, err = openBackend(ctx, cfg, keyPassword)
	if err != nil {
		return fail(fmt.Errorf("open %s backend: %w", cfg.Backend, err))
	}
	logger.Info().
		Str("vault", n.backend.vault.Hex()).
		Str("lp_token", n.backend.lpToken.Hex()).
		Msg("Backend ready")

	// ── 4. Vault engine ─────────────────────────────────────────────
	n.registry = prometheus.NewRegistry()
	n.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	n.engine, err = vault.New(vault.Config{
		Pid:             cfg.Vault.Pid,
		Address:         n.backend.vault,
		LPToken:         n.backend.lpToken,
		Operator:        operator,
		RewardRecipient: recipient,
	}, vault.Deps{
		DB:         n.db,
		Tokens:     n.backend.tokens,
		Venue:      n.backend.venue,
		Pool:       n.backend.pool,
		Registerer: n.registry,
	})
	if err != nil {
		return fail(fmt.Errorf("open vault: %w", err))
	}
	if err := n.engine.Verify(); err != nil {
		return fail(fmt.Errorf("vault state: %w", err))
	}

	// ── 5. Whitelist seeding ────────────────────────────────────────
	if err := n.seedWhitelist(operator, whitelist); err != nil {
		return fail(err)
	}

	// ── 6. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rpcAddr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		nonces := rpc.NewNonces(storage.NewPrefixDB(n.db, prefixNonces))
		n.rpcServer = rpc.New(rpcAddr, n.engine, nonces, cfg.RPC)
		if n.backend.devnet != nil {
			n.rpcServer.SetDevBackend(n.backend.devnet)
		}
		if cfg.Metrics.Enabled {
			n.rpcServer.SetMetrics(n.registry)
		}
		if err := n.rpcServer.Start(); err != nil {
			n.rpcServer = nil
			return fail(fmt.Errorf("start rpc: %w", err))
		}
		logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server started")
	}

	return n, nil
}

// seedWhitelist adds every configured asset through the operator path.
// Assets already whitelisted are left alone.
func (n *Node) seedWhitelist(operator common.Address, assets []common.Address) error {
	if len(assets) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(n.ctx, seedTimeout)
	defer cancel()

	added := 0
	for _, asset := range assets {
		ok, err := n.engine.AddWhitelist(ctx, operator, asset)
		if err != nil {
			return fmt.Errorf("seed whitelist %s: %w", asset.Hex(), err)
		}
		if ok {
			added++
		}
	}
	n.logger.Info().Int("configured", len(assets)).Int("added", added).Msg("Whitelist seeded")
	return nil
}

// Start launches background goroutines: the event logger.
func (n *Node) Start() error {
	events := make(chan vault.Event, 64)
	sub := n.engine.SubscribeEvents(events)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer sub.Unsubscribe()
		n.runEventLogger(events, sub.Err())
	}()

	info, err := n.engine.Info()
	if err != nil {
		return fmt.Errorf("vault info: %w", err)
	}
	n.logger.Info().
		Str("total_supply", info.TotalSupply.Dec()).
		Int("accounts", info.Accounts).
		Int("whitelisted", info.Whitelisted).
		Uint64("events", info.Events).
		Msg("Vault started successfully")

	return nil
}

// runEventLogger logs every vault event until the node stops.
func (n *Node) runEventLogger(events <-chan vault.Event, errc <-chan error) {
	logger := klog.Vault.With().Str("feed", "events").Logger()
	for {
		select {
		case <-n.ctx.Done():
			return
		case err := <-errc:
			if err != nil {
				logger.Error().Err(err).Msg("Event subscription failed")
			}
			return
		case ev := <-events:
			logger.Info().
				Uint64("seq", ev.Seq).
				Str("event", string(ev.Kind)).
				Msg(ev.String())
		}
	}
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Warn().Err(err).Msg("RPC shutdown")
		}
	}

	n.cancel()
	n.wg.Wait()

	if n.backend != nil {
		n.backend.close()
	}
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Engine returns the node's vault engine.
func (n *Node) Engine() *vault.Engine {
	return n.engine
}
