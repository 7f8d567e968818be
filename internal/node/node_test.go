package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-vault/config"
	"github.com/Klingon-tech/klingnet-vault/internal/rpc"
	"github.com/Klingon-tech/klingnet-vault/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-vault/internal/sim"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingnet-vault/keys/vault.key", filepath.Join(home, ".klingnet-vault/keys/vault.key")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseOptionalAddress(t *testing.T) {
	addr, err := parseOptionalAddress("  ")
	if err != nil {
		t.Fatalf("blank: %v", err)
	}
	if addr != (common.Address{}) {
		t.Errorf("blank = %s, want zero", addr.Hex())
	}

	addr, err = parseOptionalAddress(sim.DevDAI.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr != sim.DevDAI {
		t.Errorf("addr = %s, want %s", addr.Hex(), sim.DevDAI.Hex())
	}

	if _, err := parseOptionalAddress("0x1234"); err == nil {
		t.Error("expected error for short address")
	}
}

// testConfig returns a sim-backed config rooted in a temp dir.
func testConfig(t *testing.T, operator common.Address) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Vault.Pid = 4
	cfg.Vault.Operator = operator.Hex()
	cfg.RPC.Port = 0 // Use random port.
	cfg.Log.Level = "error"

	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs: %v", err)
	}
	return cfg
}

func TestNodeLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	operator := crypto.PubkeyToAddress(key.PublicKey)

	cfg := testConfig(t, operator)
	cfg.Vault.Whitelist = []string{sim.DevDAI.Hex(), sim.DevWBTC.Hex()}

	n, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n.RPCAddr() == "" {
		t.Error("RPCAddr should not be empty")
	}
	if !n.Engine().IsWhitelisted(sim.DevDAI) || !n.Engine().IsWhitelisted(sim.DevWBTC) {
		t.Error("configured assets should be whitelisted")
	}
	if got := n.Engine().Config().Pid; got != 4 {
		t.Errorf("pid = %d, want 4", got)
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Exercise the full RPC path: dev funding, then a signed deposit.
	client := rpcclient.New("http://" + n.RPCAddr() + "/")
	mint := rpc.MintParam{Token: sim.DevLPToken.Hex(), Account: operator.Hex(), Amount: "100"}
	if err := client.Call("dev_mint", mint, nil); err != nil {
		t.Fatalf("dev_mint: %v", err)
	}
	var op rpc.OpResult
	if err := client.CallSigned(key, "vault_deposit", &rpc.AmountParam{Amount: "60"}, &op); err != nil {
		t.Fatalf("vault_deposit: %v", err)
	}
	bal, err := n.Engine().BalanceOf(operator)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if bal.Uint64() != 60 {
		t.Errorf("balance = %s, want 60", bal)
	}

	// Stop should not panic or error.
	n.Stop()
}

func TestNodeRestartKeepsState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	operator := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	cfg := testConfig(t, operator)
	cfg.RPC.Enabled = false
	cfg.Vault.Whitelist = []string{sim.DevDAI.Hex()}

	n, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n.RPCAddr() != "" {
		t.Errorf("RPCAddr = %q, want empty with rpc disabled", n.RPCAddr())
	}
	n.Stop()

	// Reopen: the whitelist is persisted and seeding is idempotent.
	n, err = New(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer n.Stop()

	if !n.Engine().IsWhitelisted(sim.DevDAI) {
		t.Error("whitelist should survive restart")
	}
	if got := len(n.Engine().Whitelist()); got != 1 {
		t.Errorf("whitelist size = %d, want 1", got)
	}
	events, err := n.Engine().Events(0, 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want a single WhitelistAdded", len(events))
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	cfg.Backend = "carrier-pigeon"

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNew_EVMMissingKey(t *testing.T) {
	cfg := testConfig(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	cfg.Backend = config.BackendEVM
	cfg.EVM.KeyFile = filepath.Join(cfg.DataDir, "missing.key")

	if _, err := New(cfg, []byte("password")); err == nil {
		t.Fatal("expected error for missing vault key")
	}
}

func TestNew_BadOperator(t *testing.T) {
	cfg := testConfig(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	cfg.Vault.Operator = "not-an-address"

	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for bad operator")
	}
}
