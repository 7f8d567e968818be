package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Klingon-tech/klingnet-vault/config"
	"github.com/Klingon-tech/klingnet-vault/internal/contracts"
	klog "github.com/Klingon-tech/klingnet-vault/internal/log"
	"github.com/Klingon-tech/klingnet-vault/internal/sim"
	"github.com/Klingon-tech/klingnet-vault/internal/storage"
	"github.com/Klingon-tech/klingnet-vault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
)

// testEnv holds all components for an RPC test.
type testEnv struct {
	server   *Server
	engine   *vault.Engine
	devnet   *sim.Devnet
	operator *ecdsa.PrivateKey
	alice    *ecdsa.PrivateKey
	nonces   map[common.Address]uint64
	url      string
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithConfig(t, config.RPCConfig{}, true)
}

func setupTestEnvWithConfig(t *testing.T, rpcCfg config.RPCConfig, dev bool) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	operator, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	alice, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	db := storage.NewMemory()
	d := sim.NewDevnet(sim.DevVault)
	reg := prometheus.NewRegistry()
	engine, err := vault.New(vault.Config{
		Pid:      7,
		Address:  sim.DevVault,
		LPToken:  sim.DevLPToken,
		Operator: crypto.PubkeyToAddress(operator.PublicKey),
	}, vault.Deps{
		DB:         db,
		Tokens:     d.Tokens(),
		Venue:      d.Venue,
		Pool:       d.Pool,
		Registerer: reg,
	})
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	srv := New("127.0.0.1:0", engine, NewNonces(storage.NewPrefixDB(db, []byte("n/"))), rpcCfg)
	if dev {
		srv.SetDevBackend(d)
	}
	srv.SetMetrics(reg)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server:   srv,
		engine:   engine,
		devnet:   d,
		operator: operator,
		alice:    alice,
		nonces:   make(map[common.Address]uint64),
		url:      fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

// signedCall signs p with key under the account's next nonce and sends it.
func (env *testEnv) signedCall(t *testing.T, key *ecdsa.PrivateKey, method string, p Signable) Response {
	t.Helper()
	from := crypto.PubkeyToAddress(key.PublicKey)
	env.nonces[from]++
	if err := Sign(key, method, env.nonces[from], p); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return rpcCall(t, env.url, method, p)
}

func (env *testEnv) mint(t *testing.T, token common.Address, key *ecdsa.PrivateKey, amount string) {
	t.Helper()
	account := crypto.PubkeyToAddress(key.PublicKey)
	resp := rpcCall(t, env.url, "dev_mint", MintParam{Token: token.Hex(), Account: account.Hex(), Amount: amount})
	if resp.Error != nil {
		t.Fatalf("dev_mint: %s", resp.Error.Message)
	}
}

func decodeResult(t *testing.T, resp Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func wantCode(t *testing.T, resp Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRPC_GetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var info vault.Info
	decodeResult(t, rpcCall(t, env.url, "vault_getInfo", nil), &info)

	if info.Pid != 7 {
		t.Errorf("pid = %d, want 7", info.Pid)
	}
	if info.LPToken != sim.DevLPToken {
		t.Errorf("lp_token = %s, want %s", info.LPToken.Hex(), sim.DevLPToken.Hex())
	}
	if info.Operator != crypto.PubkeyToAddress(env.operator.PublicKey) {
		t.Errorf("operator = %s", info.Operator.Hex())
	}
	if !info.TotalSupply.IsZero() {
		t.Errorf("total_supply = %s, want 0", info.TotalSupply)
	}
}

func TestRPC_DepositWithdraw(t *testing.T) {
	env := setupTestEnv(t)
	alice := crypto.PubkeyToAddress(env.alice.PublicKey)
	env.mint(t, sim.DevLPToken, env.alice, "100")

	var op OpResult
	decodeResult(t, env.signedCall(t, env.alice, "vault_deposit", &AmountParam{Amount: "100"}), &op)
	if op.Account != alice || op.Nonce != 1 {
		t.Errorf("op = %+v", op)
	}

	var bal BalanceResult
	decodeResult(t, rpcCall(t, env.url, "vault_balanceOf", AccountParam{Account: alice.Hex()}), &bal)
	if bal.Balance.Uint64() != 100 {
		t.Errorf("balance = %s, want 100", bal.Balance)
	}

	decodeResult(t, env.signedCall(t, env.alice, "vault_withdrawLp", &AmountParam{Amount: "40"}), &op)

	var supply SupplyResult
	decodeResult(t, rpcCall(t, env.url, "vault_totalSupply", nil), &supply)
	if supply.TotalSupply.Uint64() != 60 {
		t.Errorf("total_supply = %s, want 60", supply.TotalSupply)
	}
	if got := env.devnet.Balance(sim.DevLPToken, alice).Uint64(); got != 40 {
		t.Errorf("wallet lp = %d, want 40", got)
	}

	var evs EventsResult
	decodeResult(t, rpcCall(t, env.url, "vault_getEvents", EventsParam{}), &evs)
	if len(evs.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(evs.Events))
	}
	if evs.Events[0].Kind != vault.EventDeposit || evs.Events[1].Kind != vault.EventWithdrawLp {
		t.Errorf("event kinds = %s, %s", evs.Events[0].Kind, evs.Events[1].Kind)
	}
	if evs.Next != 2 {
		t.Errorf("next = %d, want 2", evs.Next)
	}

	decodeResult(t, rpcCall(t, env.url, "vault_getEvents", EventsParam{From: evs.Next}), &evs)
	if len(evs.Events) != 0 || evs.Next != 2 {
		t.Errorf("tail page = %d events, next %d", len(evs.Events), evs.Next)
	}
}

func TestRPC_VaultErrors(t *testing.T) {
	env := setupTestEnv(t)
	env.mint(t, sim.DevLPToken, env.alice, "10")

	wantCode(t, env.signedCall(t, env.alice, "vault_deposit", &AmountParam{Amount: "0"}), CodeInvalidAmount)
	wantCode(t, env.signedCall(t, env.alice, "vault_withdraw", &AmountParam{Amount: "1"}), CodeExceededAmount)
	wantCode(t, env.signedCall(t, env.alice, "vault_depositSingle",
		&AssetAmountParam{Asset: sim.DevDAI.Hex(), Amount: "10"}), CodeNotWhitelisted)
	wantCode(t, env.signedCall(t, env.alice, "vault_addWhitelist",
		&WhitelistParam{Asset: sim.DevDAI.Hex()}), CodeUnauthorized)
	wantCode(t, env.signedCall(t, env.alice, "vault_harvest", &HarvestParam{}), CodeUnauthorized)
	wantCode(t, env.signedCall(t, env.alice, "vault_deposit", &AmountParam{Amount: "11"}), CodeTransferFailed)
}

func TestRPC_InvalidParamsKeepNonce(t *testing.T) {
	env := setupTestEnv(t)
	alice := crypto.PubkeyToAddress(env.alice.PublicKey)

	p := &AmountParam{Amount: "ten"}
	if err := Sign(env.alice, "vault_deposit", 1, p); err != nil {
		t.Fatal(err)
	}
	wantCode(t, rpcCall(t, env.url, "vault_deposit", p), CodeInvalidParams)

	var nonce NonceResult
	decodeResult(t, rpcCall(t, env.url, "vault_getNonce", AccountParam{Account: alice.Hex()}), &nonce)
	if nonce.Nonce != 0 {
		t.Errorf("nonce = %d, want 0 after a malformed call", nonce.Nonce)
	}
}

func TestRPC_SingleAssetFlow(t *testing.T) {
	env := setupTestEnv(t)
	alice := crypto.PubkeyToAddress(env.alice.PublicKey)
	env.mint(t, sim.DevDAI, env.alice, "40")

	var op OpResult
	decodeResult(t, env.signedCall(t, env.operator, "vault_addWhitelist", &WhitelistParam{Asset: sim.DevDAI.Hex()}), &op)
	if op.Changed == nil || !*op.Changed {
		t.Errorf("first add changed = %v, want true", op.Changed)
	}
	decodeResult(t, env.signedCall(t, env.operator, "vault_addWhitelist", &WhitelistParam{Asset: sim.DevDAI.Hex()}), &op)
	if op.Changed == nil || *op.Changed {
		t.Errorf("second add changed = %v, want false", op.Changed)
	}

	var wl WhitelistedResult
	decodeResult(t, rpcCall(t, env.url, "vault_isWhitelisted", AssetParam{Asset: sim.DevDAI.Hex()}), &wl)
	if !wl.Whitelisted {
		t.Error("DAI should be whitelisted")
	}
	var list WhitelistResult
	decodeResult(t, rpcCall(t, env.url, "vault_listWhitelist", nil), &list)
	if len(list.Assets) != 1 || list.Assets[0] != sim.DevDAI {
		t.Errorf("whitelist = %v", list.Assets)
	}

	decodeResult(t, env.signedCall(t, env.alice, "vault_depositSingle",
		&AssetAmountParam{Asset: sim.DevDAI.Hex(), Amount: "40"}), &op)
	if op.Amount == nil || op.Amount.Uint64() != 20 {
		t.Fatalf("lp credited = %v, want 20", op.Amount)
	}

	decodeResult(t, env.signedCall(t, env.alice, "vault_withdrawSingle",
		&AssetAmountParam{Asset: sim.DevDAI.Hex(), Amount: "20"}), &op)
	if op.Amount == nil || op.Amount.Uint64() != 40 {
		t.Fatalf("dai paid = %v, want 40", op.Amount)
	}
	if got := env.devnet.Balance(sim.DevDAI, alice).Uint64(); got != 40 {
		t.Errorf("wallet dai = %d, want 40", got)
	}

	decodeResult(t, env.signedCall(t, env.operator, "vault_removeWhitelist", &WhitelistParam{Asset: sim.DevDAI.Hex()}), &op)
	if op.Changed == nil || !*op.Changed {
		t.Errorf("remove changed = %v, want true", op.Changed)
	}
}

func TestRPC_DepositETH(t *testing.T) {
	env := setupTestEnv(t)
	env.mint(t, contracts.NativeAsset, env.alice, "5")

	var op OpResult
	decodeResult(t, env.signedCall(t, env.alice, "vault_depositETH", &AmountParam{Amount: "5"}), &op)
	if op.Amount == nil || op.Amount.Uint64() != 10 {
		t.Fatalf("lp credited = %v, want 10", op.Amount)
	}
}

func TestRPC_PendingRewardsAndHarvest(t *testing.T) {
	env := setupTestEnv(t)
	alice := crypto.PubkeyToAddress(env.alice.PublicKey)
	env.mint(t, sim.DevLPToken, env.alice, "100")
	decodeResult(t, env.signedCall(t, env.alice, "vault_deposit", &AmountParam{Amount: "100"}), &OpResult{})

	resp := rpcCall(t, env.url, "dev_accrueRewards", AccrueParam{Token: sim.DevCRV.Hex(), Amount: "30"})
	if resp.Error != nil {
		t.Fatalf("dev_accrueRewards: %s", resp.Error.Message)
	}

	var pending RewardsResult
	decodeResult(t, rpcCall(t, env.url, "vault_pendingRewards", AccountParam{Account: alice.Hex()}), &pending)
	if len(pending.Rewards) != 2 || pending.Rewards[0].Token != sim.DevCRV || pending.Rewards[0].Amount.Uint64() != 30 {
		t.Fatalf("pending = %+v", pending.Rewards)
	}

	var harvested RewardsResult
	decodeResult(t, env.signedCall(t, env.operator, "vault_harvest", &HarvestParam{}), &harvested)
	if harvested.Account != sim.DevVault {
		t.Errorf("harvest recipient = %s, want vault", harvested.Account.Hex())
	}
	if got := env.devnet.Balance(sim.DevCRV, sim.DevVault).Uint64(); got != 30 {
		t.Errorf("vault crv = %d, want 30", got)
	}
}

func TestRPC_BadSignature(t *testing.T) {
	env := setupTestEnv(t)

	p := &AmountParam{Amount: "10"}
	if err := Sign(env.alice, "vault_deposit", 1, p); err != nil {
		t.Fatal(err)
	}

	tampered := *p
	tampered.Amount = "1000"
	wantCode(t, rpcCall(t, env.url, "vault_deposit", &tampered), CodeBadSignature)

	// Signed for another method.
	wantCode(t, rpcCall(t, env.url, "vault_withdraw", p), CodeBadSignature)

	impostor := *p
	impostor.From = crypto.PubkeyToAddress(env.operator.PublicKey).Hex()
	wantCode(t, rpcCall(t, env.url, "vault_deposit", &impostor), CodeBadSignature)

	garbled := *p
	garbled.Signature = "0x1234"
	wantCode(t, rpcCall(t, env.url, "vault_deposit", &garbled), CodeBadSignature)
}

func TestRPC_NonceReplay(t *testing.T) {
	env := setupTestEnv(t)
	alice := crypto.PubkeyToAddress(env.alice.PublicKey)
	env.mint(t, sim.DevLPToken, env.alice, "100")

	p := &AmountParam{Amount: "10"}
	if err := Sign(env.alice, "vault_deposit", 5, p); err != nil {
		t.Fatal(err)
	}
	decodeResult(t, rpcCall(t, env.url, "vault_deposit", p), &OpResult{})
	wantCode(t, rpcCall(t, env.url, "vault_deposit", p), CodeBadNonce)

	older := &AmountParam{Amount: "10"}
	if err := Sign(env.alice, "vault_deposit", 4, older); err != nil {
		t.Fatal(err)
	}
	wantCode(t, rpcCall(t, env.url, "vault_deposit", older), CodeBadNonce)

	var nonce NonceResult
	decodeResult(t, rpcCall(t, env.url, "vault_getNonce", AccountParam{Account: alice.Hex()}), &nonce)
	if nonce.Nonce != 5 {
		t.Errorf("nonce = %d, want 5", nonce.Nonce)
	}
	if bal, _ := env.engine.BalanceOf(alice); bal.Uint64() != 10 {
		t.Errorf("balance = %s, want 10", bal)
	}
}

func TestRPC_StateRoot(t *testing.T) {
	env := setupTestEnv(t)
	env.mint(t, sim.DevLPToken, env.alice, "100")

	var before StateRootResult
	decodeResult(t, rpcCall(t, env.url, "vault_getStateRoot", nil), &before)
	decodeResult(t, env.signedCall(t, env.alice, "vault_deposit", &AmountParam{Amount: "100"}), &OpResult{})
	var after StateRootResult
	decodeResult(t, rpcCall(t, env.url, "vault_getStateRoot", nil), &after)

	if before.Root == after.Root {
		t.Error("state root did not change after deposit")
	}
	if after.TotalSupply.Uint64() != 100 {
		t.Errorf("total_supply = %s, want 100", after.TotalSupply)
	}
}

func TestRPC_DevMethodsDisabled(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{}, false)

	resp := rpcCall(t, env.url, "dev_mint", MintParam{Token: sim.DevLPToken.Hex(), Account: sim.DevVault.Hex(), Amount: "1"})
	wantCode(t, resp, CodeMethodNotFound)
}

func TestRPC_InvalidAddress(t *testing.T) {
	env := setupTestEnv(t)

	wantCode(t, rpcCall(t, env.url, "vault_balanceOf", AccountParam{Account: "0x1234"}), CodeInvalidParams)
	wantCode(t, rpcCall(t, env.url, "vault_balanceOf", nil), CodeInvalidParams)
}

func TestRPC_EventsLimit(t *testing.T) {
	env := setupTestEnv(t)

	wantCode(t, rpcCall(t, env.url, "vault_getEvents", EventsParam{Limit: -1}), CodeInvalidParams)
	wantCode(t, rpcCall(t, env.url, "vault_getEvents", EventsParam{Limit: 1_000_000}), CodeInvalidParams)
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	wantCode(t, rpcCall(t, env.url, "chain_getInfo", nil), CodeMethodNotFound)
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)

	if rpcResp.Error == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if rpcResp.Error.Code != CodeParseError {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeParseError)
	}
}

func TestRPC_BodyTooLarge(t *testing.T) {
	env := setupTestEnv(t)

	body := `{"jsonrpc":"2.0","method":"vault_getInfo","params":"` + strings.Repeat("x", maxBodySize) + `","id":1}`
	resp, err := http.Post(env.url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error = %+v, want invalid request", rpcResp.Error)
	}
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)

	if rpcResp.Error == nil {
		t.Fatal("expected error for GET request")
	}
	if rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcResp.Error.Code, CodeInvalidRequest)
	}
}

func TestRPC_Metrics(t *testing.T) {
	env := setupTestEnv(t)
	env.mint(t, sim.DevLPToken, env.alice, "100")
	decodeResult(t, env.signedCall(t, env.alice, "vault_deposit", &AmountParam{Amount: "100"}), &OpResult{})

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", env.server.Addr()))
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `vault_operations_total{op="deposit",result="ok"} 1`) {
		t.Errorf("metrics missing deposit counter:\n%s", body)
	}
}

// --- IP Filtering ---

func TestRPC_IPFilter_Allowed(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"127.0.0.1"},
	}, true)

	resp := rpcCall(t, env.url, "vault_totalSupply", nil)
	if resp.Error != nil {
		t.Errorf("expected success for 127.0.0.1, got error: %s", resp.Error.Message)
	}
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		AllowedIPs: []string{"10.0.0.0/8"}, // Only allow 10.x.x.x.
	}, true)

	req := Request{JSONRPC: "2.0", Method: "vault_totalSupply", ID: 1}
	body, _ := json.Marshal(req)
	resp, err := http.Post(env.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}

	metrics, err := http.Get(fmt.Sprintf("http://%s/metrics", env.server.Addr()))
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer metrics.Body.Close()
	if metrics.StatusCode != http.StatusForbidden {
		t.Errorf("metrics: expected 403, got %d", metrics.StatusCode)
	}
}

// --- CORS ---

func TestRPC_CORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://example.com", "*"},
		{"specific match", []string{"http://myapp.com"}, "http://myapp.com", "http://myapp.com"},
		{"specific mismatch", []string{"http://myapp.com"}, "http://evil.com", ""},
		{"disabled", nil, "http://example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnvWithConfig(t, config.RPCConfig{CORSOrigins: tt.origins}, false)

			req := Request{JSONRPC: "2.0", Method: "vault_totalSupply", ID: 1}
			body, _ := json.Marshal(req)
			httpReq, _ := http.NewRequest("POST", env.url, bytes.NewReader(body))
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Origin", tt.origin)

			resp, err := http.DefaultClient.Do(httpReq)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()

			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("CORS origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRPC_CORS_Preflight(t *testing.T) {
	env := setupTestEnvWithConfig(t, config.RPCConfig{
		CORSOrigins: []string{"*"},
	}, false)

	httpReq, _ := http.NewRequest("OPTIONS", env.url, nil)
	httpReq.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Error("preflight should have Allow-Methods header")
	}
}
