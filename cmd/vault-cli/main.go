// vault-cli is a command-line client for interacting with a vaultd daemon.
package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Klingon-tech/klingnet-vault/config"
	"github.com/Klingon-tech/klingnet-vault/internal/keys"
	"github.com/Klingon-tech/klingnet-vault/internal/rpc"
	"github.com/Klingon-tech/klingnet-vault/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-vault/internal/vault"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"
)

// passwordEnv unlocks the key file without a prompt.
const passwordEnv = "KLINGNET_VAULT_PASSWORD"

// globals holds the flags accepted before the subcommand.
type globals struct {
	rpcURL  string
	dataDir string
	keyFile string
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	g, args := parseGlobals(os.Args[1:])
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(g.rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "balance":
		cmdBalance(client, cmdArgs, g)
	case "pending":
		cmdPending(client, cmdArgs, g)
	case "events":
		cmdEvents(client, cmdArgs)
	case "root":
		cmdRoot(client)
	case "deposit", "deposit-lp", "deposit-eth", "withdraw", "withdraw-lp":
		cmdAmount(client, cmd, cmdArgs, g)
	case "deposit-single", "withdraw-single":
		cmdAssetAmount(client, cmd, cmdArgs, g)
	case "whitelist":
		cmdWhitelist(client, cmdArgs, g)
	case "harvest":
		cmdHarvest(client, g)
	case "key":
		cmdKey(cmdArgs, g)
	case "dev":
		cmdDev(client, cmdArgs)
	case "version", "--version":
		fmt.Printf("vault-cli %s\n", config.Version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

// parseGlobals consumes --rpc, --datadir and --key (as "--flag value" or
// "--flag=value") up to the first subcommand.
func parseGlobals(args []string) (globals, []string) {
	g := globals{
		rpcURL:  "http://127.0.0.1:8645",
		dataDir: config.DefaultDataDir(),
	}
	for len(args) > 0 {
		name, value, consumed, ok := globalFlag(args)
		if !ok {
			break
		}
		switch name {
		case "rpc":
			g.rpcURL = value
		case "datadir":
			g.dataDir = value
		case "key":
			g.keyFile = value
		}
		args = args[consumed:]
	}
	if g.keyFile == "" {
		g.keyFile = filepath.Join(g.dataDir, "keys", "user.key")
	}
	return g, args
}

func globalFlag(args []string) (name, value string, consumed int, ok bool) {
	for _, n := range []string{"rpc", "datadir", "key"} {
		switch {
		case args[0] == "--"+n && len(args) > 1:
			return n, args[1], 2, true
		case strings.HasPrefix(args[0], "--"+n+"="):
			return n, args[0][len("--"+n+"="):], 1, true
		}
	}
	return "", "", 0, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: vault-cli [global flags] <command> [args]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8645)
  --datadir <path>    Data directory (default: ~/.klingnet-vault)
  --key <path>        Signing key file (default: <datadir>/keys/user.key)

Commands:
  status                          Show vault info
  balance [address]               Show vault share balance (default: own key)
  pending [address]               Show pending pool rewards
  events [--from n] [--limit n]   List vault events
  root                            Show the ledger state root

  deposit <amount>                Deposit LP and stake it in the pool
  deposit-lp <amount>             Deposit LP without staking
  deposit-eth <amount>            Deposit native currency
  deposit-single <asset> <amount> Deposit a whitelisted asset
  withdraw <amount>               Unstake and withdraw LP
  withdraw-lp <amount>            Withdraw unstaked LP
  withdraw-single <asset> <amount>
                                  Withdraw as a whitelisted asset

  whitelist list                  List whitelisted assets
  whitelist check <asset>         Check whether an asset is whitelisted
  whitelist add <asset>           Whitelist an asset (operator)
  whitelist remove <asset>        Remove an asset (operator)
  harvest                         Claim pool rewards (operator)

  key new                         Create a signing key from a new mnemonic
  key import --mnemonic "..."     Import a signing key from a mnemonic
  key show                        Show the signing key address

  dev mint <token> <account> <amount>
                                  Mint devnet tokens (sim backend)
  dev accrue <token> <amount>     Accrue devnet pool rewards (sim backend)

Amounts are integers in the token's base units.
`)
}

// ── Reads ───────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var info vault.Info
	if err := client.Call("vault_getInfo", nil, &info); err != nil {
		fatal("%v", err)
	}
	fmt.Println("Vault Status:")
	fmt.Printf("  Address:          %s\n", info.Address.Hex())
	fmt.Printf("  Pool id:          %d\n", info.Pid)
	fmt.Printf("  LP token:         %s\n", info.LPToken.Hex())
	fmt.Printf("  Operator:         %s\n", info.Operator.Hex())
	fmt.Printf("  Reward recipient: %s\n", info.RewardRecipient.Hex())
	fmt.Printf("  Total supply:     %s\n", info.TotalSupply.Dec())
	fmt.Printf("  Accounts:         %d\n", info.Accounts)
	fmt.Printf("  Whitelisted:      %d\n", info.Whitelisted)
	fmt.Printf("  Events:           %d\n", info.Events)
}

func cmdBalance(client *rpcclient.Client, args []string, g globals) {
	account := accountArg(args, g)
	var result rpc.BalanceResult
	if err := client.Call("vault_balanceOf", rpc.AccountParam{Account: account.Hex()}, &result); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("%s: %s\n", result.Account.Hex(), result.Balance.Dec())
}

func cmdPending(client *rpcclient.Client, args []string, g globals) {
	account := accountArg(args, g)
	var result rpc.RewardsResult
	if err := client.Call("vault_pendingRewards", rpc.AccountParam{Account: account.Hex()}, &result); err != nil {
		fatal("%v", err)
	}
	printRewards("Pending rewards", result)
}

func cmdEvents(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	from := fs.Uint64("from", 0, "First event sequence")
	limit := fs.Int("limit", 100, "Maximum events to return")
	fs.Parse(args)

	var result rpc.EventsResult
	if err := client.Call("vault_getEvents", rpc.EventsParam{From: *from, Limit: *limit}, &result); err != nil {
		fatal("%v", err)
	}
	if len(result.Events) == 0 {
		fmt.Println("No events.")
		return
	}
	for _, ev := range result.Events {
		fmt.Printf("%6d  %s\n", ev.Seq, ev.String())
	}
	fmt.Printf("\nNext: --from %d\n", result.Next)
}

func cmdRoot(client *rpcclient.Client) {
	var result rpc.StateRootResult
	if err := client.Call("vault_getStateRoot", nil, &result); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Root:         %s\n", result.Root)
	fmt.Printf("Total supply: %s\n", result.TotalSupply.Dec())
}

// ── Signed operations ───────────────────────────────────────────────────

var amountMethods = map[string]string{
	"deposit":     "vault_deposit",
	"deposit-lp":  "vault_depositLp",
	"deposit-eth": "vault_depositETH",
	"withdraw":    "vault_withdraw",
	"withdraw-lp": "vault_withdrawLp",
}

func cmdAmount(client *rpcclient.Client, cmd string, args []string, g globals) {
	if len(args) != 1 {
		fatal("Usage: vault-cli %s <amount>", cmd)
	}
	amount := amountArg(args[0])

	var result rpc.OpResult
	key := loadKey(g)
	if err := client.CallSigned(key, amountMethods[cmd], &rpc.AmountParam{Amount: amount}, &result); err != nil {
		fatal("%v", err)
	}
	printOp(cmd, amount, result)
}

func cmdAssetAmount(client *rpcclient.Client, cmd string, args []string, g globals) {
	if len(args) != 2 {
		fatal("Usage: vault-cli %s <asset> <amount>", cmd)
	}
	asset := addressArg(args[0])
	amount := amountArg(args[1])

	method := "vault_depositSingle"
	if cmd == "withdraw-single" {
		method = "vault_withdrawSingle"
	}
	var result rpc.OpResult
	key := loadKey(g)
	params := &rpc.AssetAmountParam{Asset: asset.Hex(), Amount: amount}
	if err := client.CallSigned(key, method, params, &result); err != nil {
		fatal("%v", err)
	}
	printOp(cmd, amount, result)
}

func cmdWhitelist(client *rpcclient.Client, args []string, g globals) {
	if len(args) < 1 {
		fatal("Usage: vault-cli whitelist <list|check|add|remove> [asset]")
	}

	switch args[0] {
	case "list":
		var result rpc.WhitelistResult
		if err := client.Call("vault_listWhitelist", nil, &result); err != nil {
			fatal("%v", err)
		}
		if len(result.Assets) == 0 {
			fmt.Println("No whitelisted assets.")
			return
		}
		for _, a := range result.Assets {
			fmt.Println(a.Hex())
		}
	case "check":
		if len(args) != 2 {
			fatal("Usage: vault-cli whitelist check <asset>")
		}
		var result rpc.WhitelistedResult
		if err := client.Call("vault_isWhitelisted", rpc.AssetParam{Asset: addressArg(args[1]).Hex()}, &result); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s: %t\n", result.Asset.Hex(), result.Whitelisted)
	case "add", "remove":
		if len(args) != 2 {
			fatal("Usage: vault-cli whitelist %s <asset>", args[0])
		}
		method := "vault_addWhitelist"
		if args[0] == "remove" {
			method = "vault_removeWhitelist"
		}
		var result rpc.OpResult
		key := loadKey(g)
		if err := client.CallSigned(key, method, &rpc.WhitelistParam{Asset: addressArg(args[1]).Hex()}, &result); err != nil {
			fatal("%v", err)
		}
		if result.Changed != nil && !*result.Changed {
			fmt.Println("Whitelist unchanged.")
			return
		}
		fmt.Printf("Whitelist %s: %s\n", args[0], addressArg(args[1]).Hex())
	default:
		fatal("Unknown whitelist command: %s", args[0])
	}
}

func cmdHarvest(client *rpcclient.Client, g globals) {
	var result rpc.RewardsResult
	if err := client.CallSigned(loadKey(g), "vault_harvest", &rpc.HarvestParam{}, &result); err != nil {
		fatal("%v", err)
	}
	printRewards("Harvested", result)
}

// ── Keys ────────────────────────────────────────────────────────────────

func cmdKey(args []string, g globals) {
	if len(args) < 1 {
		fatal("Usage: vault-cli key <new|import|show>")
	}

	switch args[0] {
	case "new":
		mnemonic, err := keys.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
		fmt.Println("Mnemonic (write this down!):")
		fmt.Printf("  %s\n\n", mnemonic)
		saveMnemonicKey(mnemonic, g)
	case "import":
		fs := flag.NewFlagSet("key import", flag.ExitOnError)
		mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic")
		fs.Parse(args[1:])
		if *mnemonic == "" {
			fatal("Usage: vault-cli key import --mnemonic \"word1 word2 ...\"")
		}
		saveMnemonicKey(*mnemonic, g)
	case "show":
		addr, err := keys.ReadAddress(g.keyFile)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Key:     %s\n", g.keyFile)
		fmt.Printf("Address: %s\n", addr.Hex())
	default:
		fatal("Unknown key command: %s", args[0])
	}
}

func saveMnemonicKey(mnemonic string, g globals) {
	if _, err := os.Stat(g.keyFile); err == nil {
		fatal("key file %s already exists", g.keyFile)
	}

	key, err := keys.FromMnemonic(mnemonic, "", 0)
	if err != nil {
		fatal("derive key: %v", err)
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	if err := os.MkdirAll(filepath.Dir(g.keyFile), 0700); err != nil {
		fatal("create key dir: %v", err)
	}
	if err := keys.Save(g.keyFile, key, password, keys.DefaultKDFParams()); err != nil {
		fatal("save key: %v", err)
	}

	addr, err := keys.ReadAddress(g.keyFile)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("\nKey saved: %s\n", g.keyFile)
	fmt.Printf("Address: %s\n", addr.Hex())
}

// ── Dev ─────────────────────────────────────────────────────────────────

func cmdDev(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: vault-cli dev <mint|accrue> ...")
	}

	switch args[0] {
	case "mint":
		if len(args) != 4 {
			fatal("Usage: vault-cli dev mint <token> <account> <amount>")
		}
		params := rpc.MintParam{
			Token:   addressArg(args[1]).Hex(),
			Account: addressArg(args[2]).Hex(),
			Amount:  amountArg(args[3]),
		}
		var result rpc.BalanceResult
		if err := client.Call("dev_mint", params, &result); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Minted. %s balance: %s\n", result.Account.Hex(), result.Balance.Dec())
	case "accrue":
		if len(args) != 3 {
			fatal("Usage: vault-cli dev accrue <token> <amount>")
		}
		params := rpc.AccrueParam{Token: addressArg(args[1]).Hex(), Amount: amountArg(args[2])}
		if err := client.Call("dev_accrueRewards", params, nil); err != nil {
			fatal("%v", err)
		}
		fmt.Println("Rewards accrued.")
	default:
		fatal("Unknown dev command: %s", args[0])
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

// accountArg returns the address in args, or the signing key's address.
func accountArg(args []string, g globals) common.Address {
	if len(args) > 0 {
		return addressArg(args[0])
	}
	addr, err := keys.ReadAddress(g.keyFile)
	if err != nil {
		fatal("no address given and %v", err)
	}
	return addr
}

func addressArg(s string) common.Address {
	addr, err := types.ParseAddress(s)
	if err != nil {
		fatal("%v", err)
	}
	return addr
}

// amountArg validates s client-side and returns its canonical form.
func amountArg(s string) string {
	v, err := types.ParseAmount(s)
	if err != nil {
		fatal("%v", err)
	}
	return v.Dec()
}

func loadKey(g globals) *ecdsa.PrivateKey {
	password, err := keyPassword()
	if err != nil {
		fatal("read password: %v", err)
	}
	key, err := keys.Load(g.keyFile, password)
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		fatal("load key %s: %v", g.keyFile, err)
	}
	return key
}

func printOp(cmd, amount string, result rpc.OpResult) {
	fmt.Printf("%s %s: ok (nonce %d)\n", cmd, amount, result.Nonce)
	if result.Amount != nil {
		fmt.Printf("  Amount: %s\n", result.Amount.Dec())
	}
}

func printRewards(title string, result rpc.RewardsResult) {
	if len(result.Rewards) == 0 {
		fmt.Printf("%s for %s: none\n", title, result.Account.Hex())
		return
	}
	fmt.Printf("%s for %s:\n", title, result.Account.Hex())
	out, err := json.MarshalIndent(result.Rewards, "  ", "  ")
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("  %s\n", out)
}

// ── Password helper ─────────────────────────────────────────────────────

func keyPassword() ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	return readPassword("Key password: ")
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
