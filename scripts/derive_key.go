// derive_key.go prints the Ethereum addresses derived from a BIP-39 mnemonic,
// for filling in vault.operator or funding devnet accounts.
// Usage: go run scripts/derive_key.go <mnemonic-file> [count]
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-vault/internal/keys"
	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <mnemonic-file> [count]")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mnemonic := strings.TrimSpace(string(data))

	count := 1
	if len(os.Args) > 2 {
		count, err = strconv.Atoi(os.Args[2])
		if err != nil || count < 1 {
			fmt.Fprintln(os.Stderr, "count must be a positive integer")
			os.Exit(1)
		}
	}

	for i := 0; i < count; i++ {
		key, err := keys.FromMnemonic(mnemonic, "", uint32(i))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("index=%d address=%s\n", i, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
}
