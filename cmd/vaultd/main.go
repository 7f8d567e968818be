// Klingnet vault daemon.
//
// Usage:
//
//	vaultd [--backend=sim|evm --operator=...]  Run vault
//	vaultd --help                              Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-vault/config"
	"github.com/Klingon-tech/klingnet-vault/internal/node"
	"golang.org/x/term"
)

// passwordEnv unlocks the evm vault key without a prompt.
const passwordEnv = "KLINGNET_VAULT_PASSWORD"

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	switch {
	case flags.Help:
		config.PrintUsage()
		return
	case flags.Version:
		fmt.Printf("vaultd %s\n", config.Version)
		return
	}

	var password []byte
	if cfg.Backend == config.BackendEVM {
		password, err = keyPassword()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read key password: %v\n", err)
			os.Exit(1)
		}
	}

	n, err := node.New(cfg, password)
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

func keyPassword() ([]byte, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, "Vault key password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return password, err
}
