// Package ledger keeps the vault's per-depositor LP balances and the
// aggregate supply.
//
// The ledger is the only writer of balance state. Every mutation updates the
// depositor's balance and the total supply in a single atomic batch, and all
// arithmetic is checked: an operation that would overflow or underflow is
// rejected without touching state.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	klog "github.com/Klingon-tech/klingnet-vault/internal/log"
	"github.com/Klingon-tech/klingnet-vault/internal/storage"
	"github.com/Klingon-tech/klingnet-vault/pkg/crypto"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Ledger errors.
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrExceededAmount = errors.New("exceeded amount")
	ErrOverflow       = errors.New("amount overflow")
	ErrSupplyMismatch = errors.New("total supply does not match balances")
	ErrCorruptRecord  = errors.New("corrupt ledger record")
)

var (
	prefixBalance = []byte("b/") // b/<address(20)> -> amount (32, big-endian)
	keySupply     = []byte("s")  // s -> total supply (32, big-endian)
)

// Ledger tracks balances in LP units.
type Ledger struct {
	mu     sync.RWMutex
	db     storage.DB
	supply *uint256.Int
	logger zerolog.Logger
}

// Entry is a single depositor balance.
type Entry struct {
	Account common.Address
	Balance *uint256.Int
}

// New opens the ledger stored in db and checks the supply invariant.
func New(db storage.DB) (*Ledger, error) {
	l := &Ledger{
		db:     db,
		supply: new(uint256.Int),
		logger: klog.Ledger,
	}

	raw, err := db.Get(keySupply)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load total supply: %w", err)
	default:
		supply, err := decodeAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("load total supply: %w", err)
		}
		l.supply = supply
	}

	if err := l.Verify(); err != nil {
		return nil, err
	}
	return l, nil
}

// SetLogger replaces the ledger's logger.
func (l *Ledger) SetLogger(logger zerolog.Logger) {
	l.mu.Lock()
	l.logger = logger.With().Str("component", "ledger").Logger()
	l.mu.Unlock()
}

// Credit adds amount to account's balance and to the total supply.
func (l *Ledger) Credit(account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, err := l.balance(account)
	if err != nil {
		return err
	}
	newBal, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("credit %s: balance %w", account, ErrOverflow)
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return fmt.Errorf("credit %s: supply %w", account, ErrOverflow)
	}

	if err := l.write(account, newBal, newSupply); err != nil {
		return err
	}
	l.supply = newSupply

	l.logger.Debug().
		Str("account", account.Hex()).
		Str("amount", amount.Dec()).
		Str("balance", newBal.Dec()).
		Str("supply", newSupply.Dec()).
		Msg("Credited")
	return nil
}

// Debit removes amount from account's balance and from the total supply.
func (l *Ledger) Debit(account common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, err := l.balance(account)
	if err != nil {
		return err
	}
	if amount.Gt(bal) {
		return fmt.Errorf("debit %s: %w: have %s, want %s", account, ErrExceededAmount, bal.Dec(), amount.Dec())
	}
	newBal := new(uint256.Int).Sub(bal, amount)
	newSupply, underflow := new(uint256.Int).SubOverflow(l.supply, amount)
	if underflow {
		return fmt.Errorf("debit %s: %w", account, ErrSupplyMismatch)
	}

	if err := l.write(account, newBal, newSupply); err != nil {
		return err
	}
	l.supply = newSupply

	l.logger.Debug().
		Str("account", account.Hex()).
		Str("amount", amount.Dec()).
		Str("balance", newBal.Dec()).
		Str("supply", newSupply.Dec()).
		Msg("Debited")
	return nil
}

// BalanceOf returns a copy of account's balance (zero if it never deposited).
func (l *Ledger) BalanceOf(account common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(account)
}

// Snapshot returns account's balance and the total supply as of the same
// instant.
func (l *Ledger) Snapshot(account common.Address) (balance, supply *uint256.Int, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, err = l.balance(account)
	if err != nil {
		return nil, nil, err
	}
	return balance, l.supply.Clone(), nil
}

// TotalSupply returns a copy of the total supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

// ForEach calls fn for every recorded balance, including zero balances.
func (l *Ledger) ForEach(fn func(account common.Address, balance *uint256.Int) error) error {
	return l.db.ForEach(prefixBalance, func(key, value []byte) error {
		if len(key) != len(prefixBalance)+common.AddressLength {
			return fmt.Errorf("%w: key %x", ErrCorruptRecord, key)
		}
		bal, err := decodeAmount(value)
		if err != nil {
			return err
		}
		return fn(common.BytesToAddress(key[len(prefixBalance):]), bal)
	})
}

// Entries returns every recorded balance ordered by address.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var entries []Entry
	err := l.ForEach(func(account common.Address, balance *uint256.Int) error {
		entries = append(entries, Entry{Account: account, Balance: balance})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Account[:], entries[j].Account[:]) < 0
	})
	return entries, nil
}

// Accounts returns the number of recorded balances.
func (l *Ledger) Accounts() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	err := l.ForEach(func(common.Address, *uint256.Int) error {
		n++
		return nil
	})
	return n, err
}

// Verify recomputes the sum of all balances and compares it with the
// recorded total supply.
func (l *Ledger) Verify() error {
	defer klog.Benchmark("ledger.verify")()

	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := new(uint256.Int)
	err := l.ForEach(func(account common.Address, balance *uint256.Int) error {
		if _, overflow := sum.AddOverflow(sum, balance); overflow {
			return fmt.Errorf("sum of balances: %w", ErrOverflow)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("verify ledger: %w", err)
	}
	if !sum.Eq(l.supply) {
		return fmt.Errorf("%w: balances=%s supply=%s", ErrSupplyMismatch, sum.Dec(), l.supply.Dec())
	}
	return nil
}

// Commitment computes a merkle root over all non-zero balances.
// Each leaf is BLAKE3(address(20) || balance(32)); leaves are ordered by
// address. Returns a zero hash for an empty ledger.
func (l *Ledger) Commitment() (types.Hash, error) {
	entries, err := l.Entries()
	if err != nil {
		return types.Hash{}, fmt.Errorf("ledger commitment: %w", err)
	}

	leaves := make([]types.Hash, 0, len(entries))
	for _, e := range entries {
		if e.Balance.IsZero() {
			continue
		}
		var buf [common.AddressLength + 32]byte
		copy(buf[:common.AddressLength], e.Account[:])
		e.Balance.WriteToSlice(buf[common.AddressLength:])
		leaves = append(leaves, crypto.Hash(buf[:]))
	}
	return crypto.MerkleRoot(leaves), nil
}

// balance reads account's balance. Caller must hold l.mu.
func (l *Ledger) balance(account common.Address) (*uint256.Int, error) {
	raw, err := l.db.Get(balanceKey(account))
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance %s: %w", account, err)
	}
	return decodeAmount(raw)
}

// write persists a balance and the supply in one batch. Caller must hold l.mu.
func (l *Ledger) write(account common.Address, balance, supply *uint256.Int) error {
	b := storage.NewBatch(l.db)
	balBytes := balance.Bytes32()
	supplyBytes := supply.Bytes32()
	if err := b.Put(balanceKey(account), balBytes[:]); err != nil {
		return fmt.Errorf("stage balance: %w", err)
	}
	if err := b.Put(keySupply, supplyBytes[:]); err != nil {
		return fmt.Errorf("stage supply: %w", err)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("commit ledger update: %w", err)
	}
	return nil
}

func balanceKey(account common.Address) []byte {
	key := make([]byte, len(prefixBalance)+common.AddressLength)
	copy(key, prefixBalance)
	copy(key[len(prefixBalance):], account[:])
	return key
}

func decodeAmount(raw []byte) (*uint256.Int, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: amount is %d bytes", ErrCorruptRecord, len(raw))
	}
	return new(uint256.Int).SetBytes(raw), nil
}
