package ledger

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-vault/internal/storage"
	"github.com/Klingon-tech/klingnet-vault/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestLedger(t *testing.T) (*Ledger, storage.DB) {
	t.Helper()
	db := storage.NewMemory()
	l, err := New(db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, db
}

func mustBalance(t *testing.T, l *Ledger, account common.Address) *uint256.Int {
	t.Helper()
	bal, err := l.BalanceOf(account)
	if err != nil {
		t.Fatalf("BalanceOf(%s): %v", account, err)
	}
	return bal
}

func TestLedger_Empty(t *testing.T) {
	l, _ := newTestLedger(t)

	if !l.TotalSupply().IsZero() {
		t.Errorf("supply = %s, want 0", l.TotalSupply())
	}
	if bal := mustBalance(t, l, alice); !bal.IsZero() {
		t.Errorf("balance = %s, want 0", bal)
	}
	root, err := l.Commitment()
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if !root.IsZero() {
		t.Errorf("empty commitment = %s, want zero", root)
	}
}

func TestLedger_CreditDebit(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Credit(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := l.Credit(bob, uint256.NewInt(200)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := l.Debit(alice, uint256.NewInt(50)); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	if got := mustBalance(t, l, alice).Uint64(); got != 50 {
		t.Errorf("alice = %d, want 50", got)
	}
	if got := mustBalance(t, l, bob).Uint64(); got != 200 {
		t.Errorf("bob = %d, want 200", got)
	}
	if got := l.TotalSupply().Uint64(); got != 250 {
		t.Errorf("supply = %d, want 250", got)
	}
	if err := l.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestLedger_ZeroAmount(t *testing.T) {
	l, _ := newTestLedger(t)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"credit zero", func() error { return l.Credit(alice, new(uint256.Int)) }},
		{"credit nil", func() error { return l.Credit(alice, nil) }},
		{"debit zero", func() error { return l.Debit(alice, new(uint256.Int)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("err = %v, want ErrInvalidAmount", err)
			}
		})
	}
	if !l.TotalSupply().IsZero() {
		t.Errorf("supply changed: %s", l.TotalSupply())
	}
}

func TestLedger_DebitExceeded(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Credit(alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	err := l.Debit(alice, uint256.NewInt(11))
	if !errors.Is(err, ErrExceededAmount) {
		t.Fatalf("err = %v, want ErrExceededAmount", err)
	}
	if got := mustBalance(t, l, alice).Uint64(); got != 10 {
		t.Errorf("balance = %d, want 10 (unchanged)", got)
	}
	if got := l.TotalSupply().Uint64(); got != 10 {
		t.Errorf("supply = %d, want 10 (unchanged)", got)
	}

	// Full withdrawal leaves a zero balance.
	if err := l.Debit(alice, uint256.NewInt(10)); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal := mustBalance(t, l, alice); !bal.IsZero() {
		t.Errorf("balance = %s, want 0", bal)
	}
	if n, _ := l.Accounts(); n != 1 {
		t.Errorf("accounts = %d, want 1 (zero balance kept)", n)
	}
}

func TestLedger_Overflow(t *testing.T) {
	l, _ := newTestLedger(t)

	max := new(uint256.Int).SetAllOne()
	if err := l.Credit(alice, max); err != nil {
		t.Fatalf("Credit max: %v", err)
	}
	if err := l.Credit(bob, uint256.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if err := l.Credit(alice, uint256.NewInt(1)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if bal := mustBalance(t, l, bob); !bal.IsZero() {
		t.Errorf("bob = %s, want 0", bal)
	}
	if !l.TotalSupply().Eq(max) {
		t.Errorf("supply = %s, want max", l.TotalSupply())
	}
}

func TestLedger_ReturnsCopies(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Credit(alice, uint256.NewInt(5)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	l.TotalSupply().SetUint64(999)
	mustBalance(t, l, alice).SetUint64(999)

	if got := l.TotalSupply().Uint64(); got != 5 {
		t.Errorf("supply = %d, want 5", got)
	}
	if got := mustBalance(t, l, alice).Uint64(); got != 5 {
		t.Errorf("balance = %d, want 5", got)
	}
}

func TestLedger_Reopen(t *testing.T) {
	l, db := newTestLedger(t)

	if err := l.Credit(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := l.Credit(bob, uint256.NewInt(200)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	root1, err := l.Commitment()
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}

	l2, err := New(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := l2.TotalSupply().Uint64(); got != 300 {
		t.Errorf("supply = %d, want 300", got)
	}
	root2, err := l2.Commitment()
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if root1 != root2 {
		t.Errorf("commitment changed across reopen: %s != %s", root1, root2)
	}
}

func TestLedger_DetectsSupplyMismatch(t *testing.T) {
	l, db := newTestLedger(t)

	if err := l.Credit(alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	// Corrupt the stored balance behind the ledger's back.
	forged := uint256.NewInt(101).Bytes32()
	if err := db.Put(balanceKey(alice), forged[:]); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := l.Verify(); !errors.Is(err, ErrSupplyMismatch) {
		t.Errorf("Verify err = %v, want ErrSupplyMismatch", err)
	}
	if _, err := New(db); !errors.Is(err, ErrSupplyMismatch) {
		t.Errorf("New err = %v, want ErrSupplyMismatch", err)
	}
}

func TestLedger_CorruptRecord(t *testing.T) {
	db := storage.NewMemory()
	if err := db.Put(keySupply, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := New(db); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestLedger_CommitmentIgnoresOrderAndZeros(t *testing.T) {
	a, _ := newTestLedger(t)
	b, _ := newTestLedger(t)

	carol := common.HexToAddress("0x00000000000000000000000000000000000ca201")

	if err := a.Credit(alice, uint256.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if err := a.Credit(bob, uint256.NewInt(2)); err != nil {
		t.Fatal(err)
	}

	if err := b.Credit(carol, uint256.NewInt(7)); err != nil {
		t.Fatal(err)
	}
	if err := b.Credit(bob, uint256.NewInt(2)); err != nil {
		t.Fatal(err)
	}
	if err := b.Credit(alice, uint256.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if err := b.Debit(carol, uint256.NewInt(7)); err != nil {
		t.Fatal(err)
	}

	ra, err := a.Commitment()
	if err != nil {
		t.Fatal(err)
	}
	rb, err := b.Commitment()
	if err != nil {
		t.Fatal(err)
	}
	if ra != rb {
		t.Errorf("commitments differ: %s vs %s", ra, rb)
	}
	if ra == (types.Hash{}) {
		t.Error("commitment should not be zero")
	}
}

func TestLedger_Entries(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Credit(bob, uint256.NewInt(2)); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit(alice, uint256.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	// alice (…a11ce) sorts after bob (…0b0b).
	if entries[0].Account != bob || entries[1].Account != alice {
		t.Errorf("order = %s, %s", entries[0].Account, entries[1].Account)
	}
}

func TestLedger_SnapshotConsistent(t *testing.T) {
	l, _ := newTestLedger(t)
	amount := uint256.NewInt(100)
	if err := l.Credit(bob, uint256.NewInt(5)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			if err := l.Credit(alice, amount); err != nil {
				t.Errorf("Credit: %v", err)
				return
			}
			if err := l.Debit(alice, amount); err != nil {
				t.Errorf("Debit: %v", err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		bal, supply, err := l.Snapshot(alice)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if want := new(uint256.Int).Add(bal, uint256.NewInt(5)); !supply.Eq(want) {
			t.Fatalf("snapshot balance %s, supply %s: want supply = balance + 5", bal, supply)
		}
	}
}
