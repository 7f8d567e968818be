package rpc

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Klingon-tech/klingnet-vault/internal/storage"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Authentication errors.
var (
	ErrBadSignature = errors.New("bad signature")
	ErrBadNonce     = errors.New("nonce already used")
)

// signingDomain prefixes every signing message.
const signingDomain = "klingnet-vault"

// SigningMessage returns the text a signed call commits to:
//
//	klingnet-vault:<method>:<from>:<nonce>[:<arg>...]
//
// from is the lowercase hex address. Arguments are used verbatim.
func SigningMessage(method string, from common.Address, nonce uint64, args ...string) string {
	parts := make([]string, 0, 4+len(args))
	parts = append(parts, signingDomain, method, strings.ToLower(from.Hex()), strconv.FormatUint(nonce, 10))
	parts = append(parts, args...)
	return strings.Join(parts, ":")
}

// Sign fills p's Auth fields for a call of method, signing with key. The
// message is hashed as an EIP-191 personal message, so a browser wallet's
// personal_sign produces the same signature.
func Sign(key *ecdsa.PrivateKey, method string, nonce uint64, p Signable) error {
	from := crypto.PubkeyToAddress(key.PublicKey)
	msg := SigningMessage(method, from, nonce, p.Args()...)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	if err != nil {
		return fmt.Errorf("sign %s: %w", method, err)
	}
	a := p.auth()
	a.From = from.Hex()
	a.Nonce = nonce
	a.Signature = hexutil.Encode(sig)
	return nil
}

// Verify checks p's signature for method and returns the signer.
func Verify(method string, p Signable) (common.Address, error) {
	a := p.auth()
	if !common.IsHexAddress(a.From) {
		return common.Address{}, fmt.Errorf("%w: invalid from address", ErrBadSignature)
	}
	from := common.HexToAddress(a.From)

	sig, err := hexutil.Decode(a.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d-byte hex", ErrBadSignature, crypto.SignatureLength)
	}
	// Wallets emit v as 27/28.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	msg := SigningMessage(method, from, a.Nonce, p.Args()...)
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != from {
		return common.Address{}, fmt.Errorf("%w: signed by %s", ErrBadSignature, signer.Hex())
	}
	return from, nil
}

// Nonces tracks the last nonce accepted from each account.
type Nonces struct {
	mu sync.Mutex
	db storage.DB
}

// NewNonces returns a nonce store backed by db.
func NewNonces(db storage.DB) *Nonces {
	return &Nonces{db: db}
}

// Last returns the last nonce accepted from account, 0 if none.
func (n *Nonces) Last(account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last(account)
}

// Use accepts nonce for account if it is larger than the last one.
func (n *Nonces) Use(account common.Address, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	last, err := n.last(account)
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrBadNonce, nonce, last)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return n.db.Put(account.Bytes(), buf[:])
}

func (n *Nonces) last(account common.Address) (uint64, error) {
	data, err := n.db.Get(account.Bytes())
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read nonce: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt nonce record for %s", account.Hex())
	}
	return binary.BigEndian.Uint64(data), nil
}
