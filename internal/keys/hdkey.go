package keys

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
)

// Derivation path m/44'/60'/0'/0/index, the one Ethereum wallets use.
const (
	PurposeBIP44    = bip32.FirstHardenedChild + 44
	CoinTypeEther   = bip32.FirstHardenedChild + 60
	AccountDefault  = bip32.FirstHardenedChild + 0
	ChangeExternal  = 0
	DerivationLabel = "m/44'/60'/0'/0/%d"
)

// HDKey is a BIP-32 extended private key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates the master key for a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath walks the given child indices from k.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	cur := k.key
	for _, idx := range indices {
		child, err := cur.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		cur = child
	}
	return &HDKey{key: cur}, nil
}

// DeriveAccount returns the key at m/44'/60'/0'/0/index.
func (k *HDKey) DeriveAccount(index uint32) (*HDKey, error) {
	return k.DerivePath(PurposeBIP44, CoinTypeEther, AccountDefault, ChangeExternal, index)
}

// PrivateKey converts the key to an secp256k1 ECDSA key.
func (k *HDKey) PrivateKey() (*ecdsa.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("public-only key")
	}
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.ToECDSA(raw)
}

// Address returns the Ethereum address of the key.
func (k *HDKey) Address() (common.Address, error) {
	priv, err := k.PrivateKey()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// FromMnemonic derives the account key at index straight from a phrase.
func FromMnemonic(mnemonic, passphrase string, index uint32) (*ecdsa.PrivateKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	acct, err := master.DeriveAccount(index)
	if err != nil {
		return nil, err
	}
	return acct.PrivateKey()
}
