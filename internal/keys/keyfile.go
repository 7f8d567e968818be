package keys

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const keyFileVersion = 1

// ErrKeyExists is returned by Save when the target file already exists.
var ErrKeyExists = errors.New("key file already exists")

// keyFile is the on-disk JSON form of an encrypted private key.
type keyFile struct {
	Version   int            `json:"version"`
	Address   common.Address `json:"address"`
	CreatedAt time.Time      `json:"created_at"`
	Sealed    []byte         `json:"sealed"`
}

// Save encrypts key under password and writes it to path (mode 0600).
func Save(path string, key *ecdsa.PrivateKey, password []byte, params KDFParams) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrKeyExists, path)
	}
	raw := crypto.FromECDSA(key)
	defer wipe(raw)

	sealed, err := Seal(raw, password, params)
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}
	data, err := json.MarshalIndent(keyFile{
		Version:   keyFileVersion,
		Address:   crypto.PubkeyToAddress(key.PublicKey),
		CreatedAt: time.Now().UTC(),
		Sealed:    sealed,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Load decrypts the key stored at path.
func Load(path string, password []byte) (*ecdsa.PrivateKey, error) {
	kf, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := Open(kf.Sealed, password)
	if err != nil {
		return nil, err
	}
	defer wipe(raw)

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if got := crypto.PubkeyToAddress(key.PublicKey); got != kf.Address {
		return nil, fmt.Errorf("key file address %s does not match key %s", kf.Address.Hex(), got.Hex())
	}
	return key, nil
}

// ReadAddress returns the address recorded in a key file without
// decrypting it.
func ReadAddress(path string) (common.Address, error) {
	kf, err := readKeyFile(path)
	if err != nil {
		return common.Address{}, err
	}
	return kf.Address, nil
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("unsupported key file version %d", kf.Version)
	}
	return &kf, nil
}
