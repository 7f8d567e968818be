package keys

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed layout: salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext.
const (
	saltSize   = 32
	headerSize = saltSize + 4 + 4 + 1
)

// ErrWrongPassword is returned when a sealed blob fails authentication.
var ErrWrongPassword = errors.New("wrong password or corrupted key file")

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDFParams returns the parameters used for new key files.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

func (p KDFParams) derive(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

// Seal encrypts data under password with Argon2id and XChaCha20-Poly1305.
func Seal(data, password []byte, params KDFParams) ([]byte, error) {
	header := make([]byte, saltSize, headerSize+chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	header = binary.LittleEndian.AppendUint32(header, params.Memory)
	header = binary.LittleEndian.AppendUint32(header, params.Iterations)
	header = append(header, params.Parallelism)

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := params.derive(password, header[:saltSize])
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	out := append(header, nonce...)
	return aead.Seal(out, nonce, data, header[:headerSize]), nil
}

// Open decrypts a blob produced by Seal.
func Open(sealed, password []byte) ([]byte, error) {
	nonceEnd := headerSize + chacha20poly1305.NonceSizeX
	if len(sealed) < nonceEnd+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(sealed))
	}
	params := KDFParams{
		Memory:      binary.LittleEndian.Uint32(sealed[saltSize:]),
		Iterations:  binary.LittleEndian.Uint32(sealed[saltSize+4:]),
		Parallelism: sealed[saltSize+8],
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("invalid kdf parameters")
	}

	key := params.derive(password, sealed[:saltSize])
	defer wipe(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plain, err := aead.Open(nil, sealed[headerSize:nonceEnd], sealed[nonceEnd:], sealed[:headerSize])
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
