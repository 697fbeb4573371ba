package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// AEAD algorithm names as they appear in recovery kits.
const (
	AEADXChaCha20Poly1305 = "xchacha20poly1305_ietf"
	AEADAES256GCM         = "aes-256-gcm"
)

const (
	cryptoVersion = 1

	gcmNonceSize = 12
)

// EncryptResult is the wire form of one AEAD encryption: the ciphertext and
// the fresh nonce it was sealed with, both base64 in JSON.
type EncryptResult struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	Ver        int    `json:"ver"`
}

func newXChaCha(key []byte) (cipher.AEAD, error) {
	return xchacha.NewX(key)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	// aes.NewCipher would also take 16 or 24 byte keys; only AES-256 is valid here.
	if len(key) != keySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// aeadForKDF maps a KDF family to its paired AEAD: argon2id wrote
// XChaCha20-Poly1305, pbkdf2 wrote AES-256-GCM.
func aeadForKDF(kdfType string, key []byte) (cipher.AEAD, error) {
	switch kdfType {
	case KDFArgon2id:
		return newXChaCha(key)
	case KDFPBKDF2:
		return newGCM(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKDF, kdfType)
	}
}

// aeadForNonce picks the AEAD a ciphertext was written with by nonce length:
// 24 bytes means XChaCha20-Poly1305, 12 means AES-256-GCM.
func aeadForNonce(nonce, key []byte) (cipher.AEAD, error) {
	switch len(nonce) {
	case xchacha.NonceSizeX:
		return newXChaCha(key)
	case gcmNonceSize:
		return newGCM(key)
	default:
		return nil, fmt.Errorf("crypto: unexpected nonce size %d", len(nonce))
	}
}

func (s *Service) activeAEAD(key []byte) (cipher.AEAD, error) {
	if s.primaryAvailable() {
		return newXChaCha(key)
	}
	return newGCM(key)
}

// EncryptBytes seals plaintext under the DEK with a fresh random nonce.
// Empty plaintext is valid and round-trips.
func (s *Service) EncryptBytes(plaintext, dek []byte) (EncryptResult, error) {
	aead, err := s.activeAEAD(dek)
	if err != nil {
		return EncryptResult{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return EncryptResult{}, fmt.Errorf("crypto: read nonce: %w", err)
	}
	return EncryptResult{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
		Ver:        cryptoVersion,
	}, nil
}

// DecryptBytes opens a result with whichever AEAD its nonce length names, so
// content written under either family stays readable whatever backend is
// active now. It never panics on malformed input.
func (s *Service) DecryptBytes(res EncryptResult, dek []byte) ([]byte, error) {
	aead, err := aeadForNonce(res.Nonce, dek)
	if err != nil {
		return nil, err
	}
	if len(res.Ciphertext) < aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	pt, err := aead.Open(nil, res.Nonce, res.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return pt, nil
}
