package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// WrappedKeyRecord is the persisted envelope for a project DEK: the DEK
// sealed under a passphrase-derived master key (nonce||ciphertext) together
// with the KDF params needed to rederive that master key.
type WrappedKeyRecord struct {
	WrappedDEK    []byte    `json:"wrapped_dek"`
	KDFParams     KDFParams `json:"kdf_params"`
	CryptoVersion int       `json:"crypto_version"`
}

// GenerateDEK returns a fresh 32-byte data encryption key.
func (s *Service) GenerateDEK() ([]byte, error) {
	dek := make([]byte, keySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("crypto: read entropy: %w", err)
	}
	if allZero(dek) {
		return nil, errors.New("crypto: entropy source returned zeroes")
	}
	return dek, nil
}

func allZero(b []byte) bool {
	var acc byte
	for _, x := range b {
		acc |= x
	}
	return acc == 0
}

// WrapKey seals the DEK under the master key with the AEAD paired to the
// params family.
func (s *Service) WrapKey(dek, mk []byte, params KDFParams) (WrappedKeyRecord, error) {
	if len(dek) != keySize {
		return WrappedKeyRecord{}, ErrInvalidKeySize
	}
	aead, err := aeadForKDF(params.Type, mk)
	if err != nil {
		return WrappedKeyRecord{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return WrappedKeyRecord{}, fmt.Errorf("crypto: read nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(dek)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out[:len(nonce)], nonce, dek, nil)
	return WrappedKeyRecord{WrappedDEK: out, KDFParams: params, CryptoVersion: cryptoVersion}, nil
}

// UnwrapKey recovers the DEK using a master key rederived from the record's
// own params. Wrong key or tampering yields ErrAuthenticationFailed.
func (s *Service) UnwrapKey(rec WrappedKeyRecord, mk []byte) ([]byte, error) {
	if rec.CryptoVersion != cryptoVersion {
		return nil, fmt.Errorf("crypto: unsupported crypto_version %d", rec.CryptoVersion)
	}
	aead, err := aeadForKDF(rec.KDFParams.Type, mk)
	if err != nil {
		return nil, err
	}
	if len(rec.WrappedDEK) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	nonce := rec.WrappedDEK[:aead.NonceSize()]
	ct := rec.WrappedDEK[aead.NonceSize():]
	dek, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	if len(dek) != keySize {
		Zero(dek)
		return nil, ErrInvalidKeySize
	}
	return dek, nil
}
