package crypto

import "errors"

var (
	// ErrAuthenticationFailed means an AEAD open failed: wrong key or
	// tampered ciphertext. Callers must not try to tell the two apart.
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")

	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrUnknownKDF         = errors.New("crypto: unknown kdf type")
	ErrInvalidKDFParams   = errors.New("crypto: invalid kdf params")
	ErrInvalidKeySize     = errors.New("crypto: invalid key size")
)
