package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF families. A record's family also fixes its AEAD: argon2id pairs with
// XChaCha20-Poly1305, pbkdf2 with AES-256-GCM.
const (
	KDFArgon2id = "argon2id"
	KDFPBKDF2   = "pbkdf2"
)

const (
	saltSize = 16
	keySize  = 32

	kdfVersion = 1

	// Argon2id cost presets, expressed the libsodium way: opslimit is the
	// pass count, memlimit is in bytes. Parallelism is pinned to 1.
	OpsInteractive uint32 = 2
	MemInteractive uint64 = 64 * 1024 * 1024
	OpsModerate    uint32 = 3
	MemModerate    uint64 = 256 * 1024 * 1024

	// PBKDF2-HMAC-SHA256 iteration count for the fallback family.
	PBKDF2Iterations uint32 = 210_000
)

// KDFParams records exactly how a master key was derived so the same key can
// be rederived later. Type discriminates the family; every consumer switches
// on it and treats unknown values as errors.
type KDFParams struct {
	Type       string `json:"type"`
	Salt       []byte `json:"salt"`
	Opslimit   uint32 `json:"opslimit,omitempty"`
	Memlimit   uint64 `json:"memlimit,omitempty"`
	Iterations uint32 `json:"iterations,omitempty"`
	V          int    `json:"v"`
}

func (p KDFParams) validate() error {
	if len(p.Salt) == 0 {
		return fmt.Errorf("%w: empty salt", ErrInvalidKDFParams)
	}
	switch p.Type {
	case KDFArgon2id:
		// argon2.IDKey panics on zero passes or memory below 8 KiB.
		if p.Opslimit == 0 || p.Memlimit < 8*1024 {
			return fmt.Errorf("%w: argon2id opslimit=%d memlimit=%d", ErrInvalidKDFParams, p.Opslimit, p.Memlimit)
		}
		return nil
	case KDFPBKDF2:
		if p.Iterations == 0 {
			return fmt.Errorf("%w: pbkdf2 iterations=0", ErrInvalidKDFParams)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKDF, p.Type)
	}
}

// DeriveOptions tune DeriveMasterKey. The zero value selects the moderate
// Argon2id preset on a primary-capable service.
type DeriveOptions struct {
	// Interactive selects the lighter Argon2id preset for latency-sensitive
	// callers. Ignored on the fallback family.
	Interactive bool
	// ForceFallback derives with PBKDF2/AES-256-GCM even when the primary
	// backend is available.
	ForceFallback bool
}

// DeriveMasterKey stretches a passphrase into a 32-byte master key under a
// fresh random salt, returning the params needed to rederive it. The master
// key is transient: callers wrap or unwrap with it, then Zero it.
func (s *Service) DeriveMasterKey(passphrase string, opts DeriveOptions) ([]byte, KDFParams, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, KDFParams{}, fmt.Errorf("crypto: read salt: %w", err)
	}

	var p KDFParams
	if opts.ForceFallback || !s.primaryAvailable() {
		p = KDFParams{Type: KDFPBKDF2, Salt: salt, Iterations: PBKDF2Iterations, V: kdfVersion}
	} else {
		ops, mem := OpsModerate, MemModerate
		if opts.Interactive {
			ops, mem = OpsInteractive, MemInteractive
		}
		p = KDFParams{Type: KDFArgon2id, Salt: salt, Opslimit: ops, Memlimit: mem, V: kdfVersion}
	}

	mk, err := s.RederiveMasterKey(passphrase, p)
	if err != nil {
		return nil, KDFParams{}, err
	}
	return mk, p, nil
}

// RederiveMasterKey honors persisted params exactly, whichever family wrote
// them and whatever backend is active now.
func (s *Service) RederiveMasterKey(passphrase string, p KDFParams) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	switch p.Type {
	case KDFArgon2id:
		// Memlimit is bytes on the wire; argon2 wants KiB.
		return argon2.IDKey([]byte(passphrase), p.Salt, p.Opslimit, uint32(p.Memlimit/1024), 1, keySize), nil
	case KDFPBKDF2:
		return pbkdf2.Key([]byte(passphrase), p.Salt, int(p.Iterations), keySize, sha256.New), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKDF, p.Type)
	}
}
