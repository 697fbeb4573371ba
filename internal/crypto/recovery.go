package crypto

import (
	"errors"
	"fmt"
	"time"
)

const (
	recoveryKitMagic   = 1
	recoveryKitVersion = "1"
)

// RecoveryKit is the export/import document for one project's wrapped key.
// It holds no plaintext secrets: recovering the DEK from a kit still
// requires the project passphrase.
type RecoveryKit struct {
	InkwellRecoveryKit int       `json:"inkwell_recovery_kit"`
	ProjectID          string    `json:"project_id"`
	WrappedDEK         []byte    `json:"wrapped_dek"`
	KDF                KDFParams `json:"kdf"`
	AEAD               string    `json:"aead"`
	CreatedAt          time.Time `json:"created_at"`
	Version            string    `json:"version"`
}

func aeadNameForKDF(kdfType string) (string, error) {
	switch kdfType {
	case KDFArgon2id:
		return AEADXChaCha20Poly1305, nil
	case KDFPBKDF2:
		return AEADAES256GCM, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKDF, kdfType)
	}
}

// BuildRecoveryKit assembles the kit document for a wrapped key record.
// Pure assembly: nothing is derived or decrypted.
func (s *Service) BuildRecoveryKit(projectID string, rec WrappedKeyRecord) (RecoveryKit, error) {
	aead, err := aeadNameForKDF(rec.KDFParams.Type)
	if err != nil {
		return RecoveryKit{}, err
	}
	return RecoveryKit{
		InkwellRecoveryKit: recoveryKitMagic,
		ProjectID:          projectID,
		WrappedDEK:         rec.WrappedDEK,
		KDF:                rec.KDFParams,
		AEAD:               aead,
		CreatedAt:          time.Now().UTC(),
		Version:            recoveryKitVersion,
	}, nil
}

// Validate checks a kit's shape before import. The aead field must agree
// with the KDF family; it is informational and never trusted on its own.
func (k RecoveryKit) Validate() error {
	if k.InkwellRecoveryKit != recoveryKitMagic {
		return fmt.Errorf("crypto: not a recovery kit (magic %d)", k.InkwellRecoveryKit)
	}
	if k.Version != recoveryKitVersion {
		return fmt.Errorf("crypto: unsupported recovery kit version %q", k.Version)
	}
	if k.ProjectID == "" {
		return errors.New("crypto: recovery kit has no project id")
	}
	if len(k.WrappedDEK) == 0 {
		return errors.New("crypto: recovery kit has no wrapped key")
	}
	if err := k.KDF.validate(); err != nil {
		return err
	}
	aead, err := aeadNameForKDF(k.KDF.Type)
	if err != nil {
		return err
	}
	if k.AEAD != aead {
		return fmt.Errorf("crypto: kit aead %q does not match kdf family %q", k.AEAD, k.KDF.Type)
	}
	return nil
}

// Record reassembles the wrapped key record the kit was built from.
func (k RecoveryKit) Record() WrappedKeyRecord {
	return WrappedKeyRecord{WrappedDEK: k.WrappedDEK, KDFParams: k.KDF, CryptoVersion: cryptoVersion}
}
