package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestGenerateDEK(t *testing.T) {
	svc := NewService()
	a, err := svc.GenerateDEK()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("dek length = %d, want 32", len(a))
	}
	if allZero(a) {
		t.Fatal("dek is all zeroes")
	}
	b, err := svc.GenerateDEK()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two generated DEKs are identical")
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	svc := NewService()
	for name, params := range map[string]KDFParams{
		"argon2id": testArgonParams(randBytes(t, 16)),
		"pbkdf2":   {Type: KDFPBKDF2, Salt: randBytes(t, 16), Iterations: 1000, V: 1},
	} {
		dek := randBytes(t, 32)
		mk := randBytes(t, 32)

		rec, err := svc.WrapKey(dek, mk, params)
		if err != nil {
			t.Fatalf("%s: wrap: %v", name, err)
		}
		if rec.CryptoVersion != 1 {
			t.Fatalf("%s: crypto_version = %d, want 1", name, rec.CryptoVersion)
		}
		got, err := svc.UnwrapKey(rec, mk)
		if err != nil {
			t.Fatalf("%s: unwrap: %v", name, err)
		}
		if !bytes.Equal(got, dek) {
			t.Fatalf("%s: unwrapped DEK differs", name)
		}
	}
}

func TestUnwrapWrongMasterKey(t *testing.T) {
	svc := NewService()
	rec, err := svc.WrapKey(randBytes(t, 32), randBytes(t, 32), testArgonParams(randBytes(t, 16)))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := svc.UnwrapKey(rec, randBytes(t, 32)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestUnwrapTamperedRecord(t *testing.T) {
	svc := NewService()
	mk := randBytes(t, 32)
	rec, err := svc.WrapKey(randBytes(t, 32), mk, testArgonParams(randBytes(t, 16)))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	// Covers the nonce prefix as well as the sealed portion.
	for i := range rec.WrappedDEK {
		mut := rec
		mut.WrappedDEK = append([]byte(nil), rec.WrappedDEK...)
		mut.WrappedDEK[i] ^= 0x80
		if _, err := svc.UnwrapKey(mut, mk); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("byte %d: err = %v, want auth failure", i, err)
		}
	}
}

func TestUnwrapMalformedRecord(t *testing.T) {
	svc := NewService()
	mk := randBytes(t, 32)
	rec, err := svc.WrapKey(randBytes(t, 32), mk, testArgonParams(randBytes(t, 16)))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	short := rec
	short.WrappedDEK = rec.WrappedDEK[:10]
	if _, err := svc.UnwrapKey(short, mk); !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("truncated: err = %v, want ErrCiphertextTooShort", err)
	}

	vers := rec
	vers.CryptoVersion = 2
	if _, err := svc.UnwrapKey(vers, mk); err == nil || !strings.Contains(err.Error(), "crypto_version") {
		t.Fatalf("future version: err = %v, want version error", err)
	}

	bogus := rec
	bogus.KDFParams.Type = "scrypt"
	if _, err := svc.UnwrapKey(bogus, mk); !errors.Is(err, ErrUnknownKDF) {
		t.Fatalf("unknown family: err = %v, want ErrUnknownKDF", err)
	}
}

func TestWrapRejectsBadKeySizes(t *testing.T) {
	svc := NewService()
	params := testArgonParams(randBytes(t, 16))
	if _, err := svc.WrapKey(randBytes(t, 16), randBytes(t, 32), params); !errors.Is(err, ErrInvalidKeySize) {
		t.Fatalf("short dek: err = %v, want ErrInvalidKeySize", err)
	}
	if _, err := svc.WrapKey(randBytes(t, 32), randBytes(t, 16), params); err == nil {
		t.Fatal("short master key accepted")
	}
}

func TestWrappedKeyRecordWireShape(t *testing.T) {
	svc := NewService()
	rec, err := svc.WrapKey(randBytes(t, 32), randBytes(t, 32), testArgonParams(randBytes(t, 16)))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	assertJSONKeys(t, rec, []string{"wrapped_dek", "kdf_params", "crypto_version"})
}

func TestPassphraseToUnwrapEndToEnd(t *testing.T) {
	// Full envelope: passphrase -> MK -> wrap DEK -> rederive -> unwrap.
	svc := NewService()
	mk, params, err := svc.DeriveMasterKey("correct horse battery staple", DeriveOptions{ForceFallback: true})
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	dek, err := svc.GenerateDEK()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rec, err := svc.WrapKey(dek, mk, params)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	Zero(mk)

	mk2, err := svc.RederiveMasterKey("correct horse battery staple", rec.KDFParams)
	if err != nil {
		t.Fatalf("rederive: %v", err)
	}
	got, err := svc.UnwrapKey(rec, mk2)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatal("end to end DEK mismatch")
	}

	wrong, err := svc.RederiveMasterKey("correct horse battery stable", rec.KDFParams)
	if err != nil {
		t.Fatalf("rederive wrong: %v", err)
	}
	if _, err := svc.UnwrapKey(rec, wrong); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("wrong passphrase: err = %v, want auth failure", err)
	}
}
