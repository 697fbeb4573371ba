package keymanager

import "errors"

var (
	// ErrAlreadyInitialized is returned when initializing a project that
	// already has key metadata persisted.
	ErrAlreadyInitialized = errors.New("keymanager: project already initialized")

	// ErrNotInitialized is returned by operations that need key metadata
	// when none exists for the project.
	ErrNotInitialized = errors.New("keymanager: project not initialized")

	// ErrIncorrectPassphrase is returned when a passphrase fails to unwrap
	// the project key. Deliberately indistinguishable from a corrupted
	// wrapped key.
	ErrIncorrectPassphrase = errors.New("keymanager: incorrect passphrase")

	// ErrProjectLocked is returned when the plaintext DEK is requested but
	// not cached.
	ErrProjectLocked = errors.New("keymanager: project locked")

	// ErrInvalidRecoveryKit is returned for import documents that fail
	// shape validation.
	ErrInvalidRecoveryKit = errors.New("keymanager: invalid recovery kit")
)
