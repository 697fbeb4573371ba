package keymanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"

	"github.com/oklahomahail/Inkwell2-sub004/internal/audit"
	"github.com/oklahomahail/Inkwell2-sub004/internal/crypto"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keystore"
)

const metadataVersion = 1

// KeyMetadata is the document persisted per project: the wrapped DEK and
// everything needed to rederive the master key that wraps it.
type KeyMetadata struct {
	ProjectID  string                  `json:"projectId"`
	WrappedKey crypto.WrappedKeyRecord `json:"wrappedKey"`
	CreatedAt  time.Time               `json:"createdAt"`
	LastUsed   time.Time               `json:"lastUsed"`
	Version    int                     `json:"version"`
}

// Manager owns the key lifecycle for every project: initialization, the
// unlock/lock state machine, passphrase changes, recovery kits. Plaintext
// DEKs live only in its in-memory cache, inside locked buffers, and only
// while the project is unlocked.
type Manager struct {
	crypto *crypto.Service
	store  keystore.Store
	log    zerolog.Logger
	audit  *audit.Log

	mu       sync.Mutex
	deks     map[string]*memguard.LockedBuffer
	inflight map[string]*initCall
}

// initCall memoizes one in-progress initialization so concurrent callers
// share a single derivation and a single persisted record.
type initCall struct {
	done chan struct{}
	kit  crypto.RecoveryKit
	err  error
}

// New builds a Manager. auditLog may be nil when no audit trail is wanted.
func New(svc *crypto.Service, store keystore.Store, log zerolog.Logger, auditLog *audit.Log) *Manager {
	return &Manager{
		crypto:   svc,
		store:    store,
		log:      log,
		audit:    auditLog,
		deks:     make(map[string]*memguard.LockedBuffer),
		inflight: make(map[string]*initCall),
	}
}

type InitializeOptions struct {
	ProjectID  string
	Passphrase string
	// Interactive selects the lighter KDF preset for latency-sensitive
	// callers.
	Interactive bool
}

// InitializeProject generates and persists a wrapped DEK for a project that
// has none, leaves the project unlocked, and returns its recovery kit.
// Concurrent calls for the same project share one outcome; the in-flight
// entry is registered before any blocking work and cleared when it settles.
func (m *Manager) InitializeProject(ctx context.Context, opts InitializeOptions) (crypto.RecoveryKit, error) {
	if opts.ProjectID == "" {
		return crypto.RecoveryKit{}, errors.New("keymanager: empty project id")
	}

	m.mu.Lock()
	if call, ok := m.inflight[opts.ProjectID]; ok {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.kit, call.err
		case <-ctx.Done():
			return crypto.RecoveryKit{}, ctx.Err()
		}
	}
	call := &initCall{done: make(chan struct{})}
	m.inflight[opts.ProjectID] = call
	m.mu.Unlock()

	call.kit, call.err = m.initialize(ctx, opts)
	close(call.done)

	m.mu.Lock()
	delete(m.inflight, opts.ProjectID)
	m.mu.Unlock()

	return call.kit, call.err
}

func (m *Manager) initialize(ctx context.Context, opts InitializeOptions) (crypto.RecoveryKit, error) {
	_, err := m.store.Get(ctx, opts.ProjectID)
	switch {
	case err == nil:
		return crypto.RecoveryKit{}, ErrAlreadyInitialized
	case !errors.Is(err, keystore.ErrNotFound):
		return crypto.RecoveryKit{}, fmt.Errorf("keymanager: read key metadata: %w", err)
	}

	mk, params, err := m.crypto.DeriveMasterKey(opts.Passphrase, crypto.DeriveOptions{Interactive: opts.Interactive})
	if err != nil {
		return crypto.RecoveryKit{}, err
	}
	defer crypto.Zero(mk)

	dek, err := m.crypto.GenerateDEK()
	if err != nil {
		return crypto.RecoveryKit{}, err
	}

	rec, err := m.crypto.WrapKey(dek, mk, params)
	if err != nil {
		crypto.Zero(dek)
		return crypto.RecoveryKit{}, err
	}

	now := time.Now().UTC()
	meta := KeyMetadata{
		ProjectID:  opts.ProjectID,
		WrappedKey: rec,
		CreatedAt:  now,
		LastUsed:   now,
		Version:    metadataVersion,
	}
	if err := m.putMetadata(ctx, meta); err != nil {
		crypto.Zero(dek)
		return crypto.RecoveryKit{}, err
	}

	kit, err := m.crypto.BuildRecoveryKit(opts.ProjectID, rec)
	if err != nil {
		crypto.Zero(dek)
		return crypto.RecoveryKit{}, err
	}

	m.cacheDEK(opts.ProjectID, dek)
	m.record(audit.OpInitialize, opts.ProjectID)
	m.log.Info().Str("project", opts.ProjectID).Str("kdf", params.Type).Msg("project initialized")
	return kit, nil
}

// UnlockProject rederives the master key from the persisted params, unwraps
// the DEK, and caches it. Already unlocked is a no-op. A wrong passphrase
// mutates nothing.
func (m *Manager) UnlockProject(ctx context.Context, projectID, passphrase string) error {
	if m.IsProjectUnlocked(projectID) {
		return nil
	}

	meta, err := m.getMetadata(ctx, projectID)
	if err != nil {
		return err
	}

	mk, err := m.crypto.RederiveMasterKey(passphrase, meta.WrappedKey.KDFParams)
	if err != nil {
		return err
	}
	defer crypto.Zero(mk)

	dek, err := m.crypto.UnwrapKey(meta.WrappedKey, mk)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			m.record(audit.OpUnlockFailed, projectID)
			m.log.Warn().Str("project", projectID).Msg("unlock rejected")
			return ErrIncorrectPassphrase
		}
		return err
	}

	// Persist lastUsed before caching so a storage failure leaves the
	// project cleanly locked.
	meta.LastUsed = time.Now().UTC()
	if err := m.putMetadata(ctx, meta); err != nil {
		crypto.Zero(dek)
		return err
	}

	m.cacheDEK(projectID, dek)
	m.record(audit.OpUnlock, projectID)
	m.log.Info().Str("project", projectID).Msg("project unlocked")
	return nil
}

// LockProject destroys the cached DEK. Locking a locked or unknown project
// is a no-op.
func (m *Manager) LockProject(projectID string) {
	m.mu.Lock()
	buf, ok := m.deks[projectID]
	delete(m.deks, projectID)
	m.mu.Unlock()

	if ok {
		buf.Destroy()
		m.record(audit.OpLock, projectID)
		m.log.Info().Str("project", projectID).Msg("project locked")
	}
}

// LockAllProjects locks every unlocked project.
func (m *Manager) LockAllProjects() {
	m.mu.Lock()
	bufs := m.deks
	m.deks = make(map[string]*memguard.LockedBuffer)
	m.mu.Unlock()

	for id, buf := range bufs {
		buf.Destroy()
		m.record(audit.OpLock, id)
	}
	if len(bufs) > 0 {
		m.log.Info().Int("projects", len(bufs)).Msg("all projects locked")
	}
}

// GetProjectDEK returns a copy of the cached DEK. Callers use it for one
// operation and must not retain it across a lock.
func (m *Manager) GetProjectDEK(projectID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.deks[projectID]
	if !ok {
		return nil, ErrProjectLocked
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// IsProjectUnlocked probes the cache only; it never touches storage.
func (m *Manager) IsProjectUnlocked(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deks[projectID]
	return ok
}

// IsE2EEEnabled reports whether key metadata exists for the project.
func (m *Manager) IsE2EEEnabled(ctx context.Context, projectID string) (bool, error) {
	_, err := m.store.Get(ctx, projectID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, keystore.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("keymanager: read key metadata: %w", err)
	}
}

// ChangePassphrase verifies the old passphrase, re-wraps the same DEK under
// a freshly salted key from the new one, and persists the result. The DEK
// bytes never change. The unlock state is preserved: a locked project stays
// locked.
func (m *Manager) ChangePassphrase(ctx context.Context, projectID, oldPassphrase, newPassphrase string) (crypto.RecoveryKit, error) {
	meta, err := m.getMetadata(ctx, projectID)
	if err != nil {
		return crypto.RecoveryKit{}, err
	}

	oldMK, err := m.crypto.RederiveMasterKey(oldPassphrase, meta.WrappedKey.KDFParams)
	if err != nil {
		return crypto.RecoveryKit{}, err
	}
	defer crypto.Zero(oldMK)

	dek, err := m.crypto.UnwrapKey(meta.WrappedKey, oldMK)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			return crypto.RecoveryKit{}, ErrIncorrectPassphrase
		}
		return crypto.RecoveryKit{}, err
	}

	newMK, params, err := m.crypto.DeriveMasterKey(newPassphrase, crypto.DeriveOptions{})
	if err != nil {
		crypto.Zero(dek)
		return crypto.RecoveryKit{}, err
	}
	defer crypto.Zero(newMK)

	rec, err := m.crypto.WrapKey(dek, newMK, params)
	if err != nil {
		crypto.Zero(dek)
		return crypto.RecoveryKit{}, err
	}

	meta.WrappedKey = rec
	meta.LastUsed = time.Now().UTC()
	if err := m.putMetadata(ctx, meta); err != nil {
		crypto.Zero(dek)
		return crypto.RecoveryKit{}, err
	}

	kit, err := m.crypto.BuildRecoveryKit(projectID, rec)
	if err != nil {
		crypto.Zero(dek)
		return crypto.RecoveryKit{}, err
	}

	if m.IsProjectUnlocked(projectID) {
		m.cacheDEK(projectID, dek)
	} else {
		crypto.Zero(dek)
	}
	m.record(audit.OpPassphraseChange, projectID)
	m.log.Info().Str("project", projectID).Msg("passphrase changed")
	return kit, nil
}

// ExportRecoveryKit rebuilds the kit from persisted metadata. The project
// may be locked; kits hold no plaintext secrets.
func (m *Manager) ExportRecoveryKit(ctx context.Context, projectID string) (crypto.RecoveryKit, error) {
	meta, err := m.getMetadata(ctx, projectID)
	if err != nil {
		return crypto.RecoveryKit{}, err
	}
	return m.crypto.BuildRecoveryKit(projectID, meta.WrappedKey)
}

// ImportRecoveryKit validates a kit, verifies the passphrase by unwrapping,
// persists the kit's record for its project, and leaves it unlocked.
func (m *Manager) ImportRecoveryKit(ctx context.Context, kit crypto.RecoveryKit, passphrase string) error {
	if err := kit.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecoveryKit, err)
	}
	rec := kit.Record()

	mk, err := m.crypto.RederiveMasterKey(passphrase, rec.KDFParams)
	if err != nil {
		return err
	}
	defer crypto.Zero(mk)

	dek, err := m.crypto.UnwrapKey(rec, mk)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthenticationFailed) {
			return ErrIncorrectPassphrase
		}
		return err
	}

	now := time.Now().UTC()
	meta := KeyMetadata{
		ProjectID:  kit.ProjectID,
		WrappedKey: rec,
		CreatedAt:  kit.CreatedAt,
		LastUsed:   now,
		Version:    metadataVersion,
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if err := m.putMetadata(ctx, meta); err != nil {
		crypto.Zero(dek)
		return err
	}

	m.cacheDEK(kit.ProjectID, dek)
	m.record(audit.OpRecoveryImport, kit.ProjectID)
	m.log.Info().Str("project", kit.ProjectID).Msg("recovery kit imported")
	return nil
}

// DisableE2EE locks the project and deletes its key metadata. Content that
// was already encrypted and synced stays encrypted; only the key material
// goes away.
func (m *Manager) DisableE2EE(ctx context.Context, projectID string) error {
	m.LockProject(projectID)
	if err := m.store.Delete(ctx, projectID); err != nil {
		return fmt.Errorf("keymanager: delete key metadata: %w", err)
	}
	m.record(audit.OpDisable, projectID)
	m.log.Info().Str("project", projectID).Msg("e2ee disabled")
	return nil
}

// ListE2EEProjects returns the ids of every project with key metadata.
func (m *Manager) ListE2EEProjects(ctx context.Context) ([]string, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("keymanager: list projects: %w", err)
	}
	return ids, nil
}

// cacheDEK moves the DEK into a locked buffer; the source slice is wiped.
func (m *Manager) cacheDEK(projectID string, dek []byte) {
	buf := memguard.NewBufferFromBytes(dek)
	m.mu.Lock()
	if old, ok := m.deks[projectID]; ok {
		old.Destroy()
	}
	m.deks[projectID] = buf
	m.mu.Unlock()
}

func (m *Manager) getMetadata(ctx context.Context, projectID string) (KeyMetadata, error) {
	doc, err := m.store.Get(ctx, projectID)
	if errors.Is(err, keystore.ErrNotFound) {
		return KeyMetadata{}, ErrNotInitialized
	}
	if err != nil {
		return KeyMetadata{}, fmt.Errorf("keymanager: read key metadata: %w", err)
	}
	var meta KeyMetadata
	if err := json.Unmarshal(doc, &meta); err != nil {
		return KeyMetadata{}, fmt.Errorf("keymanager: decode key metadata: %w", err)
	}
	return meta, nil
}

func (m *Manager) putMetadata(ctx context.Context, meta KeyMetadata) error {
	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("keymanager: encode key metadata: %w", err)
	}
	if err := m.store.Put(ctx, meta.ProjectID, doc); err != nil {
		return fmt.Errorf("keymanager: write key metadata: %w", err)
	}
	return nil
}

func (m *Manager) record(op, projectID string) {
	if m.audit != nil {
		m.audit.Append(op, projectID)
	}
}
