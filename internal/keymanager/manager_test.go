package keymanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/oklahomahail/Inkwell2-sub004/internal/audit"
	"github.com/oklahomahail/Inkwell2-sub004/internal/crypto"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keystore"
)

// The fallback KDF keeps test wall time reasonable; the primary family is
// covered by the crypto package tests.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	svc := crypto.NewService(crypto.WithFallbackOnly())
	return New(svc, keystore.NewFileStore(t.TempDir()), zerolog.Nop(), audit.New())
}

func mustInit(t *testing.T, m *Manager, project, passphrase string) crypto.RecoveryKit {
	t.Helper()
	kit, err := m.InitializeProject(context.Background(), InitializeOptions{ProjectID: project, Passphrase: passphrase})
	if err != nil {
		t.Fatalf("initialize %s: %v", project, err)
	}
	return kit
}

func TestInitializeProject(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	kit := mustInit(t, m, "p1", "correct horse battery staple")
	if kit.ProjectID != "p1" {
		t.Fatalf("kit project = %q", kit.ProjectID)
	}
	if err := kit.Validate(); err != nil {
		t.Fatalf("kit invalid: %v", err)
	}

	if !m.IsProjectUnlocked("p1") {
		t.Fatal("project not unlocked after initialize")
	}
	enabled, err := m.IsE2EEEnabled(ctx, "p1")
	if err != nil || !enabled {
		t.Fatalf("enabled = %v, %v", enabled, err)
	}
	dek, err := m.GetProjectDEK("p1")
	if err != nil {
		t.Fatalf("get dek: %v", err)
	}
	if len(dek) != 32 {
		t.Fatalf("dek length = %d", len(dek))
	}

	if _, err := m.InitializeProject(ctx, InitializeOptions{ProjectID: "p1", Passphrase: "other"}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second initialize: err = %v, want ErrAlreadyInitialized", err)
	}
	if _, err := m.InitializeProject(ctx, InitializeOptions{Passphrase: "x"}); err == nil {
		t.Fatal("empty project id accepted")
	}
}

type gatedStore struct {
	keystore.Store
	gate <-chan struct{}
	mu   sync.Mutex
	puts int
}

func (g *gatedStore) Get(ctx context.Context, id string) ([]byte, error) {
	<-g.gate
	return g.Store.Get(ctx, id)
}

func (g *gatedStore) Put(ctx context.Context, id string, doc []byte) error {
	g.mu.Lock()
	g.puts++
	g.mu.Unlock()
	return g.Store.Put(ctx, id, doc)
}

func TestInitializeProjectSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	store := &gatedStore{Store: keystore.NewFileStore(t.TempDir()), gate: gate}
	m := New(crypto.NewService(crypto.WithFallbackOnly()), store, zerolog.Nop(), nil)

	const callers = 5
	kits := make(chan crypto.RecoveryKit, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kit, err := m.InitializeProject(context.Background(), InitializeOptions{ProjectID: "p1", Passphrase: "pw"})
			kits <- kit
			errs <- err
		}()
	}

	// The first caller is parked in the store Get; everyone else has time
	// to join the in-flight call before it can settle.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(kits)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("caller failed: %v", err)
		}
	}
	var first crypto.RecoveryKit
	i := 0
	for kit := range kits {
		if i == 0 {
			first = kit
		} else if !bytes.Equal(kit.WrappedDEK, first.WrappedDEK) || !bytes.Equal(kit.KDF.Salt, first.KDF.Salt) {
			t.Fatal("callers received different kits")
		}
		i++
	}
	if store.puts != 1 {
		t.Fatalf("persisted %d records, want 1", store.puts)
	}
	if !m.IsProjectUnlocked("p1") {
		t.Fatal("project not unlocked after shared initialize")
	}
}

func TestUnlockLockCycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustInit(t, m, "p1", "correct horse battery staple")

	before, err := m.GetProjectDEK("p1")
	if err != nil {
		t.Fatalf("get dek: %v", err)
	}

	m.LockProject("p1")
	if m.IsProjectUnlocked("p1") {
		t.Fatal("still unlocked after lock")
	}
	if _, err := m.GetProjectDEK("p1"); !errors.Is(err, ErrProjectLocked) {
		t.Fatalf("get dek while locked: err = %v, want ErrProjectLocked", err)
	}
	// Locking again is a quiet no-op.
	m.LockProject("p1")

	if err := m.UnlockProject(ctx, "p1", "wrong passphrase"); !errors.Is(err, ErrIncorrectPassphrase) {
		t.Fatalf("wrong passphrase: err = %v, want ErrIncorrectPassphrase", err)
	}
	if m.IsProjectUnlocked("p1") {
		t.Fatal("wrong passphrase left project unlocked")
	}

	if err := m.UnlockProject(ctx, "p1", "correct horse battery staple"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	after, err := m.GetProjectDEK("p1")
	if err != nil {
		t.Fatalf("get dek: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("unlock returned different DEK bytes")
	}

	// Unlocking an unlocked project is a no-op.
	if err := m.UnlockProject(ctx, "p1", "whatever, it is cached"); err != nil {
		t.Fatalf("redundant unlock: %v", err)
	}
}

func TestUnlockNotInitialized(t *testing.T) {
	m := newTestManager(t)
	if err := m.UnlockProject(context.Background(), "ghost", "pw"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestLockAllProjects(t *testing.T) {
	m := newTestManager(t)
	mustInit(t, m, "a", "pw-a")
	mustInit(t, m, "b", "pw-b")

	m.LockAllProjects()
	if m.IsProjectUnlocked("a") || m.IsProjectUnlocked("b") {
		t.Fatal("projects survived LockAllProjects")
	}
}

func TestChangePassphrase(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustInit(t, m, "p1", "old pass")
	before, _ := m.GetProjectDEK("p1")

	if _, err := m.ChangePassphrase(ctx, "p1", "not the old pass", "new pass"); !errors.Is(err, ErrIncorrectPassphrase) {
		t.Fatalf("bad old passphrase: err = %v, want ErrIncorrectPassphrase", err)
	}

	kit, err := m.ChangePassphrase(ctx, "p1", "old pass", "new pass")
	if err != nil {
		t.Fatalf("change passphrase: %v", err)
	}
	if err := kit.Validate(); err != nil {
		t.Fatalf("new kit invalid: %v", err)
	}
	if !m.IsProjectUnlocked("p1") {
		t.Fatal("unlocked project locked by passphrase change")
	}

	m.LockProject("p1")
	if err := m.UnlockProject(ctx, "p1", "old pass"); !errors.Is(err, ErrIncorrectPassphrase) {
		t.Fatalf("old passphrase still works: %v", err)
	}
	if err := m.UnlockProject(ctx, "p1", "new pass"); err != nil {
		t.Fatalf("new passphrase: %v", err)
	}
	after, _ := m.GetProjectDEK("p1")
	if !bytes.Equal(before, after) {
		t.Fatal("passphrase change altered the DEK")
	}
}

func TestChangePassphraseWhileLocked(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustInit(t, m, "p1", "old pass")
	m.LockProject("p1")

	if _, err := m.ChangePassphrase(ctx, "p1", "old pass", "new pass"); err != nil {
		t.Fatalf("change passphrase: %v", err)
	}
	if m.IsProjectUnlocked("p1") {
		t.Fatal("passphrase change unlocked a locked project")
	}
	if err := m.UnlockProject(ctx, "p1", "new pass"); err != nil {
		t.Fatalf("unlock with new passphrase: %v", err)
	}
}

func TestExportImportRecoveryKit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustInit(t, m, "p1", "correct horse battery staple")
	want, _ := m.GetProjectDEK("p1")

	kit, err := m.ExportRecoveryKit(ctx, "p1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// A fresh device: new manager, empty store, nothing but the kit.
	other := newTestManager(t)
	if err := other.ImportRecoveryKit(ctx, kit, "wrong"); !errors.Is(err, ErrIncorrectPassphrase) {
		t.Fatalf("import with wrong passphrase: err = %v", err)
	}
	if enabled, _ := other.IsE2EEEnabled(ctx, "p1"); enabled {
		t.Fatal("failed import persisted metadata")
	}

	if err := other.ImportRecoveryKit(ctx, kit, "correct horse battery staple"); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !other.IsProjectUnlocked("p1") {
		t.Fatal("import left project locked")
	}
	got, err := other.GetProjectDEK("p1")
	if err != nil {
		t.Fatalf("get dek: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("imported DEK differs from original")
	}

	bad := kit
	bad.InkwellRecoveryKit = 7
	if err := other.ImportRecoveryKit(ctx, bad, "correct horse battery staple"); !errors.Is(err, ErrInvalidRecoveryKit) {
		t.Fatalf("bad kit: err = %v, want ErrInvalidRecoveryKit", err)
	}
}

func TestExportRecoveryKitWhileLocked(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustInit(t, m, "p1", "pw")
	m.LockProject("p1")

	kit, err := m.ExportRecoveryKit(ctx, "p1")
	if err != nil {
		t.Fatalf("export while locked: %v", err)
	}
	if err := kit.Validate(); err != nil {
		t.Fatalf("kit invalid: %v", err)
	}
	if _, err := m.ExportRecoveryKit(ctx, "ghost"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("export missing: err = %v", err)
	}
}

func TestDisableE2EE(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	mustInit(t, m, "p1", "pw")

	if err := m.DisableE2EE(ctx, "p1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if m.IsProjectUnlocked("p1") {
		t.Fatal("disabled project still unlocked")
	}
	if enabled, _ := m.IsE2EEEnabled(ctx, "p1"); enabled {
		t.Fatal("metadata survived disable")
	}
	if err := m.UnlockProject(ctx, "p1", "pw"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("unlock after disable: err = %v", err)
	}
}

func TestListE2EEProjects(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	ids, err := m.ListE2EEProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("fresh store lists %v", ids)
	}

	mustInit(t, m, "beta", "pw")
	mustInit(t, m, "alpha", "pw")
	ids, err = m.ListE2EEProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Fatalf("list = %v", ids)
	}
}

func TestKeyMetadataWireShape(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewFileStore(t.TempDir())
	m := New(crypto.NewService(crypto.WithFallbackOnly()), store, zerolog.Nop(), nil)
	mustInit(t, m, "p1", "pw")

	doc, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"projectId", "wrappedKey", "createdAt", "lastUsed", "version"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("persisted doc missing %q: %s", key, doc)
		}
	}

	var meta KeyMetadata
	if err := json.Unmarshal(doc, &meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.Version != 1 || meta.ProjectID != "p1" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.WrappedKey.CryptoVersion != 1 {
		t.Fatalf("crypto_version = %d", meta.WrappedKey.CryptoVersion)
	}
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	mustInit(t, m, "p1", "pw")
	_ = m.UnlockProject(ctx, "p1", "pw") // no-op, not recorded
	m.LockProject("p1")
	_ = m.UnlockProject(ctx, "p1", "wrong")
	_ = m.UnlockProject(ctx, "p1", "pw")
	_ = m.DisableE2EE(ctx, "p1")

	if err := m.audit.Verify(); err != nil {
		t.Fatalf("audit verify: %v", err)
	}
	var ops []string
	for _, e := range m.audit.Entries() {
		ops = append(ops, e.Op)
	}
	want := []string{
		audit.OpInitialize,
		audit.OpLock,
		audit.OpUnlockFailed,
		audit.OpUnlock,
		audit.OpLock,
		audit.OpDisable,
	}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
}
