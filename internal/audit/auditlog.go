package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Key lifecycle operations recorded by the manager.
const (
	OpInitialize       = "initialize"
	OpUnlock           = "unlock"
	OpUnlockFailed     = "unlock_failed"
	OpLock             = "lock"
	OpPassphraseChange = "passphrase_change"
	OpRecoveryImport   = "recovery_import"
	OpDisable          = "disable"
)

// Entry is one link of the hash chain. Hash covers the previous hash, the
// operation, and the project, so rewriting or reordering history breaks
// verification.
type Entry struct {
	TS      int64  `json:"ts"`
	Op      string `json:"op"`
	Project string `json:"project"`
	Hash    string `json:"hash"`
}

type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
}

func New() *Log { return &Log{} }

func (l *Log) Append(op, project string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	sum := chain(l.lastHash, op, project)
	l.lastHash = sum
	e := Entry{TS: time.Now().Unix(), Op: op, Project: project, Hash: hex.EncodeToString(sum)}
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev []byte
	for i, e := range l.entries {
		sum := chain(prev, e.Op, e.Project)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit chain broken at entry %d", i)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

func chain(prev []byte, op, project string) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(project))
	return h.Sum(nil)
}
