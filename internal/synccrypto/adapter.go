package synccrypto

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/oklahomahail/Inkwell2-sub004/internal/crypto"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keymanager"
)

// Placeholder strings written into records in place of plaintext. Clients
// match on them verbatim.
const (
	TitleEncrypted     = "[Encrypted]"
	TitleLocked        = "[Locked - Please unlock project]"
	TitleDecryptFailed = "[Decryption Failed]"
)

// Record is one content record as the sync service moves it. Only Title and
// Body are sensitive; everything else travels in the clear.
type Record struct {
	ID               string                `json:"id"`
	ProjectID        string                `json:"project_id"`
	Kind             string                `json:"kind,omitempty"`
	Title            string                `json:"title"`
	Body             string                `json:"body"`
	EncryptedContent *crypto.EncryptResult `json:"encrypted_content,omitempty"`
	UpdatedAt        time.Time             `json:"updated_at,omitempty"`
}

// contentPayload is what actually gets sealed into encrypted_content.
type contentPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Adapter sits between the key manager and the sync service, encrypting
// records on the way out and decrypting them on the way in. It transforms
// one record at a time; batching, ordering, and retries belong to the sync
// service.
type Adapter struct {
	keys   *keymanager.Manager
	crypto *crypto.Service
	log    zerolog.Logger
}

func New(keys *keymanager.Manager, svc *crypto.Service, log zerolog.Logger) *Adapter {
	return &Adapter{keys: keys, crypto: svc, log: log}
}

// EncryptForPush prepares a record to leave the device. Records without a
// project, or belonging to projects without E2EE, pass through untouched.
// For an unlocked E2EE project the sensitive fields are sealed into
// encrypted_content and the plaintext is redacted.
//
// A locked E2EE project pushes plaintext. That is a deliberate trade-off
// carried over from the product: edits made while locked still sync instead
// of queuing until unlock. It is logged so operators can see every
// occurrence.
func (a *Adapter) EncryptForPush(ctx context.Context, rec Record) (Record, error) {
	if rec.ProjectID == "" {
		return rec, nil
	}

	enabled, err := a.keys.IsE2EEEnabled(ctx, rec.ProjectID)
	if err != nil {
		return rec, err
	}
	if !enabled {
		return rec, nil
	}

	dek, err := a.keys.GetProjectDEK(rec.ProjectID)
	if errors.Is(err, keymanager.ErrProjectLocked) {
		a.log.Warn().Str("project", rec.ProjectID).Str("record", rec.ID).
			Msg("project locked, pushing plaintext")
		return rec, nil
	}
	if err != nil {
		return rec, err
	}
	defer crypto.Zero(dek)

	res, err := a.crypto.EncryptJSON(contentPayload{Title: rec.Title, Body: rec.Body}, dek)
	if err != nil {
		return rec, err
	}

	rec.EncryptedContent = &res
	rec.Title = TitleEncrypted
	rec.Body = ""
	return rec, nil
}

// DecryptFromPull restores a record arriving from the remote. It never
// fails: a record it cannot decrypt comes back with placeholder fields so
// one bad item cannot abort a batch.
//
// Locked projects and failed decryptions keep encrypted_content on the
// record; a later unlock (or an intact copy) can still recover the content.
// A successful decryption clears it, returning the record to its pre-push
// shape.
func (a *Adapter) DecryptFromPull(ctx context.Context, rec Record) Record {
	if rec.EncryptedContent == nil {
		return rec
	}
	if rec.ProjectID == "" {
		// Ciphertext with no owner: nothing to decrypt it with, and this
		// layer does not invent ownership.
		return rec
	}

	dek, err := a.keys.GetProjectDEK(rec.ProjectID)
	if err != nil {
		rec.Title = TitleLocked
		rec.Body = ""
		return rec
	}
	defer crypto.Zero(dek)

	var p contentPayload
	if err := a.crypto.DecryptJSON(*rec.EncryptedContent, dek, &p); err != nil {
		a.log.Warn().Str("project", rec.ProjectID).Str("record", rec.ID).Err(err).
			Msg("record failed decryption")
		rec.Title = TitleDecryptFailed
		rec.Body = ""
		return rec
	}

	rec.Title = p.Title
	rec.Body = p.Body
	rec.EncryptedContent = nil
	return rec
}
