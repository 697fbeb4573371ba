package server

import (
	"encoding/json"
	"net/http"

	"github.com/oklahomahail/Inkwell2-sub004/internal/synccrypto"
)

type syncBatch struct {
	Records []synccrypto.Record `json:"records"`
}

// handleSyncPush transforms outgoing records before the sync service uploads
// them. A failing record aborts the batch with an error: pushing half a batch
// silently is worse than retrying it.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var batch syncBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	out := make([]synccrypto.Record, 0, len(batch.Records))
	for _, rec := range batch.Records {
		enc, err := s.adapter.EncryptForPush(r.Context(), rec)
		if err != nil {
			s.fail(w, "push", err)
			return
		}
		out = append(out, enc)
	}
	writeJSON(w, syncBatch{Records: out})
}

// handleSyncPull transforms incoming records. The adapter degrades items it
// cannot decrypt, so this never fails mid-batch.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var batch syncBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	out := make([]synccrypto.Record, 0, len(batch.Records))
	for _, rec := range batch.Records {
		out = append(out, s.adapter.DecryptFromPull(r.Context(), rec))
	}
	writeJSON(w, syncBatch{Records: out})
}
