package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oklahomahail/Inkwell2-sub004/internal/crypto"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keymanager"
)

type initReq struct {
	ProjectID   string `json:"project_id"`
	Passphrase  string `json:"passphrase"`
	Interactive bool   `json:"interactive,omitempty"`
}

type unlockReq struct {
	ProjectID  string `json:"project_id"`
	Passphrase string `json:"passphrase"`
}

type projectReq struct {
	ProjectID string `json:"project_id"`
}

type changePassphraseReq struct {
	ProjectID     string `json:"project_id"`
	OldPassphrase string `json:"old_passphrase"`
	NewPassphrase string `json:"new_passphrase"`
}

type importKitReq struct {
	Kit        crypto.RecoveryKit `json:"kit"`
	Passphrase string             `json:"passphrase"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req initReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" || req.Passphrase == "" {
		http.Error(w, "project_id and passphrase required", http.StatusBadRequest)
		return
	}
	if !s.rlInitIP.allow(getClientIP(r)) || !s.rlInitProject.allow(req.ProjectID) {
		tooMany(w, 60)
		return
	}

	kit, err := s.keys.InitializeProject(r.Context(), keymanager.InitializeOptions{
		ProjectID:   req.ProjectID,
		Passphrase:  req.Passphrase,
		Interactive: req.Interactive,
	})
	if err != nil {
		s.fail(w, "init", err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, kit)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req unlockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" || req.Passphrase == "" {
		http.Error(w, "project_id and passphrase required", http.StatusBadRequest)
		return
	}
	if !s.rlUnlockIP.allow(getClientIP(r)) || !s.rlUnlockProject.allow(req.ProjectID) {
		tooMany(w, 60)
		return
	}

	if err := s.keys.UnlockProject(r.Context(), req.ProjectID, req.Passphrase); err != nil {
		s.fail(w, "unlock", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req projectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, "project_id required", http.StatusBadRequest)
		return
	}
	s.keys.LockProject(req.ProjectID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLockAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.keys.LockAllProjects()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if project == "" {
		http.Error(w, "project query param required", http.StatusBadRequest)
		return
	}
	enabled, err := s.keys.IsE2EEEnabled(r.Context(), project)
	if err != nil {
		s.fail(w, "status", err)
		return
	}
	writeJSON(w, map[string]any{
		"project":  project,
		"enabled":  enabled,
		"unlocked": s.keys.IsProjectUnlocked(project),
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ids, err := s.keys.ListE2EEProjects(r.Context())
	if err != nil {
		s.fail(w, "list", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, map[string]any{"projects": ids})
}

func (s *Server) handleChangePassphrase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req changePassphraseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" || req.OldPassphrase == "" || req.NewPassphrase == "" {
		http.Error(w, "project_id, old_passphrase, new_passphrase required", http.StatusBadRequest)
		return
	}
	if !s.rlUnlockProject.allow(req.ProjectID) {
		tooMany(w, 60)
		return
	}

	kit, err := s.keys.ChangePassphrase(r.Context(), req.ProjectID, req.OldPassphrase, req.NewPassphrase)
	if err != nil {
		s.fail(w, "passphrase", err)
		return
	}
	writeJSON(w, kit)
}

func (s *Server) handleKitExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if project == "" {
		http.Error(w, "project query param required", http.StatusBadRequest)
		return
	}
	kit, err := s.keys.ExportRecoveryKit(r.Context(), project)
	if err != nil {
		s.fail(w, "export", err)
		return
	}
	writeJSON(w, kit)
}

func (s *Server) handleKitImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req importKitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Passphrase == "" {
		http.Error(w, "passphrase required", http.StatusBadRequest)
		return
	}
	if !s.rlUnlockIP.allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}

	if err := s.keys.ImportRecoveryKit(r.Context(), req.Kit, req.Passphrase); err != nil {
		s.fail(w, "import", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req projectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, "project_id required", http.StatusBadRequest)
		return
	}
	if err := s.keys.DisableE2EE(r.Context(), req.ProjectID); err != nil {
		s.fail(w, "disable", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := s.auditLog.Entries()
	verifyErr := ""
	if err := s.auditLog.Verify(); err != nil {
		verifyErr = err.Error()
	}
	writeJSON(w, map[string]any{
		"entries": entries,
		"intact":  verifyErr == "",
		"error":   verifyErr,
	})
}
