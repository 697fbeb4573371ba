package server

import "net/http"

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/session", s.handleSession)

	s.mux.HandleFunc("/api/init", s.handleInit)
	s.mux.HandleFunc("/api/unlock", s.handleUnlock)
	s.mux.HandleFunc("/api/lock", s.handleLock)
	s.mux.HandleFunc("/api/lock-all", s.handleLockAll)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/projects", s.handleProjects)
	s.mux.HandleFunc("/api/passphrase", s.handleChangePassphrase)
	s.mux.HandleFunc("/api/kit/export", s.handleKitExport)
	s.mux.HandleFunc("/api/kit/import", s.handleKitImport)
	s.mux.HandleFunc("/api/disable", s.handleDisable)

	s.mux.HandleFunc("/api/sync/push", s.handleSyncPush)
	s.mux.HandleFunc("/api/sync/pull", s.handleSyncPull)

	s.mux.HandleFunc("/api/audit", s.handleAudit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
