package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type sessionReq struct {
	Token string `json:"token"`
}

type sessionResp struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleSession exchanges the shared API token for a short-lived JWT. This
// is the only authenticated entry point; everything else rides the JWT.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.rlSessionIP.allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}

	var req sessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	token := strings.TrimSpace(req.Token)
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
		s.log.Warn().Str("ip", getClientIP(r)).Msg("session rejected")
		http.Error(w, "invalid api token", http.StatusUnauthorized)
		return
	}

	jwt, exp, err := s.signer.IssueToken("local")
	if err != nil {
		http.Error(w, "issue token: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessionResp{Token: jwt, ExpiresAt: exp})
}
