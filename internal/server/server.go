package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/oklahomahail/Inkwell2-sub004/internal/audit"
	"github.com/oklahomahail/Inkwell2-sub004/internal/auth"
	"github.com/oklahomahail/Inkwell2-sub004/internal/crypto"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keymanager"
	"github.com/oklahomahail/Inkwell2-sub004/internal/keystore"
	"github.com/oklahomahail/Inkwell2-sub004/internal/synccrypto"
)

// Server is the daemon HTTP API over the key manager and the sync adapter.
// Everything under /api/ except session issuance requires a Bearer token.
type Server struct {
	cfg Config

	mux      *http.ServeMux
	signer   *auth.JWTSigner
	keys     *keymanager.Manager
	adapter  *synccrypto.Adapter
	auditLog *audit.Log
	log      zerolog.Logger

	mongoStore *keystore.MongoStore

	rlSessionIP     *multiLimiter
	rlUnlockIP      *multiLimiter
	rlUnlockProject *multiLimiter
	rlInitIP        *multiLimiter
	rlInitProject   *multiLimiter
}

func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Server, error) {
	cfg.setDefaults()
	if cfg.APIToken == "" {
		return nil, errors.New("server: APIToken required")
	}

	var store keystore.Store
	var mongoStore *keystore.MongoStore
	if cfg.MongoURI != "" {
		if cfg.MongoDB == "" {
			return nil, errors.New("server: MongoDB required with MongoURI")
		}
		ms, err := keystore.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.KeysCollection)
		if err != nil {
			return nil, err
		}
		store, mongoStore = ms, ms
	} else {
		store = keystore.NewFileStore(cfg.KeyDir)
	}

	priv, _, err := auth.GenerateEd25519()
	if err != nil {
		return nil, err
	}

	var copts []crypto.Option
	if cfg.ForceFallback {
		copts = append(copts, crypto.WithFallbackOnly())
	}
	svc := crypto.NewService(copts...)
	auditLog := audit.New()
	keys := keymanager.New(svc, store, log, auditLog)

	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		signer:     auth.NewJWTSigner(priv, cfg.JWTIssuer, cfg.TokenTTL),
		keys:       keys,
		adapter:    synccrypto.New(keys, svc, log),
		auditLog:   auditLog,
		log:        log,
		mongoStore: mongoStore,
	}

	perWindow := func(n int, window time.Duration) rate.Limit {
		return rate.Limit(float64(n) / window.Seconds())
	}
	s.rlSessionIP = newMultiLimiter(perWindow(10, time.Minute), 10, time.Hour)
	s.rlUnlockIP = newMultiLimiter(perWindow(10, time.Minute), 10, time.Hour)
	s.rlUnlockProject = newMultiLimiter(perWindow(5, time.Minute), 5, time.Hour)
	s.rlInitIP = newMultiLimiter(perWindow(5, time.Minute), 5, time.Hour)
	s.rlInitProject = newMultiLimiter(perWindow(3, time.Minute), 3, time.Hour)

	s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	path := r.URL.Path
	if strings.HasPrefix(path, "/api/") && !s.isPublic(path) {
		handler := auth.AuthRequired(s.signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		}))
		handler.ServeHTTP(w, r)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

func (s *Server) isPublic(path string) bool {
	switch path {
	case "/api/health", "/api/session":
		return true
	default:
		return false
	}
}

// Shutdown locks every project and releases the store. Cached key material
// never outlives the daemon.
func (s *Server) Shutdown(ctx context.Context) error {
	s.keys.LockAllProjects()
	if s.mongoStore != nil {
		return s.mongoStore.Close(ctx)
	}
	return nil
}
