package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/oklahomahail/Inkwell2-sub004/internal/platform"
	"github.com/oklahomahail/Inkwell2-sub004/internal/server"
)

func main() {
	addr := flag.String("addr", envOr("INKWELL_ADDR", "127.0.0.1:8642"), "listen address")
	mongoURI := flag.String("mongo", os.Getenv("INKWELL_MONGO_URI"), "MongoDB URI (file store when empty)")
	mongoDB := flag.String("db", envOr("INKWELL_MONGO_DB", "inkwell"), "Mongo database name")
	coll := flag.String("coll", "project_keys", "Mongo collection for key metadata")
	keyDir := flag.String("keys", envOr("INKWELL_KEY_DIR", "./keys"), "key metadata directory (file store)")
	token := flag.String("token", os.Getenv("INKWELL_API_TOKEN"), "shared API token for /api/session")
	ttl := flag.Duration("token-ttl", 15*time.Minute, "session token lifetime")
	fallback := flag.Bool("force-fallback", false, "pin new keys to the PBKDF2/AES-256-GCM family")
	pretty := flag.Bool("pretty", false, "human-readable console logs")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if *pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := platform.DisableCoreDumps(); err != nil {
		log.Warn().Err(err).Msg("could not disable core dumps")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, server.Config{
		Addr:           *addr,
		APIToken:       *token,
		MongoURI:       *mongoURI,
		MongoDB:        *mongoDB,
		KeysCollection: *coll,
		KeyDir:         *keyDir,
		TokenTTL:       *ttl,
		ForceFallback:  *fallback,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("server setup failed")
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", *addr).Msg("inkwelld listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
