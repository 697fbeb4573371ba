package server

import "time"

// Config for the key-management daemon. Exactly one key store backs the
// daemon: Mongo when MongoURI is set, a local file store under KeyDir
// otherwise.
type Config struct {
	// Addr the HTTP listener binds to. The daemon serves the local client;
	// keep it on loopback unless you know better.
	Addr string

	// APIToken is the shared secret POST /api/session exchanges for a JWT.
	APIToken string

	MongoURI       string
	MongoDB        string
	KeysCollection string
	KeyDir         string

	JWTIssuer string
	TokenTTL  time.Duration

	// ForceFallback pins new key material to the PBKDF2/AES-256-GCM family.
	ForceFallback bool
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8642"
	}
	if c.KeysCollection == "" {
		c.KeysCollection = "project_keys"
	}
	if c.KeyDir == "" {
		c.KeyDir = "./keys"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "inkwelld"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 15 * time.Minute
	}
}
