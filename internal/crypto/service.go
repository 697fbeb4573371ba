package crypto

// Service is the primitives layer for project key material. It is stateless
// apart from the backend choice: by default new material uses the primary
// Argon2id/XChaCha20-Poly1305 family, and WithFallbackOnly pins it to the
// PBKDF2/AES-256-GCM family instead. Existing records always decrypt with
// the family they were written under, regardless of the flag.
type Service struct {
	fallbackOnly bool
}

type Option func(*Service)

// WithFallbackOnly forces the PBKDF2/AES-256-GCM family for new material,
// as when the primary backend is unavailable.
func WithFallbackOnly() Option {
	return func(s *Service) { s.fallbackOnly = true }
}

func NewService(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) primaryAvailable() bool { return !s.fallbackOnly }
