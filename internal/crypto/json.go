package crypto

import (
	"encoding/json"
	"fmt"
)

// EncryptJSON marshals v and seals the resulting document under the DEK.
// The plaintext serialization is zeroed before returning.
func (s *Service) EncryptJSON(v any, dek []byte) (EncryptResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return EncryptResult{}, fmt.Errorf("crypto: marshal payload: %w", err)
	}
	defer Zero(b)
	return s.EncryptBytes(b, dek)
}

// DecryptJSON opens a result and unmarshals the document into out.
func (s *Service) DecryptJSON(res EncryptResult, dek []byte, out any) error {
	b, err := s.DecryptBytes(res, dek)
	if err != nil {
		return err
	}
	defer Zero(b)
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("crypto: unmarshal payload: %w", err)
	}
	return nil
}
