package keystore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("keystore: project key not found")

// Store persists one wrapped-key metadata document per project, keyed by
// project id. Put replaces the whole document atomically for its key.
type Store interface {
	Get(ctx context.Context, projectID string) ([]byte, error)
	Put(ctx context.Context, projectID string, doc []byte) error
	Delete(ctx context.Context, projectID string) error
	List(ctx context.Context) ([]string, error)
}
