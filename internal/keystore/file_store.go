package keystore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".json"

type FileStore struct{ dir string }

func NewFileStore(dir string) *FileStore {
	_ = os.MkdirAll(dir, 0700)
	return &FileStore{dir: dir}
}

func (f *FileStore) path(projectID string) (string, error) {
	if projectID == "" || strings.ContainsAny(projectID, `/\`) || projectID == "." || projectID == ".." {
		return "", errors.New("keystore: invalid project id")
	}
	return filepath.Join(f.dir, projectID+fileExt), nil
}

func (f *FileStore) Put(_ context.Context, projectID string, doc []byte) error {
	p, err := f.path(projectID)
	if err != nil {
		return err
	}
	// Write-then-rename keeps the put atomic per key.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, doc, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (f *FileStore) Get(_ context.Context, projectID string) ([]byte, error) {
	p, err := f.path(projectID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (f *FileStore) Delete(_ context.Context, projectID string) error {
	p, err := f.path(projectID)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
