package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FilePayloadStore keeps each payload as one file under a container directory.
type FilePayloadStore struct {
	fs        afero.Fs
	container string
}

func NewFilePayloadStore(fs afero.Fs, container string) *FilePayloadStore {
	return &FilePayloadStore{fs: fs, container: container}
}

// NewLocalPayloadStore roots the store at a directory on disk.
func NewLocalPayloadStore(root, container string) (*FilePayloadStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return NewFilePayloadStore(afero.NewBasePathFs(afero.NewOsFs(), root), container), nil
}

func (s *FilePayloadStore) EnsureExists(ctx context.Context) error {
	if err := s.fs.MkdirAll(s.container, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *FilePayloadStore) Put(ctx context.Context, id string, content []byte) error {
	if !validPayloadID(id) {
		return fmt.Errorf("invalid payload id %q", id)
	}

	// Write under a dot-name and rename so readers never see a partial payload.
	tmp, err := afero.TempFile(s.fs, s.container, ".upload-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		s.fs.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmp.Name())
		return err
	}
	return s.fs.Rename(tmp.Name(), s.path(id))
}

func (s *FilePayloadStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if !validPayloadID(id) {
		return nil, ErrNotFound
	}
	f, err := s.fs.Open(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FilePayloadStore) Exists(ctx context.Context, id string) (bool, error) {
	if !validPayloadID(id) {
		return false, nil
	}
	return afero.Exists(s.fs, s.path(id))
}

func (s *FilePayloadStore) path(id string) string {
	return filepath.Join(s.container, id)
}
