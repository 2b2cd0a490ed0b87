package trigger

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FileStore keeps fingerprint records in a single local file per key,
// named <base>.<key>. Meant for development and out-of-band runs where
// no shared state bucket is available.
type FileStore struct {
	fs   afero.Fs
	base string
}

func NewFileStore(fs afero.Fs, base string) *FileStore {
	return &FileStore{fs: fs, base: base}
}

func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read fingerprint record for %q", key)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) Put(ctx context.Context, key, fingerprint string) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path(key)), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create state dir for %q", key)
	}
	if err := afero.WriteFile(s.fs, s.path(key), []byte(fingerprint+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write fingerprint record for %q", key)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	safe := strings.NewReplacer("/", "_", ":", "_").Replace(key)
	return s.base + "." + safe
}
