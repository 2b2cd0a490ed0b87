package util

import (
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// WithScratchDir runs fn with an exclusively-owned temporary directory
// and removes the directory with everything in it on every exit path.
// Transient artifacts that must not outlive one pipeline run (signing
// payloads, raw signatures) are written here and nowhere else.
func WithScratchDir(fs afero.Fs, prefix string, fn func(dir string) error) (err error) {
	dir := filepath.Join(afero.GetTempDir(fs, ""), prefix+"-"+uuid.New().String())
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create scratch dir %q", dir)
	}
	defer func() {
		if rmErr := fs.RemoveAll(dir); rmErr != nil && err == nil {
			err = errors.Wrapf(rmErr, "failed to remove scratch dir %q", dir)
		}
	}()
	return fn(dir)
}
