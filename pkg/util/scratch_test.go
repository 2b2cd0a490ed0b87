package util

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithScratchDirRemovedOnSuccess(t *testing.T) {
	fs := afero.NewMemMapFs()

	var dir string
	err := WithScratchDir(fs, "scratch", func(d string) error {
		dir = d
		exists, err := afero.DirExists(fs, d)
		require.NoError(t, err)
		require.True(t, exists)
		return afero.WriteFile(fs, filepath.Join(d, "payload.json"), []byte("{}"), 0o600)
	})
	require.NoError(t, err)

	exists, err := afero.DirExists(fs, dir)
	require.NoError(t, err)
	assert.False(t, exists, "scratch dir must not survive the callback")
}

func TestWithScratchDirRemovedOnError(t *testing.T) {
	fs := afero.NewMemMapFs()

	var dir string
	boom := errors.New("signing failed")
	err := WithScratchDir(fs, "scratch", func(d string) error {
		dir = d
		require.NoError(t, afero.WriteFile(fs, filepath.Join(d, "signature.sig"), []byte("sig"), 0o600))
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := afero.DirExists(fs, dir)
	require.NoError(t, err)
	assert.False(t, exists, "scratch dir must be removed on the error path too")
}

func TestWithScratchDirUniquePerCall(t *testing.T) {
	fs := afero.NewMemMapFs()

	dirs := map[string]bool{}
	for i := 0; i < 3; i++ {
		require.NoError(t, WithScratchDir(fs, "scratch", func(d string) error {
			dirs[d] = true
			return nil
		}))
	}
	assert.Len(t, dirs, 3)
}
