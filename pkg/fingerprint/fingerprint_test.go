package fingerprint

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clouddeck/buildgate/pkg/api"
)

func writeFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{
		"app/main.py":          "print('v1')",
		"app/requirements.txt": "fastapi==0.100.0",
		"app/Dockerfile":       "FROM python:3.11-slim",
	}
	patterns := []string{"main.py", "requirements.txt", "Dockerfile"}

	fsA := afero.NewMemMapFs()
	writeFiles(t, fsA, files)
	first, err := New(fsA).Fingerprint(ctx, "app", patterns)
	require.NoError(t, err)
	require.Len(t, first, 64)

	// a second filesystem populated in a different order must not change
	// the aggregate digest
	fsB := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsB, "app/Dockerfile", []byte(files["app/Dockerfile"]), 0o644))
	require.NoError(t, afero.WriteFile(fsB, "app/requirements.txt", []byte(files["app/requirements.txt"]), 0o644))
	require.NoError(t, afero.WriteFile(fsB, "app/main.py", []byte(files["app/main.py"]), 0o644))
	second, err := New(fsB).Fingerprint(ctx, "app", []string{"Dockerfile", "requirements.txt", "main.py"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFingerprintChangesOnAnyTrackedFile(t *testing.T) {
	ctx := context.Background()
	base := map[string]string{
		"app/main.py":          "print('v1')",
		"app/requirements.txt": "fastapi==0.100.0",
		"app/Dockerfile":       "FROM python:3.11-slim",
	}
	patterns := []string{"main.py", "requirements.txt", "Dockerfile"}

	fs := afero.NewMemMapFs()
	writeFiles(t, fs, base)
	original, err := New(fs).Fingerprint(ctx, "app", patterns)
	require.NoError(t, err)

	for path, content := range base {
		mutated := afero.NewMemMapFs()
		writeFiles(t, mutated, base)
		// flip a single byte
		changed := []byte(content)
		changed[0] ^= 0x01
		require.NoError(t, afero.WriteFile(mutated, path, changed, 0o644))

		got, err := New(mutated).Fingerprint(ctx, "app", patterns)
		require.NoError(t, err)
		assert.NotEqual(t, original, got, "change in %s must change the fingerprint", path)
	}
}

func TestFileSetMissingPatternIsConfigurationError(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{"app/main.py": "print('v1')"})

	_, err := New(fs).FileSet(context.Background(), "app", []string{"main.py", "requirements.txt"})
	require.Error(t, err)
	assert.Equal(t, api.KindConfiguration, api.ErrorKindOf(err))
}

func TestFileSetGlobAndCanonicalOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"app/z.py":       "z",
		"app/a.py":       "a",
		"app/m.py":       "m",
		"app/Dockerfile": "FROM scratch",
	})

	set, err := New(fs).FileSet(context.Background(), "app", []string{"*.py", "Dockerfile", "a.py"})
	require.NoError(t, err)

	var paths []string
	for _, file := range set {
		paths = append(paths, file.Path)
	}
	// lexicographic, duplicates collapsed
	assert.Equal(t, []string{"Dockerfile", "a.py", "m.py", "z.py"}, paths)
}

func TestTreeFingerprint(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFiles(t, fs, map[string]string{
		"app/main.py":        "print('v1')",
		"app/pkg/helpers.py": "pass",
	})

	fp := New(fs)
	first, err := fp.Tree("app")
	require.NoError(t, err)
	require.Len(t, first, 64)

	second, err := fp.Tree("app")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, afero.WriteFile(fs, "app/pkg/helpers.py", []byte("changed"), 0o644))
	third, err := fp.Tree("app")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
