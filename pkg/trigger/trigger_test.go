package trigger

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clouddeck/buildgate/pkg/api/logger"
)

const key = "us-central1-docker.pkg.dev/demo/apps/backend"

func newEvaluator(t *testing.T) (*Evaluator, *FileStore) {
	t.Helper()
	store := NewFileStore(afero.NewMemMapFs(), "state/fingerprint")
	return NewEvaluator(store, logger.New()), store
}

func TestEvaluateAbsentRecordRequiresBuild(t *testing.T) {
	ctx := context.Background()
	eval, _ := newEvaluator(t)

	d, err := eval.Evaluate(ctx, key, "f1")
	require.NoError(t, err)
	assert.True(t, d.Build)
	assert.Empty(t, d.Previous)
}

func TestEvaluateUnchangedFingerprintSkipsBuild(t *testing.T) {
	ctx := context.Background()
	eval, _ := newEvaluator(t)

	require.NoError(t, eval.Commit(ctx, key, "f1"))
	d, err := eval.Evaluate(ctx, key, "f1")
	require.NoError(t, err)
	assert.False(t, d.Build)
	assert.Equal(t, "f1", d.Previous)
}

func TestEvaluateChangedFingerprintRequiresBuild(t *testing.T) {
	ctx := context.Background()
	eval, _ := newEvaluator(t)

	require.NoError(t, eval.Commit(ctx, key, "f1"))
	d, err := eval.Evaluate(ctx, key, "f2")
	require.NoError(t, err)
	assert.True(t, d.Build)
	assert.Equal(t, "f1", d.Previous)
}

func TestFileStoreKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(afero.NewMemMapFs(), "state/fingerprint")

	require.NoError(t, store.Put(ctx, "repo/a", "fa"))
	require.NoError(t, store.Put(ctx, "repo/b", "fb"))

	got, err := store.Get(ctx, "repo/a")
	require.NoError(t, err)
	assert.Equal(t, "fa", got)
	got, err = store.Get(ctx, "repo/b")
	require.NoError(t, err)
	assert.Equal(t, "fb", got)
}
