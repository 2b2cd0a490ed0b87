package attest

import (
	"context"
	"io/fs"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger"
	"github.com/clouddeck/buildgate/pkg/util"
)

const (
	testKeyID  = "projects/demo/locations/global/keyRings/binauthz/cryptoKeys/attestor-key/cryptoKeyVersions/1"
	testDigest = api.ImageDigest("sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

var testRef = api.ImageReference{Repository: "us-central1-docker.pkg.dev/demo/apps/backend", Tag: "f1"}

type fakeResolver struct {
	digest api.ImageDigest
	err    error
	calls  int
	order  *[]string
}

func (f *fakeResolver) ResolveDigest(ctx context.Context, ref api.ImageReference) (api.ImageDigest, error) {
	f.calls++
	if f.order != nil {
		*f.order = append(*f.order, "resolve")
	}
	return f.digest, f.err
}

type fakeSigner struct {
	keyID   string
	err     error
	calls   int
	order   *[]string
	payload []byte
}

func (f *fakeSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	f.calls++
	f.payload = payload
	if f.order != nil {
		*f.order = append(*f.order, "sign")
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte("signature-bytes"), nil
}

func (f *fakeSigner) PublicKeyID() string { return f.keyID }

type fakeStore struct {
	outcome Outcome
	err     error
	calls   int
	order   *[]string
	record  api.AttestationRecord
}

func (f *fakeStore) Submit(ctx context.Context, record api.AttestationRecord) (Outcome, error) {
	f.calls++
	f.record = record
	if f.order != nil {
		*f.order = append(*f.order, "submit")
	}
	return f.outcome, f.err
}

func newTestAttestor(resolver *fakeResolver, signer *fakeSigner, store *fakeStore, fileSys afero.Fs) *Attestor {
	return New(Params{
		Resolver:        resolver,
		Signer:          signer,
		Store:           store,
		Fs:              fileSys,
		Log:             logger.New(),
		AttestorName:    "projects/demo/attestors/enterprise-attestor",
		RegisteredKeyID: testKeyID,
		Retry:           util.RetryPolicy{MaxRetries: 0},
	})
}

func countFiles(t *testing.T, fileSys afero.Fs) int {
	t.Helper()
	count := 0
	err := afero.Walk(fileSys, "/", func(path string, info fs.FileInfo, err error) error {
		if err == nil && info != nil && !info.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func TestAttestHappyPathOrderAndRecord(t *testing.T) {
	var order []string
	resolver := &fakeResolver{digest: testDigest, order: &order}
	signer := &fakeSigner{keyID: testKeyID, order: &order}
	store := &fakeStore{outcome: OutcomeCreated, order: &order}
	fileSys := afero.NewMemMapFs()

	record, err := newTestAttestor(resolver, signer, store, fileSys).Attest(context.Background(), testRef)
	require.NoError(t, err)

	assert.Equal(t, []string{"resolve", "sign", "submit"}, order)
	assert.Equal(t, testDigest, record.Ref.Digest)
	assert.Equal(t, testRef.Repository, record.Ref.Repository)
	assert.Equal(t, testKeyID, record.PublicKeyID)
	assert.Equal(t, []byte("signature-bytes"), record.Signature)
	// what got signed is the payload over the digest-pinned identity
	assert.Contains(t, string(signer.payload), record.Ref.String())
	assert.Equal(t, 0, countFiles(t, fileSys), "scratch artifacts must not survive the run")
}

func TestAttestKeyMismatchFailsPreflight(t *testing.T) {
	resolver := &fakeResolver{digest: testDigest}
	signer := &fakeSigner{keyID: "projects/demo/locations/global/keyRings/binauthz/cryptoKeys/attestor-key/cryptoKeyVersions/2"}
	store := &fakeStore{outcome: OutcomeCreated}

	_, err := newTestAttestor(resolver, signer, store, afero.NewMemMapFs()).Attest(context.Background(), testRef)
	require.Error(t, err)
	assert.Equal(t, api.KindConfiguration, api.ErrorKindOf(err))
	// pre-flight means no external call was made
	assert.Zero(t, resolver.calls)
	assert.Zero(t, signer.calls)
	assert.Zero(t, store.calls)
}

func TestAttestMalformedKeyIDFailsPreflight(t *testing.T) {
	resolver := &fakeResolver{digest: testDigest}
	signer := &fakeSigner{keyID: "not-a-key-resource"}
	store := &fakeStore{}

	_, err := newTestAttestor(resolver, signer, store, afero.NewMemMapFs()).Attest(context.Background(), testRef)
	require.Error(t, err)
	assert.Equal(t, api.KindConfiguration, api.ErrorKindOf(err))
	assert.Zero(t, resolver.calls)
}

func TestAttestDigestResolutionFailure(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("manifest not found")}
	signer := &fakeSigner{keyID: testKeyID}
	store := &fakeStore{}
	fileSys := afero.NewMemMapFs()

	_, err := newTestAttestor(resolver, signer, store, fileSys).Attest(context.Background(), testRef)
	require.Error(t, err)
	assert.Equal(t, api.KindDigestResolution, api.ErrorKindOf(err))
	assert.Zero(t, signer.calls, "no signing may happen without a resolved digest")
	assert.Zero(t, store.calls, "no partial attestation record may exist")
	assert.Equal(t, 0, countFiles(t, fileSys))
}

func TestAttestSigningFailureCleansUpPayload(t *testing.T) {
	resolver := &fakeResolver{digest: testDigest}
	signer := &fakeSigner{keyID: testKeyID, err: errors.New("key version disabled")}
	store := &fakeStore{}
	fileSys := afero.NewMemMapFs()

	_, err := newTestAttestor(resolver, signer, store, fileSys).Attest(context.Background(), testRef)
	require.Error(t, err)
	assert.Equal(t, api.KindSigning, api.ErrorKindOf(err))
	assert.Zero(t, store.calls)
	assert.Equal(t, 0, countFiles(t, fileSys), "payload must be removed on the failure path")
}

func TestAttestSubmissionFailureIsAttestationKind(t *testing.T) {
	resolver := &fakeResolver{digest: testDigest}
	signer := &fakeSigner{keyID: testKeyID}
	store := &fakeStore{err: errors.New("public key id mismatch")}
	fileSys := afero.NewMemMapFs()

	_, err := newTestAttestor(resolver, signer, store, fileSys).Attest(context.Background(), testRef)
	require.Error(t, err)
	assert.Equal(t, api.KindAttestation, api.ErrorKindOf(err))
	assert.NotEqual(t, api.KindSigning, api.ErrorKindOf(err))
	assert.Equal(t, 0, countFiles(t, fileSys), "payload and signature must be removed on the failure path")
}

func TestAttestDuplicateSubmissionIsSuccess(t *testing.T) {
	resolver := &fakeResolver{digest: testDigest}
	signer := &fakeSigner{keyID: testKeyID}
	store := &fakeStore{outcome: OutcomeDuplicate}

	record, err := newTestAttestor(resolver, signer, store, afero.NewMemMapFs()).Attest(context.Background(), testRef)
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestAttestRejectsMalformedDigest(t *testing.T) {
	resolver := &fakeResolver{digest: "latest"}
	signer := &fakeSigner{keyID: testKeyID}
	store := &fakeStore{}

	_, err := newTestAttestor(resolver, signer, store, afero.NewMemMapFs()).Attest(context.Background(), testRef)
	require.Error(t, err)
	assert.Equal(t, api.KindDigestResolution, api.ErrorKindOf(err))
	assert.Zero(t, signer.calls)
}
