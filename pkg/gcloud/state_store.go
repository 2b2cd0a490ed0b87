package gcloud

import (
	"context"
	"io"
	"path"
	"strings"

	gcpStorage "cloud.google.com/go/storage"
	"github.com/pkg/errors"

	"github.com/clouddeck/buildgate/pkg/api"
)

// StateStore keeps the last successful fingerprint per pipeline key as
// a small text object under a common prefix in a GCS bucket. It is a
// record, not a lock: concurrent runs against the same key are an
// explicit non-goal and may race with last-writer-wins semantics.
type StateStore struct {
	client *gcpStorage.Client
	bucket string
	prefix string
}

func NewStateStore(ctx context.Context, cfg *api.PipelineConfig) (*StateStore, error) {
	opts, err := clientOptions(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	client, err := gcpStorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize gcp storage client")
	}
	return &StateStore{client: client, bucket: cfg.State.Bucket, prefix: cfg.State.Object}, nil
}

func (s *StateStore) Get(ctx context.Context, key string) (string, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.objectFor(key)).NewReader(ctx)
	if errors.Is(err, gcpStorage.ErrObjectNotExist) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read fingerprint record gs://%s/%s", s.bucket, s.objectFor(key))
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read fingerprint record gs://%s/%s", s.bucket, s.objectFor(key))
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *StateStore) Put(ctx context.Context, key, fingerprint string) error {
	writer := s.client.Bucket(s.bucket).Object(s.objectFor(key)).NewWriter(ctx)
	writer.ContentType = "text/plain"
	if _, err := writer.Write([]byte(fingerprint + "\n")); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "failed to write fingerprint record gs://%s/%s", s.bucket, s.objectFor(key))
	}
	if err := writer.Close(); err != nil {
		return errors.Wrapf(err, "failed to write fingerprint record gs://%s/%s", s.bucket, s.objectFor(key))
	}
	return nil
}

func (s *StateStore) Close() error {
	return s.client.Close()
}

func (s *StateStore) objectFor(key string) string {
	safe := strings.NewReplacer("/", "_", ":", "_").Replace(key)
	return path.Join(s.prefix, safe)
}
