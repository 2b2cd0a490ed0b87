package gcloud

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	gcpStorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger"
)

// StagedSource names the archive handed to the build service.
type StagedSource struct {
	Bucket string
	Object string
}

// SourceStager packs a source root into a tar.gz archive streamed
// straight into the staging bucket. The archive is a transient
// artifact; the returned cleanup removes it regardless of how the
// build itself ends.
type SourceStager struct {
	client *gcpStorage.Client
	fs     afero.Fs
	log    logger.Logger
	bucket string
}

func NewSourceStager(ctx context.Context, cfg *api.PipelineConfig, fileSys afero.Fs, log logger.Logger) (*SourceStager, error) {
	opts, err := clientOptions(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	client, err := gcpStorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize gcp storage client")
	}
	return &SourceStager{client: client, fs: fileSys, log: log, bucket: cfg.Build.StagingBucket}, nil
}

func (s *SourceStager) Stage(ctx context.Context, root string) (*StagedSource, func(context.Context) error, error) {
	object := "source/" + uuid.New().String() + ".tgz"
	s.log.Debug(ctx, "staging %q to gs://%s/%s", root, s.bucket, object)

	handle := s.client.Bucket(s.bucket).Object(object)
	writer := handle.NewWriter(ctx)
	writer.ContentType = "application/gzip"
	if err := s.archive(root, writer); err != nil {
		_ = writer.Close()
		return nil, nil, errors.Wrapf(err, "failed to archive source root %q", root)
	}
	if err := writer.Close(); err != nil {
		return nil, nil, errors.Wrapf(err, "failed to upload source archive gs://%s/%s", s.bucket, object)
	}

	cleanup := func(ctx context.Context) error {
		if err := handle.Delete(ctx); err != nil && !errors.Is(err, gcpStorage.ErrObjectNotExist) {
			return errors.Wrapf(err, "failed to remove staged source gs://%s/%s", s.bucket, object)
		}
		return nil
	}
	return &StagedSource{Bucket: s.bucket, Object: object}, cleanup, nil
}

func (s *SourceStager) Close() error {
	return s.client.Close()
}

func (s *SourceStager) archive(root string, out io.Writer) error {
	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	err := afero.Walk(s.fs, root, func(path string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// version-control metadata never affects build output
		if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		file, err := s.fs.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			_ = file.Close()
		}()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
