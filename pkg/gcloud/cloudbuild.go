package gcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"google.golang.org/api/cloudbuild/v1"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger"
)

const defaultPollInterval = 5 * time.Second

// CloudBuild submits container builds to the Cloud Build service and
// blocks until the service reports a terminal status. On success the
// image is pushed to the registry under the requested reference; on
// failure the pipeline aborts before any signing is attempted.
type CloudBuild struct {
	svc    *cloudbuild.Service
	stager *SourceStager
	log    logger.Logger

	projectId    string
	timeout      time.Duration
	machineType  string
	pollInterval time.Duration
}

func NewCloudBuild(ctx context.Context, cfg *api.PipelineConfig, stager *SourceStager, log logger.Logger) (*CloudBuild, error) {
	opts, err := clientOptions(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	svc, err := cloudbuild.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize cloud build client")
	}
	timeout, err := cfg.Build.TimeoutValue()
	if err != nil {
		return nil, api.NewError(api.KindConfiguration, "build", "", err)
	}
	return &CloudBuild{
		svc:          svc,
		stager:       stager,
		log:          log,
		projectId:    cfg.ProjectId,
		timeout:      timeout,
		machineType:  cfg.Build.MachineType,
		pollInterval: defaultPollInterval,
	}, nil
}

// Build archives sourceRoot, stages it, runs a docker build-and-push
// for ref and waits for the terminal status. The staged archive is
// removed on every exit path.
func (b *CloudBuild) Build(ctx context.Context, ref api.ImageReference, sourceRoot string) error {
	staged, cleanup, err := b.stager.Stage(ctx, sourceRoot)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(context.WithoutCancel(ctx)); err != nil {
			b.log.Warn(ctx, "%v", err)
		}
	}()

	build := &cloudbuild.Build{
		Source: &cloudbuild.Source{
			StorageSource: &cloudbuild.StorageSource{
				Bucket: staged.Bucket,
				Object: staged.Object,
			},
		},
		Steps: []*cloudbuild.BuildStep{
			{
				Name: "gcr.io/cloud-builders/docker",
				Args: []string{"build", "-t", ref.String(), "."},
			},
		},
		Images:  []string{ref.String()},
		Timeout: fmt.Sprintf("%ds", int64(b.timeout.Seconds())),
	}
	if b.machineType != "" {
		build.Options = &cloudbuild.BuildOptions{MachineType: b.machineType}
	}

	op, err := b.svc.Projects.Builds.Create(b.projectId, build).Context(ctx).Do()
	if err != nil {
		return errors.Wrapf(err, "failed to submit build for %q", ref)
	}
	submitted, err := buildFromOperation(op, ref)
	if err != nil {
		return err
	}
	b.log.Info(ctx, "build %s submitted for %s", submitted.Id, ref)
	return b.wait(ctx, submitted.Id, ref)
}

// buildFromOperation extracts the submitted build from the create
// operation's metadata. An operation without a build is a failure:
// succeeding here without a build id would skip waiting entirely and
// record a fingerprint for sources that were never built.
func buildFromOperation(op *cloudbuild.Operation, ref api.ImageReference) (*cloudbuild.Build, error) {
	meta := &cloudbuild.BuildOperationMetadata{}
	if err := json.Unmarshal(op.Metadata, meta); err != nil {
		return nil, errors.Wrapf(err, "failed to decode build operation metadata for %q", ref)
	}
	if meta.Build == nil {
		return nil, errors.Errorf("build service returned no build metadata for %q", ref)
	}
	return meta.Build, nil
}

func (b *CloudBuild) wait(ctx context.Context, buildId string, ref api.ImageReference) error {
	interval := lo.If(b.pollInterval > 0, b.pollInterval).Else(defaultPollInterval)
	for {
		build, err := b.svc.Projects.Builds.Get(b.projectId, buildId).Context(ctx).Do()
		if err != nil {
			return errors.Wrapf(err, "failed to poll build %s for %q", buildId, ref)
		}
		switch build.Status {
		case "SUCCESS":
			b.log.Info(ctx, "build %s succeeded, image pushed as %s", buildId, ref)
			return nil
		case "FAILURE", "INTERNAL_ERROR", "TIMEOUT", "CANCELLED", "EXPIRED":
			return errors.Errorf("build %s for %q ended with status %s (%s), log: %s",
				buildId, ref, build.Status, build.StatusDetail, build.LogUrl)
		}
		b.log.Debug(ctx, "build %s status %s, waiting...", buildId, build.Status)
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "canceled while waiting for build %s", buildId)
		}
	}
}
