package gcloud

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/api/artifactregistry/v1"

	"github.com/clouddeck/buildgate/pkg/api"
)

const registryHostSuffix = "-docker.pkg.dev"

// ArtifactRegistry resolves tag-addressed image references to the
// immutable digest recorded by the registry. The attestor operates on
// the digest only; tags are mutable and must never be signed.
type ArtifactRegistry struct {
	svc *artifactregistry.Service
}

func NewArtifactRegistry(ctx context.Context, cfg *api.PipelineConfig) (*ArtifactRegistry, error) {
	opts, err := clientOptions(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	svc, err := artifactregistry.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize artifact registry client")
	}
	return &ArtifactRegistry{svc: svc}, nil
}

func (r *ArtifactRegistry) ResolveDigest(ctx context.Context, ref api.ImageReference) (api.ImageDigest, error) {
	name, err := tagResourceName(ref)
	if err != nil {
		return "", err
	}
	tag, err := r.svc.Projects.Locations.Repositories.Packages.Tags.Get(name).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrapf(err, "failed to look up tag %q in registry", ref)
	}
	// tag version resource ends with /versions/sha256:<hex>
	idx := strings.LastIndex(tag.Version, "/versions/")
	if idx < 0 {
		return "", errors.Errorf("unexpected version resource %q for tag %q", tag.Version, ref)
	}
	digest := api.ImageDigest(tag.Version[idx+len("/versions/"):])
	if err := digest.Validate(); err != nil {
		return "", errors.Wrapf(err, "registry returned unusable digest for %q", ref)
	}
	return digest, nil
}

// tagResourceName maps <loc>-docker.pkg.dev/<project>/<repo>/<image>:<tag>
// onto the registry's tag resource name.
func tagResourceName(ref api.ImageReference) (string, error) {
	parts := strings.Split(ref.Repository, "/")
	if len(parts) < 4 || !strings.HasSuffix(parts[0], registryHostSuffix) {
		return "", api.NewError(api.KindConfiguration, "resolve-digest", ref.String(),
			errors.Errorf("repository %q is not a <location>%s/<project>/<repository>/<image> path", ref.Repository, registryHostSuffix))
	}
	location := strings.TrimSuffix(parts[0], registryHostSuffix)
	project := parts[1]
	repository := parts[2]
	// image names may contain slashes; they are a single package path segment
	pkg := url.PathEscape(strings.Join(parts[3:], "/"))
	return fmt.Sprintf("projects/%s/locations/%s/repositories/%s/packages/%s/tags/%s",
		project, location, repository, pkg, ref.Tag), nil
}
