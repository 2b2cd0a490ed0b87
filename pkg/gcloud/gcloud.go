// Package gcloud contains the GCP-backed implementations of the
// pipeline's external collaborators: the Cloud Build submitter, the
// Artifact Registry digest resolver, the KMS payload signer, the
// Container Analysis attestation store and the GCS fingerprint state
// store.
package gcloud

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/clouddeck/buildgate/pkg/api"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// clientOptions builds client options from inline credentials; with no
// inline key configured, application default credentials are verified
// to exist so that misconfiguration surfaces before any pipeline step.
func clientOptions(ctx context.Context, creds api.Credentials) ([]option.ClientOption, error) {
	if creds.CredentialsValue() != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds.CredentialsValue()))}, nil
	}
	if _, err := google.FindDefaultCredentials(ctx, cloudPlatformScope); err != nil {
		return nil, api.NewError(api.KindConfiguration, "credentials", "", errors.Wrapf(err, "no credentials configured and no application default credentials found"))
	}
	return nil, nil
}

// IsTransient reports whether err looks like a transient service or
// network failure worth retrying. Permanent rejections (4xx except
// rate limiting) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code == 408 || gerr.Code >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return false
}
