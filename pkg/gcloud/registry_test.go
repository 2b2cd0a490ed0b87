package gcloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clouddeck/buildgate/pkg/api"
)

func TestTagResourceName(t *testing.T) {
	tests := []struct {
		name    string
		ref     api.ImageReference
		want    string
		wantErr bool
	}{
		{
			name: "simple image",
			ref:  api.ImageReference{Repository: "us-central1-docker.pkg.dev/demo/apps/backend", Tag: "f1"},
			want: "projects/demo/locations/us-central1/repositories/apps/packages/backend/tags/f1",
		},
		{
			name: "nested image path",
			ref:  api.ImageReference{Repository: "europe-west1-docker.pkg.dev/demo/apps/team/backend", Tag: "f2"},
			want: "projects/demo/locations/europe-west1/repositories/apps/packages/team%2Fbackend/tags/f2",
		},
		{
			name:    "not an artifact registry host",
			ref:     api.ImageReference{Repository: "gcr.io/demo/backend", Tag: "f1"},
			wantErr: true,
		},
		{
			name:    "missing image segment",
			ref:     api.ImageReference{Repository: "us-central1-docker.pkg.dev/demo/apps", Tag: "f1"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tagResourceName(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, api.KindConfiguration, api.ErrorKindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
