package gcloud

import (
	"context"
	"encoding/base64"

	"github.com/pkg/errors"
	"google.golang.org/api/containeranalysis/v1"
	"google.golang.org/api/googleapi"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/attest"
)

// AttestationStore submits attestation records as Container Analysis
// occurrences attached to the attestor's note. Records are immutable
// once created; a duplicate submission for an already attested digest
// is reported as such, not failed.
type AttestationStore struct {
	svc       *containeranalysis.Service
	projectId string
	note      string
}

func NewAttestationStore(ctx context.Context, cfg *api.PipelineConfig) (*AttestationStore, error) {
	opts, err := clientOptions(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	svc, err := containeranalysis.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize container analysis client")
	}
	return &AttestationStore{svc: svc, projectId: cfg.ProjectId, note: cfg.Attest.Note}, nil
}

func (s *AttestationStore) Submit(ctx context.Context, record api.AttestationRecord) (attest.Outcome, error) {
	// The serialized payload must be byte-identical to what was signed;
	// payload generation is deterministic for a given pinned reference.
	payload, err := attest.GeneratePayload(record.Ref)
	if err != nil {
		return "", err
	}
	occurrence := &containeranalysis.Occurrence{
		NoteName:    s.note,
		ResourceUri: "https://" + record.Ref.String(),
		Attestation: &containeranalysis.AttestationOccurrence{
			SerializedPayload: base64.StdEncoding.EncodeToString(payload),
			Signatures: []*containeranalysis.Signature{
				{
					PublicKeyId: record.PublicKeyID,
					Signature:   base64.StdEncoding.EncodeToString(record.Signature),
				},
			},
		},
	}
	_, err = s.svc.Projects.Occurrences.Create("projects/"+s.projectId, occurrence).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 409 {
			return attest.OutcomeDuplicate, nil
		}
		return "", errors.Wrapf(err, "failed to create attestation occurrence for %q", record.Ref)
	}
	return attest.OutcomeCreated, nil
}
