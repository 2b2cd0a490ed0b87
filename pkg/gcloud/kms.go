package gcloud

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"

	"github.com/pkg/errors"
	"google.golang.org/api/cloudkms/v1"

	"github.com/clouddeck/buildgate/pkg/api"
)

// KmsSigner signs attestation payloads with one specific asymmetric
// key version in Cloud KMS. The digest algorithm is pinned in config
// and must match the algorithm of the key version; a mismatch fails at
// signing time rather than producing a signature nobody can verify.
type KmsSigner struct {
	svc         *cloudkms.Service
	keyResource string
	algorithm   string
}

func NewKmsSigner(ctx context.Context, cfg *api.PipelineConfig) (*KmsSigner, error) {
	opts, err := clientOptions(ctx, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	svc, err := cloudkms.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize kms client")
	}
	return &KmsSigner{
		svc:         svc,
		keyResource: cfg.Attest.Key.KeyVersionResource(cfg.ProjectId),
		algorithm:   cfg.Attest.Key.AlgorithmValue(),
	}, nil
}

// PublicKeyID returns the key version resource path, which is also the
// public key identifier registered on the attestor authority.
func (s *KmsSigner) PublicKeyID() string {
	return s.keyResource
}

func (s *KmsSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	digest := &cloudkms.Digest{}
	switch s.algorithm {
	case "SHA256":
		sum := sha256.Sum256(payload)
		digest.Sha256 = base64.StdEncoding.EncodeToString(sum[:])
	case "SHA384":
		sum := sha512.Sum384(payload)
		digest.Sha384 = base64.StdEncoding.EncodeToString(sum[:])
	case "SHA512":
		sum := sha512.Sum512(payload)
		digest.Sha512 = base64.StdEncoding.EncodeToString(sum[:])
	default:
		return nil, api.NewError(api.KindConfiguration, "sign", s.keyResource, errors.Errorf("unsupported digest algorithm %q", s.algorithm))
	}
	resp, err := s.svc.Projects.Locations.KeyRings.CryptoKeys.CryptoKeyVersions.
		AsymmetricSign(s.keyResource, &cloudkms.AsymmetricSignRequest{Digest: digest}).
		Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "asymmetric signing with %q failed", s.keyResource)
	}
	signature, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return nil, errors.Wrapf(err, "kms returned a malformed signature for %q", s.keyResource)
	}
	return signature, nil
}
