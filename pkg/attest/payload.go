package attest

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/clouddeck/buildgate/pkg/api"
)

// payloadType is the well-known type string the admission policy
// expects on container signature payloads.
const payloadType = "Google cloud binauthz container signature"

type signaturePayload struct {
	Critical critical `json:"critical"`
}

type critical struct {
	Identity identity `json:"identity"`
	Image    image    `json:"image"`
	Type     string   `json:"type"`
}

type identity struct {
	DockerReference string `json:"docker-reference"`
}

type image struct {
	DockerManifestDigest string `json:"docker-manifest-digest"`
}

// GeneratePayload produces the opaque byte blob stating "this exact
// digest is approved". It is generated fresh per run, owned by that run
// and never reused across digests. The reference must be digest-pinned;
// a tag here would let the approval drift to different content.
func GeneratePayload(ref api.PinnedReference) ([]byte, error) {
	if err := ref.Digest.Validate(); err != nil {
		return nil, errors.Wrapf(err, "refusing to generate payload")
	}
	p := signaturePayload{
		Critical: critical{
			Identity: identity{DockerReference: ref.String()},
			Image:    image{DockerManifestDigest: string(ref.Digest)},
			Type:     payloadType,
		},
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize signature payload")
	}
	return data, nil
}
