package api

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ImageReference is a mutable, tag-addressed pointer to an image in the
// registry. The tag is the hex fingerprint of the source tree, so the
// reference is stable for unchanged sources and changes with any tracked
// file.
type ImageReference struct {
	// Repository is the fixed prefix, e.g.
	// us-central1-docker.pkg.dev/my-project/apps/backend
	Repository string
	Tag        string
}

func (r ImageReference) String() string {
	return r.Repository + ":" + r.Tag
}

// ImageDigest is the immutable, content-derived identifier the registry
// assigns to a pushed image, e.g. "sha256:ab12...".
type ImageDigest string

var digestRe = regexp.MustCompile(`^sha256:[a-f0-9]{64}$`)

func (d ImageDigest) Validate() error {
	if !digestRe.MatchString(string(d)) {
		return errors.Errorf("malformed image digest %q", string(d))
	}
	return nil
}

// Hex returns the digest without the algorithm prefix.
func (d ImageDigest) Hex() string {
	return strings.TrimPrefix(string(d), "sha256:")
}

// PinnedReference addresses a specific pushed image by its immutable
// digest. Signing and attestation operate on pinned references only;
// tags are mutable and must never be attested.
type PinnedReference struct {
	Repository string
	Digest     ImageDigest
}

func (r PinnedReference) String() string {
	return fmt.Sprintf("%s@%s", r.Repository, r.Digest)
}

// AttestationRecord is the immutable tuple submitted to the attestation
// store and later verified by the admission policy.
type AttestationRecord struct {
	Ref         PinnedReference
	Attestor    string
	PublicKeyID string
	Signature   []byte
}
