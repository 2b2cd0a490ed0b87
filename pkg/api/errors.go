package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies pipeline step failures. Every failure surfaced by
// the pipeline carries exactly one kind so callers can distinguish, for
// example, a build that never happened from an image that was built and
// pushed but could not be attested.
type ErrorKind string

const (
	// KindConfiguration covers pre-flight failures: missing tracked
	// files, malformed key references. No external call has been made.
	KindConfiguration ErrorKind = "configuration"
	// KindBuild means the external build service rejected or failed the
	// build. Nothing was signed or attested.
	KindBuild ErrorKind = "build"
	// KindDigestResolution means the image could not be resolved to an
	// immutable digest after a (supposedly) successful build and push.
	KindDigestResolution ErrorKind = "digest-resolution"
	// KindSigning means the asymmetric signing service failed; the
	// built image remains valid and reusable on retry.
	KindSigning ErrorKind = "signing"
	// KindAttestation means the attestation store rejected the
	// submission; payload and signature are discardable and regenerable.
	KindAttestation ErrorKind = "attestation"
)

// Error is a typed step failure with enough context to diagnose without
// re-running the pipeline.
type Error struct {
	Kind     ErrorKind
	Step     string
	Identity string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed at step %q", e.Kind, e.Step)
	if e.Identity != "" {
		msg += fmt.Sprintf(" for %q", e.Identity)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a typed step failure.
func NewError(kind ErrorKind, step, identity string, err error) *Error {
	return &Error{Kind: kind, Step: step, Identity: identity, Err: err}
}

// ErrorKindOf extracts the kind from a (possibly wrapped) pipeline
// error; empty string when err carries no kind.
func ErrorKindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return ErrorKindOf(err) == kind
}
