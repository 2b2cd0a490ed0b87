// Package attest implements the enterprise-mode attestation path:
// resolve the immutable digest of a built image, generate a signing
// payload for it, sign the payload with an external asymmetric key and
// submit the signature as an attestation the admission policy can
// verify at deploy time.
package attest

import (
	"context"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger"
	"github.com/clouddeck/buildgate/pkg/util"
)

// State of the attestation run. Any step failure transitions to
// StateAborted and triggers cleanup of transient artifacts.
type State string

const (
	StateIdle             State = "IDLE"
	StateDigestResolved   State = "DIGEST_RESOLVED"
	StatePayloadGenerated State = "PAYLOAD_GENERATED"
	StateSigned           State = "SIGNED"
	StateAttested         State = "ATTESTED"
	StateAborted          State = "ABORTED"
)

// DigestResolver resolves a tag-addressed reference to the immutable
// digest the registry assigned to the pushed image.
type DigestResolver interface {
	ResolveDigest(ctx context.Context, ref api.ImageReference) (api.ImageDigest, error)
}

// Signer signs a payload with one specific asymmetric key version.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
	// PublicKeyID identifies the key version that verifies the
	// signature, <key-resource-path>/cryptoKeyVersions/<version>.
	PublicKeyID() string
}

// Outcome of an attestation submission.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
)

// Store accepts attestation records. A duplicate submission for the
// same digest is reported as OutcomeDuplicate, not an error: reruns
// against an unchanged fingerprint re-attempt attestation idempotently.
type Store interface {
	Submit(ctx context.Context, record api.AttestationRecord) (Outcome, error)
}

var keyVersionRe = regexp.MustCompile(`^projects/[^/]+/locations/[^/]+/keyRings/[^/]+/cryptoKeys/[^/]+/cryptoKeyVersions/[0-9]+$`)

type Attestor struct {
	resolver DigestResolver
	signer   Signer
	store    Store
	fs       afero.Fs
	log      logger.Logger

	attestorName string
	// registeredKeyID is the public key identifier registered on the
	// attestor authority. The signer's key must match it structurally,
	// otherwise downstream verification rejects the attestation even
	// though signing itself succeeds.
	registeredKeyID string

	retry     util.RetryPolicy
	transient func(error) bool
}

type Params struct {
	Resolver        DigestResolver
	Signer          Signer
	Store           Store
	Fs              afero.Fs
	Log             logger.Logger
	AttestorName    string
	RegisteredKeyID string
	Retry           util.RetryPolicy
	// Transient classifies retryable errors from the external services;
	// nil disables retries.
	Transient func(error) bool
}

func New(params Params) *Attestor {
	transient := params.Transient
	if transient == nil {
		transient = func(error) bool { return false }
	}
	fs := params.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Attestor{
		resolver:        params.Resolver,
		signer:          params.Signer,
		store:           params.Store,
		fs:              fs,
		log:             params.Log,
		attestorName:    params.AttestorName,
		registeredKeyID: params.RegisteredKeyID,
		retry:           params.Retry,
		transient:       transient,
	}
}

// Attest runs the state machine IDLE -> DIGEST_RESOLVED ->
// PAYLOAD_GENERATED -> SIGNED -> ATTESTED for the given reference.
// Payload and signature are written to a scoped scratch directory that
// is removed before Attest returns on every exit path.
func (a *Attestor) Attest(ctx context.Context, ref api.ImageReference) (*api.AttestationRecord, error) {
	state := StateIdle

	// Pre-flight, before any external call: a key identifier that does
	// not structurally match the attestor registration would produce an
	// attestation nobody can verify.
	keyID := a.signer.PublicKeyID()
	if !keyVersionRe.MatchString(keyID) {
		return nil, api.NewError(api.KindConfiguration, "attest-preflight", keyID, errors.New("malformed public key identifier"))
	}
	if keyID != a.registeredKeyID {
		return nil, api.NewError(api.KindConfiguration, "attest-preflight", a.attestorName,
			errors.Errorf("signing key %q does not match the key registered on the attestor (%q)", keyID, a.registeredKeyID))
	}

	var digest api.ImageDigest
	err := util.Retry(ctx, a.log, a.retry, "digest resolution", a.transient, func(ctx context.Context) error {
		var err error
		digest, err = a.resolver.ResolveDigest(ctx, ref)
		return err
	})
	if err != nil {
		state = StateAborted
		a.log.Debug(ctx, "attestor state %s for %s", state, ref)
		return nil, api.NewError(api.KindDigestResolution, "resolve-digest", ref.String(), err)
	}
	if err := digest.Validate(); err != nil {
		state = StateAborted
		a.log.Debug(ctx, "attestor state %s for %s", state, ref)
		return nil, api.NewError(api.KindDigestResolution, "resolve-digest", ref.String(), err)
	}
	state = StateDigestResolved
	pinned := api.PinnedReference{Repository: ref.Repository, Digest: digest}
	a.log.Debug(ctx, "attestor state %s: %s", state, pinned)

	var record *api.AttestationRecord
	err = util.WithScratchDir(a.fs, "buildgate-attest", func(dir string) error {
		payload, err := GeneratePayload(pinned)
		if err != nil {
			return api.NewError(api.KindSigning, "generate-payload", pinned.String(), err)
		}
		payloadPath := filepath.Join(dir, "payload.json")
		if err := afero.WriteFile(a.fs, payloadPath, payload, 0o600); err != nil {
			return api.NewError(api.KindSigning, "generate-payload", pinned.String(), errors.Wrapf(err, "failed to persist payload"))
		}
		state = StatePayloadGenerated
		a.log.Debug(ctx, "attestor state %s: %s", state, payloadPath)

		var signature []byte
		err = util.Retry(ctx, a.log, a.retry, "payload signing", a.transient, func(ctx context.Context) error {
			var err error
			signature, err = a.signer.Sign(ctx, payload)
			return err
		})
		if err != nil {
			return api.NewError(api.KindSigning, "sign", pinned.String(), err)
		}
		signaturePath := filepath.Join(dir, "signature.sig")
		if err := afero.WriteFile(a.fs, signaturePath, signature, 0o600); err != nil {
			return api.NewError(api.KindSigning, "sign", pinned.String(), errors.Wrapf(err, "failed to persist signature"))
		}
		state = StateSigned
		a.log.Debug(ctx, "attestor state %s: %s", state, signaturePath)

		rec := api.AttestationRecord{
			Ref:         pinned,
			Attestor:    a.attestorName,
			PublicKeyID: keyID,
			Signature:   signature,
		}
		var outcome Outcome
		err = util.Retry(ctx, a.log, a.retry, "attestation submission", a.transient, func(ctx context.Context) error {
			var err error
			outcome, err = a.store.Submit(ctx, rec)
			return err
		})
		if err != nil {
			return api.NewError(api.KindAttestation, "attest", pinned.String(), err)
		}
		if outcome == OutcomeDuplicate {
			a.log.Info(ctx, "attestation for %s already exists, nothing to submit", pinned)
		}
		state = StateAttested
		record = &rec
		return nil
	})
	if err != nil {
		state = StateAborted
		a.log.Debug(ctx, "attestor state %s for %s", state, ref)
		return nil, err
	}
	a.log.Info(ctx, "attested %s as %q with key %s", pinned, a.attestorName, keyID)
	return record, nil
}
