// Package pipeline sequences the content-addressable build-and-attest
// flow: fingerprint the source tree, decide whether a rebuild is
// needed, submit the build, and in enterprise mode attest the pushed
// image's digest.
package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger"
	"github.com/clouddeck/buildgate/pkg/fingerprint"
	"github.com/clouddeck/buildgate/pkg/trigger"
	"github.com/clouddeck/buildgate/pkg/util"
)

// Builder invokes the external containerization build service and
// blocks until it reports success or failure. On success the image is
// pushed under ref and subsequent digest lookups succeed.
type Builder interface {
	Build(ctx context.Context, ref api.ImageReference, sourceRoot string) error
}

// Attestor runs the enterprise attestation path for a pushed image.
type Attestor interface {
	Attest(ctx context.Context, ref api.ImageReference) (*api.AttestationRecord, error)
}

// Mode tags the pipeline result variant selected by the enterprise
// flag: a standard deployment binds to the image reference only, an
// attested one additionally binds to the attestation record the
// admission policy verifies.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeAttested Mode = "attested"
)

// Result reports how far the pipeline got. Partial progress (built but
// not attested) is reported alongside the error, never hidden.
type Result struct {
	Mode        Mode
	Image       api.ImageReference
	Record      *api.AttestationRecord
	Fingerprint string
	Built       bool
	Attested    bool
}

type Pipeline struct {
	cfg      *api.PipelineConfig
	fp       *fingerprint.Fingerprinter
	trig     *trigger.Evaluator
	builder  Builder
	attestor Attestor
	log      logger.Logger

	retry     util.RetryPolicy
	transient func(error) bool
}

type Params struct {
	Config        *api.PipelineConfig
	Fingerprinter *fingerprint.Fingerprinter
	Trigger       *trigger.Evaluator
	Builder       Builder
	Attestor      Attestor
	Log           logger.Logger
	// Transient classifies retryable build-service errors; nil
	// disables retries.
	Transient func(error) bool
}

func New(params Params) *Pipeline {
	transient := params.Transient
	if transient == nil {
		transient = func(error) bool { return false }
	}
	return &Pipeline{
		cfg:       params.Config,
		fp:        params.Fingerprinter,
		trig:      params.Trigger,
		builder:   params.Builder,
		attestor:  params.Attestor,
		log:       params.Log,
		retry:     RetryPolicyFromConfig(params.Config.Retry),
		transient: transient,
	}
}

// RunParams select the variant of one pipeline invocation.
type RunParams struct {
	// Enterprise enables the attestation path and the admission-gated
	// deployment posture that comes with it.
	Enterprise bool
	// SkipBuild force-skips the build entirely, e.g. when the image was
	// already produced by an out-of-band path. The fingerprint is then
	// used for tag construction only.
	SkipBuild bool
}

// Run executes fingerprint -> trigger -> build -> attest. Any step
// failure aborts the remaining sequence; the returned Result still
// reflects the progress made (a pushed but unattested image is valid,
// just unattested, and a rerun with an unchanged fingerprint retries
// only the attestation).
func (p *Pipeline) Run(ctx context.Context, run RunParams) (*Result, error) {
	if err := p.cfg.Validate(run.Enterprise); err != nil {
		return nil, err
	}
	if run.Enterprise && p.attestor == nil {
		return nil, api.NewError(api.KindConfiguration, "run", "", errors.New("enterprise mode requested but no attestor is configured"))
	}

	root := lo.If(p.cfg.Source.Root != "", p.cfg.Source.Root).Else(".")
	fp, err := p.fingerprintSource(ctx, root)
	if err != nil {
		return nil, err
	}
	ref := api.ImageReference{Repository: p.cfg.Image.Repository, Tag: fp}
	result := &Result{Mode: ModeStandard, Image: ref, Fingerprint: fp}
	p.log.Info(ctx, "source fingerprint %s, image reference %s", fp, ref)

	buildNeeded := false
	if run.SkipBuild {
		p.log.Info(ctx, "build force-skipped by configuration switch, reusing %s", ref)
	} else {
		decision, err := p.trig.Evaluate(ctx, ref.Repository, fp)
		if err != nil {
			return nil, err
		}
		buildNeeded = decision.Build
	}

	if buildNeeded {
		err := util.Retry(ctx, p.log, p.retry, "build submission", p.retryable, func(ctx context.Context) error {
			return p.builder.Build(ctx, ref, root)
		})
		if err != nil {
			return result, ensureKind(err, api.KindBuild, "build", ref.String())
		}
		result.Built = true
		if err := p.trig.Commit(ctx, ref.Repository, fp); err != nil {
			return result, err
		}
	}

	if run.Enterprise {
		record, err := p.attestor.Attest(ctx, ref)
		if err != nil {
			return result, err
		}
		result.Record = record
		result.Attested = true
		result.Mode = ModeAttested
	}
	return result, nil
}

func (p *Pipeline) fingerprintSource(ctx context.Context, root string) (string, error) {
	if len(p.cfg.Source.Patterns) == 0 {
		return p.fp.Tree(root)
	}
	return p.fp.Fingerprint(ctx, root, p.cfg.Source.Patterns)
}

// retryable never retries an error that already carries a fatal kind.
func (p *Pipeline) retryable(err error) bool {
	return api.ErrorKindOf(err) == "" && p.transient(err)
}

func ensureKind(err error, kind api.ErrorKind, step, identity string) error {
	if api.ErrorKindOf(err) != "" {
		return err
	}
	return api.NewError(kind, step, identity, err)
}

// RetryPolicyFromConfig parses the configured retry bounds, falling
// back to defaults for absent or unparsable values.
func RetryPolicyFromConfig(cfg api.RetryConfig) util.RetryPolicy {
	policy := util.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if d, err := time.ParseDuration(cfg.Initial); err == nil && d > 0 {
		policy.Initial = d
	}
	if d, err := time.ParseDuration(cfg.Max); err == nil && d > 0 {
		policy.Max = d
	}
	return policy
}
