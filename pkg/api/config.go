package api

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "buildgate.yaml"

// Credentials holds an inline service account key; empty means default
// application credentials are used.
type Credentials struct {
	Credentials string `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

func (c Credentials) CredentialsValue() string {
	return c.Credentials
}

// PipelineConfig is the full configuration for one pipeline target.
type PipelineConfig struct {
	Credentials `json:",inline" yaml:",inline"`

	ProjectId string       `json:"projectId" yaml:"projectId"`
	Region    string       `json:"region" yaml:"region"`
	Image     ImageConfig  `json:"image" yaml:"image"`
	Source    SourceConfig `json:"source" yaml:"source"`
	State     StateConfig  `json:"state" yaml:"state"`
	Build     BuildConfig  `json:"build" yaml:"build"`
	Attest    AttestConfig `json:"attestation" yaml:"attestation"`
	Retry     RetryConfig  `json:"retry,omitempty" yaml:"retry,omitempty"`
}

type ImageConfig struct {
	// Repository is the fixed tag prefix, i.e. the fully-qualified
	// registry path of the image without a tag.
	Repository string `json:"repository" yaml:"repository"`
}

type SourceConfig struct {
	Root string `json:"root" yaml:"root"`
	// Patterns name the tracked files relative to Root; globs are
	// allowed. The set must cover everything that affects build output,
	// including the build recipe and dependency manifest.
	Patterns []string `json:"patterns" yaml:"patterns"`
}

// StateConfig locates the last-known-fingerprint record. Either a local
// file (dev) or a GCS object (everything else).
type StateConfig struct {
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Object string `json:"object,omitempty" yaml:"object,omitempty"`
}

type BuildConfig struct {
	// StagingBucket receives the tar.gz source archive consumed by the
	// build service.
	StagingBucket string `json:"stagingBucket" yaml:"stagingBucket"`
	Timeout       string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MachineType   string `json:"machineType,omitempty" yaml:"machineType,omitempty"`
}

func (c BuildConfig) TimeoutValue() (time.Duration, error) {
	if c.Timeout == "" {
		return 20 * time.Minute, nil
	}
	return time.ParseDuration(c.Timeout)
}

// AttestConfig configures the enterprise-mode attestation path.
type AttestConfig struct {
	// Attestor is the attestor authority resource,
	// projects/<p>/attestors/<name>.
	Attestor string `json:"attestor" yaml:"attestor"`
	// Note is the analysis note the attestor is registered against,
	// projects/<p>/notes/<name>.
	Note string       `json:"note" yaml:"note"`
	Key  KmsKeyConfig `json:"key" yaml:"key"`
	// PublicKeyId is the key identifier registered on the attestor
	// authority. Defaults to the configured key's version resource;
	// set it explicitly only when the registration differs, which the
	// attestor rejects pre-flight.
	PublicKeyId string `json:"publicKeyId,omitempty" yaml:"publicKeyId,omitempty"`
}

// RegisteredKeyID returns the public key identifier the attestor
// authority is registered with.
func (a AttestConfig) RegisteredKeyID(projectId string) string {
	if a.PublicKeyId != "" {
		return a.PublicKeyId
	}
	return a.Key.KeyVersionResource(projectId)
}

// KmsKeyConfig names one asymmetric signing key version.
type KmsKeyConfig struct {
	KeyLocation string `json:"keyLocation" yaml:"keyLocation"`
	KeyRingName string `json:"keyRingName" yaml:"keyRingName"`
	KeyName     string `json:"keyName" yaml:"keyName"`
	KeyVersion  int    `json:"keyVersion" yaml:"keyVersion"`
	// Algorithm is the digest algorithm of the key version; it must
	// match the algorithm registered on the verification side.
	Algorithm string `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
}

// KeyVersionResource renders the fully-qualified key version resource,
// which doubles as the public key identifier on the attestor authority.
func (k KmsKeyConfig) KeyVersionResource(projectId string) string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s/cryptoKeyVersions/%d",
		projectId, k.KeyLocation, k.KeyRingName, k.KeyName, k.KeyVersion)
}

func (k KmsKeyConfig) AlgorithmValue() string {
	if k.Algorithm == "" {
		return "SHA256"
	}
	return k.Algorithm
}

type RetryConfig struct {
	MaxRetries int    `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	Initial    string `json:"initial,omitempty" yaml:"initial,omitempty"`
	Max        string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ReadConfig reads a pipeline config from the given path; an empty path
// falls back to ./buildgate.yaml, then ~/.buildgate/buildgate.yaml.
func ReadConfig(configPath string) (*PipelineConfig, error) {
	if configPath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			configPath = DefaultConfigFile
		} else if home, err := homedir.Dir(); err == nil {
			configPath = path.Join(home, ".buildgate", DefaultConfigFile)
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", configPath)
	}
	cfg := &PipelineConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", configPath)
	}
	return cfg, nil
}

// Validate checks the invariants that must hold before any external call
// is made. Attestation settings are only validated when enterprise mode
// will actually use them.
func (c *PipelineConfig) Validate(enterprise bool) error {
	if c.ProjectId == "" {
		return NewError(KindConfiguration, "validate", "", errors.New("`projectId` must be specified"))
	}
	if c.Image.Repository == "" {
		return NewError(KindConfiguration, "validate", "", errors.New("`image.repository` must be specified"))
	}
	if c.State.File == "" && (c.State.Bucket == "" || c.State.Object == "") {
		return NewError(KindConfiguration, "validate", "", errors.New("state store requires either `state.file` or `state.bucket`+`state.object`"))
	}
	if _, err := c.Build.TimeoutValue(); err != nil {
		return NewError(KindConfiguration, "validate", "", errors.Wrapf(err, "invalid `build.timeout`"))
	}
	if enterprise {
		if c.Attest.Attestor == "" || c.Attest.Note == "" {
			return NewError(KindConfiguration, "validate", "", errors.New("enterprise mode requires `attestation.attestor` and `attestation.note`"))
		}
		k := c.Attest.Key
		if k.KeyRingName == "" || k.KeyName == "" || k.KeyLocation == "" || k.KeyVersion <= 0 {
			return NewError(KindConfiguration, "validate", "", errors.New("enterprise mode requires a complete `attestation.key`"))
		}
		switch k.AlgorithmValue() {
		case "SHA256", "SHA384", "SHA512":
		default:
			return NewError(KindConfiguration, "validate", "", errors.Errorf("unsupported digest algorithm %q", k.Algorithm))
		}
	}
	return nil
}
