// Package trigger decides whether a rebuild is required by comparing
// the current source fingerprint against the last one for which a build
// succeeded. The record lives in an external state store injected as a
// dependency; the evaluator itself holds no state between runs.
package trigger

import (
	"context"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger"
)

// Store persists the last successful fingerprint per pipeline key.
// Get returns "" for an absent record. Readers and writers are
// sequential within one pipeline run; the store is not a lock and
// concurrent runs against the same key may race (last writer wins).
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, fingerprint string) error
}

// Decision is the rebuild verdict for one invocation.
type Decision struct {
	Fingerprint string
	Previous    string
	Build       bool
}

type Evaluator struct {
	store Store
	log   logger.Logger
}

func NewEvaluator(store Store, log logger.Logger) *Evaluator {
	return &Evaluator{store: store, log: log}
}

// Evaluate compares fingerprint against the stored record for key.
// Equal means skip the build and reuse the existing image reference;
// different or absent means build.
func (e *Evaluator) Evaluate(ctx context.Context, key, fingerprint string) (Decision, error) {
	previous, err := e.store.Get(ctx, key)
	if err != nil {
		return Decision{}, api.NewError(api.KindConfiguration, "trigger", key, err)
	}
	d := Decision{Fingerprint: fingerprint, Previous: previous, Build: previous != fingerprint}
	if d.Build {
		e.log.Info(ctx, "fingerprint changed for %q (%s -> %s), build required", key, short(previous), short(fingerprint))
	} else {
		e.log.Info(ctx, "fingerprint unchanged for %q (%s), skipping build", key, short(fingerprint))
	}
	return d, nil
}

// Commit records fingerprint as the last one that produced a successful
// build. Called only after the build service reports success.
func (e *Evaluator) Commit(ctx context.Context, key, fingerprint string) error {
	if err := e.store.Put(ctx, key, fingerprint); err != nil {
		return api.NewError(api.KindBuild, "trigger-commit", key, err)
	}
	return nil
}

func short(fp string) string {
	if fp == "" {
		return "<none>"
	}
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
