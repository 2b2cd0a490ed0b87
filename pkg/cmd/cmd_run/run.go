package cmd_run

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/api/logger/color"
	"github.com/clouddeck/buildgate/pkg/attest"
	"github.com/clouddeck/buildgate/pkg/cmd/root_cmd"
	"github.com/clouddeck/buildgate/pkg/fingerprint"
	"github.com/clouddeck/buildgate/pkg/gcloud"
	"github.com/clouddeck/buildgate/pkg/pipeline"
	"github.com/clouddeck/buildgate/pkg/trigger"
)

func NewRunCmd(root *root_cmd.RootCmd) *cobra.Command {
	var (
		project    string
		region     string
		image      string
		sourceRoot string
		enterprise bool
		skipBuild  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fingerprint the source tree, build if it changed, and attest in enterprise mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.Config
			if project != "" {
				cfg.ProjectId = project
			}
			if region != "" {
				cfg.Region = region
			}
			if image != "" {
				cfg.Image.Repository = image
			}
			if sourceRoot != "" {
				cfg.Source.Root = sourceRoot
			}

			ctx := cmd.Context()
			p, err := buildPipeline(ctx, root, cfg, enterprise)
			if err != nil {
				return err
			}
			result, err := p.Run(ctx, pipeline.RunParams{Enterprise: enterprise, SkipBuild: skipBuild})
			if result != nil {
				printResult(ctx, root, result)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GCP project id (overrides config)")
	cmd.Flags().StringVar(&region, "region", "", "GCP region (overrides config)")
	cmd.Flags().StringVar(&image, "image", "", "Fully-qualified image repository path (overrides config)")
	cmd.Flags().StringVar(&sourceRoot, "source", "", "Source root directory (overrides config)")
	cmd.Flags().BoolVar(&enterprise, "enterprise", false, "Enable enterprise mode: sign and attest the built image")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Force-skip the build, reuse the fingerprint-tagged image")
	return cmd
}

func buildPipeline(ctx context.Context, root *root_cmd.RootCmd, cfg *api.PipelineConfig, enterprise bool) (*pipeline.Pipeline, error) {
	fileSys := afero.NewOsFs()
	fp := fingerprint.New(fileSys)

	var store trigger.Store
	if cfg.State.File != "" {
		store = trigger.NewFileStore(fileSys, cfg.State.File)
	} else {
		gcsStore, err := gcloud.NewStateStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = gcsStore
	}

	stager, err := gcloud.NewSourceStager(ctx, cfg, fileSys, root.Logger)
	if err != nil {
		return nil, err
	}
	builder, err := gcloud.NewCloudBuild(ctx, cfg, stager, root.Logger)
	if err != nil {
		return nil, err
	}

	var attestor pipeline.Attestor
	if enterprise {
		resolver, err := gcloud.NewArtifactRegistry(ctx, cfg)
		if err != nil {
			return nil, err
		}
		signer, err := gcloud.NewKmsSigner(ctx, cfg)
		if err != nil {
			return nil, err
		}
		attStore, err := gcloud.NewAttestationStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		attestor = attest.New(attest.Params{
			Resolver:        resolver,
			Signer:          signer,
			Store:           attStore,
			Fs:              fileSys,
			Log:             root.Logger,
			AttestorName:    cfg.Attest.Attestor,
			RegisteredKeyID: cfg.Attest.RegisteredKeyID(cfg.ProjectId),
			Retry:           pipeline.RetryPolicyFromConfig(cfg.Retry),
			Transient:       gcloud.IsTransient,
		})
	}

	return pipeline.New(pipeline.Params{
		Config:        cfg,
		Fingerprinter: fp,
		Trigger:       trigger.NewEvaluator(store, root.Logger),
		Builder:       builder,
		Attestor:      attestor,
		Log:           root.Logger,
		Transient:     gcloud.IsTransient,
	}), nil
}

func printResult(ctx context.Context, root *root_cmd.RootCmd, result *pipeline.Result) {
	root.Logger.Info(ctx, "image:       %s", color.Cyan(result.Image))
	root.Logger.Info(ctx, "fingerprint: %s", result.Fingerprint)
	root.Logger.Info(ctx, "built:       %v", result.Built)
	root.Logger.Info(ctx, "attested:    %v", result.Attested)
	if result.Record != nil {
		root.Logger.Info(ctx, "digest:      %s", color.Green(result.Record.Ref.Digest))
		root.Logger.Info(ctx, "attestor:    %s", result.Record.Attestor)
	}
}
