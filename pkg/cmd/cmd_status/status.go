package cmd_status

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/clouddeck/buildgate/pkg/api/logger/color"
	"github.com/clouddeck/buildgate/pkg/cmd/root_cmd"
	"github.com/clouddeck/buildgate/pkg/fingerprint"
	"github.com/clouddeck/buildgate/pkg/gcloud"
	"github.com/clouddeck/buildgate/pkg/trigger"
)

// NewStatusCmd reports whether the current tree matches the last
// fingerprint a successful build was recorded for, without touching
// the build service.
func NewStatusCmd(root *root_cmd.RootCmd) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Compare the current source fingerprint against the recorded one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := root.Config
			if err := cfg.Validate(false); err != nil {
				return err
			}

			fileSys := afero.NewOsFs()
			fp := fingerprint.New(fileSys)
			sourceRoot := cfg.Source.Root
			if sourceRoot == "" {
				sourceRoot = "."
			}
			var current string
			var err error
			if len(cfg.Source.Patterns) == 0 {
				current, err = fp.Tree(sourceRoot)
			} else {
				current, err = fp.Fingerprint(ctx, sourceRoot, cfg.Source.Patterns)
			}
			if err != nil {
				return err
			}

			var store trigger.Store
			if cfg.State.File != "" {
				store = trigger.NewFileStore(fileSys, cfg.State.File)
			} else {
				gcsStore, err := gcloud.NewStateStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer func() {
					_ = gcsStore.Close()
				}()
				store = gcsStore
			}
			recorded, err := store.Get(ctx, cfg.Image.Repository)
			if err != nil {
				return err
			}

			root.Logger.Info(ctx, "current:  %s", current)
			switch {
			case recorded == "":
				root.Logger.Info(ctx, "recorded: <none>")
				root.Logger.Info(ctx, "%s", color.Yellow("no build recorded yet"))
			case recorded == current:
				root.Logger.Info(ctx, "recorded: %s", recorded)
				root.Logger.Info(ctx, "%s", color.Green("clean: a rerun would skip the build"))
			default:
				root.Logger.Info(ctx, "recorded: %s", recorded)
				root.Logger.Info(ctx, "%s", color.Yellow("stale: a rerun would trigger a build"))
			}
			return nil
		},
	}
	return cmd
}
