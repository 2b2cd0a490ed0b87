package cmd_fingerprint

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/clouddeck/buildgate/pkg/api"
	"github.com/clouddeck/buildgate/pkg/cmd/root_cmd"
	"github.com/clouddeck/buildgate/pkg/fingerprint"
)

func NewFingerprintCmd(root *root_cmd.RootCmd) *cobra.Command {
	var (
		sourceRoot string
		patterns   []string
		listFiles  bool
	)

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the deterministic fingerprint of the tracked source files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfgSource := root.Config.Source
			if sourceRoot == "" {
				sourceRoot = cfgSource.Root
			}
			if sourceRoot == "" {
				sourceRoot = "."
			}
			if len(patterns) == 0 {
				patterns = cfgSource.Patterns
			}

			fp := fingerprint.New(afero.NewOsFs())
			if len(patterns) == 0 {
				sum, err := fp.Tree(sourceRoot)
				if err != nil {
					return err
				}
				cmd.Println(sum)
				return nil
			}
			set, err := fp.FileSet(ctx, sourceRoot, patterns)
			if err != nil {
				if api.IsKind(err, api.KindConfiguration) {
					return errors.Wrapf(err, "tracked file set is not closed over the configured patterns")
				}
				return err
			}
			if listFiles {
				for _, file := range set {
					root.Logger.Info(ctx, "%s  %s", file.Hash, file.Path)
				}
			}
			cmd.Println(set.Digest())
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceRoot, "source", "", "Source root directory (overrides config)")
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "Tracked file pattern, repeatable (overrides config)")
	cmd.Flags().BoolVar(&listFiles, "files", false, "Also list tracked files with their per-file digests")
	return cmd
}
