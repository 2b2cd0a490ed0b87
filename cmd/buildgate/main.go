package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/atomic"

	"github.com/spf13/cobra"

	"github.com/clouddeck/buildgate/internal/build"
	"github.com/clouddeck/buildgate/pkg/api/logger"
	"github.com/clouddeck/buildgate/pkg/api/logger/color"
	"github.com/clouddeck/buildgate/pkg/cmd/cmd_fingerprint"
	"github.com/clouddeck/buildgate/pkg/cmd/cmd_run"
	"github.com/clouddeck/buildgate/pkg/cmd/cmd_status"
	"github.com/clouddeck/buildgate/pkg/cmd/root_cmd"
)

func main() {
	rootParams := &root_cmd.Params{
		Verbose:    false,
		Silent:     false,
		IsCanceled: atomic.NewBool(false),
		CancelFunc: func() {},
	}

	rootCmdInstance := &root_cmd.RootCmd{
		Params: rootParams,
	}
	ctx, cancel := context.WithCancel(context.Background())

	rootParams.CancelFunc = cancel

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		rootParams.IsCanceled.Store(true)
		cancel()
	}()

	rootCmd := &cobra.Command{
		Use:     "buildgate",
		Version: build.Version,
		Short:   "Content-addressable build-and-attest pipeline",
		Long:    "buildgate fingerprints a source tree, rebuilds its container image only when the tracked files change, and in enterprise mode signs and attests the pushed image for admission control.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			mode := root_cmd.FailOnErrors
			if cmd.Name() == "fingerprint" {
				mode = root_cmd.IgnoreConfigErrors
			}
			if err := rootCmdInstance.Init(mode); err != nil {
				return err
			}
			if rootParams.Verbose {
				cmd.SetContext(rootCmdInstance.Logger.SetLogLevel(cmd.Context(), logger.LogLevelDebug))
			}
			if rootParams.Silent {
				cmd.SetContext(rootCmdInstance.Logger.SetLogLevel(cmd.Context(), logger.LogLevelError))
			}
			return nil
		},
	}
	rootCmd.SetContext(ctx)
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.AddCommand(
		cmd_run.NewRunCmd(rootCmdInstance),
		cmd_fingerprint.NewFingerprintCmd(rootCmdInstance),
		cmd_status.NewStatusCmd(rootCmdInstance),
	)

	rootCmd.PersistentFlags().BoolVarP(&rootParams.Verbose, "verbose", "v", rootParams.Verbose, "Verbose mode")
	rootCmd.PersistentFlags().BoolVarP(&rootParams.Silent, "silent", "s", rootParams.Silent, "Errors only")
	rootCmd.PersistentFlags().StringVarP(&rootParams.ConfigFile, "config", "c", rootParams.ConfigFile, "Path to pipeline config file")

	err := rootCmd.Execute()
	if err != nil {
		_, _ = os.Stderr.WriteString(color.RedFmt("Error executing command: %s\n", err.Error()))
		os.Exit(1)
	}
}
