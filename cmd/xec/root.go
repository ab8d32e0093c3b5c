// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/xec-sh/xec/internal/config"
	xecengine "github.com/xec-sh/xec/pkg/engine"
	"github.com/xec-sh/xec/pkg/types"
)

// Build-time variables set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	verbose bool
	cfgFile string

	// eng is the ambient Engine every subcommand dispatches through,
	// built once in rootCmd's PersistentPreRunE and disposed in
	// PersistentPostRunE.
	eng *xecengine.Engine
)

var rootCmd = &cobra.Command{
	Use:   "xec",
	Short: "A unified command-execution engine",
	Long: titleStyle.Render("xec") + subtitleStyle.Render(" - run commands locally, over SSH, in containers, or in Kubernetes pods") + `

xec executes a Command against one of four adapters (local, ssh, container,
k8s) behind a single fluent interface, with retry, caching, piping, and
parallel combinators layered on top.

` + subtitleStyle.Render("Examples:") + `
  xec run -- echo hello
  xec ssh --host build.internal -- uname -a
  xec docker --image alpine:latest -- cat /etc/os-release
  xec k8s --pod web-0 --namespace prod -- ls /app
  xec parallel -- echo one -- echo two -- echo three
  xec config show`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if !verbose {
			verbose = cfg.UI.Verbose
		}

		logger := log.New(os.Stderr)
		if verbose {
			logger.SetLevel(log.DebugLevel)
		} else {
			logger.SetLevel(log.WarnLevel)
		}
		eng = newEngineFromConfig(cfg, logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if eng == nil {
			return nil
		}
		return eng.Dispose(context.Background())
	},
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Load()
	}
	return config.NewProvider().Load(context.Background(), config.LoadOptions{ConfigFilePath: types.FilesystemPath(cfgFile)})
}

func getVersionString() string {
	if version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate)
}

// Execute adds every subcommand to rootCmd and runs it. Called once by main.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/xec/config.toml)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newSSHCommand())
	rootCmd.AddCommand(newDockerCommand())
	rootCmd.AddCommand(newK8sCommand())
	rootCmd.AddCommand(newParallelCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newCompletionCommand())
}
