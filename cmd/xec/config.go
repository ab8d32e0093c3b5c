// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xec-sh/xec/internal/config"
)

func newConfigCommand() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the loaded configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printConfig(cfg)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			dir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Printf("Config directory: %s\n", dir)
			fmt.Printf("Config file: %s/%s.%s\n", dir, config.ConfigFileName, config.ConfigFileExt)
			return nil
		},
	})

	return cfgCmd
}

func printConfig(cfg *config.Config) {
	fmt.Println(titleStyle.Render("Effective Configuration"))
	fmt.Println()

	fmt.Printf("%s: %s\n", cmdStyle.Render("default_adapter"), successStyle.Render(string(cfg.DefaultAdapter)))
	fmt.Printf("%s: %d\n", cmdStyle.Render("max_buffer"), cfg.MaxBuffer)

	fmt.Println()
	fmt.Printf("%s:\n", cmdStyle.Render("ssh"))
	fmt.Printf("  enabled: %v\n", cfg.SSH.Enabled)
	fmt.Printf("  max_connections: %d\n", cfg.SSH.MaxConnections)
	fmt.Printf("  idle_timeout: %s\n", cfg.SSH.IdleTimeout)
	fmt.Printf("  auto_reconnect: %v\n", cfg.SSH.AutoReconnect)

	fmt.Println()
	fmt.Printf("%s:\n", cmdStyle.Render("container"))
	fmt.Printf("  engine: %s\n", cfg.Container.Engine)
	fmt.Printf("  auto_provision.enabled: %v\n", cfg.Container.AutoProvision.Enabled)

	fmt.Println()
	fmt.Printf("%s:\n", cmdStyle.Render("kubernetes"))
	fmt.Printf("  context: %s\n", emptyIsDefault(cfg.Kubernetes.Context))
	fmt.Printf("  namespace: %s\n", emptyIsDefault(cfg.Kubernetes.Namespace))

	fmt.Println()
	fmt.Printf("%s:\n", cmdStyle.Render("retry"))
	fmt.Printf("  max_retries: %d\n", cfg.Retry.MaxRetries)
	fmt.Printf("  initial_delay: %s\n", cfg.Retry.InitialDelay)
	fmt.Printf("  max_delay: %s\n", cfg.Retry.MaxDelay)

	fmt.Println()
	fmt.Printf("%s:\n", cmdStyle.Render("cache"))
	fmt.Printf("  enabled: %v\n", cfg.Cache.Enabled)
	fmt.Printf("  default_ttl: %s\n", cfg.Cache.DefaultTTL)
	fmt.Printf("  max_entries: %d\n", cfg.Cache.MaxEntries)

	fmt.Println()
	fmt.Printf("%s:\n", cmdStyle.Render("ui"))
	fmt.Printf("  color_scheme: %s\n", cfg.UI.ColorScheme)
	fmt.Printf("  verbose: %v\n", cfg.UI.Verbose)
	fmt.Printf("  interactive: %v\n", cfg.UI.Interactive)
}

func emptyIsDefault(s string) string {
	if s == "" {
		return subtitleStyle.Render("(default)")
	}
	return s
}
