// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xec-sh/xec/pkg/command"
)

// parseEnvFlags parses a repeated --env KEY=VALUE flag into a map, skipping
// (and warning about) malformed entries rather than failing the command.
func parseEnvFlags(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			fmt.Fprintln(os.Stderr, warningStyle.Render("warning:")+" ignoring malformed --env value "+kv+" (expected KEY=VALUE)")
			continue
		}
		env[kv[:idx]] = kv[idx+1:]
	}
	return env
}

func newRunCommand() *cobra.Command {
	var (
		dir     string
		env     []string
		timeout time.Duration
		noShell bool
	)

	cmd := &cobra.Command{
		Use:   "run -- <program> [args...]",
		Short: "Run a command against the local adapter",
		Long: `Run a command locally through the engine, applying its retry and
cache defaults from the loaded configuration.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			c := command.New(args[0], args[1:]...).WithShell(!noShell)
			if dir != "" {
				c = c.WithDir(dir)
			}
			if len(env) > 0 {
				c = c.WithEnv(parseEnvFlags(env))
			}
			if timeout > 0 {
				c = c.WithTimeout(timeout)
			}
			c = c.WithAdapter(command.AdapterLocal, nil)

			h := eng.Run(cmd.Context(), c)
			return runAndReport(cmd.Context(), h, command.AdapterLocal, "")
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "working directory")
	cmd.Flags().StringArrayVar(&env, "env", nil, "environment override KEY=VALUE (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout")
	cmd.Flags().BoolVar(&noShell, "no-shell", false, "execute the program directly instead of through a shell")

	return cmd
}
