// SPDX-License-Identifier: MPL-2.0

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/xec-sh/xec/pkg/adapter/ssh"
	"github.com/xec-sh/xec/pkg/command"
)

func newSSHCommand() *cobra.Command {
	var (
		host    string
		port    int
		user    string
		dir     string
		env     []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ssh --host <host> -- <program> [args...]",
		Short: "Run a command on a remote host over SSH",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			c := command.New(args[0], args[1:]...)
			if dir != "" {
				c = c.WithDir(dir)
			}
			if len(env) > 0 {
				c = c.WithEnv(parseEnvFlags(env))
			}
			if timeout > 0 {
				c = c.WithTimeout(timeout)
			}
			c = c.WithAdapter(command.AdapterSSH, ssh.CommandOptions{Host: host, Port: port, User: user})

			h := eng.Run(cmd.Context(), c)
			return runAndReport(cmd.Context(), h, command.AdapterSSH, host)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "remote host (required)")
	cmd.Flags().IntVar(&port, "port", 22, "remote port")
	cmd.Flags().StringVar(&user, "user", "", "remote user")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory")
	cmd.Flags().StringArrayVar(&env, "env", nil, "environment override KEY=VALUE (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout")
	cmd.MarkFlagRequired("host")

	return cmd
}
