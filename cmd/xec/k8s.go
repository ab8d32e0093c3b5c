// SPDX-License-Identifier: MPL-2.0

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/xec-sh/xec/pkg/adapter/k8s"
	"github.com/xec-sh/xec/pkg/command"
)

func newK8sCommand() *cobra.Command {
	var (
		pod       string
		container string
		namespace string
		dir       string
		env       []string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "k8s --pod <pod> -- <program> [args...]",
		Short: "Run a command inside a Kubernetes pod",
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
			c = c.WithAdapter(command.AdapterK8s, k8s.CommandOptions{
				Pod:       pod,
				Container: container,
				Namespace: namespace,
			})

			h := eng.Run(cmd.Context(), c)
			return runAndReport(cmd.Context(), h, command.AdapterK8s, pod)
		},
	}

	cmd.Flags().StringVar(&pod, "pod", "", "target pod name (required)")
	cmd.Flags().StringVar(&container, "container", "", "container within the pod (empty uses the pod's only/first container)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace (empty uses the adapter's configured default)")
	cmd.Flags().StringVar(&dir, "dir", "", "working directory inside the container")
	cmd.Flags().StringArrayVar(&env, "env", nil, "environment override KEY=VALUE (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "command timeout")
	cmd.MarkFlagRequired("pod")

	return cmd
}
